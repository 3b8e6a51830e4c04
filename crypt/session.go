package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
)

// Config - KDF cost parameters stamped into each envelope, so that old
// files remain readable after the defaults move.
type Config struct {
	Time   uint32
	Memory uint32
	Lanes  uint8
}

// FreshDefaultConfig - current cost defaults for newly written envelopes
func FreshDefaultConfig() Config {
	return Config{Time: 1, Memory: 64 * 1024, Lanes: 4}
}

// Session - a replica's master secret plus its site identity. Passed
// explicitly into every call that touches ciphertext; there is no
// process-wide crypto state.
type Session struct {
	master []byte
	siteID uint64
}

// NewSession - master is the shared secret (typically a passphrase) all
// replicas of a set hold; siteID must be unique per replica.
func NewSession(master []byte, siteID uint64) *Session {
	return &Session{master: append([]byte(nil), master...), siteID: siteID}
}

// SiteID - the replica identifier used for causal tags
func (s *Session) SiteID() uint64 {
	return s.siteID
}

// fileKey - derive the per-envelope AEAD key with argon2id
func (s *Session) fileKey(salt []byte, cfg Config) []byte {
	return argon2.IDKey(s.master, salt, cfg.Time, cfg.Memory, cfg.Lanes, 32)
}

// Encrypt - seal plaintext into a fresh envelope. KDF salt and nonce are
// drawn anew on every call; two encryptions of the same plaintext never
// produce the same bytes.
func (s *Session) Encrypt(plaintext []byte, cfg Config) (*Envelope, error) {
	e := &Envelope{Version: Version1, Time: cfg.Time, Memory: cfg.Memory, Lanes: cfg.Lanes}
	if _, err := io.ReadFull(rand.Reader, e.KDFSalt[:]); err != nil {
		return nil, errors.Wrapf(ErrCrypto, "kdf salt: %v", err)
	}
	if _, err := io.ReadFull(rand.Reader, e.Nonce[:]); err != nil {
		return nil, errors.Wrapf(ErrCrypto, "nonce: %v", err)
	}
	gcm, err := s.aead(e)
	if err != nil {
		return nil, err
	}
	e.Ciphertext = gcm.Seal(nil, e.Nonce[:], plaintext, []byte{e.Version})
	return e, nil
}

// Decrypt - open an envelope. A wrong master secret or a flipped bit in
// the ciphertext fails the tag check (ErrCrypto); a version byte other
// than Version1 is rejected with ErrVersion before any decryption.
func (s *Session) Decrypt(e *Envelope) ([]byte, error) {
	if e.Version != Version1 {
		return nil, errors.Wrapf(ErrVersion, "version %d", e.Version)
	}
	gcm, err := s.aead(e)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, e.Nonce[:], e.Ciphertext, []byte{e.Version})
	if err != nil {
		return nil, errors.Wrapf(ErrCrypto, "opening envelope: %v", err)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

func (s *Session) aead(e *Envelope) (cipher.AEAD, error) {
	if e.Time == 0 || e.Lanes == 0 {
		return nil, errors.Wrapf(ErrCrypto, "bad kdf parameters t=%d l=%d", e.Time, e.Lanes)
	}
	block, err := aes.NewCipher(s.fileKey(e.KDFSalt[:], Config{Time: e.Time, Memory: e.Memory, Lanes: e.Lanes}))
	if err != nil {
		return nil, errors.Wrapf(ErrCrypto, "cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrapf(ErrCrypto, "gcm: %v", err)
	}
	return gcm, nil
}
