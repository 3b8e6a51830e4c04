// Package crypt provides the encrypted envelope format and the session
// that holds a replica's master secret and identity.
package crypt

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Version1 - the only envelope version currently written or accepted
const Version1 byte = 1

const (
	kdfSaltLen = 16
	nonceLen   = 12
	headerLen  = 1 + kdfSaltLen + 4 + 4 + 1 + nonceLen
)

var (
	// ErrCrypto - authentication failure or corrupt envelope parameters
	ErrCrypto = errors.New("crypto failure")
	// ErrVersion - envelope carries a version this build does not speak
	ErrVersion = errors.New("unsupported envelope version")
)

// Envelope - a self-describing authenticated-ciphertext file. Everything
// needed to decrypt it, bar the master secret, travels in the header:
//
//	version(1) kdfSalt(16) time(4) memory(4) lanes(1) nonce(12) ciphertext
//
// The version byte is bound into the AEAD as associated data.
type Envelope struct {
	Version    byte
	KDFSalt    [kdfSaltLen]byte
	Time       uint32
	Memory     uint32
	Lanes      uint8
	Nonce      [nonceLen]byte
	Ciphertext []byte
}

// Bytes - the stable on-disk form
func (e *Envelope) Bytes() []byte {
	buf := make([]byte, 0, headerLen+len(e.Ciphertext))
	buf = append(buf, e.Version)
	buf = append(buf, e.KDFSalt[:]...)
	buf = binary.BigEndian.AppendUint32(buf, e.Time)
	buf = binary.BigEndian.AppendUint32(buf, e.Memory)
	buf = append(buf, e.Lanes)
	buf = append(buf, e.Nonce[:]...)
	buf = append(buf, e.Ciphertext...)
	return buf
}

// UnmarshalEnvelope - parse the on-disk form. Unknown versions are
// rejected outright rather than guessed at.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	if len(data) < 1 {
		return nil, errors.Wrap(ErrCrypto, "empty envelope")
	}
	if data[0] != Version1 {
		return nil, errors.Wrapf(ErrVersion, "version %d", data[0])
	}
	if len(data) < headerLen {
		return nil, errors.Wrapf(ErrCrypto, "truncated envelope: %d bytes", len(data))
	}
	e := &Envelope{Version: data[0]}
	off := 1
	copy(e.KDFSalt[:], data[off:off+kdfSaltLen])
	off += kdfSaltLen
	e.Time = binary.BigEndian.Uint32(data[off:])
	off += 4
	e.Memory = binary.BigEndian.Uint32(data[off:])
	off += 4
	e.Lanes = data[off]
	off++
	copy(e.Nonce[:], data[off:off+nonceLen])
	off += nonceLen
	e.Ciphertext = append([]byte(nil), data[off:]...)
	return e, nil
}

// ReadEnvelope - load and parse an envelope file
func ReadEnvelope(path string) (*Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return UnmarshalEnvelope(data)
}

// WriteEnvelope - persist an envelope atomically: write a uniquely named
// sibling and rename it over the target, so a crash leaves either the
// old file or the new one, never a torn write.
func WriteEnvelope(path string, e *Envelope) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp." + uuid.NewString()
	if err := os.WriteFile(tmp, e.Bytes(), 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
