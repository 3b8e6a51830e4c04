package db

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
)

// cryptTree - the exclusive subtree for user data; everything else at
// the root (the salt file, future metadata) is managed explicitly.
const cryptTree = "cryptic"

// saltFile - envelope holding the replica set's 32-byte entropy salt
const saltFile = "key_salt"

// derivePath - map a logical key to its relative path under cryptic/.
// SHA-256 over salt || key, hex encoded, first two characters become the
// directory. Collisions are cryptographic impossibilities; there is no
// resolution logic on purpose.
func derivePath(salt []byte, key string) (string, error) {
	if key == "" {
		return "", errors.Wrap(ErrState, "empty key")
	}
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(key))
	digest := hex.EncodeToString(h.Sum(nil))
	return digest[:2] + "/" + digest[2:], nil
}
