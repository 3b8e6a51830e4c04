package crypt

import (
	"crypto/rand"
	"io"
)

// GenRand256 - 32 bytes from the system CSPRNG
func GenRand256() ([32]byte, error) {
	var out [32]byte
	_, err := io.ReadFull(rand.Reader, out[:])
	return out, err
}
