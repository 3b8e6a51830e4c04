package crypt

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConfig - low argon2 costs so the suite stays fast
func testConfig() Config {
	return Config{Time: 1, Memory: 8, Lanes: 1}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	sess := NewSession([]byte("password1"), 1)
	for _, plaintext := range [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0xab}, 4096),
	} {
		env, err := sess.Encrypt(plaintext, testConfig())
		require.NoError(t, err)
		got, err := sess.Decrypt(env)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestEnvelopeFreshParameters(t *testing.T) {
	sess := NewSession([]byte("password1"), 1)
	e1, err := sess.Encrypt([]byte("same"), testConfig())
	require.NoError(t, err)
	e2, err := sess.Encrypt([]byte("same"), testConfig())
	require.NoError(t, err)
	assert.NotEqual(t, e1.Nonce, e2.Nonce)
	assert.NotEqual(t, e1.KDFSalt, e2.KDFSalt)
	assert.NotEqual(t, e1.Ciphertext, e2.Ciphertext)
}

func TestEnvelopeWrongKey(t *testing.T) {
	sess := NewSession([]byte("password1"), 1)
	env, err := sess.Encrypt([]byte("secret"), testConfig())
	require.NoError(t, err)

	other := NewSession([]byte("password2"), 2)
	_, err = other.Decrypt(env)
	assert.True(t, errors.Is(err, ErrCrypto))
}

func TestEnvelopeTamperDetected(t *testing.T) {
	sess := NewSession([]byte("password1"), 1)
	env, err := sess.Encrypt([]byte("secret"), testConfig())
	require.NoError(t, err)

	env.Ciphertext[0] ^= 0xff
	_, err = sess.Decrypt(env)
	assert.True(t, errors.Is(err, ErrCrypto))
}

func TestEnvelopeVersionRejected(t *testing.T) {
	sess := NewSession([]byte("password1"), 1)
	env, err := sess.Encrypt([]byte("secret"), testConfig())
	require.NoError(t, err)

	data := env.Bytes()
	data[0] = 99
	_, err = UnmarshalEnvelope(data)
	assert.True(t, errors.Is(err, ErrVersion))
}

func TestEnvelopeTruncatedRejected(t *testing.T) {
	_, err := UnmarshalEnvelope(nil)
	assert.True(t, errors.Is(err, ErrCrypto))
	_, err = UnmarshalEnvelope([]byte{Version1, 0x01, 0x02})
	assert.True(t, errors.Is(err, ErrCrypto))
}

func TestEnvelopeFileRoundTrip(t *testing.T) {
	sess := NewSession([]byte("password1"), 1)
	env, err := sess.Encrypt([]byte("on disk"), testConfig())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "sub", "env")
	require.NoError(t, WriteEnvelope(path, env))
	got, err := ReadEnvelope(path)
	require.NoError(t, err)
	// Byte-exact round trip through the file
	assert.Equal(t, env.Bytes(), got.Bytes())
}

func TestGenRand256(t *testing.T) {
	a, err := GenRand256()
	require.NoError(t, err)
	b, err := GenRand256()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
