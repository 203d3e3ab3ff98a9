package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	h := NewPasswordHasher(4) // low cost keeps the test fast

	hashed, err := h.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hashed)

	assert.True(t, h.Verify(hashed, "correct horse battery staple"))
	assert.False(t, h.Verify(hashed, "wrong password"))
}

func TestPasswordVerifyMalformedHash(t *testing.T) {
	h := NewPasswordHasher(4)
	assert.False(t, h.Verify("not-a-bcrypt-hash", "anything"))
}

func TestCodeHashRoundTrip(t *testing.T) {
	hash, salt, err := HashCode("483920")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEmpty(t, salt)

	assert.True(t, VerifyCode("483920", hash, salt))
	assert.False(t, VerifyCode("483921", hash, salt))
}

func TestCodeHashSaltsDiffer(t *testing.T) {
	hash1, salt1, err := HashCode("111111")
	require.NoError(t, err)
	hash2, salt2, err := HashCode("111111")
	require.NoError(t, err)

	assert.NotEqual(t, salt1, salt2)
	assert.NotEqual(t, hash1, hash2)
}

func TestVerifyCodeBadEncoding(t *testing.T) {
	assert.False(t, VerifyCode("123456", "%%%", "also-not-base64!"))
}
