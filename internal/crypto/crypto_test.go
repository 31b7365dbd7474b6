package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherEncryptDecrypt(t *testing.T) {
	c, err := NewCipher("test-secret")
	require.NoError(t, err)

	ct, nonce, err := c.Encrypt("access-token-value")
	require.NoError(t, err)
	assert.NotContains(t, string(ct), "access-token-value")

	plain, err := c.Decrypt(ct, nonce)
	require.NoError(t, err)
	assert.Equal(t, "access-token-value", plain)

	ct2, nonce2, err := c.Encrypt("access-token-value")
	require.NoError(t, err)
	assert.NotEqual(t, nonce, nonce2)
	assert.NotEqual(t, ct, ct2)
}

func TestCipherEmptyValue(t *testing.T) {
	c, err := NewCipher("test-secret")
	require.NoError(t, err)

	ct, nonce, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Nil(t, ct)
	assert.Nil(t, nonce)

	plain, err := c.Decrypt(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestCipherRejectsWrongKey(t *testing.T) {
	a, err := NewCipher("secret-a")
	require.NoError(t, err)
	b, err := NewCipher("secret-b")
	require.NoError(t, err)

	ct, nonce, err := a.Encrypt("refresh-token")
	require.NoError(t, err)

	_, err = b.Decrypt(ct, nonce)
	assert.Error(t, err)

	_, err = a.Decrypt(ct, nonce[:4])
	assert.Error(t, err)
}

func TestNewCipherRequiresSecret(t *testing.T) {
	_, err := NewCipher("")
	assert.Error(t, err)
}
