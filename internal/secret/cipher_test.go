package secret

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)

	t.Run("加解密往返一致", func(t *testing.T) {
		plaintext := `{"apiKey":"sk-test","accountSid":"AC123"}`

		ciphertext, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(ciphertext, "v1:"))
		assert.NotContains(t, ciphertext, "sk-test")

		decrypted, err := c.Decrypt(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	})

	t.Run("相同明文两次加密产生不同密文", func(t *testing.T) {
		c1, err := c.Encrypt("same input")
		require.NoError(t, err)
		c2, err := c.Encrypt("same input")
		require.NoError(t, err)
		assert.NotEqual(t, c1, c2)
	})
}

func TestNewCipher_InvalidKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"空密钥", ""},
		{"长度不足", "abcd1234"},
		{"非十六进制", strings.Repeat("zz", 32)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCipher(tt.key)
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestCipher_Decrypt_Malformed(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)

	t.Run("缺少版本前缀", func(t *testing.T) {
		_, err := c.Decrypt("not-a-ciphertext")
		assert.ErrorIs(t, err, ErrMalformedCiphertext)
	})

	t.Run("未知版本", func(t *testing.T) {
		_, err := c.Decrypt("v9:" + base64.StdEncoding.EncodeToString([]byte("whatever")))
		assert.ErrorIs(t, err, ErrUnknownVersion)
	})

	t.Run("密文被篡改", func(t *testing.T) {
		ciphertext, err := c.Encrypt("secret credentials")
		require.NoError(t, err)

		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, "v1:"))
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0xff
		tampered := "v1:" + base64.StdEncoding.EncodeToString(raw)

		_, err = c.Decrypt(tampered)
		assert.ErrorIs(t, err, ErrMalformedCiphertext)
	})

	t.Run("密文过短", func(t *testing.T) {
		_, err := c.Decrypt("v1:" + base64.StdEncoding.EncodeToString([]byte("short")))
		assert.ErrorIs(t, err, ErrMalformedCiphertext)
	})
}

func TestCipher_DifferentKeyCannotDecrypt(t *testing.T) {
	c1, err := NewCipher(testKey)
	require.NoError(t, err)
	c2, err := NewCipher(strings.Repeat("ff", 32))
	require.NoError(t, err)

	ciphertext, err := c1.Encrypt("cross-key test")
	require.NoError(t, err)

	_, err = c2.Decrypt(ciphertext)
	assert.Error(t, err)
}
