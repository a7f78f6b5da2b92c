package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWTManager() *JWTManager {
	return NewJWTManager("test-secret-key-32-characters-long!!", "unibox-test", 15*time.Minute, 7*24*time.Hour)
}

func TestJWTManager_GenerateAndValidate(t *testing.T) {
	m := newTestJWTManager()

	pair, err := m.GenerateTokenPair("user-1", "a@example.com", "user")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	claims, err := m.ValidateToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.Equal(t, "user", claims.Role)
	assert.NotEmpty(t, claims.ID) // jti 用于黑名单
}

func TestJWTManager_UniqueJTI(t *testing.T) {
	m := newTestJWTManager()

	pair, err := m.GenerateTokenPair("user-1", "a@example.com", "user")
	require.NoError(t, err)

	access, err := m.ExtractClaims(pair.AccessToken)
	require.NoError(t, err)
	refresh, err := m.ExtractClaims(pair.RefreshToken)
	require.NoError(t, err)

	// 访问与刷新令牌各自独立的 jti
	assert.NotEqual(t, access.ID, refresh.ID)
}

func TestJWTManager_ExpiredToken(t *testing.T) {
	m := NewJWTManager("test-secret-key-32-characters-long!!", "unibox-test", -time.Minute, -time.Minute)

	pair, err := m.GenerateTokenPair("user-1", "a@example.com", "user")
	require.NoError(t, err)

	_, err = m.ValidateToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTManager_InvalidToken(t *testing.T) {
	m := newTestJWTManager()

	t.Run("垃圾字符串", func(t *testing.T) {
		_, err := m.ValidateToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("异钥签名", func(t *testing.T) {
		other := NewJWTManager("another-secret-key-32-characters-xx", "unibox-test", 15*time.Minute, time.Hour)
		pair, err := other.GenerateTokenPair("user-1", "a@example.com", "user")
		require.NoError(t, err)

		_, err = m.ValidateToken(pair.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
