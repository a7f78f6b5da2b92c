package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unibox/backend/internal/storage/memory"
)

func newTestService() *Service {
	store := memory.NewStore()
	return NewService(store, store, newTestJWTManager())
}

func TestService_Register(t *testing.T) {
	t.Run("注册成功并签发令牌", func(t *testing.T) {
		s := newTestService()

		resp, err := s.Register(RegisterInput{
			Email:    "Alice@Example.com",
			Password: "password123",
			Username: "alice",
		})

		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", resp.User.Email) // 邮箱归一化为小写
		assert.NotEmpty(t, resp.User.ID)
		assert.NotEmpty(t, resp.AccessToken)
		assert.NotEmpty(t, resp.RefreshToken)
		assert.NotEqual(t, "password123", resp.User.PasswordHash) // 不存明文
	})

	t.Run("邮箱格式非法", func(t *testing.T) {
		s := newTestService()
		_, err := s.Register(RegisterInput{Email: "not-an-email", Password: "password123"})
		assert.ErrorIs(t, err, ErrInvalidEmail)
	})

	t.Run("密码太短", func(t *testing.T) {
		s := newTestService()
		_, err := s.Register(RegisterInput{Email: "a@example.com", Password: "short"})
		assert.Error(t, err)
	})

	t.Run("邮箱重复", func(t *testing.T) {
		s := newTestService()
		_, err := s.Register(RegisterInput{Email: "a@example.com", Password: "password123"})
		require.NoError(t, err)

		_, err = s.Register(RegisterInput{Email: "A@EXAMPLE.COM", Password: "password456"})
		assert.ErrorIs(t, err, ErrEmailExists)
	})
}

func TestService_Login(t *testing.T) {
	s := newTestService()
	_, err := s.Register(RegisterInput{Email: "a@example.com", Password: "password123"})
	require.NoError(t, err)

	t.Run("登录成功", func(t *testing.T) {
		resp, err := s.Login(LoginInput{Email: "a@example.com", Password: "password123"})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.AccessToken)

		user, err := s.GetUserByID(resp.User.ID)
		require.NoError(t, err)
		assert.NotNil(t, user.LastLoginAt)
	})

	t.Run("密码错误", func(t *testing.T) {
		_, err := s.Login(LoginInput{Email: "a@example.com", Password: "wrong-password"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("用户不存在", func(t *testing.T) {
		_, err := s.Login(LoginInput{Email: "nobody@example.com", Password: "password123"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestService_LogoutBlacklistsToken(t *testing.T) {
	s := newTestService()
	resp, err := s.Register(RegisterInput{Email: "a@example.com", Password: "password123"})
	require.NoError(t, err)

	// 登出前令牌有效
	_, err = s.ValidateToken(resp.AccessToken)
	require.NoError(t, err)

	require.NoError(t, s.Logout(resp.AccessToken))

	_, err = s.ValidateToken(resp.AccessToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestService_RefreshRotatesTokens(t *testing.T) {
	s := newTestService()
	resp, err := s.Register(RegisterInput{Email: "a@example.com", Password: "password123"})
	require.NoError(t, err)

	time.Sleep(time.Second) // iat 秒级精度，确保新令牌不同

	refreshed, err := s.Refresh(resp.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, resp.AccessToken, refreshed.AccessToken)

	// 旧刷新令牌已拉黑，不允许重放
	_, err = s.Refresh(resp.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestService_ChangePassword(t *testing.T) {
	s := newTestService()
	resp, err := s.Register(RegisterInput{Email: "a@example.com", Password: "password123"})
	require.NoError(t, err)

	t.Run("旧密码错误", func(t *testing.T) {
		err := s.ChangePassword(resp.User.ID, "wrong", "newpassword456")
		assert.Error(t, err)
	})

	t.Run("修改成功后旧密码失效", func(t *testing.T) {
		require.NoError(t, s.ChangePassword(resp.User.ID, "password123", "newpassword456"))

		_, err := s.Login(LoginInput{Email: "a@example.com", Password: "password123"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)

		_, err = s.Login(LoginInput{Email: "a@example.com", Password: "newpassword456"})
		assert.NoError(t, err)
	})
}
