package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const (
	testJWTSecret     = "test-secret-key-for-development-32-chars-long-at-least"
	testEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

func TestLoad(t *testing.T) {
	// 保存原始环境变量
	originalEnvs := make(map[string]string)
	envKeys := []string{
		"UNIBOX_JWT_SECRET",
		"UNIBOX_CREDENTIAL_ENCRYPTION_KEY",
		"UNIBOX_SERVER_HOST",
		"UNIBOX_SERVER_PORT",
		"UNIBOX_CORS_ALLOWED_ORIGINS",
		"UNIBOX_LOG_LEVEL",
		"UNIBOX_LOG_DEVELOPMENT",
		"UNIBOX_DATABASE_TYPE",
		"UNIBOX_DATABASE_DSN",
		"UNIBOX_REDIS_ENABLED",
		"UNIBOX_SYNC_INTERVAL",
		"UNIBOX_SYNC_FRESH_WINDOW",
		"UNIBOX_SYNC_DEFAULT_PAGE_SIZE",
		"UNIBOX_WEBHOOK_SMSA_SIGNING_SECRET",
	}

	for _, key := range envKeys {
		originalEnvs[key] = os.Getenv(key)
	}

	// 测试后恢复环境变量
	defer func() {
		for key, value := range originalEnvs {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}()

	clearEnv := func() {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}
		os.Setenv("UNIBOX_JWT_SECRET", testJWTSecret)
		os.Setenv("UNIBOX_CREDENTIAL_ENCRYPTION_KEY", testEncryptionKey)
	}

	t.Run("加载默认配置成功", func(t *testing.T) {
		clearEnv()

		cfg, err := Load()

		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		// 验证默认值
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.False(t, cfg.Log.Development)
		assert.Equal(t, "", cfg.Database.Type)
		assert.True(t, cfg.Redis.Enabled)
		assert.Equal(t, testJWTSecret, cfg.JWT.Secret)
		assert.Equal(t, "unibox", cfg.JWT.Issuer)
		assert.Equal(t, 15*time.Minute, cfg.JWT.AccessExpiry)
		assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshExpiry)
		assert.Equal(t, testEncryptionKey, cfg.Credential.EncryptionKey)
		assert.Equal(t, 3*time.Minute, cfg.Sync.Interval)
		assert.Equal(t, 5*time.Minute, cfg.Sync.FreshWindow)
		assert.Equal(t, 50, cfg.Sync.DefaultPageSize)
		assert.Equal(t, "", cfg.Webhook.SMSASigningSecret)
	})

	t.Run("加载自定义配置成功", func(t *testing.T) {
		clearEnv()
		os.Setenv("UNIBOX_SERVER_HOST", "127.0.0.1")
		os.Setenv("UNIBOX_SERVER_PORT", "9090")
		os.Setenv("UNIBOX_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
		os.Setenv("UNIBOX_LOG_LEVEL", "debug")
		os.Setenv("UNIBOX_LOG_DEVELOPMENT", "true")
		os.Setenv("UNIBOX_DATABASE_TYPE", "postgres")
		os.Setenv("UNIBOX_DATABASE_DSN", "postgres://localhost/unibox")
		os.Setenv("UNIBOX_REDIS_ENABLED", "false")
		os.Setenv("UNIBOX_SYNC_INTERVAL", "90s")
		os.Setenv("UNIBOX_SYNC_FRESH_WINDOW", "10m")
		os.Setenv("UNIBOX_SYNC_DEFAULT_PAGE_SIZE", "100")
		os.Setenv("UNIBOX_WEBHOOK_SMSA_SIGNING_SECRET", "hook-secret")

		cfg, err := Load()

		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.True(t, cfg.Log.Development)
		assert.Equal(t, "postgres", cfg.Database.Type)
		assert.False(t, cfg.Redis.Enabled)
		assert.Equal(t, 90*time.Second, cfg.Sync.Interval)
		assert.Equal(t, 10*time.Minute, cfg.Sync.FreshWindow)
		assert.Equal(t, 100, cfg.Sync.DefaultPageSize)
		assert.Equal(t, "hook-secret", cfg.Webhook.SMSASigningSecret)
	})

	t.Run("默认JWT密钥被拒绝", func(t *testing.T) {
		clearEnv()
		os.Unsetenv("UNIBOX_JWT_SECRET")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "JWT secret")
	})

	t.Run("过短JWT密钥被拒绝", func(t *testing.T) {
		clearEnv()
		os.Setenv("UNIBOX_JWT_SECRET", "too-short")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "32 characters")
	})

	t.Run("缺失加密密钥被拒绝", func(t *testing.T) {
		clearEnv()
		os.Unsetenv("UNIBOX_CREDENTIAL_ENCRYPTION_KEY")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "encryption key")
	})

	t.Run("非十六进制加密密钥被拒绝", func(t *testing.T) {
		clearEnv()
		os.Setenv("UNIBOX_CREDENTIAL_ENCRYPTION_KEY", strings.Repeat("z", 64))

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("长度错误的加密密钥被拒绝", func(t *testing.T) {
		clearEnv()
		os.Setenv("UNIBOX_CREDENTIAL_ENCRYPTION_KEY", "0001020304")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "32 bytes")
	})
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"单个值", "a", []string{"a"}},
		{"多个值", "a,b,c", []string{"a", "b", "c"}},
		{"带空格", " a , b ", []string{"a", "b"}},
		{"空串", "", []string{}},
		{"只有逗号", ",,", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseList(tt.input))
		})
	}
}
