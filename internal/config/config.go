package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
	Enabled  bool   // 关闭后时间线快照不落缓存，仅内存
}

// JWTConfig 定义 JWT 认证相关配置
type JWTConfig struct {
	Secret        string        // JWT 签名密钥，必须至少 32 字符
	Issuer        string        // JWT 签发者标识，默认 "unibox"
	AccessExpiry  time.Duration // 访问令牌有效期，默认 15 分钟
	RefreshExpiry time.Duration // 刷新令牌有效期，默认 7 天
}

// CredentialConfig 定义服务商凭证加密配置
type CredentialConfig struct {
	// EncryptionKey 为 64 位十六进制字符串（32 字节 AES-256 密钥）。
	// 换 key 会导致存量凭证全部无法解密，只能重新录入。
	EncryptionKey string
}

// SyncConfig 定义消息同步调度配置
type SyncConfig struct {
	Interval        time.Duration // 后台同步间隔，默认 3 分钟
	FreshWindow     time.Duration // 时间线新鲜窗口，窗口内跳过后台刷新，默认 5 分钟
	DefaultPageSize int           // 单轮同步的默认拉取条数，默认 50
}

// WebhookConfig 定义入站 webhook 验签配置
type WebhookConfig struct {
	SMSASigningSecret string // 短信服务商 A 的 HMAC 签名密钥，留空则拒绝全部推送
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server     ServerConfig
	CORS       CORSConfig
	Log        LogConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Credential CredentialConfig
	Sync       SyncConfig
	Webhook    WebhookConfig
}

// Load 从环境变量和 .env 文件加载系统配置。
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: UNIBOX_
// 例如: UNIBOX_SERVER_HOST, UNIBOX_JWT_SECRET, UNIBOX_CREDENTIAL_ENCRYPTION_KEY
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("unibox")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.issuer", "unibox")
	viper.SetDefault("jwt.access_expiry", "15m")
	viper.SetDefault("jwt.refresh_expiry", "168h")
	viper.SetDefault("credential.encryption_key", "")
	viper.SetDefault("sync.interval", "3m")
	viper.SetDefault("sync.fresh_window", "5m")
	viper.SetDefault("sync.default_page_size", 50)
	viper.SetDefault("webhook.smsa_signing_secret", "")

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	accessExpiry, err := time.ParseDuration(viper.GetString("jwt.access_expiry"))
	if err != nil {
		accessExpiry = 15 * time.Minute
	}

	refreshExpiry, err := time.ParseDuration(viper.GetString("jwt.refresh_expiry"))
	if err != nil {
		refreshExpiry = 7 * 24 * time.Hour
	}

	syncInterval, err := time.ParseDuration(viper.GetString("sync.interval"))
	if err != nil {
		syncInterval = 3 * time.Minute
	}

	freshWindow, err := time.ParseDuration(viper.GetString("sync.fresh_window"))
	if err != nil {
		freshWindow = 5 * time.Minute
	}

	jwtSecret := viper.GetString("jwt.secret")
	if jwtSecret == "change-me-in-production" {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret cannot be the default value. Please set UNIBOX_JWT_SECRET environment variable")
	}
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
	}

	encryptionKey := viper.GetString("credential.encryption_key")
	if err := validateEncryptionKey(encryptionKey); err != nil {
		return nil, err
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			Enabled:  viper.GetBool("redis.enabled"),
		},
		JWT: JWTConfig{
			Secret:        jwtSecret,
			Issuer:        viper.GetString("jwt.issuer"),
			AccessExpiry:  accessExpiry,
			RefreshExpiry: refreshExpiry,
		},
		Credential: CredentialConfig{
			EncryptionKey: encryptionKey,
		},
		Sync: SyncConfig{
			Interval:        syncInterval,
			FreshWindow:     freshWindow,
			DefaultPageSize: viper.GetInt("sync.default_page_size"),
		},
		Webhook: WebhookConfig{
			SMSASigningSecret: viper.GetString("webhook.smsa_signing_secret"),
		},
	}

	return cfg, nil
}

// validateEncryptionKey 校验凭证加密密钥为 32 字节十六进制
func validateEncryptionKey(key string) error {
	if key == "" {
		return fmt.Errorf("SECURITY ERROR: credential encryption key is required. Please set UNIBOX_CREDENTIAL_ENCRYPTION_KEY environment variable")
	}
	raw, err := hex.DecodeString(key)
	if err != nil {
		return fmt.Errorf("SECURITY ERROR: credential encryption key must be a hex string: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("SECURITY ERROR: credential encryption key must be 32 bytes (64 hex characters), got %d bytes", len(raw))
	}
	return nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件。
// 文件不存在时静默跳过，已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	// 从 backend/ 子目录运行时取父目录的 .env
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
