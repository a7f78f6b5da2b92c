package storage

import (
	"errors"
	"time"

	"unibox/backend/internal/domain"
)

var (
	// ErrUserNotFound 用户未找到错误
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists 用户已存在错误
	ErrUserExists = errors.New("user already exists")
	// ErrAccountNotFound 同步账户未找到错误
	ErrAccountNotFound = errors.New("sync account not found")
)

// UserRepository 定义用户数据存取操作。
type UserRepository interface {
	CreateUser(user *domain.User) error
	GetUserByID(id string) (*domain.User, error)
	GetUserByEmail(email string) (*domain.User, error)
	UpdateUser(user *domain.User) error
	UpdateLastLogin(userID string) error
}

// SyncAccountRepository 定义服务商账户数据存取操作。
type SyncAccountRepository interface {
	SaveSyncAccount(account *domain.SyncAccount) error
	GetSyncAccount(id string) (*domain.SyncAccount, error)
	ListSyncAccountsByUserID(userID string) ([]domain.SyncAccount, error)
	ListEnabledSyncAccounts() ([]domain.SyncAccount, error)
	UpdateLastSync(accountID string, at time.Time) error
	DeleteSyncAccount(id string) error
}

// MessageArchiveRepository 定义消息落库操作。
//
// 数据库是时间线的长期归档；在线读路径走内存时间线与
// Redis 快照，归档用于冷启动回填与删除对账。
type MessageArchiveRepository interface {
	SaveMessages(userID string, messages []domain.Message) error
	ListMessages(userID string) ([]domain.Message, error)
	DeleteMessagesByContact(userID, identifier string) (int, error)
}

// JWTRepository 定义 JWT 黑名单操作。
type JWTRepository interface {
	AddToBlacklist(jti string, ttl time.Duration) error
	IsBlacklisted(jti string) (bool, error)
}

// Store 定义完整的存储接口。
type Store interface {
	UserRepository
	SyncAccountRepository
	MessageArchiveRepository
	JWTRepository

	// 工具方法
	Close() error
	Health() error
}
