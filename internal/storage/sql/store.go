package sql

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"unibox/backend/internal/domain"
	"unibox/backend/internal/storage"
)

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL）
type Store struct {
	db         *sql.DB
	gormDB     *gorm.DB
	driverName string // "mysql" or "postgres"
}

// blacklistEntry JWT 黑名单表
type blacklistEntry struct {
	JTI       string    `gorm:"primaryKey;type:varchar(64)"`
	ExpiresAt time.Time `gorm:"index"`
}

func (blacklistEntry) TableName() string { return "jwt_blacklist" }

// NewStore 创建 SQL 数据库存储
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var gormDB *gorm.DB
	if driverName == "mysql" {
		gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: db}), gormConfig)
	} else {
		gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: db}), gormConfig)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	store := &Store{
		db:         db,
		gormDB:     gormDB,
		driverName: driverName,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate 执行数据库迁移
func (s *Store) migrate() error {
	return s.gormDB.AutoMigrate(
		&domain.User{},
		&domain.SyncAccount{},
		&domain.Message{},
		&blacklistEntry{},
	)
}

// ========== User Repository ==========

// CreateUser 创建用户
func (s *Store) CreateUser(user *domain.User) error {
	user.Email = strings.ToLower(user.Email)
	err := s.gormDB.Create(user).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrUserExists
	}
	return err
}

// GetUserByID 按 ID 获取用户
func (s *Store) GetUserByID(id string) (*domain.User, error) {
	var user domain.User
	err := s.gormDB.First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail 按邮箱获取用户
func (s *Store) GetUserByEmail(email string) (*domain.User, error) {
	var user domain.User
	err := s.gormDB.First(&user, "email = ?", strings.ToLower(email)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser 更新用户
func (s *Store) UpdateUser(user *domain.User) error {
	user.Email = strings.ToLower(user.Email)
	result := s.gormDB.Model(&domain.User{}).Where("id = ?", user.ID).Updates(user)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

// UpdateLastLogin 更新最后登录时间
func (s *Store) UpdateLastLogin(userID string) error {
	now := time.Now().UTC()
	result := s.gormDB.Model(&domain.User{}).Where("id = ?", userID).Update("last_login_at", now)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

// ========== SyncAccount Repository ==========

// SaveSyncAccount 保存同步账户（存在则整体覆盖）
func (s *Store) SaveSyncAccount(account *domain.SyncAccount) error {
	return s.gormDB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(account).Error
}

// GetSyncAccount 获取同步账户
func (s *Store) GetSyncAccount(id string) (*domain.SyncAccount, error) {
	var account domain.SyncAccount
	err := s.gormDB.First(&account, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ListSyncAccountsByUserID 按用户列举同步账户
func (s *Store) ListSyncAccountsByUserID(userID string) ([]domain.SyncAccount, error) {
	var accounts []domain.SyncAccount
	err := s.gormDB.Where("user_id = ?", userID).Order("created_at").Find(&accounts).Error
	return accounts, err
}

// ListEnabledSyncAccounts 列举所有启用的同步账户
func (s *Store) ListEnabledSyncAccounts() ([]domain.SyncAccount, error) {
	var accounts []domain.SyncAccount
	err := s.gormDB.Where("enabled = ?", true).Find(&accounts).Error
	return accounts, err
}

// UpdateLastSync 更新账户最后同步时间
func (s *Store) UpdateLastSync(accountID string, at time.Time) error {
	result := s.gormDB.Model(&domain.SyncAccount{}).Where("id = ?", accountID).Update("last_sync", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrAccountNotFound
	}
	return nil
}

// DeleteSyncAccount 删除同步账户
func (s *Store) DeleteSyncAccount(id string) error {
	result := s.gormDB.Delete(&domain.SyncAccount{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrAccountNotFound
	}
	return nil
}

// ========== Message Archive ==========

// SaveMessages 归档消息。主键冲突整体覆盖，重放同一批次幂等。
func (s *Store) SaveMessages(userID string, messages []domain.Message) error {
	if len(messages) == 0 {
		return nil
	}
	rows := make([]domain.Message, len(messages))
	copy(rows, messages)
	for i := range rows {
		rows[i].UserID = userID
		rows[i].Normalize()
	}
	return s.gormDB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}, {Name: "user_id"}},
		UpdateAll: true,
	}).CreateInBatches(rows, 100).Error
}

// ListMessages 读取用户的归档消息（新消息在前）
func (s *Store) ListMessages(userID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := s.gormDB.Where("user_id = ?", userID).Order("date DESC").Find(&messages).Error
	return messages, err
}

// DeleteMessagesByContact 删除与联系人往来的归档消息。
// 收件人存为 JSON 序列化列，无法在 SQL 层精确匹配，先取回再过滤。
func (s *Store) DeleteMessagesByContact(userID, identifier string) (int, error) {
	messages, err := s.ListMessages(userID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for i := range messages {
		if !messages[i].InvolvesContact(identifier) {
			continue
		}
		result := s.gormDB.Where("user_id = ? AND id = ?", userID, messages[i].ID).Delete(&domain.Message{})
		if result.Error != nil {
			return removed, result.Error
		}
		removed += int(result.RowsAffected)
	}
	return removed, nil
}

// ========== JWT 黑名单 ==========

// AddToBlacklist 加入 JWT 黑名单
func (s *Store) AddToBlacklist(jti string, ttl time.Duration) error {
	entry := blacklistEntry{JTI: jti, ExpiresAt: time.Now().UTC().Add(ttl)}
	return s.gormDB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "jti"}},
		UpdateAll: true,
	}).Create(&entry).Error
}

// IsBlacklisted 检查 JWT 是否在黑名单中
func (s *Store) IsBlacklisted(jti string) (bool, error) {
	var count int64
	err := s.gormDB.Model(&blacklistEntry{}).
		Where("jti = ? AND expires_at > ?", jti, time.Now().UTC()).
		Count(&count).Error
	return count > 0, err
}

// ========== 生命周期 ==========

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Ping()
}
