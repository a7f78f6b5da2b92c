package memory

import (
	"strings"
	"sync"
	"time"

	"unibox/backend/internal/domain"
	"unibox/backend/internal/storage"
)

// Store 内存存储实现。
//
// 单机部署与测试使用；进程重启即丢失，生产部署选 SQL 存储。
type Store struct {
	mu sync.RWMutex

	users        map[string]*domain.User        // userID -> user
	usersByEmail map[string]string              // email -> userID
	accounts     map[string]*domain.SyncAccount // accountID -> account
	archive      map[string]map[string]domain.Message
	blacklist    map[string]time.Time // jti -> 过期时间
}

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		users:        make(map[string]*domain.User),
		usersByEmail: make(map[string]string),
		accounts:     make(map[string]*domain.SyncAccount),
		archive:      make(map[string]map[string]domain.Message),
		blacklist:    make(map[string]time.Time),
	}
}

// ========== User Repository ==========

// CreateUser 创建用户
func (s *Store) CreateUser(user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, exists := s.usersByEmail[email]; exists {
		return storage.ErrUserExists
	}

	copied := *user
	s.users[user.ID] = &copied
	s.usersByEmail[email] = user.ID
	return nil
}

// GetUserByID 按 ID 获取用户
func (s *Store) GetUserByID(id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

// GetUserByEmail 按邮箱获取用户
func (s *Store) GetUserByEmail(email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	copied := *s.users[id]
	return &copied, nil
}

// UpdateUser 更新用户
func (s *Store) UpdateUser(user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return storage.ErrUserNotFound
	}

	// 邮箱变更需要同步索引
	oldEmail := strings.ToLower(existing.Email)
	newEmail := strings.ToLower(user.Email)
	if oldEmail != newEmail {
		if _, taken := s.usersByEmail[newEmail]; taken {
			return storage.ErrUserExists
		}
		delete(s.usersByEmail, oldEmail)
		s.usersByEmail[newEmail] = user.ID
	}

	user.UpdatedAt = time.Now().UTC()
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

// UpdateLastLogin 更新最后登录时间
func (s *Store) UpdateLastLogin(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	now := time.Now().UTC()
	user.LastLoginAt = &now
	return nil
}

// ========== SyncAccount Repository ==========

// SaveSyncAccount 保存同步账户
func (s *Store) SaveSyncAccount(account *domain.SyncAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *account
	s.accounts[account.ID] = &copied
	return nil
}

// GetSyncAccount 获取同步账户
func (s *Store) GetSyncAccount(id string) (*domain.SyncAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

// ListSyncAccountsByUserID 按用户列举同步账户
func (s *Store) ListSyncAccountsByUserID(userID string) ([]domain.SyncAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.SyncAccount
	for _, account := range s.accounts {
		if account.UserID == userID {
			out = append(out, *account)
		}
	}
	return out, nil
}

// ListEnabledSyncAccounts 列举所有启用的同步账户
func (s *Store) ListEnabledSyncAccounts() ([]domain.SyncAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.SyncAccount
	for _, account := range s.accounts {
		if account.Enabled {
			out = append(out, *account)
		}
	}
	return out, nil
}

// UpdateLastSync 更新账户最后同步时间
func (s *Store) UpdateLastSync(accountID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return storage.ErrAccountNotFound
	}
	account.LastSync = &at
	account.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteSyncAccount 删除同步账户
func (s *Store) DeleteSyncAccount(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return storage.ErrAccountNotFound
	}
	delete(s.accounts, id)
	return nil
}

// ========== Message Archive ==========

// SaveMessages 归档消息（按去重键幂等）
func (s *Store) SaveMessages(userID string, messages []domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.archive[userID]
	if !ok {
		bucket = make(map[string]domain.Message)
		s.archive[userID] = bucket
	}
	for i := range messages {
		bucket[messages[i].CompositeKey()] = messages[i]
	}
	return nil
}

// ListMessages 读取用户的归档消息
func (s *Store) ListMessages(userID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := s.archive[userID]
	out := make([]domain.Message, 0, len(bucket))
	for _, msg := range bucket {
		out = append(out, msg)
	}
	return out, nil
}

// DeleteMessagesByContact 删除与联系人往来的归档消息
func (s *Store) DeleteMessagesByContact(userID, identifier string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.archive[userID]
	removed := 0
	for key, msg := range bucket {
		if msg.InvolvesContact(identifier) {
			delete(bucket, key)
			removed++
		}
	}
	return removed, nil
}

// ========== JWT 黑名单 ==========

// AddToBlacklist 加入 JWT 黑名单
func (s *Store) AddToBlacklist(jti string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blacklist[jti] = time.Now().Add(ttl)
	return nil
}

// IsBlacklisted 检查 JWT 是否在黑名单中
func (s *Store) IsBlacklisted(jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.blacklist[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(s.blacklist, jti)
		return false, nil
	}
	return true, nil
}

// ========== 生命周期 ==========

// Close 关闭存储
func (s *Store) Close() error {
	return nil
}

// Health 健康检查
func (s *Store) Health() error {
	return nil
}
