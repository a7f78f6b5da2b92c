package timeline

import (
	"sync"

	"go.uber.org/zap"
)

// Manager 按用户管理时间线实例的生命周期。
//
// 首次访问时惰性创建并从缓存恢复快照；用户会话结束或
// 注销时 Remove 释放内存副本。取代原实现的进程级全局单例。
type Manager struct {
	mu        sync.Mutex
	stores    map[string]*Store
	persister Persister
	log       *zap.Logger
}

// NewManager 创建时间线管理器
func NewManager(persister Persister, log *zap.Logger) *Manager {
	return &Manager{
		stores:    make(map[string]*Store),
		persister: persister,
		log:       log,
	}
}

// Get 返回用户的时间线，不存在时创建并恢复缓存快照
func (m *Manager) Get(userID string) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()

	if store, ok := m.stores[userID]; ok {
		return store
	}

	store := NewStore(userID, m.persister, m.log)
	if err := store.Restore(); err != nil {
		m.log.Warn("timeline: snapshot restore failed, starting empty",
			zap.String("user_id", userID),
			zap.Error(err))
	}
	m.stores[userID] = store
	return store
}

// Remove 释放用户的内存时间线（缓存快照保留）
func (m *Manager) Remove(userID string) {
	m.mu.Lock()
	delete(m.stores, userID)
	m.mu.Unlock()
}

// ActiveUsers 当前持有内存时间线的用户数
func (m *Manager) ActiveUsers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}
