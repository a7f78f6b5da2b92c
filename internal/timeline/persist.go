package timeline

import (
	"time"

	"unibox/backend/internal/domain"
)

// Snapshot 时间线的可序列化快照，按用户一份
type Snapshot struct {
	UserID   string            `json:"userId"`
	Messages []domain.Message  `json:"messages"`
	Cursors  map[string]string `json:"cursors"`
	SyncedAt time.Time         `json:"syncedAt"`
}

// Persister 时间线快照的持久化边界。
//
// 生产实现写穿 Redis（storage/redis.TimelineCache），
// 测试用内存实现。写失败由 Store 降级处理，不向上传播。
type Persister interface {
	SaveSnapshot(snapshot *Snapshot) error
	LoadSnapshot(userID string) (*Snapshot, error)
	DeleteSnapshot(userID string) error
}
