package sync

import (
	"context"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"unibox/backend/internal/domain"
)

// Scheduler 后台定时同步。
//
// 固定间隔触发全量同步；上一轮尚未结束时，本轮 tick 直接丢弃
// 而不是排队。时间线仍在新鲜窗口内的用户跳过本轮刷新。
// 可显式 Stop，取代原实现不可取消的 setInterval 轮询。
type Scheduler struct {
	orchestrator *Orchestrator
	store        accountStore
	freshWindow  time.Duration
	interval     time.Duration
	initialDelay time.Duration
	pageSize     int
	log          *zap.Logger

	mu       gosync.Mutex
	running  bool
	stopChan chan struct{}
	cycle    gosync.Mutex // 防止同步周期重叠
}

// listEnabled 调度器需要的账户列举能力
type listEnabled interface {
	ListEnabledSyncAccounts() ([]domain.SyncAccount, error)
}

// NewScheduler 创建后台同步调度器
func NewScheduler(orchestrator *Orchestrator, interval, freshWindow time.Duration, pageSize int, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 3 * time.Minute
	}
	if freshWindow <= 0 {
		freshWindow = 5 * time.Minute
	}
	return &Scheduler{
		orchestrator: orchestrator,
		store:        orchestrator.store,
		freshWindow:  freshWindow,
		interval:     interval,
		initialDelay: 10 * time.Second,
		pageSize:     pageSize,
		log:          log,
		stopChan:     make(chan struct{}),
	}
}

// Start 启动后台同步循环
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.log.Info("sync scheduler starting",
		zap.Duration("interval", s.interval),
		zap.Duration("fresh_window", s.freshWindow))

	go func() {
		// 服务完全就绪后再跑第一轮
		select {
		case <-time.After(s.initialDelay):
			s.runCycle(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runCycle(ctx)
			case <-s.stopChan:
				s.log.Info("sync scheduler stopped")
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopChan)
	s.running = false
}

// runCycle 执行一轮全量同步
func (s *Scheduler) runCycle(ctx context.Context) {
	// 上一轮没结束：丢弃本轮 tick，不排队
	if !s.cycle.TryLock() {
		s.log.Debug("sync scheduler: previous cycle still running, skipping tick")
		return
	}
	defer s.cycle.Unlock()

	lister, ok := s.store.(listEnabled)
	if !ok {
		return
	}
	accounts, err := lister.ListEnabledSyncAccounts()
	if err != nil {
		s.log.Error("sync scheduler: failed to list accounts", zap.Error(err))
		return
	}

	// 按用户归组，扇出交给编排器
	users := make(map[string]struct{})
	for i := range accounts {
		users[accounts[i].UserID] = struct{}{}
	}

	for userID := range users {
		// 新鲜窗口内跳过后台刷新
		if s.orchestrator.sessions.Get(userID).IsFresh(s.freshWindow) {
			continue
		}
		if err := s.orchestrator.SyncUser(ctx, userID, s.pageSize); err != nil {
			s.log.Error("sync scheduler: user sync failed",
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}
}
