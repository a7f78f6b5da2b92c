package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"unibox/backend/internal/domain"
	"unibox/backend/internal/monitoring"
	"unibox/backend/internal/provider"
	"unibox/backend/internal/timeline"
)

// ErrSyncInProgress 账户已有同步在进行（重入触发折叠为空操作）
var ErrSyncInProgress = errors.New("sync already in progress for account")

// Options 单次同步的参数
type Options struct {
	AccountID     string
	PhoneNumber   string // sms-a/whatsapp 按会话同步时的会话标识
	PageSize      int    // 期望拉取总条数（跨多批次）
	Cursor        string // 显式游标（"加载更多"时由前端带上），空则用已记录的
	SortDirection provider.SortDirection
	LoadOlder     bool // true 表示向更旧方向翻页
}

// Result 单账户同步结果
type Result struct {
	Messages      []domain.Message
	Merged        int // 合并入时间线的新消息数
	RateLimited   bool
	RetryAfter    time.Duration
	LastMessageID string // 本轮推进后的游标值
}

// accountStore 编排器需要的账户存取子集
type accountStore interface {
	GetSyncAccount(id string) (*domain.SyncAccount, error)
	ListSyncAccountsByUserID(userID string) ([]domain.SyncAccount, error)
	UpdateLastSync(accountID string, at time.Time) error
}

// Orchestrator 驱动各服务商账户的消息同步。
//
// 每账户一把重入锁：用户手动触发与定时器触发重叠时，后到者
// 直接得到 ErrSyncInProgress 而不是发起重复的服务商调用。
// 多账户扇出时单个账户的失败被隔离，不影响兄弟账户。
type Orchestrator struct {
	store    accountStore
	registry *provider.Registry
	sessions *timeline.Manager
	metrics  *monitoring.Metrics
	log      *zap.Logger

	inFlight gosync.Map // accountID -> struct{}

	// 限流退避的等待实现，测试中注入以免真实睡眠
	sleep func(ctx context.Context, d time.Duration) error

	maxBatches int // 单轮最多批次数，防御游标不收敛
}

// NewOrchestrator 创建同步编排器
func NewOrchestrator(store accountStore, registry *provider.Registry, sessions *timeline.Manager, metrics *monitoring.Metrics, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		registry:   registry,
		sessions:   sessions,
		metrics:    metrics,
		log:        log,
		sleep:      sleepContext,
		maxBatches: 10,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// tryLock 获取账户重入锁
func (o *Orchestrator) tryLock(accountID string) bool {
	_, loaded := o.inFlight.LoadOrStore(accountID, struct{}{})
	return !loaded
}

func (o *Orchestrator) unlock(accountID string) {
	o.inFlight.Delete(accountID)
}

// SyncAccount 同步单个账户。
//
// 多批次循环：以期望总条数为目标反复调用适配器；批次被限流时
// 先合并已到手的部分结果，等待 RetryAfter 后重试同一游标；
// 批次没有带来任何新消息时不推进游标（防止在过期/重复页上
// 失控翻页），并结束本轮。
func (o *Orchestrator) SyncAccount(ctx context.Context, userID string, opts Options) (*Result, error) {
	if !o.tryLock(opts.AccountID) {
		return nil, ErrSyncInProgress
	}
	defer o.unlock(opts.AccountID)

	account, err := o.store.GetSyncAccount(opts.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load sync account: %w", err)
	}
	if account.UserID != userID {
		return nil, fmt.Errorf("account %s does not belong to user", opts.AccountID)
	}

	adapter, err := o.registry.Build(account)
	if err != nil {
		return nil, err
	}

	store := o.sessions.Get(userID)

	target := opts.PageSize
	if target <= 0 {
		target = 50
	}

	cursor := opts.Cursor
	if cursor == "" {
		cursor = store.GetCursor(account.ID, opts.PhoneNumber)
	}

	result := &Result{LastMessageID: cursor}
	fetched := 0

	for batch := 0; batch < o.maxBatches && fetched < target; batch++ {
		fetchOpts := provider.FetchOptions{
			AccountFilter: account.AccountIdentifier,
			Limit:         target - fetched,
			Cursor:        cursor,
			ChatID:        opts.PhoneNumber,
			SortDirection: opts.SortDirection,
		}

		batchResult, err := adapter.GetMessages(ctx, fetchOpts)
		if err != nil {
			o.observeFetch(account.Platform, "error")
			return nil, err
		}

		// 部分成功 + 限流：先合并已拉到的，再退避重试同一游标
		if len(batchResult.Messages) > 0 {
			added := store.SetMessages(batchResult.Messages)
			result.Messages = append(result.Messages, batchResult.Messages...)
			result.Merged += added
			fetched += len(batchResult.Messages)

			// 只有贡献了新消息的批次才允许推进游标
			if added > 0 && batchResult.NextCursor != "" && batchResult.NextCursor != cursor {
				cursor = batchResult.NextCursor
				result.LastMessageID = cursor
				store.SetCursor(account.ID, opts.PhoneNumber, cursor)
			} else if added == 0 {
				o.log.Debug("sync: batch yielded no new messages, stopping",
					zap.String("account_id", account.ID),
					zap.String("cursor", cursor))
				break
			}
		}

		if batchResult.RateLimited {
			o.observeFetch(account.Platform, "rate_limited")
			result.RateLimited = true
			result.RetryAfter = batchResult.RetryAfter

			wait := batchResult.RetryAfter
			if wait <= 0 {
				wait = 30 * time.Second
			}
			o.log.Info("sync: rate limited, backing off",
				zap.String("account_id", account.ID),
				zap.Duration("retry_after", wait))
			if err := o.sleep(ctx, wait); err != nil {
				return result, err
			}
			continue
		}

		o.observeFetch(account.Platform, "ok")

		// 服务商没给下一页游标即视为拉尽。不能按"批次短于请求量"
		// 判断：各服务商有自己的单页上限，短批次不代表没有下一页。
		if batchResult.NextCursor == "" {
			break
		}
	}

	// 同步尝试成功即更新 lastSync（包括零新消息的空转）
	if err := o.store.UpdateLastSync(account.ID, time.Now().UTC()); err != nil {
		o.log.Warn("sync: failed to update last_sync",
			zap.String("account_id", account.ID),
			zap.Error(err))
	}

	store.MarkSynced(time.Now())
	return result, nil
}

// SyncUser 同步用户的全部启用账户。
//
// 账户间并发扇出，单个账户失败（或正被其他触发源同步）只记录
// 不中断其余账户——等价于原实现的 allSettled 语义。
func (o *Orchestrator) SyncUser(ctx context.Context, userID string, pageSize int) error {
	accounts, err := o.store.ListSyncAccountsByUserID(userID)
	if err != nil {
		return fmt.Errorf("list sync accounts: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := range accounts {
		account := accounts[i]
		if !account.Enabled {
			continue
		}
		g.Go(func() error {
			_, err := o.SyncAccount(ctx, userID, Options{
				AccountID:     account.ID,
				PageSize:      pageSize,
				SortDirection: provider.SortDescending,
			})
			if err != nil && !errors.Is(err, ErrSyncInProgress) {
				o.log.Error("sync: account sync failed",
					zap.String("account_id", account.ID),
					zap.String("platform", string(account.Platform)),
					zap.Error(err))
			}
			// 失败隔离：永远返回 nil，不让 errgroup 中断兄弟账户
			return nil
		})
	}
	return g.Wait()
}

// IsAccountSyncing 账户是否正在同步
func (o *Orchestrator) IsAccountSyncing(accountID string) bool {
	_, loaded := o.inFlight.Load(accountID)
	return loaded
}

func (o *Orchestrator) observeFetch(platform domain.AccountType, outcome string) {
	if o.metrics != nil {
		o.metrics.ProviderFetches.WithLabelValues(string(platform), outcome).Inc()
	}
}
