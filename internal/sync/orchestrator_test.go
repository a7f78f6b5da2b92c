package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"unibox/backend/internal/domain"
	"unibox/backend/internal/provider"
	"unibox/backend/internal/timeline"
)

// fakeAccountStore 测试用账户存取
type fakeAccountStore struct {
	mu       gosync.Mutex
	accounts map[string]*domain.SyncAccount
	lastSync map[string]time.Time
}

func newFakeAccountStore(accounts ...*domain.SyncAccount) *fakeAccountStore {
	s := &fakeAccountStore{
		accounts: make(map[string]*domain.SyncAccount),
		lastSync: make(map[string]time.Time),
	}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (s *fakeAccountStore) GetSyncAccount(id string) (*domain.SyncAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, errors.New("sync account not found")
	}
	return account, nil
}

func (s *fakeAccountStore) ListSyncAccountsByUserID(userID string) ([]domain.SyncAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SyncAccount
	for _, a := range s.accounts {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *fakeAccountStore) UpdateLastSync(accountID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync[accountID] = at
	return nil
}

// scriptedAdapter 按脚本逐批返回结果的适配器
type scriptedAdapter struct {
	platform domain.AccountType
	batches  []*provider.FetchResult
	err      error
	calls    int
	block    chan struct{} // 非 nil 时首次调用阻塞直到关闭
}

func (a *scriptedAdapter) Type() domain.AccountType { return a.platform }

func (a *scriptedAdapter) GetMessages(ctx context.Context, opts provider.FetchOptions) (*provider.FetchResult, error) {
	call := a.calls
	a.calls++
	if call == 0 && a.block != nil {
		<-a.block
	}
	if a.err != nil {
		return nil, a.err
	}
	if call >= len(a.batches) {
		return &provider.FetchResult{}, nil
	}
	return a.batches[call], nil
}

func (a *scriptedAdapter) SendMessage(ctx context.Context, input provider.SendInput) (*domain.Message, error) {
	return nil, errors.New("not implemented")
}

func (a *scriptedAdapter) ProcessIncomingMessage(payload []byte) (*domain.Message, error) {
	return nil, nil
}

func testAccount(id, userID string, platform domain.AccountType) *domain.SyncAccount {
	return &domain.SyncAccount{
		ID:                id,
		UserID:            userID,
		Platform:          platform,
		AccountIdentifier: "+15550200",
		Credentials:       "v1:irrelevant",
		Enabled:           true,
	}
}

func newTestOrchestrator(t *testing.T, store *fakeAccountStore, adapters map[domain.AccountType]provider.Adapter) *Orchestrator {
	t.Helper()
	registry := provider.NewRegistry(func(ciphertext string) (string, error) {
		return "{}", nil
	})
	for platform, adapter := range adapters {
		a := adapter
		registry.Register(platform, func(account *domain.SyncAccount, credentialJSON string) (provider.Adapter, error) {
			return a, nil
		})
	}
	o := NewOrchestrator(store, registry, timeline.NewManager(nil, zap.NewNop()), nil, zap.NewNop())
	o.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return o
}

func fetchBatch(platform domain.AccountType, start, count int, nextCursor string) *provider.FetchResult {
	result := &provider.FetchResult{NextCursor: nextCursor}
	now := time.Now().UTC()
	for i := 0; i < count; i++ {
		n := start + i
		result.Messages = append(result.Messages, domain.Message{
			ID:          fmt.Sprintf("m-%d", n),
			ThreadID:    "t1",
			From:        domain.Party{Address: "+15550100"},
			To:          []domain.Party{{Address: "+15550200"}},
			Body:        fmt.Sprintf("msg %d", n),
			Date:        now.Add(-time.Duration(n) * time.Minute),
			AccountType: platform,
			Direction:   domain.DirectionInbound,
		})
	}
	return result
}

func TestOrchestrator_SyncAccount_Reentrancy(t *testing.T) {
	adapter := &scriptedAdapter{
		platform: domain.AccountTypeSMSA,
		batches:  []*provider.FetchResult{fetchBatch(domain.AccountTypeSMSA, 0, 3, "")},
		block:    make(chan struct{}),
	}
	store := newFakeAccountStore(testAccount("acc-1", "user-1", domain.AccountTypeSMSA))
	o := newTestOrchestrator(t, store, map[domain.AccountType]provider.Adapter{
		domain.AccountTypeSMSA: adapter,
	})

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := o.SyncAccount(context.Background(), "user-1", Options{AccountID: "acc-1", PageSize: 3})
		done <- err
	}()

	<-started
	// 等第一次同步真正拿到锁并阻塞在适配器上
	require.Eventually(t, func() bool {
		return o.IsAccountSyncing("acc-1")
	}, time.Second, 5*time.Millisecond)

	// 重入触发折叠为空操作
	_, err := o.SyncAccount(context.Background(), "user-1", Options{AccountID: "acc-1", PageSize: 3})
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(adapter.block)
	require.NoError(t, <-done)
	assert.False(t, o.IsAccountSyncing("acc-1"))
}

func TestOrchestrator_SyncAccount_RateLimitedMidFetch(t *testing.T) {
	// 三批拉取：第一批成功，第二批限流（带部分结果），退避后第三批成功
	adapter := &scriptedAdapter{
		platform: domain.AccountTypeSMSA,
		batches: []*provider.FetchResult{
			fetchBatch(domain.AccountTypeSMSA, 0, 20, "m-19"),
			{RateLimited: true, RetryAfter: 2 * time.Second},
			fetchBatch(domain.AccountTypeSMSA, 20, 20, "m-39"),
		},
	}
	store := newFakeAccountStore(testAccount("acc-1", "user-1", domain.AccountTypeSMSA))
	o := newTestOrchestrator(t, store, map[domain.AccountType]provider.Adapter{
		domain.AccountTypeSMSA: adapter,
	})

	var slept []time.Duration
	o.sleep = func(ctx context.Context, d time.Duration) error {
		// 退避发生前第一批必须已合并入时间线
		assert.Equal(t, 20, o.sessions.Get("user-1").Count())
		slept = append(slept, d)
		return nil
	}

	result, err := o.SyncAccount(context.Background(), "user-1", Options{AccountID: "acc-1", PageSize: 60})
	require.NoError(t, err)

	assert.True(t, result.RateLimited)
	assert.Equal(t, 2*time.Second, result.RetryAfter)
	require.Len(t, slept, 1)
	assert.Equal(t, 2*time.Second, slept[0])

	// 两个成功批次都已合并
	assert.Equal(t, 40, o.sessions.Get("user-1").Count())
	assert.Equal(t, 40, result.Merged)
	assert.Equal(t, "m-39", result.LastMessageID)
}

func TestOrchestrator_SyncAccount_NoAdvanceOnDuplicateBatch(t *testing.T) {
	batch := fetchBatch(domain.AccountTypeSMSA, 0, 5, "m-4")
	stale := fetchBatch(domain.AccountTypeSMSA, 0, 5, "m-99") // 同样的消息，声称有新游标
	adapter := &scriptedAdapter{
		platform: domain.AccountTypeSMSA,
		batches:  []*provider.FetchResult{batch, stale},
	}
	store := newFakeAccountStore(testAccount("acc-1", "user-1", domain.AccountTypeSMSA))
	o := newTestOrchestrator(t, store, map[domain.AccountType]provider.Adapter{
		domain.AccountTypeSMSA: adapter,
	})

	result, err := o.SyncAccount(context.Background(), "user-1", Options{AccountID: "acc-1", PageSize: 100})
	require.NoError(t, err)

	// 第二批没有任何新消息：游标停在第一批的位置，循环结束
	assert.Equal(t, 5, result.Merged)
	assert.Equal(t, "m-4", result.LastMessageID)
	assert.Equal(t, "m-4", o.sessions.Get("user-1").GetCursor("acc-1", ""))
	assert.Equal(t, 2, adapter.calls)
}

func TestOrchestrator_SyncAccount_StopsWhenCursorExhausted(t *testing.T) {
	adapter := &scriptedAdapter{
		platform: domain.AccountTypeMail,
		batches:  []*provider.FetchResult{fetchBatch(domain.AccountTypeMail, 0, 7, "")},
	}
	store := newFakeAccountStore(testAccount("acc-1", "user-1", domain.AccountTypeMail))
	o := newTestOrchestrator(t, store, map[domain.AccountType]provider.Adapter{
		domain.AccountTypeMail: adapter,
	})

	result, err := o.SyncAccount(context.Background(), "user-1", Options{AccountID: "acc-1", PageSize: 50})
	require.NoError(t, err)

	// 服务商未给下一页游标即视为拉尽，不再追加调用
	assert.Equal(t, 7, result.Merged)
	assert.Equal(t, 1, adapter.calls)
	assert.False(t, result.RateLimited)
}

func TestOrchestrator_SyncAccount_WrongUser(t *testing.T) {
	store := newFakeAccountStore(testAccount("acc-1", "user-1", domain.AccountTypeMail))
	o := newTestOrchestrator(t, store, map[domain.AccountType]provider.Adapter{
		domain.AccountTypeMail: &scriptedAdapter{platform: domain.AccountTypeMail},
	})

	_, err := o.SyncAccount(context.Background(), "user-2", Options{AccountID: "acc-1", PageSize: 10})
	assert.Error(t, err)
}

func TestOrchestrator_SyncAccount_UpdatesLastSync(t *testing.T) {
	adapter := &scriptedAdapter{
		platform: domain.AccountTypeMail,
		batches:  []*provider.FetchResult{{}}, // 零新消息的空转
	}
	store := newFakeAccountStore(testAccount("acc-1", "user-1", domain.AccountTypeMail))
	o := newTestOrchestrator(t, store, map[domain.AccountType]provider.Adapter{
		domain.AccountTypeMail: adapter,
	})

	_, err := o.SyncAccount(context.Background(), "user-1", Options{AccountID: "acc-1", PageSize: 10})
	require.NoError(t, err)

	// 空转也要刷新 lastSync 与新鲜度
	store.mu.Lock()
	_, ok := store.lastSync["acc-1"]
	store.mu.Unlock()
	assert.True(t, ok)
	assert.True(t, o.sessions.Get("user-1").IsFresh(time.Minute))
}

func TestOrchestrator_SyncUser_FailureIsolation(t *testing.T) {
	good := &scriptedAdapter{
		platform: domain.AccountTypeMail,
		batches:  []*provider.FetchResult{fetchBatch(domain.AccountTypeMail, 0, 3, "")},
	}
	bad := &scriptedAdapter{
		platform: domain.AccountTypeSMSB,
		err:      errors.New("vendor outage"),
	}
	store := newFakeAccountStore(
		testAccount("acc-mail", "user-1", domain.AccountTypeMail),
		testAccount("acc-smsb", "user-1", domain.AccountTypeSMSB),
	)
	o := newTestOrchestrator(t, store, map[domain.AccountType]provider.Adapter{
		domain.AccountTypeMail: good,
		domain.AccountTypeSMSB: bad,
	})

	// 单账户失败不影响兄弟账户
	err := o.SyncUser(context.Background(), "user-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, o.sessions.Get("user-1").Count())
}

func TestOrchestrator_SyncUser_SkipsDisabledAccounts(t *testing.T) {
	adapter := &scriptedAdapter{
		platform: domain.AccountTypeMail,
		batches:  []*provider.FetchResult{fetchBatch(domain.AccountTypeMail, 0, 2, "")},
	}
	disabled := testAccount("acc-off", "user-1", domain.AccountTypeMail)
	disabled.Enabled = false
	store := newFakeAccountStore(disabled)
	o := newTestOrchestrator(t, store, map[domain.AccountType]provider.Adapter{
		domain.AccountTypeMail: adapter,
	})

	require.NoError(t, o.SyncUser(context.Background(), "user-1", 10))
	assert.Equal(t, 0, adapter.calls)
}
