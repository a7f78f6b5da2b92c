package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"unibox/backend/internal/domain"
)

func newTestStore() *Store {
	return NewStore("user-1", nil, zap.NewNop())
}

func smsMessage(id, thread string, direction domain.Direction, from, to string, at time.Time) domain.Message {
	return domain.Message{
		ID:          id,
		ThreadID:    thread,
		From:        domain.Party{Address: from},
		To:          []domain.Party{{Address: to}},
		Body:        "hello",
		Date:        at,
		AccountType: domain.AccountTypeSMSA,
		Direction:   direction,
	}
}

func TestStore_SetMessages_Idempotent(t *testing.T) {
	store := newTestStore()
	now := time.Now().UTC()

	batch := []domain.Message{
		smsMessage("1", "t1", domain.DirectionInbound, "+15550100", "+15550200", now),
		smsMessage("2", "t1", domain.DirectionInbound, "+15550100", "+15550200", now.Add(time.Minute)),
	}

	added := store.SetMessages(batch)
	assert.Equal(t, 2, added)

	// 相同输入再次合并：状态不变，无新增
	added = store.SetMessages(batch)
	assert.Equal(t, 0, added)
	assert.Equal(t, 2, store.Count())
}

func TestStore_DedupKey_DirectionDisambiguation(t *testing.T) {
	store := newTestStore()
	now := time.Now().UTC()

	t.Run("sms-a同id不同方向保留两条", func(t *testing.T) {
		inbound := smsMessage("42", "thread-x", domain.DirectionInbound, "+15550100", "+15550200", now)
		outbound := smsMessage("42", "thread-x", domain.DirectionOutbound, "+15550200", "+15550100", now.Add(time.Second))

		added := store.SetMessages([]domain.Message{inbound, outbound})
		assert.Equal(t, 2, added)
	})

	t.Run("其他平台同threadId同id折叠为一条", func(t *testing.T) {
		store := newTestStore()
		a := domain.Message{
			ID: "m-1", ThreadID: "th-1",
			From:    domain.Party{Address: "alice@example.com"},
			Subject: "hi", Body: "first",
			Date:        now,
			AccountType: domain.AccountTypeMail,
			Direction:   domain.DirectionInbound,
		}
		b := a
		b.Direction = domain.DirectionOutbound
		b.Body = "second"
		b.Date = now.Add(time.Minute)

		added := store.SetMessages([]domain.Message{a, b})
		assert.Equal(t, 1, added)
		require.Equal(t, 1, store.Count())
		// 较新的获胜
		assert.Equal(t, "second", store.Messages()[0].Body)
	})
}

func TestStore_MergePrecedence_Placeholder(t *testing.T) {
	now := time.Now().UTC()

	good := domain.Message{
		ID: "m-9", ThreadID: "th-9",
		From:    domain.Party{Address: "bob@example.com"},
		Subject: "real subject", Body: "real body",
		Date:        now,
		AccountType: domain.AccountTypeMail,
	}
	placeholder := good
	placeholder.Body = "(failed to load)"
	placeholder.IsPlaceholder = true
	placeholder.Date = now.Add(time.Hour) // 更新但仍是占位

	t.Run("占位不覆盖完整消息_即使更新", func(t *testing.T) {
		store := newTestStore()
		store.SetMessages([]domain.Message{good})
		store.SetMessages([]domain.Message{placeholder})

		msgs := store.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "real body", msgs[0].Body)
		assert.False(t, msgs[0].IsPlaceholder)
	})

	t.Run("完整消息总是取代占位", func(t *testing.T) {
		store := newTestStore()
		store.SetMessages([]domain.Message{placeholder})
		store.SetMessages([]domain.Message{good}) // date 更旧也应取代

		msgs := store.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "real body", msgs[0].Body)
	})
}

func TestStore_SetMessages_DropsInvalid(t *testing.T) {
	store := newTestStore()
	now := time.Now().UTC()

	invalid := []domain.Message{
		{Subject: "no id", From: domain.Party{Address: "a@b.c"}, Date: now, AccountType: domain.AccountTypeMail},
		{ID: "x", Subject: "no sender", Date: now, AccountType: domain.AccountTypeMail},
		{ID: "y", From: domain.Party{Address: "a@b.c"}, Date: now, AccountType: domain.AccountTypeMail}, // 邮件类缺主题缺正文
	}

	added := store.SetMessages(invalid)
	assert.Equal(t, 0, added)
	assert.Equal(t, 0, store.Count())
}

func TestStore_ContactDerivation(t *testing.T) {
	now := time.Now().UTC()

	t.Run("跨平台同号码合并为一个联系人", func(t *testing.T) {
		store := newTestStore()
		older := smsMessage("1", "t1", domain.DirectionInbound, "+15550100", "+15550200", now.Add(-time.Hour))
		newer := domain.Message{
			ID: "w-1", ThreadID: "chat-1",
			From:        domain.Party{Name: "Ann", Address: "+15550100"},
			To:          []domain.Party{{Address: "+15550200"}},
			Body:        "wa hello",
			Date:        now,
			AccountType: domain.AccountTypeWhatsApp,
			Direction:   domain.DirectionInbound,
		}

		store.SetMessages([]domain.Message{older, newer})

		contacts := store.Contacts()
		require.Len(t, contacts, 1)
		assert.Equal(t, "+15550100", contacts[0].Email)
		assert.Equal(t, "Ann", contacts[0].Name)
		assert.True(t, contacts[0].LastMessageDate.Equal(now))
		assert.Equal(t, domain.AccountTypeWhatsApp, contacts[0].AccountType)
	})

	t.Run("标识大小写归一化", func(t *testing.T) {
		store := newTestStore()
		a := domain.Message{
			ID: "m-1", From: domain.Party{Address: "Alice@Example.COM"},
			Subject: "s", Body: "b", Date: now, AccountType: domain.AccountTypeMail,
		}
		b := domain.Message{
			ID: "m-2", From: domain.Party{Address: "alice@example.com"},
			Subject: "s2", Body: "b2", Date: now.Add(time.Minute), AccountType: domain.AccountTypeMail,
		}
		store.SetMessages([]domain.Message{a, b})

		contacts := store.Contacts()
		require.Len(t, contacts, 1)
		assert.Equal(t, "alice@example.com", contacts[0].Email)
	})

	t.Run("出站消息按收件人计联系人", func(t *testing.T) {
		store := newTestStore()
		out := smsMessage("9", "t9", domain.DirectionOutbound, "+15550200", "+15550999", now)
		store.SetMessages([]domain.Message{out})

		contacts := store.Contacts()
		require.Len(t, contacts, 1)
		assert.Equal(t, "+15550999", contacts[0].Email)
	})
}

func TestStore_DeleteConversation(t *testing.T) {
	store := newTestStore()
	now := time.Now().UTC()

	store.SetMessages([]domain.Message{
		smsMessage("1", "t1", domain.DirectionInbound, "+15550100", "+15550200", now),
		smsMessage("2", "t1", domain.DirectionOutbound, "+15550200", "+15550100", now.Add(time.Second)),
		smsMessage("3", "t2", domain.DirectionInbound, "+15550777", "+15550200", now.Add(time.Minute)),
	})
	require.Equal(t, 3, store.Count())

	removed := store.DeleteConversation("+15550100")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, store.Count())

	// 联系人从剩余消息重新派生
	contacts := store.Contacts()
	require.Len(t, contacts, 1)
	assert.Equal(t, "+15550777", contacts[0].Email)
}

func TestStore_Freshness(t *testing.T) {
	store := newTestStore()
	assert.False(t, store.IsFresh(5*time.Minute))

	store.MarkSynced(time.Now())
	assert.True(t, store.IsFresh(5*time.Minute))

	store.MarkSynced(time.Now().Add(-10 * time.Minute))
	assert.False(t, store.IsFresh(5*time.Minute))
}

func TestStore_Cursors(t *testing.T) {
	store := newTestStore()

	store.SetCursor("acc-1", "", "120")
	store.SetCursor("acc-1", "+15550100", "45")

	assert.Equal(t, "120", store.GetCursor("acc-1", ""))
	assert.Equal(t, "45", store.GetCursor("acc-1", "+15550100"))
	assert.Equal(t, "", store.GetCursor("acc-2", ""))
}

// memPersister 测试用内存持久化
type memPersister struct {
	snapshots map[string]*Snapshot
}

func (p *memPersister) SaveSnapshot(s *Snapshot) error {
	if p.snapshots == nil {
		p.snapshots = make(map[string]*Snapshot)
	}
	p.snapshots[s.UserID] = s
	return nil
}

func (p *memPersister) LoadSnapshot(userID string) (*Snapshot, error) {
	return p.snapshots[userID], nil
}

func (p *memPersister) DeleteSnapshot(userID string) error {
	delete(p.snapshots, userID)
	return nil
}

func TestStore_PersistAndRestore(t *testing.T) {
	persister := &memPersister{}
	now := time.Now().UTC().Truncate(time.Second)

	store := NewStore("user-1", persister, zap.NewNop())
	store.SetMessages([]domain.Message{
		smsMessage("1", "t1", domain.DirectionInbound, "+15550100", "+15550200", now),
	})
	store.SetCursor("acc-1", "", "77")
	store.MarkSynced(now)

	restored := NewStore("user-1", persister, zap.NewNop())
	require.NoError(t, restored.Restore())

	assert.Equal(t, 1, restored.Count())
	assert.Equal(t, "77", restored.GetCursor("acc-1", ""))
	assert.True(t, restored.IsFresh(time.Hour))
}
