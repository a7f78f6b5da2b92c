package timeline

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"unibox/backend/internal/domain"
)

// Store 单个用户的统一时间线。
//
// 持有合并去重后的消息集合，联系人列表在每次变更后从消息
// 全量重建。原系统是单线程事件循环上的全局单例；这里改为
// 显式按用户构造的对象，用读写锁保护（HTTP 处理器和后台
// 同步会并发访问），生命周期与用户会话绑定。
//
// 联系人重建是 O(全部消息) 的——语料规模受限于单个用户收件箱
// 能装进内存的量，超出该规模不在设计目标内。
type Store struct {
	mu       sync.RWMutex
	userID   string
	messages map[string]domain.Message // CompositeKey -> Message
	contacts map[string]domain.Contact // 小写标识 -> Contact
	cursors  map[string]string         // accountID[:chatID] -> 游标
	syncedAt time.Time

	persister Persister // 可为 nil（纯内存模式）
	log       *zap.Logger
}

// NewStore 创建用户时间线
func NewStore(userID string, persister Persister, log *zap.Logger) *Store {
	return &Store{
		userID:    userID,
		messages:  make(map[string]domain.Message),
		contacts:  make(map[string]domain.Contact),
		cursors:   make(map[string]string),
		persister: persister,
		log:       log,
	}
}

// SetMessages 合并一批消息，返回新增（未出现过的键）数量。
//
// 非法消息丢弃并告警。键冲突时按合并策略决议：
//   - 占位消息永不覆盖完整消息（即使更新）；
//   - 完整消息总是可以取代占位消息；
//   - 其余情况较新的 date 获胜。
//
// 对同一输入重复调用是幂等的。
func (s *Store) SetMessages(incoming []domain.Message) int {
	s.mu.Lock()
	added := 0
	for i := range incoming {
		msg := incoming[i]
		if err := domain.ValidateMessage(&msg); err != nil {
			s.log.Warn("timeline: dropping invalid message",
				zap.String("id", msg.ID),
				zap.String("account_type", string(msg.AccountType)),
				zap.Error(err))
			continue
		}
		msg.Normalize()

		key := msg.CompositeKey()
		existing, ok := s.messages[key]
		if !ok {
			s.messages[key] = msg
			added++
			continue
		}
		if s.shouldReplace(&existing, &msg) {
			s.messages[key] = msg
		}
	}
	s.rebuildContacts()
	s.mu.Unlock()

	s.persist()
	return added
}

// AddMessage 合并单条消息（Webhook 路径），返回是否新增
func (s *Store) AddMessage(msg domain.Message) bool {
	return s.SetMessages([]domain.Message{msg}) > 0
}

// shouldReplace 键冲突时判断 incoming 是否取代 existing。
//
// 占位与完整消息的优先级高于时间先后：旧的完整消息也不会
// 被新的占位消息顶掉（原实现未明确这一点，这里固定为
// 内容优先，见 DESIGN.md）。
func (s *Store) shouldReplace(existing, incoming *domain.Message) bool {
	if incoming.IsPlaceholder && !existing.IsPlaceholder {
		return false
	}
	if existing.IsPlaceholder && !incoming.IsPlaceholder {
		return true
	}
	return incoming.Date.After(existing.Date)
}

// Messages 返回按时间倒序的消息快照
func (s *Store) Messages() []domain.Message {
	s.mu.RLock()
	out := make([]domain.Message, 0, len(s.messages))
	for _, msg := range s.messages {
		out = append(out, msg)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

// Contacts 返回按最近消息时间倒序的联系人快照
func (s *Store) Contacts() []domain.Contact {
	s.mu.RLock()
	out := make([]domain.Contact, 0, len(s.contacts))
	for _, contact := range s.contacts {
		out = append(out, contact)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageDate.After(out[j].LastMessageDate) })
	return out
}

// Count 当前消息条数
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// DeleteConversation 删除与联系人相关的全部消息
// （该联系人为发送方或任一收件人），返回删除条数。
func (s *Store) DeleteConversation(identifier string) int {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return 0
	}

	s.mu.Lock()
	removed := 0
	for key, msg := range s.messages {
		if msg.InvolvesContact(identifier) {
			delete(s.messages, key)
			removed++
		}
	}
	if removed > 0 {
		s.rebuildContacts()
	}
	s.mu.Unlock()

	if removed > 0 {
		s.persist()
	}
	return removed
}

// rebuildContacts 从消息全量重建联系人。调用方需持有写锁。
//
// 入站消息计发送方，出站消息计各收件人；同一标识保留最近
// 一条消息的元数据。
func (s *Store) rebuildContacts() {
	contacts := make(map[string]domain.Contact)

	consider := func(party domain.Party, msg *domain.Message) {
		id := party.Identifier()
		if id == "" {
			return
		}
		existing, ok := contacts[id]
		if ok && !msg.Date.After(existing.LastMessageDate) {
			// 已有更新的条目，只补充缺失的名字
			if existing.Name == "" && party.Name != "" {
				existing.Name = party.Name
				contacts[id] = existing
			}
			return
		}
		name := party.Name
		if name == "" && ok {
			name = existing.Name
		}
		contacts[id] = domain.Contact{
			Name:               name,
			Email:              id,
			LastMessageDate:    msg.Date,
			LastMessageSubject: msg.Subject,
			Labels:             msg.Labels,
			AccountID:          msg.AccountID,
			AccountType:        msg.AccountType,
		}
	}

	for key := range s.messages {
		msg := s.messages[key]
		if msg.Direction == domain.DirectionOutbound {
			for _, party := range msg.To {
				consider(party, &msg)
			}
		} else {
			consider(msg.From, &msg)
		}
	}

	s.contacts = contacts
}

// ========== 游标 ==========

func cursorKey(accountID, chatID string) string {
	if chatID == "" {
		return accountID
	}
	return accountID + ":" + chatID
}

// GetCursor 读取账户（及可选会话）的分页游标
func (s *Store) GetCursor(accountID, chatID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[cursorKey(accountID, chatID)]
}

// SetCursor 记录分页游标
func (s *Store) SetCursor(accountID, chatID, value string) {
	s.mu.Lock()
	s.cursors[cursorKey(accountID, chatID)] = value
	s.mu.Unlock()
}

// ========== 新鲜度 ==========

// MarkSynced 记录本次同步完成时间
func (s *Store) MarkSynced(at time.Time) {
	s.mu.Lock()
	s.syncedAt = at
	s.mu.Unlock()
	s.persist()
}

// IsFresh 判断缓存是否仍在新鲜窗口内（后台刷新可跳过）
func (s *Store) IsFresh(window time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.syncedAt.IsZero() && time.Since(s.syncedAt) < window
}

// persist 将快照写穿到服务端缓存。
// 写失败只告警，内存副本仍是权威数据（尽力而为的降级）。
func (s *Store) persist() {
	if s.persister == nil {
		return
	}

	s.mu.RLock()
	snapshot := Snapshot{
		UserID:   s.userID,
		SyncedAt: s.syncedAt,
		Cursors:  make(map[string]string, len(s.cursors)),
	}
	for k, v := range s.cursors {
		snapshot.Cursors[k] = v
	}
	snapshot.Messages = make([]domain.Message, 0, len(s.messages))
	for _, msg := range s.messages {
		snapshot.Messages = append(snapshot.Messages, msg)
	}
	s.mu.RUnlock()

	if err := s.persister.SaveSnapshot(&snapshot); err != nil {
		s.log.Warn("timeline: cache write failed, keeping in-memory copy",
			zap.String("user_id", s.userID),
			zap.Error(err))
	}
}

// Restore 从缓存快照恢复（会话初始化时调用一次）
func (s *Store) Restore() error {
	if s.persister == nil {
		return nil
	}

	snapshot, err := s.persister.LoadSnapshot(s.userID)
	if err != nil || snapshot == nil {
		return err
	}

	s.mu.Lock()
	for i := range snapshot.Messages {
		msg := snapshot.Messages[i]
		if domain.ValidateMessage(&msg) == nil {
			msg.Normalize()
			s.messages[msg.CompositeKey()] = msg
		}
	}
	for k, v := range snapshot.Cursors {
		s.cursors[k] = v
	}
	s.syncedAt = snapshot.SyncedAt
	s.rebuildContacts()
	s.mu.Unlock()

	return nil
}
