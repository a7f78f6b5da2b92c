package imapclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"unibox/backend/internal/domain"
	"unibox/backend/internal/provider"
)

const (
	vendorName  = "imap"
	maxPageSize = 50
)

// credentials IMAP 账户凭证
type credentials struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	SMTPHost string `json:"smtpHost"`
	SMTPPort int    `json:"smtpPort"`
}

// Adapter IMAP 邮箱适配器。
//
// 拉取走 IMAP（UID 游标，向更旧方向翻页），发送走同账户的
// SMTP 提交端口。每次拉取建立短连接，结束后登出，不维持
// 长连接（同步是低频批量操作）。
type Adapter struct {
	creds     credentials
	accountID string
	log       *zap.Logger

	// 测试注入点：替换真实拨号
	dial func() (*client.Client, error)
}

// New 创建适配器
func New(account *domain.SyncAccount, credentialJSON string, log *zap.Logger) (*Adapter, error) {
	var creds credentials
	if err := json.Unmarshal([]byte(credentialJSON), &creds); err != nil ||
		creds.Host == "" || creds.Username == "" || creds.Password == "" {
		return nil, fmt.Errorf("%w: imap account %s", provider.ErrCredential, account.ID)
	}
	if creds.Port == 0 {
		creds.Port = 993
	}
	if creds.SMTPHost == "" {
		creds.SMTPHost = creds.Host
	}
	if creds.SMTPPort == 0 {
		creds.SMTPPort = 465
	}

	a := &Adapter{creds: creds, accountID: account.ID, log: log}
	a.dial = a.dialTLS
	return a, nil
}

// Type 返回平台类型
func (a *Adapter) Type() domain.AccountType {
	return domain.AccountTypeIMAP
}

func (a *Adapter) dialTLS() (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", a.creds.Host, a.creds.Port)
	c, err := client.DialTLS(addr, &tls.Config{
		ServerName: a.creds.Host,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return nil, fmt.Errorf("imap: dial %s: %w", addr, err)
	}
	if err := c.Login(a.creds.Username, a.creds.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("%w: imap login rejected: %v", provider.ErrAuth, err)
	}
	return c, nil
}

// GetMessages 按 UID 游标拉取一页邮件。
//
// Cursor 为上一页最旧的 UID，本页拉取严格小于它的 UID 区间。
// 单封邮件正文拉取失败不会中断整页：以占位消息代替，合并
// 策略保证占位记录不会覆盖已有的完整消息。
func (a *Adapter) GetMessages(ctx context.Context, opts provider.FetchOptions) (*provider.FetchResult, error) {
	c, err := a.dial()
	if err != nil {
		return nil, err
	}
	defer c.Logout() //nolint:errcheck

	mbox, err := c.Select("INBOX", true)
	if err != nil {
		return nil, fmt.Errorf("imap: select INBOX: %w", err)
	}
	if mbox.Messages == 0 {
		return &provider.FetchResult{}, nil
	}

	limit := opts.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	// 搜索游标之前的 UID
	criteria := imap.NewSearchCriteria()
	if opts.Cursor != "" {
		if before, err := strconv.ParseUint(opts.Cursor, 10, 32); err == nil && before > 1 {
			seq := new(imap.SeqSet)
			seq.AddRange(1, uint32(before-1))
			criteria.Uid = seq
		}
	}
	if !opts.FromDate.IsZero() {
		criteria.Since = opts.FromDate
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap: uid search: %w", err)
	}
	if len(uids) == 0 {
		return &provider.FetchResult{}, nil
	}

	// 取最新的一页（最大的 N 个 UID）
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if len(uids) > limit {
		uids = uids[:limit]
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchFlags, section.FetchItem()}

	ch := make(chan *imap.Message, limit)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, ch)
	}()

	var messages []domain.Message
	oldest := uids[0]
	for raw := range ch {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		msg := a.mapMessage(raw, section)
		messages = append(messages, msg)
		if raw.Uid < oldest {
			oldest = raw.Uid
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap: fetch: %w", err)
	}

	return &provider.FetchResult{
		Messages:   messages,
		NextCursor: strconv.FormatUint(uint64(oldest), 10),
	}, nil
}

// SendMessage 经 SMTP 提交端口发送邮件
func (a *Adapter) SendMessage(ctx context.Context, input provider.SendInput) (*domain.Message, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", a.creds.Username)
	fmt.Fprintf(&b, "To: %s\r\n", input.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", input.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(input.Body)

	addr := fmt.Sprintf("%s:%d", a.creds.SMTPHost, a.creds.SMTPPort)
	auth := sasl.NewPlainClient("", a.creds.Username, a.creds.Password)

	err := gosmtp.SendMailTLS(addr, auth, a.creds.Username, []string{input.To}, strings.NewReader(b.String()))
	if err != nil {
		return nil, fmt.Errorf("%w: smtp submit via %s: %v", provider.ErrVendorOutage, addr, err)
	}

	msg := domain.Message{
		ID:          uuid.New().String(),
		From:        domain.Party{Address: a.creds.Username},
		To:          []domain.Party{{Address: input.To}},
		Subject:     input.Subject,
		Body:        input.Body,
		Date:        time.Now().UTC(),
		AccountID:   a.accountID,
		AccountType: domain.AccountTypeIMAP,
		Platform:    vendorName,
		Direction:   domain.DirectionOutbound,
	}
	msg.Normalize()
	return &msg, nil
}

// ProcessIncomingMessage IMAP 没有 Webhook 推送，入站只走拉取
func (a *Adapter) ProcessIncomingMessage(payload []byte) (*domain.Message, error) {
	a.log.Debug("imap: ignoring webhook payload, provider is pull-only")
	return nil, nil
}

// mapMessage 将 IMAP 信封与正文转为规范 Message。
// 正文缺失时生成占位消息，等待后续重拉覆盖。
func (a *Adapter) mapMessage(raw *imap.Message, section *imap.BodySectionName) domain.Message {
	msg := domain.Message{
		ID:          strconv.FormatUint(uint64(raw.Uid), 10),
		AccountID:   a.accountID,
		AccountType: domain.AccountTypeIMAP,
		Platform:    vendorName,
		Direction:   domain.DirectionInbound,
		Date:        time.Now().UTC(),
	}

	if env := raw.Envelope; env != nil {
		if env.MessageId != "" {
			msg.ThreadID = strings.Trim(env.MessageId, "<>")
		}
		msg.Subject = env.Subject
		if !env.Date.IsZero() {
			msg.Date = env.Date.UTC()
		}
		if len(env.From) > 0 {
			msg.From = domain.Party{
				Name:    env.From[0].PersonalName,
				Address: env.From[0].Address(),
			}
		}
		for _, addr := range env.To {
			msg.To = append(msg.To, domain.Party{Name: addr.PersonalName, Address: addr.Address()})
		}
	}

	for _, flag := range raw.Flags {
		if flag == imap.SeenFlag {
			msg.Labels = append(msg.Labels, "read")
		}
		if flag == imap.FlaggedFlag {
			msg.Labels = append(msg.Labels, "starred")
		}
	}

	if body := raw.GetBody(section); body != nil {
		if data, err := io.ReadAll(body); err == nil {
			msg.Body = string(data)
		}
	}
	if msg.Body == "" {
		// 正文拉取失败：占位记录，不携带真实内容
		msg.IsPlaceholder = true
		a.log.Warn("imap: body fetch failed, storing placeholder",
			zap.Uint32("uid", raw.Uid))
	}

	msg.Normalize()
	return msg
}
