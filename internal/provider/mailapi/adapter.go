package mailapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"unibox/backend/internal/domain"
	"unibox/backend/internal/provider"
)

const (
	vendorName      = "mailapi"
	defaultBaseURL  = "https://api.mailprovider.example"
	maxPageSize     = 100 // 服务商单页上限
	defaultPageSize = 50
)

// credentials 邮件 API 凭证（解密后的 JSON）
type credentials struct {
	APIKey string `json:"apiKey"`
}

// Adapter 邮件 API 服务商适配器。
//
// 鉴权为 Bearer Token，分页游标为最旧日期边界（ISO 字符串），
// 消息天然带线程 ID。
type Adapter struct {
	creds      credentials
	baseURL    string
	accountID  string
	httpClient *http.Client
	log        *zap.Logger
}

// New 创建适配器，构造时解密校验凭证，缺失立即失败
func New(account *domain.SyncAccount, credentialJSON, baseURL string, log *zap.Logger) (*Adapter, error) {
	var creds credentials
	if err := json.Unmarshal([]byte(credentialJSON), &creds); err != nil || creds.APIKey == "" {
		return nil, fmt.Errorf("%w: mailapi account %s", provider.ErrCredential, account.ID)
	}

	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Adapter{
		creds:      creds,
		baseURL:    baseURL,
		accountID:  account.ID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}, nil
}

// Type 返回平台类型
func (a *Adapter) Type() domain.AccountType {
	return domain.AccountTypeMail
}

// ========== 服务商响应结构 ==========

type wireMessage struct {
	ID       string     `json:"id"`
	ThreadID string     `json:"thread_id"`
	From     wireAddr   `json:"from"`
	To       []wireAddr `json:"to"`
	Subject  string     `json:"subject"`
	Body     string     `json:"body"`
	// 服务商在不同接口返回不同的时间字段，可能只有其一
	Date      string   `json:"date"`
	Timestamp string   `json:"timestamp"`
	Labels    []string `json:"labels"`
}

type wireAddr struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type listResponse struct {
	Messages   []wireMessage `json:"messages"`
	NextBefore string        `json:"next_before"` // 下一页的日期边界
}

// GetMessages 按日期边界游标拉取一页消息
func (a *Adapter) GetMessages(ctx context.Context, opts provider.FetchOptions) (*provider.FetchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort", string(opts.SortDirection))
	if opts.Cursor != "" {
		q.Set("before", opts.Cursor)
	}
	if !opts.FromDate.IsZero() {
		q.Set("after", opts.FromDate.UTC().Format(time.RFC3339))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v3/messages?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.creds.APIKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mailapi request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		// 限流走结构化结果，与空结果严格区分
		return &provider.FetchResult{
			RateLimited: true,
			RetryAfter:  retryAfterOf(resp, 30*time.Second),
		}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, provider.NewStatusError(vendorName, resp.StatusCode, vendorMessage(body))
	}

	var list listResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("mailapi: decode list response: %w", err)
	}

	messages := make([]domain.Message, 0, len(list.Messages))
	for i := range list.Messages {
		messages = append(messages, a.mapMessage(&list.Messages[i]))
	}

	return &provider.FetchResult{Messages: messages, NextCursor: list.NextBefore}, nil
}

// SendMessage 发送邮件
func (a *Adapter) SendMessage(ctx context.Context, input provider.SendInput) (*domain.Message, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"to":      []wireAddr{{Email: input.To}},
		"subject": input.Subject,
		"body":    input.Body,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v3/messages/send", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.creds.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mailapi send failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, provider.NewStatusError(vendorName, resp.StatusCode, vendorMessage(body))
	}

	var sent wireMessage
	if err := json.Unmarshal(body, &sent); err != nil || sent.ID == "" {
		// 服务商未回显消息体时本地构造
		sent = wireMessage{ID: uuid.New().String(), Subject: input.Subject, Body: input.Body, To: []wireAddr{{Email: input.To}}}
	}

	msg := a.mapMessage(&sent)
	msg.Direction = domain.DirectionOutbound
	return &msg, nil
}

// ProcessIncomingMessage 处理入站邮件 Webhook 载荷。
// 缺少 id 或发件人时静默丢弃（返回 nil, nil）。
func (a *Adapter) ProcessIncomingMessage(payload []byte) (*domain.Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		a.log.Warn("mailapi: dropping malformed webhook payload", zap.Error(err))
		return nil, nil
	}
	if wire.ID == "" || wire.From.Email == "" {
		a.log.Warn("mailapi: dropping webhook payload with missing fields",
			zap.String("id", wire.ID))
		return nil, nil
	}

	msg := a.mapMessage(&wire)
	msg.Direction = domain.DirectionInbound
	return &msg, nil
}

// mapMessage 将服务商消息转为规范 Message
func (a *Adapter) mapMessage(wire *wireMessage) domain.Message {
	to := make([]domain.Party, 0, len(wire.To))
	for _, addr := range wire.To {
		to = append(to, domain.Party{Name: addr.Name, Address: addr.Email})
	}

	msg := domain.Message{
		ID:          wire.ID,
		ThreadID:    wire.ThreadID,
		From:        domain.Party{Name: wire.From.Name, Address: wire.From.Email},
		To:          to,
		Subject:     wire.Subject,
		Body:        wire.Body,
		Date:        provider.FormatTimestamp(wire.Date, wire.Timestamp),
		Labels:      wire.Labels,
		AccountID:   a.accountID,
		AccountType: domain.AccountTypeMail,
		Platform:    vendorName,
		Direction:   domain.DirectionInbound,
	}
	msg.Normalize()
	return msg
}

// vendorMessage 提取服务商错误消息，失败时回退原始片段
func vendorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

// retryAfterOf 解析 Retry-After 头，缺失时用默认值
func retryAfterOf(resp *http.Response, fallback time.Duration) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			return time.Duration(sec) * time.Second
		}
	}
	return fallback
}
