package smsa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"unibox/backend/internal/domain"
	"unibox/backend/internal/provider"
)

const (
	vendorName      = "sms-a"
	defaultBaseURL  = "https://api.smsvendor-a.example"
	maxPageSize     = 25 // 服务商单页上限较小，多批次拉取的主要对象
	defaultPageSize = 25
)

// credentials 短信服务商 A 凭证
type credentials struct {
	AccountSID string `json:"accountSid"`
	AuthToken  string `json:"authToken"`
}

// Adapter 短信服务商 A 适配器。
//
// 该服务商是唯一带限流头的：每次响应携带
// X-RateLimit-Remaining/Limit/Reset 以及 429 时的 Retry-After。
// 分页按会话（电话号码）维度以最后拉取的消息 ID 为游标。
// 多收件人会话中往返两条支路共享消息 ID，去重键需附加方向。
type Adapter struct {
	creds      credentials
	baseURL    string
	accountID  string
	httpClient *http.Client
	limiter    *rate.Limiter // 出站请求节奏控制，降低撞限概率
	log        *zap.Logger
}

// New 创建适配器
func New(account *domain.SyncAccount, credentialJSON, baseURL string, log *zap.Logger) (*Adapter, error) {
	var creds credentials
	if err := json.Unmarshal([]byte(credentialJSON), &creds); err != nil || creds.AccountSID == "" || creds.AuthToken == "" {
		return nil, fmt.Errorf("%w: sms-a account %s", provider.ErrCredential, account.ID)
	}

	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Adapter{
		creds:      creds,
		baseURL:    baseURL,
		accountID:  account.ID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(5), 5), // 5 req/s
		log:        log,
	}, nil
}

// Type 返回平台类型
func (a *Adapter) Type() domain.AccountType {
	return domain.AccountTypeSMSA
}

// ========== 服务商响应结构 ==========

type wireSMS struct {
	SmsID          int64  `json:"sms_id"`
	ConversationID string `json:"conversation_id"`
	Direction      string `json:"direction"` // "in" / "out"
	ContactNumber  string `json:"contact_number"`
	ContactName    string `json:"contact_name"`
	OwnNumber      string `json:"own_number"`
	Body           string `json:"body"`
	// 同一事件的两个时区变体，命名不一致
	Date     string `json:"date"`    // MM/DD/YYYY（用户时区）
	Time     string `json:"time"`    // HH:MM 或 HH:MM:SS
	SentAtTS string `json:"sent_at"` // 偶尔改为 Unix 秒
}

type listResponse struct {
	Messages []wireSMS `json:"messages"`
}

// GetMessages 按会话拉取一页短信。
//
// Cursor 为该会话中最后拉取到的 sms_id（lastSmsIdFetched 语义），
// 服务商返回严格比它旧的消息。限流走结构化结果而非错误：
// 429 返回空结果加退避时长；200 但配额头耗尽时本页消息照常
// 返回，只附带限流标记。
func (a *Adapter) GetMessages(ctx context.Context, opts provider.FetchOptions) (*provider.FetchResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("order", string(opts.SortDirection))
	if opts.ChatID != "" {
		q.Set("contact_number", opts.ChatID)
	} else if opts.AccountFilter != "" {
		q.Set("contact_number", opts.AccountFilter)
	}
	if opts.Cursor != "" {
		q.Set("before_id", opts.Cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v2/sms?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(a.creds.AccountSID, a.creds.AuthToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sms-a request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	state := parseRateLimitHeaders(resp)

	// 429 时服务商不返回数据，只能空手退避
	if resp.StatusCode == http.StatusTooManyRequests {
		a.log.Warn("sms-a rate limited",
			zap.Int("remaining", state.Remaining),
			zap.Int("retry_after", state.RetryAfterSeconds))
		return &provider.FetchResult{
			RateLimited: true,
			RetryAfter:  time.Duration(state.RetryAfterSeconds) * time.Second,
			RateLimit:   state,
		}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, provider.NewStatusError(vendorName, resp.StatusCode, vendorMessage(body))
	}

	var list listResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("sms-a: decode list response: %w", err)
	}

	messages := make([]domain.Message, 0, len(list.Messages))
	var lastID int64
	for i := range list.Messages {
		messages = append(messages, a.mapMessage(&list.Messages[i]))
		if list.Messages[i].SmsID > 0 {
			lastID = list.Messages[i].SmsID
		}
	}

	var nextCursor string
	if lastID > 0 {
		nextCursor = strconv.FormatInt(lastID, 10)
	}

	result := &provider.FetchResult{
		Messages:   messages,
		NextCursor: nextCursor,
		RateLimit:  state,
	}
	// 200 响应带耗尽的配额头：本页数据已经送达，连同限流标记
	// 一起返回，丢弃会违反"部分批次先合并再退避"
	if state.IsRateLimited {
		a.log.Warn("sms-a rate limit exhausted, returning fetched page with backoff hint",
			zap.Int("messages", len(messages)),
			zap.Int("retry_after", state.RetryAfterSeconds))
		result.RateLimited = true
		result.RetryAfter = time.Duration(state.RetryAfterSeconds) * time.Second
	}
	return result, nil
}

// SendMessage 发送短信（表单编码）
func (a *Adapter) SendMessage(ctx context.Context, input provider.SendInput) (*domain.Message, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("to", input.To)
	form.Set("body", input.Body)
	if input.MediaURL != "" {
		form.Set("media_url", input.MediaURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v2/sms/send", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(a.creds.AccountSID, a.creds.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sms-a send failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, provider.NewStatusError(vendorName, resp.StatusCode, vendorMessage(body))
	}

	var sent wireSMS
	if err := json.Unmarshal(body, &sent); err != nil {
		return nil, fmt.Errorf("sms-a: decode send response: %w", err)
	}
	sent.Direction = "out"
	if sent.ContactNumber == "" {
		sent.ContactNumber = input.To
	}

	msg := a.mapMessage(&sent)
	return &msg, nil
}

// ProcessIncomingMessage 处理入站短信 Webhook。
// 缺少 sms_id 或 contact_number 时静默丢弃。
func (a *Adapter) ProcessIncomingMessage(payload []byte) (*domain.Message, error) {
	var wire wireSMS
	if err := json.Unmarshal(payload, &wire); err != nil {
		a.log.Warn("sms-a: dropping malformed webhook payload", zap.Error(err))
		return nil, nil
	}
	if wire.SmsID == 0 || wire.ContactNumber == "" {
		a.log.Warn("sms-a: dropping webhook payload with missing fields",
			zap.Int64("sms_id", wire.SmsID),
			zap.String("contact_number", wire.ContactNumber))
		return nil, nil
	}
	if wire.Direction == "" {
		wire.Direction = "in"
	}

	msg := a.mapMessage(&wire)
	return &msg, nil
}

// mapMessage 将服务商短信转为规范 Message
func (a *Adapter) mapMessage(wire *wireSMS) domain.Message {
	direction := domain.DirectionInbound
	from := domain.Party{Name: wire.ContactName, Address: wire.ContactNumber}
	to := []domain.Party{{Address: wire.OwnNumber}}
	if wire.Direction == "out" || wire.Direction == string(domain.DirectionOutbound) {
		direction = domain.DirectionOutbound
		from = domain.Party{Address: wire.OwnNumber}
		to = []domain.Party{{Name: wire.ContactName, Address: wire.ContactNumber}}
	}

	var date time.Time
	if wire.SentAtTS != "" {
		date = provider.ParseUnixSeconds(wire.SentAtTS)
	} else {
		date = provider.FormatTimestamp(wire.Date, wire.Time)
	}

	threadID := wire.ConversationID
	if threadID == "" {
		threadID = strings.ToLower(wire.ContactNumber)
	}

	msg := domain.Message{
		ID:          strconv.FormatInt(wire.SmsID, 10),
		ThreadID:    threadID,
		From:        from,
		To:          to,
		Body:        wire.Body,
		Date:        date,
		AccountID:   a.accountID,
		AccountType: domain.AccountTypeSMSA,
		Platform:    vendorName,
		Direction:   direction,
	}
	msg.Normalize()
	return msg
}

// parseRateLimitHeaders 从响应头解析限流状态
func parseRateLimitHeaders(resp *http.Response) *domain.RateLimitState {
	state := &domain.RateLimitState{Remaining: -1}

	if v := resp.Header.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			state.Remaining = n
		}
	}
	if v := resp.Header.Get("X-RateLimit-Limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			state.Limit = n
		}
	}
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			state.ResetTimestamp = n
		}
	}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			state.RetryAfterSeconds = n
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests || state.Remaining == 0 {
		state.IsRateLimited = true
		if state.RetryAfterSeconds <= 0 {
			if state.ResetTimestamp > 0 {
				delta := state.ResetTimestamp - time.Now().Unix()
				if delta > 0 {
					state.RetryAfterSeconds = int(delta)
				}
			}
			if state.RetryAfterSeconds <= 0 {
				state.RetryAfterSeconds = 30
			}
		}
	}

	return state
}

// vendorMessage 提取服务商错误消息
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
