package whatsapp

import (
	"bytes"
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

	"unibox/backend/internal/domain"
	"unibox/backend/internal/provider"
)

const (
	vendorName     = "whatsapp"
	defaultBaseURL = "https://bridge.whatsapp-gateway.example"
	maxPageSize    = 50
)

// credentials WhatsApp 桥接服务凭证
type credentials struct {
	InstanceID string `json:"instanceId"`
	Token      string `json:"token"`
}

// Adapter WhatsApp 桥接服务适配器。
//
// 入站消息主要经 Webhook 推送，拉取接口仅用于回填历史。
// 分页按会话（chat）维度，游标为该会话最旧一条消息的 ID。
type Adapter struct {
	creds      credentials
	baseURL    string
	accountID  string
	httpClient *http.Client
	log        *zap.Logger
}

// New 创建适配器
func New(account *domain.SyncAccount, credentialJSON, baseURL string, log *zap.Logger) (*Adapter, error) {
	var creds credentials
	if err := json.Unmarshal([]byte(credentialJSON), &creds); err != nil || creds.InstanceID == "" || creds.Token == "" {
		return nil, fmt.Errorf("%w: whatsapp account %s", provider.ErrCredential, account.ID)
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		creds:      creds,
		baseURL:    baseURL,
		accountID:  account.ID,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		log:        log,
	}, nil
}

// Type 返回平台类型
func (a *Adapter) Type() domain.AccountType {
	return domain.AccountTypeWhatsApp
}

type wireChatMessage struct {
	MsgID      string `json:"msg_id"`
	ChatID     string `json:"chat_id"`
	Sender     string `json:"sender"` // 电话号码
	SenderName string `json:"sender_name"`
	Recipient  string `json:"recipient"`
	Body       string `json:"body"`
	MediaURL   string `json:"media_url"`
	MimeType   string `json:"mime_type"`
	FromMe     bool   `json:"from_me"`
	Timestamp  int64  `json:"timestamp"` // Unix 秒
}

type listResponse struct {
	Messages []wireChatMessage `json:"messages"`
	OldestID string            `json:"oldest_id"`
}

// GetMessages 回填指定会话的历史消息
func (a *Adapter) GetMessages(ctx context.Context, opts provider.FetchOptions) (*provider.FetchResult, error) {
	limit := opts.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if opts.ChatID != "" {
		q.Set("chat_id", opts.ChatID)
	}
	if opts.Cursor != "" {
		q.Set("before", opts.Cursor)
	}

	endpoint := fmt.Sprintf("%s/instances/%s/messages?%s", a.baseURL, a.creds.InstanceID, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.creds.Token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 60 * time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
				retryAfter = time.Duration(sec) * time.Second
			}
		}
		return &provider.FetchResult{RateLimited: true, RetryAfter: retryAfter}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, provider.NewStatusError(vendorName, resp.StatusCode, string(body))
	}

	var list listResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("whatsapp: decode list response: %w", err)
	}

	messages := make([]domain.Message, 0, len(list.Messages))
	for i := range list.Messages {
		messages = append(messages, a.mapMessage(&list.Messages[i]))
	}

	return &provider.FetchResult{Messages: messages, NextCursor: list.OldestID}, nil
}

// SendMessage 发送消息（支持媒体）
func (a *Adapter) SendMessage(ctx context.Context, input provider.SendInput) (*domain.Message, error) {
	body := map[string]string{
		"chat_id": input.To,
		"body":    input.Body,
	}
	if input.MediaURL != "" {
		body["media_url"] = input.MediaURL
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/instances/%s/messages", a.baseURL, a.creds.InstanceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.creds.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp send failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, provider.NewStatusError(vendorName, resp.StatusCode, string(respBody))
	}

	var sent wireChatMessage
	if err := json.Unmarshal(respBody, &sent); err != nil {
		return nil, fmt.Errorf("whatsapp: decode send response: %w", err)
	}
	sent.FromMe = true
	if sent.ChatID == "" {
		sent.ChatID = input.To
	}

	msg := a.mapMessage(&sent)
	return &msg, nil
}

// ProcessIncomingMessage 处理桥接服务推送的入站消息。
// 缺少 msg_id 或发送方号码时静默丢弃。
func (a *Adapter) ProcessIncomingMessage(payload []byte) (*domain.Message, error) {
	var wire wireChatMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		a.log.Warn("whatsapp: dropping malformed webhook payload", zap.Error(err))
		return nil, nil
	}
	if wire.MsgID == "" || wire.Sender == "" {
		a.log.Warn("whatsapp: dropping webhook payload with missing fields",
			zap.String("msg_id", wire.MsgID))
		return nil, nil
	}

	msg := a.mapMessage(&wire)
	return &msg, nil
}

// mapMessage 将桥接消息转为规范 Message
func (a *Adapter) mapMessage(wire *wireChatMessage) domain.Message {
	direction := domain.DirectionInbound
	from := domain.Party{Name: wire.SenderName, Address: wire.Sender}
	to := []domain.Party{{Address: wire.Recipient}}
	if wire.FromMe {
		direction = domain.DirectionOutbound
		from, to = domain.Party{Address: wire.Recipient}, []domain.Party{{Name: wire.SenderName, Address: wire.Sender}}
	}

	date := time.Now().UTC()
	if wire.Timestamp > 0 {
		date = time.Unix(wire.Timestamp, 0).UTC()
	}

	threadID := wire.ChatID
	if threadID == "" {
		threadID = strings.ToLower(wire.Sender)
	}

	var attachments []*domain.Attachment
	if wire.MediaURL != "" {
		attachments = []*domain.Attachment{{URL: wire.MediaURL, ContentType: wire.MimeType}}
	}

	msg := domain.Message{
		ID:          wire.MsgID,
		ThreadID:    threadID,
		From:        from,
		To:          to,
		Body:        wire.Body,
		Date:        date,
		AccountID:   a.accountID,
		AccountType: domain.AccountTypeWhatsApp,
		Platform:    vendorName,
		Direction:   direction,
		Attachments: attachments,
	}
	msg.Normalize()
	return msg
}
