package smsb

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

	"go.uber.org/zap"

	"unibox/backend/internal/domain"
	"unibox/backend/internal/provider"
)

const (
	vendorName     = "sms-b"
	defaultBaseURL = "https://api.smsvendor-b.example"
	maxPageSize    = 20 // 单页上限小，依赖编排器的多批次循环
)

// credentials 短信服务商 B 凭证
type credentials struct {
	APIKey string `json:"apiKey"`
}

// Adapter 短信服务商 B 适配器。
//
// 分页为页码游标（"1"、"2"…），鉴权为 Bearer Token。
// 该服务商没有限流头，429 时只带 Retry-After。
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
	if err := json.Unmarshal([]byte(credentialJSON), &creds); err != nil || creds.APIKey == "" {
		return nil, fmt.Errorf("%w: sms-b account %s", provider.ErrCredential, account.ID)
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
	return domain.AccountTypeSMSB
}

type wireText struct {
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"` // ISO 或 "MM/DD/YYYY HH:MM"
	Outgoing  bool   `json:"outgoing"`
}

type listResponse struct {
	Data    []wireText `json:"data"`
	Page    int        `json:"page"`
	HasMore bool       `json:"has_more"`
}

// GetMessages 按页码游标拉取一页短信
func (a *Adapter) GetMessages(ctx context.Context, opts provider.FetchOptions) (*provider.FetchResult, error) {
	page := 1
	if opts.Cursor != "" {
		if n, err := strconv.Atoi(opts.Cursor); err == nil && n > 0 {
			page = n
		}
	}

	limit := opts.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(limit))
	if opts.AccountFilter != "" {
		q.Set("number", opts.AccountFilter)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/texts?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.creds.APIKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sms-b request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 30 * time.Second
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
		return nil, fmt.Errorf("sms-b: decode list response: %w", err)
	}

	messages := make([]domain.Message, 0, len(list.Data))
	for i := range list.Data {
		messages = append(messages, a.mapMessage(&list.Data[i]))
	}

	// 页码游标：还有更多数据时指向下一页
	var nextCursor string
	if list.HasMore {
		nextCursor = strconv.Itoa(page + 1)
	}

	return &provider.FetchResult{Messages: messages, NextCursor: nextCursor}, nil
}

// SendMessage 发送短信
func (a *Adapter) SendMessage(ctx context.Context, input provider.SendInput) (*domain.Message, error) {
	payload, err := json.Marshal(map[string]string{
		"recipient": input.To,
		"text":      input.Body,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/texts", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.creds.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sms-b send failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, provider.NewStatusError(vendorName, resp.StatusCode, string(body))
	}

	var sent wireText
	if err := json.Unmarshal(body, &sent); err != nil {
		return nil, fmt.Errorf("sms-b: decode send response: %w", err)
	}
	sent.Outgoing = true
	if sent.Recipient == "" {
		sent.Recipient = input.To
	}

	msg := a.mapMessage(&sent)
	return &msg, nil
}

// ProcessIncomingMessage 处理入站短信 Webhook，缺字段静默丢弃
func (a *Adapter) ProcessIncomingMessage(payload []byte) (*domain.Message, error) {
	var wire wireText
	if err := json.Unmarshal(payload, &wire); err != nil {
		a.log.Warn("sms-b: dropping malformed webhook payload", zap.Error(err))
		return nil, nil
	}
	if wire.MessageID == "" || wire.Sender == "" {
		a.log.Warn("sms-b: dropping webhook payload with missing fields",
			zap.String("message_id", wire.MessageID))
		return nil, nil
	}

	msg := a.mapMessage(&wire)
	return &msg, nil
}

// mapMessage 将服务商短信转为规范 Message
func (a *Adapter) mapMessage(wire *wireText) domain.Message {
	direction := domain.DirectionInbound
	if wire.Outgoing {
		direction = domain.DirectionOutbound
	}

	msg := domain.Message{
		ID:          wire.MessageID,
		ThreadID:    wire.ThreadID,
		From:        domain.Party{Address: wire.Sender},
		To:          []domain.Party{{Address: wire.Recipient}},
		Body:        wire.Text,
		Date:        provider.FormatTimestamp("", wire.CreatedAt),
		AccountID:   a.accountID,
		AccountType: domain.AccountTypeSMSB,
		Platform:    vendorName,
		Direction:   direction,
	}
	msg.Normalize()
	return msg
}
