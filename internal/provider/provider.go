package provider

import (
	"context"
	"time"

	"unibox/backend/internal/domain"
)

// SortDirection 拉取排序方向
type SortDirection string

const (
	SortAscending  SortDirection = "asc"
	SortDescending SortDirection = "desc"
)

// FetchOptions 单次消息拉取的参数
type FetchOptions struct {
	AccountFilter string        // 账户内过滤条件（如 sms-a 的电话号码）
	FromDate      time.Time     // 只拉取该时间之后的消息（零值表示不限制）
	Limit         int           // 本次期望条数，受各服务商单页上限约束
	Cursor        string        // 不透明游标：消息 ID、页码或日期边界
	ChatID        string        // 按会话分页的服务商（sms-a/whatsapp）使用
	SortDirection SortDirection // 排序方向，默认降序（新消息在前）
}

// FetchResult 消息拉取结果。
//
// 限流不走 error 通道：RateLimited=true 时 Messages 可能仍含
// 触发限流前已成功拉取的部分批次，编排器先合并再退避。
// 限流与"没有更多数据"永不混淆——空结果且未限流才代表拉尽。
type FetchResult struct {
	Messages    []domain.Message
	RateLimited bool
	RetryAfter  time.Duration // 限流时的建议等待时长
	NextCursor  string        // 下一页游标；为空表示服务商未给出
	RateLimit   *domain.RateLimitState
}

// SendInput 发送消息的参数
type SendInput struct {
	To       string // 收件标识（邮箱或电话）
	Subject  string
	Body     string
	MediaURL string // 可选媒体附件（whatsapp/sms）
}

// Adapter 是服务商适配器的统一契约。
//
// 每个实现负责：服务商鉴权、请求/响应与规范 Message 的互译、
// HTTP 状态到错误分类的映射。凭证在构造时解密一次，缺失或
// 非法立即失败，不推迟到首次调用。
type Adapter interface {
	// Type 返回适配器对应的平台类型
	Type() domain.AccountType

	// GetMessages 拉取一页消息。限流以结构化结果返回而非错误。
	GetMessages(ctx context.Context, opts FetchOptions) (*FetchResult, error)

	// SendMessage 发送消息，非 2xx 响应返回携带服务商状态与
	// 消息的分类错误。
	SendMessage(ctx context.Context, input SendInput) (*domain.Message, error)

	// ProcessIncomingMessage 处理 Webhook 推送的入站载荷。
	// 缺少必需字段（id、联系人标识）时返回 (nil, nil) 静默丢弃，
	// 避免拒收导致服务商重试风暴。
	ProcessIncomingMessage(payload []byte) (*domain.Message, error)
}
