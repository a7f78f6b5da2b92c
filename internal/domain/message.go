package domain

import (
	"fmt"
	"strings"
	"time"
)

// AccountType 消息来源平台类型
type AccountType string

const (
	AccountTypeMail     AccountType = "mail"     // 邮件 API 服务商
	AccountTypeIMAP     AccountType = "imap"     // IMAP 邮箱
	AccountTypeSMSA     AccountType = "sms-a"    // 短信服务商 A（带限流头）
	AccountTypeSMSB     AccountType = "sms-b"    // 短信服务商 B（页码分页）
	AccountTypeWhatsApp AccountType = "whatsapp" // WhatsApp 桥接服务
)

// Direction 消息方向
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Party 消息参与方（发件人或收件人）
type Party struct {
	Name    string `json:"name"`
	Address string `json:"email"` // 邮箱地址或电话号码
}

// Identifier 返回参与方的归一化标识（小写地址）
func (p Party) Identifier() string {
	return strings.ToLower(strings.TrimSpace(p.Address))
}

// Attachment 消息附件
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	URL         string `json:"url,omitempty"`
}

// Message 表示一条跨平台归一化后的消息。
//
// ID 仅在各服务商命名空间内唯一，跨平台去重依赖 CompositeKey。
// Date 在归一化后必须是有效时间点，Labels 永不为 nil。
type Message struct {
	ID            string        `json:"id" gorm:"primaryKey;type:varchar(128)"`
	UserID        string        `json:"-" gorm:"primaryKey;type:varchar(36);index"`
	ThreadID      string        `json:"threadId,omitempty" gorm:"type:varchar(128);index"`
	From          Party         `json:"from" gorm:"embedded;embeddedPrefix:from_"`
	To            []Party       `json:"to" gorm:"serializer:json"`
	Subject       string        `json:"subject" gorm:"type:varchar(500)"`
	Body          string        `json:"body" gorm:"type:text"`
	Date          time.Time     `json:"date"`
	Labels        []string      `json:"labels" gorm:"serializer:json"`
	AccountID     string        `json:"accountId,omitempty" gorm:"type:varchar(36);index"`
	AccountType   AccountType   `json:"accountType" gorm:"type:varchar(16);index"`
	Platform      string        `json:"platform" gorm:"type:varchar(32)"`
	Direction     Direction     `json:"direction,omitempty" gorm:"type:varchar(16)"`
	Attachments   []*Attachment `json:"attachments,omitempty" gorm:"serializer:json"`
	Source        string        `json:"source,omitempty" gorm:"type:varchar(64)"`
	IsPlaceholder bool          `json:"isPlaceholder,omitempty" gorm:"default:false"` // 详情拉取失败时的占位记录
}

// CompositeKey 计算跨平台去重标识。
//
// 优先使用 threadId:id；短信服务商 A 的多收件人会话共享消息 ID，
// 需要额外附加方向以区分往返两条会话支路；无 threadId 时退回
// accountType:id，最后兜底裸 id。
func (m *Message) CompositeKey() string {
	if m.ThreadID != "" {
		if m.AccountType == AccountTypeSMSA && m.Direction != "" {
			return fmt.Sprintf("%s:%s:%s", m.ThreadID, m.Direction, m.ID)
		}
		return fmt.Sprintf("%s:%s", m.ThreadID, m.ID)
	}
	if m.AccountType != "" {
		return fmt.Sprintf("%s:%s", m.AccountType, m.ID)
	}
	return m.ID
}

// IsSMS 判断是否为短信类消息（短信类消息允许空主题）
func (m *Message) IsSMS() bool {
	return m.AccountType == AccountTypeSMSA || m.AccountType == AccountTypeSMSB || m.AccountType == AccountTypeWhatsApp
}

// Normalize 补齐缺省字段，保证存储不变式成立
func (m *Message) Normalize() {
	if m.Labels == nil {
		m.Labels = []string{}
	}
	if m.Date.IsZero() {
		m.Date = time.Now().UTC()
	}
}

// InvolvesContact 判断消息是否涉及指定联系人（发送方或任一收件人）
func (m *Message) InvolvesContact(identifier string) bool {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return false
	}
	if m.From.Identifier() == identifier {
		return true
	}
	for _, p := range m.To {
		if p.Identifier() == identifier {
			return true
		}
	}
	return false
}
