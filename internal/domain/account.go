package domain

import "time"

// SyncAccount 表示用户关联的一个外部服务商账户。
//
// Credentials 为加密后的凭证（secret 包的版本化密文），
// 解密只在适配器构造时发生一次。
type SyncAccount struct {
	ID                string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID            string      `json:"userId" gorm:"type:varchar(36);index;not null"`
	Platform          AccountType `json:"platform" gorm:"type:varchar(16);index;not null"`
	AccountIdentifier string      `json:"accountIdentifier" gorm:"type:varchar(255)"` // 邮箱地址或电话号码
	Credentials       string      `json:"-" gorm:"type:text"`                         // 加密凭证，不下发前端
	Enabled           bool        `json:"enabled" gorm:"default:true"`
	LastSync          *time.Time  `json:"lastSync,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// Cursor 单个服务商账户的分页游标。
//
// 游标对上层不透明：可能是消息 ID、页码或最旧日期边界，
// 同一服务商内只会使用其中一种。短信服务商 A 按会话维度存游标。
type Cursor struct {
	AccountID string `json:"accountId"`
	ChatID    string `json:"chatId,omitempty"` // 仅 sms-a 按会话分页时使用
	Value     string `json:"value"`
}

// RateLimitState 从响应头解析出的限流状态（仅短信服务商 A）。
//
// 不持久化，仅用于同一轮同步内决定下一次请求是否等待。
type RateLimitState struct {
	IsRateLimited     bool  `json:"isRateLimited"`
	Remaining         int   `json:"remaining"`
	Limit             int   `json:"limit"`
	ResetTimestamp    int64 `json:"resetTimestamp"`
	RetryAfterSeconds int   `json:"retryAfterSeconds"`
}
