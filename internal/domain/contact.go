package domain

import "time"

// Contact 从消息集合派生的联系人条目。
//
// 联系人不独立持久化，每次消息集合变更时整体重建，
// 以小写邮箱/电话标识为键，保留最近一条消息的元数据。
type Contact struct {
	Name               string      `json:"name"`
	Email              string      `json:"email"` // 归一化标识（邮箱或电话）
	LastMessageDate    time.Time   `json:"lastMessageDate"`
	LastMessageSubject string      `json:"lastMessageSubject"`
	Labels             []string    `json:"labels"`
	AccountID          string      `json:"accountId,omitempty"`
	AccountType        AccountType `json:"accountType,omitempty"`
}
