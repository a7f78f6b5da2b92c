package provider

import (
	"errors"
	"fmt"
)

// 适配器错误分类。
//
// 同步编排器按类别决定处理策略：凭证/授权错误直接上抛不重试，
// 限流通过结构化结果返回（见 FetchResult），5xx 记录后继续
// 其余账户的同步。
var (
	// ErrCredential 凭证缺失或格式非法（适配器构造时快速失败）
	ErrCredential = errors.New("missing or malformed provider credentials")
	// ErrAuth 服务商返回 401/403
	ErrAuth = errors.New("provider rejected credentials")
	// ErrNotFound 服务商返回 404
	ErrNotFound = errors.New("provider resource not found")
	// ErrRateLimited 服务商返回 429（仅发送路径抛出，拉取路径走结构化结果）
	ErrRateLimited = errors.New("provider rate limit exceeded")
	// ErrVendorOutage 服务商返回 5xx
	ErrVendorOutage = errors.New("provider service unavailable")
	// ErrValidation 载荷缺少必需字段
	ErrValidation = errors.New("malformed provider payload")
)

// StatusError 携带服务商 HTTP 状态与原始消息的错误
type StatusError struct {
	Vendor     string
	StatusCode int
	Message    string
	kind       error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Vendor, e.StatusCode, e.Message)
}

// Unwrap 返回错误类别，支持 errors.Is 按类匹配
func (e *StatusError) Unwrap() error {
	return e.kind
}

// NewStatusError 根据服务商 HTTP 状态码映射错误类别。
//
// 401 视为凭证错误，403 为授权错误，404 资源不存在，
// 429 限流，5xx 服务商故障，各自对应不同的用户可见文案。
func NewStatusError(vendor string, statusCode int, message string) error {
	var kind error
	switch {
	case statusCode == 401 || statusCode == 403:
		kind = ErrAuth
	case statusCode == 404:
		kind = ErrNotFound
	case statusCode == 429:
		kind = ErrRateLimited
	case statusCode >= 500:
		kind = ErrVendorOutage
	default:
		kind = ErrValidation
	}
	return &StatusError{Vendor: vendor, StatusCode: statusCode, Message: message, kind: kind}
}
