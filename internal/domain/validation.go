package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail      = errors.New("invalid email format")
	ErrEmailTooLong      = errors.New("email address too long")
	ErrPasswordTooShort  = errors.New("password too short (min 8 chars)")
	ErrPasswordTooLong   = errors.New("password too long (max 128 chars)")
	ErrMessageMissingID  = errors.New("message missing id")
	ErrMessageNoSender   = errors.New("message missing sender identifier")
	ErrMessageNoContent  = errors.New("message missing subject and body")
	ErrInvalidIdentifier = errors.New("invalid contact identifier")
)

// 验证常量
const (
	MaxEmailLength    = 254 // RFC 5322 邮箱地址最大长度
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// phoneRegex 电话号码（E.164 宽松匹配，允许本地格式）
var phoneRegex = regexp.MustCompile(`^\+?[0-9][0-9 ()\-\.]{4,24}$`)

// ValidateEmail 验证邮箱地址格式
func ValidateEmail(email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePassword 验证密码长度
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// ValidateIdentifier 验证联系人标识（邮箱或电话号码）
func ValidateIdentifier(identifier string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return ErrInvalidIdentifier
	}
	if strings.Contains(identifier, "@") {
		return ValidateEmail(identifier)
	}
	if !phoneRegex.MatchString(identifier) {
		return ErrInvalidIdentifier
	}
	return nil
}

// ValidateMessage 校验消息是否满足入库条件。
//
// 规则：必须有 ID 和发送方标识；非短信类消息至少要有主题或非空正文。
// 不满足条件的消息由调用方记录警告后丢弃，不会向上抛错。
func ValidateMessage(m *Message) error {
	if m == nil || strings.TrimSpace(m.ID) == "" {
		return ErrMessageMissingID
	}
	if m.From.Identifier() == "" {
		return ErrMessageNoSender
	}
	if !m.IsSMS() && strings.TrimSpace(m.Subject) == "" && strings.TrimSpace(m.Body) == "" {
		return ErrMessageNoContent
	}
	return nil
}
