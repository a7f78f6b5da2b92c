package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"

	"unibox/backend/internal/auth"
	"unibox/backend/internal/provider"
	"unibox/backend/internal/storage"
	syncpkg "unibox/backend/internal/sync"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	// 认证错误
	auth.ErrInvalidEmail:       "邮箱格式无效",
	auth.ErrEmailExists:        "该邮箱已被注册",
	auth.ErrUserNotFound:       "用户不存在",
	auth.ErrInvalidCredentials: "邮箱或密码错误",
	auth.ErrUserInactive:       "账户已被禁用",
	auth.ErrExpiredToken:       "登录已过期，请重新登录",
	auth.ErrTokenRevoked:       "令牌已失效，请重新登录",
	auth.ErrInvalidToken:       "无效的访问令牌",

	// 存储错误
	storage.ErrUserNotFound:    "用户不存在",
	storage.ErrAccountNotFound: "同步账户不存在",

	// 服务商错误
	provider.ErrCredential:   "账户凭证缺失或已损坏，请重新录入",
	provider.ErrAuth:         "服务商拒绝了账户凭证，请检查授权",
	provider.ErrNotFound:     "服务商资源不存在",
	provider.ErrRateLimited:  "请求过于频繁，服务商已限流",
	provider.ErrVendorOutage: "服务商暂时不可用，请稍后重试",
	provider.ErrValidation:   "服务商载荷格式异常",

	// 同步错误
	syncpkg.ErrSyncInProgress: "该账户正在同步中，请稍候",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	for sentinel, msg := range errorMessages {
		if errors.Is(err, sentinel) {
			return msg
		}
	}
	return err.Error()
}

// respondError 按错误类别映射 HTTP 状态码。
//
// 服务商侧的 401/403 对前端呈现为该账户的授权问题而非本站
// 登录问题，所以走 502 以外单列的 401；服务商 5xx 一律 502，
// 与本站自身的 500 区分开。
func respondError(c *gin.Context, err error) {
	msg := GetErrorMessage(err)

	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenRevoked),
		errors.Is(err, auth.ErrInvalidCredentials):
		Unauthorized(c, msg)
	case errors.Is(err, auth.ErrUserInactive):
		Forbidden(c, msg)
	case errors.Is(err, auth.ErrInvalidEmail):
		BadRequest(c, msg)
	case errors.Is(err, auth.ErrEmailExists):
		Conflict(c, msg)
	case errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, storage.ErrUserNotFound),
		errors.Is(err, storage.ErrAccountNotFound),
		errors.Is(err, provider.ErrNotFound):
		NotFound(c, msg)
	case errors.Is(err, provider.ErrCredential),
		errors.Is(err, provider.ErrAuth):
		Unauthorized(c, msg)
	case errors.Is(err, provider.ErrRateLimited):
		TooManyRequests(c, msg, 30)
	case errors.Is(err, provider.ErrVendorOutage):
		BadGateway(c, msg)
	case errors.Is(err, provider.ErrValidation):
		BadRequest(c, msg)
	case errors.Is(err, syncpkg.ErrSyncInProgress):
		Conflict(c, msg)
	default:
		InternalError(c, MsgInternalError)
	}
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest   = "请求参数格式错误"
	MsgRequestBodyEmpty = "请求体不能为空"

	// 认证相关
	MsgAuthRequired = "需要登录认证"

	// 账户相关
	MsgAccountCreateFailed = "绑定同步账户失败"
	MsgAccountListFailed   = "获取账户列表失败"
	MsgAccountNotFound     = "同步账户不存在"
	MsgAccountUpdateFailed = "更新同步账户失败"
	MsgAccountDeleteFailed = "解绑同步账户失败"
	MsgCredentialEncrypt   = "凭证加密失败"

	// 同步相关
	MsgSyncFailed        = "同步失败"
	MsgSyncAccountNeeded = "accountId 不能为空"

	// 时间线相关
	MsgTimelineListFailed = "获取时间线失败"
	MsgContactListFailed  = "获取联系人列表失败"
	MsgConversationDelete = "删除会话失败"
	MsgSendFailed         = "发送消息失败"

	// Webhook 相关
	MsgWebhookBadSignature = "签名验证失败"
	MsgWebhookBadProvider  = "不支持的服务商"

	// 缓存相关
	MsgCacheUnavailable = "缓存服务未启用"
	MsgCacheKeyNotFound = "键不存在"
	MsgCacheWriteFailed = "写入缓存失败"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
