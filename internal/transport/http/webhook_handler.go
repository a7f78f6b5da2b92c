package httptransport

import (
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"unibox/backend/internal/domain"
	"unibox/backend/internal/monitoring"
	"unibox/backend/internal/pool"
	"unibox/backend/internal/provider"
	"unibox/backend/internal/storage"
	"unibox/backend/internal/timeline"
	"unibox/backend/internal/webhook"
	"unibox/backend/internal/websocket"
)

// SignatureHeader 入站推送的签名头
const SignatureHeader = "X-Signature"

// WebhookHandler 入站消息推送处理器。
//
// 验签在任何解析之前、对原始请求体进行；载荷缺少必需字段时
// 静默丢弃并返回 200，拒收会触发服务商的重试风暴。归档落库
// 走协程池异步执行，推送响应不等数据库。
type WebhookHandler struct {
	store      storage.Store
	registry   *provider.Registry
	sessions   *timeline.Manager
	smsaSecret string
	workers    *pool.WorkerPool // 可为 nil（同步归档）
	hub        *websocket.Hub   // 可为 nil
	metrics    *monitoring.Metrics
	log        *zap.Logger
}

// NewWebhookHandler 创建 Webhook 处理器
func NewWebhookHandler(store storage.Store, registry *provider.Registry, sessions *timeline.Manager, smsaSecret string, workers *pool.WorkerPool, hub *websocket.Hub, metrics *monitoring.Metrics, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		store:      store,
		registry:   registry,
		sessions:   sessions,
		smsaSecret: smsaSecret,
		workers:    workers,
		hub:        hub,
		metrics:    metrics,
		log:        log,
	}
}

// Handle godoc
// @Summary 接收服务商推送
// @Description 验签后将入站消息合并入账户所属用户的时间线
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param provider path string true "服务商标识"
// @Param accountId query string true "同步账户ID"
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Failure 404 {object} Response
// @Router /v1/webhook/{provider} [post]
func (h *WebhookHandler) Handle(c *gin.Context) {
	providerName := c.Param("provider")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	// sms-a 的推送带 HMAC 签名，头缺失或不匹配一律拒绝。
	// 密钥未配置时同样拒绝，绝不降级为"视为已验证"。
	if providerName == string(domain.AccountTypeSMSA) {
		if !webhook.Verify(body, c.GetHeader(SignatureHeader), h.smsaSecret) {
			h.rejected(providerName, "bad_signature")
			h.log.Warn("webhook: signature verification failed",
				zap.String("provider", providerName),
				zap.String("ip", c.ClientIP()))
			Unauthorized(c, MsgWebhookBadSignature)
			return
		}
	}

	accountID := c.Query("accountId")
	if accountID == "" {
		h.rejected(providerName, "missing_account")
		BadRequest(c, MsgSyncAccountNeeded)
		return
	}

	account, err := h.store.GetSyncAccount(accountID)
	if err != nil {
		h.rejected(providerName, "unknown_account")
		NotFound(c, MsgAccountNotFound)
		return
	}
	if string(account.Platform) != providerName {
		h.rejected(providerName, "platform_mismatch")
		BadRequest(c, MsgWebhookBadProvider)
		return
	}

	adapter, err := h.registry.Build(account)
	if err != nil {
		respondError(c, err)
		return
	}

	msg, err := adapter.ProcessIncomingMessage(body)
	if err != nil {
		h.rejected(providerName, "malformed_payload")
		BadRequest(c, GetErrorMessage(err))
		return
	}
	if msg == nil {
		// 缺少必需字段的载荷：丢弃但确认收货
		Success(c, gin.H{"stored": 0})
		return
	}

	msg.AccountID = account.ID
	added := h.sessions.Get(account.UserID).AddMessage(*msg)

	stored := 0
	if added {
		stored = 1
		h.archive(account.UserID, *msg)
		if h.hub != nil {
			h.hub.NotifyNewMessages(account.UserID, websocket.NewMessagesData{
				Count:    1,
				Platform: providerName,
				Source:   "webhook",
			})
		}
	}

	Success(c, gin.H{"stored": stored})
}

// archive 将消息落库归档。协程池可用时异步执行。
func (h *WebhookHandler) archive(userID string, msg domain.Message) {
	task := func() {
		if err := h.store.SaveMessages(userID, []domain.Message{msg}); err != nil {
			h.log.Warn("webhook: message archive failed",
				zap.String("user_id", userID),
				zap.String("message_id", msg.ID),
				zap.Error(err))
		}
	}

	if h.workers != nil && h.workers.TrySubmit(task) {
		return
	}
	task()
}

func (h *WebhookHandler) rejected(providerName, reason string) {
	if h.metrics != nil {
		h.metrics.RecordWebhookRejected(providerName, reason)
	}
}
