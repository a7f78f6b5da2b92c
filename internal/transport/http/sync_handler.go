package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"unibox/backend/internal/domain"
	"unibox/backend/internal/middleware"
	"unibox/backend/internal/provider"
	"unibox/backend/internal/storage"
	syncpkg "unibox/backend/internal/sync"
	"unibox/backend/internal/websocket"
)

// SyncHandler 手动同步触发处理器
type SyncHandler struct {
	orchestrator *syncpkg.Orchestrator
	store        storage.Store
	hub          *websocket.Hub // 可为 nil
	log          *zap.Logger
}

// NewSyncHandler 创建同步处理器
func NewSyncHandler(orchestrator *syncpkg.Orchestrator, store storage.Store, hub *websocket.Hub, log *zap.Logger) *SyncHandler {
	return &SyncHandler{
		orchestrator: orchestrator,
		store:        store,
		hub:          hub,
		log:          log,
	}
}

type syncRequest struct {
	AccountID        string `json:"accountId"`
	PhoneNumber      string `json:"phoneNumber"`
	PageSize         int    `json:"pageSize"`
	LastSmsIDFetched string `json:"lastSmsIdFetched"`
	SortDirection    string `json:"sortDirection"`
}

// syncResponse 同步端点的响应结构。
//
// 该端点返回裸结构而不走统一响应壳：字段名与取值语义是前端
// 增量加载逻辑直接消费的对外契约。retryAfter 单位为秒。
type syncResponse struct {
	Success       bool             `json:"success"`
	Messages      []domain.Message `json:"messages"`
	RateLimited   bool             `json:"rateLimited"`
	RetryAfter    int64            `json:"retryAfter,omitempty"`
	LastMessageID string           `json:"lastMessageId,omitempty"`
}

// Sync godoc
// @Summary 触发账户同步
// @Description 拉取指定账户的消息并合并入时间线。同一账户的并发触发返回 409。
// @Tags Sync
// @Accept json
// @Produce json
// @Param request body syncRequest true "同步参数"
// @Success 200 {object} syncResponse
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Failure 429 {object} Response
// @Router /v1/sync [post]
func (h *SyncHandler) Sync(c *gin.Context) {
	userID := middleware.UserID(c)

	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if req.AccountID == "" {
		BadRequest(c, MsgSyncAccountNeeded)
		return
	}

	direction := provider.SortDescending
	if req.SortDirection == string(provider.SortAscending) {
		direction = provider.SortAscending
	}

	result, err := h.orchestrator.SyncAccount(c.Request.Context(), userID, syncpkg.Options{
		AccountID:     req.AccountID,
		PhoneNumber:   req.PhoneNumber,
		PageSize:      req.PageSize,
		Cursor:        req.LastSmsIDFetched,
		SortDirection: direction,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	// 归档失败不影响本次同步结果，时间线内存副本仍是权威数据
	if len(result.Messages) > 0 {
		if err := h.store.SaveMessages(userID, result.Messages); err != nil {
			h.log.Warn("sync: message archive failed",
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}

	h.notify(userID, req.AccountID, result)

	messages := result.Messages
	if messages == nil {
		messages = []domain.Message{}
	}

	c.JSON(http.StatusOK, syncResponse{
		Success:       true,
		Messages:      messages,
		RateLimited:   result.RateLimited,
		RetryAfter:    int64(result.RetryAfter.Seconds()),
		LastMessageID: result.LastMessageID,
	})
}

func (h *SyncHandler) notify(userID, accountID string, result *syncpkg.Result) {
	if h.hub == nil {
		return
	}

	platform := ""
	if account, err := h.store.GetSyncAccount(accountID); err == nil {
		platform = string(account.Platform)
	}

	h.hub.NotifySyncComplete(userID, websocket.SyncCompleteData{
		AccountID:   accountID,
		Platform:    platform,
		Merged:      result.Merged,
		RateLimited: result.RateLimited,
	})
	if result.Merged > 0 {
		h.hub.NotifyNewMessages(userID, websocket.NewMessagesData{
			Count:    result.Merged,
			Platform: platform,
			Source:   "sync",
		})
	}
}
