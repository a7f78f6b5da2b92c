package httptransport

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"unibox/backend/internal/domain"
	"unibox/backend/internal/middleware"
	"unibox/backend/internal/provider"
	"unibox/backend/internal/storage"
	"unibox/backend/internal/timeline"
)

// TimelineHandler 统一时间线查询与会话管理处理器
type TimelineHandler struct {
	sessions *timeline.Manager
	store    storage.Store
	registry *provider.Registry
	log      *zap.Logger
}

// NewTimelineHandler 创建时间线处理器
func NewTimelineHandler(sessions *timeline.Manager, store storage.Store, registry *provider.Registry, log *zap.Logger) *TimelineHandler {
	return &TimelineHandler{
		sessions: sessions,
		store:    store,
		registry: registry,
		log:      log,
	}
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type timelinePage struct {
	Items    []domain.Message `json:"items"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
	HasMore  bool             `json:"hasMore"`
}

// Messages godoc
// @Summary 获取统一时间线
// @Description 返回按时间倒序的消息分页，可按联系人过滤
// @Tags Timeline
// @Produce json
// @Param page query int false "页码（默认1）"
// @Param pageSize query int false "每页数量（默认50，最大200）"
// @Param contact query string false "只看与该联系人往来的消息"
// @Success 200 {object} Response{data=timelinePage}
// @Router /v1/timeline [get]
func (h *TimelineHandler) Messages(c *gin.Context) {
	userID := middleware.UserID(c)

	page, pageSize := parsePaging(c)
	contact := c.Query("contact")

	all := h.sessions.Get(userID).Messages()
	if contact != "" {
		filtered := make([]domain.Message, 0, len(all))
		for i := range all {
			if all[i].InvolvesContact(contact) {
				filtered = append(filtered, all[i])
			}
		}
		all = filtered
	}

	total := len(all)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	Success(c, timelinePage{
		Items:    all[start:end],
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  end < total,
	})
}

// Contacts godoc
// @Summary 获取联系人列表
// @Description 返回从消息派生的联系人，按最近往来时间倒序
// @Tags Timeline
// @Produce json
// @Success 200 {object} Response
// @Router /v1/contacts [get]
func (h *TimelineHandler) Contacts(c *gin.Context) {
	userID := middleware.UserID(c)

	contacts := h.sessions.Get(userID).Contacts()
	Success(c, gin.H{
		"items": contacts,
		"count": len(contacts),
	})
}

// DeleteConversation godoc
// @Summary 删除会话
// @Description 删除与指定联系人往来的全部消息（时间线与归档一并清除）
// @Tags Timeline
// @Produce json
// @Param identifier path string true "联系人标识（邮箱或电话）"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Router /v1/conversations/{identifier} [delete]
func (h *TimelineHandler) DeleteConversation(c *gin.Context) {
	userID := middleware.UserID(c)
	identifier := c.Param("identifier")

	if err := domain.ValidateIdentifier(identifier); err != nil {
		BadRequest(c, GetErrorMessage(err))
		return
	}

	removed := h.sessions.Get(userID).DeleteConversation(identifier)

	archived, err := h.store.DeleteMessagesByContact(userID, identifier)
	if err != nil {
		// 内存时间线已删除，归档失败只记录，下次删除可重试
		h.log.Warn("conversation: archive delete failed",
			zap.String("user_id", userID),
			zap.String("identifier", identifier),
			zap.Error(err))
	}

	Success(c, gin.H{
		"removed":  removed,
		"archived": archived,
	})
}

type sendMessageRequest struct {
	AccountID string `json:"accountId" binding:"required"`
	To        string `json:"to" binding:"required"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	MediaURL  string `json:"mediaUrl"`
}

// Send godoc
// @Summary 发送消息
// @Description 通过指定账户的服务商发送消息，结果合并入时间线
// @Tags Timeline
// @Accept json
// @Produce json
// @Param request body sendMessageRequest true "消息内容"
// @Success 201 {object} Response{data=domain.Message}
// @Failure 400 {object} Response
// @Failure 429 {object} Response
// @Failure 502 {object} Response
// @Router /v1/messages [post]
func (h *TimelineHandler) Send(c *gin.Context) {
	userID := middleware.UserID(c)

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if err := domain.ValidateIdentifier(req.To); err != nil {
		BadRequest(c, GetErrorMessage(err))
		return
	}

	account, err := h.store.GetSyncAccount(req.AccountID)
	if err != nil || account.UserID != userID {
		NotFound(c, MsgAccountNotFound)
		return
	}

	adapter, err := h.registry.Build(account)
	if err != nil {
		respondError(c, err)
		return
	}

	msg, err := adapter.SendMessage(c.Request.Context(), provider.SendInput{
		To:       req.To,
		Subject:  req.Subject,
		Body:     req.Body,
		MediaURL: req.MediaURL,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	msg.AccountID = account.ID
	h.sessions.Get(userID).AddMessage(*msg)

	if err := h.store.SaveMessages(userID, []domain.Message{*msg}); err != nil {
		h.log.Warn("send: message archive failed",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	Created(c, msg)
}

// parsePaging 解析分页参数并套用上限
func parsePaging(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(c.DefaultQuery("pageSize", strconv.Itoa(defaultPageSize)))
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
