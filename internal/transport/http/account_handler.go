package httptransport

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"unibox/backend/internal/domain"
	"unibox/backend/internal/middleware"
	"unibox/backend/internal/secret"
	"unibox/backend/internal/storage"
)

// AccountHandler 同步账户管理处理器。
//
// 凭证在入库前用 AES-GCM 加密，响应体永不回显凭证
// （结构体上的 json:"-" 保证序列化时被剥除）。
type AccountHandler struct {
	store  storage.Store
	cipher *secret.Cipher
	log    *zap.Logger
}

// NewAccountHandler 创建账户处理器
func NewAccountHandler(store storage.Store, cipher *secret.Cipher, log *zap.Logger) *AccountHandler {
	return &AccountHandler{
		store:  store,
		cipher: cipher,
		log:    log,
	}
}

type createAccountRequest struct {
	Platform          string          `json:"platform" binding:"required"`
	AccountIdentifier string          `json:"accountIdentifier" binding:"required"`
	Credentials       json.RawMessage `json:"credentials" binding:"required"`
	Enabled           *bool           `json:"enabled"`
}

type updateAccountRequest struct {
	AccountIdentifier string          `json:"accountIdentifier"`
	Credentials       json.RawMessage `json:"credentials"`
	Enabled           *bool           `json:"enabled"`
}

var knownPlatforms = map[domain.AccountType]bool{
	domain.AccountTypeMail:     true,
	domain.AccountTypeIMAP:     true,
	domain.AccountTypeSMSA:     true,
	domain.AccountTypeSMSB:     true,
	domain.AccountTypeWhatsApp: true,
}

// Create godoc
// @Summary 绑定同步账户
// @Description 关联一个外部服务商账户，凭证加密存储
// @Tags Accounts
// @Accept json
// @Produce json
// @Param request body createAccountRequest true "账户信息"
// @Success 201 {object} Response{data=domain.SyncAccount}
// @Failure 400 {object} Response
// @Router /v1/accounts [post]
func (h *AccountHandler) Create(c *gin.Context) {
	userID := middleware.UserID(c)

	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	platform := domain.AccountType(req.Platform)
	if !knownPlatforms[platform] {
		BadRequest(c, "不支持的平台类型: "+req.Platform)
		return
	}

	encrypted, err := h.cipher.Encrypt(string(req.Credentials))
	if err != nil {
		h.log.Error("credential encryption failed", zap.Error(err))
		InternalError(c, MsgCredentialEncrypt)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := time.Now().UTC()
	account := &domain.SyncAccount{
		ID:                uuid.New().String(),
		UserID:            userID,
		Platform:          platform,
		AccountIdentifier: req.AccountIdentifier,
		Credentials:       encrypted,
		Enabled:           enabled,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := h.store.SaveSyncAccount(account); err != nil {
		h.log.Error("failed to save sync account", zap.Error(err))
		InternalError(c, MsgAccountCreateFailed)
		return
	}

	Created(c, account)
}

// List godoc
// @Summary 账户列表
// @Description 返回当前用户的全部同步账户
// @Tags Accounts
// @Produce json
// @Success 200 {object} Response
// @Router /v1/accounts [get]
func (h *AccountHandler) List(c *gin.Context) {
	userID := middleware.UserID(c)

	accounts, err := h.store.ListSyncAccountsByUserID(userID)
	if err != nil {
		InternalError(c, MsgAccountListFailed)
		return
	}

	Success(c, gin.H{
		"items": accounts,
		"count": len(accounts),
	})
}

// Get godoc
// @Summary 账户详情
// @Tags Accounts
// @Produce json
// @Param id path string true "账户ID"
// @Success 200 {object} Response{data=domain.SyncAccount}
// @Failure 404 {object} Response
// @Router /v1/accounts/{id} [get]
func (h *AccountHandler) Get(c *gin.Context) {
	account, ok := h.loadOwned(c)
	if !ok {
		return
	}
	Success(c, account)
}

// Update godoc
// @Summary 更新账户
// @Description 更新账户标识、启用状态或重新录入凭证
// @Tags Accounts
// @Accept json
// @Produce json
// @Param id path string true "账户ID"
// @Param request body updateAccountRequest true "更新内容"
// @Success 200 {object} Response{data=domain.SyncAccount}
// @Failure 404 {object} Response
// @Router /v1/accounts/{id} [patch]
func (h *AccountHandler) Update(c *gin.Context) {
	account, ok := h.loadOwned(c)
	if !ok {
		return
	}

	var req updateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	if req.AccountIdentifier != "" {
		account.AccountIdentifier = req.AccountIdentifier
	}
	if req.Enabled != nil {
		account.Enabled = *req.Enabled
	}
	if len(req.Credentials) > 0 {
		encrypted, err := h.cipher.Encrypt(string(req.Credentials))
		if err != nil {
			InternalError(c, MsgCredentialEncrypt)
			return
		}
		account.Credentials = encrypted
	}
	account.UpdatedAt = time.Now().UTC()

	if err := h.store.SaveSyncAccount(account); err != nil {
		InternalError(c, MsgAccountUpdateFailed)
		return
	}

	Success(c, account)
}

// Delete godoc
// @Summary 解绑账户
// @Tags Accounts
// @Param id path string true "账户ID"
// @Success 204
// @Failure 404 {object} Response
// @Router /v1/accounts/{id} [delete]
func (h *AccountHandler) Delete(c *gin.Context) {
	account, ok := h.loadOwned(c)
	if !ok {
		return
	}

	if err := h.store.DeleteSyncAccount(account.ID); err != nil {
		InternalError(c, MsgAccountDeleteFailed)
		return
	}

	NoContent(c)
}

// loadOwned 加载账户并校验归属。不属于当前用户的账户一律
// 返回 404，不暴露存在性。
func (h *AccountHandler) loadOwned(c *gin.Context) (*domain.SyncAccount, bool) {
	userID := middleware.UserID(c)

	account, err := h.store.GetSyncAccount(c.Param("id"))
	if err != nil {
		NotFound(c, MsgAccountNotFound)
		return nil, false
	}
	if account.UserID != userID {
		NotFound(c, MsgAccountNotFound)
		return nil, false
	}
	return account, true
}
