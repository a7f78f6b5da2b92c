package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"unibox/backend/internal/auth"
	"unibox/backend/internal/middleware"
)

// AuthHandler 认证相关的 HTTP 处理器
type AuthHandler struct {
	authService *auth.Service
	log         *zap.Logger
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(authService *auth.Service, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		log:         log,
	}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Username string `json:"username"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

// Register godoc
// @Summary 用户注册
// @Description 注册新用户并返回令牌对
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body registerRequest true "注册信息"
// @Success 201 {object} Response{data=auth.AuthResponse}
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /v1/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	resp, err := h.authService.Register(auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	Created(c, resp)
}

// Login godoc
// @Summary 用户登录
// @Description 校验凭证并返回令牌对
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body loginRequest true "登录信息"
// @Success 200 {object} Response{data=auth.AuthResponse}
// @Failure 401 {object} Response
// @Router /v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	resp, err := h.authService.Login(auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.log.Warn("login failed",
			zap.String("email", req.Email),
			zap.String("ip", c.ClientIP()))
		respondError(c, err)
		return
	}

	Success(c, resp)
}

// Refresh godoc
// @Summary 刷新令牌
// @Description 用刷新令牌换取新令牌对，旧刷新令牌立即失效
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body refreshRequest true "刷新令牌"
// @Success 200 {object} Response{data=auth.AuthResponse}
// @Failure 401 {object} Response
// @Router /v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	resp, err := h.authService.Refresh(req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}

	Success(c, resp)
}

// Logout godoc
// @Summary 用户登出
// @Description 吊销当前访问令牌
// @Tags Auth
// @Produce json
// @Success 200 {object} Response
// @Router /v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	token := extractBearerToken(c)
	if token == "" {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	if err := h.authService.Logout(token); err != nil {
		respondError(c, err)
		return
	}

	SuccessWithMsg(c, "已登出", nil)
}

// Me godoc
// @Summary 当前用户信息
// @Description 返回已认证用户的资料
// @Tags Auth
// @Produce json
// @Success 200 {object} Response{data=domain.User}
// @Failure 401 {object} Response
// @Router /v1/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	user, err := h.authService.GetUserByID(userID)
	if err != nil {
		respondError(c, err)
		return
	}

	Success(c, user)
}

// ChangePassword godoc
// @Summary 修改密码
// @Description 校验旧密码后更新为新密码
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body changePasswordRequest true "新旧密码"
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Router /v1/auth/password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	if err := h.authService.ChangePassword(userID, req.OldPassword, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}

	SuccessWithMsg(c, "密码已更新", nil)
}

// extractBearerToken 从 Authorization 头提取 Bearer 令牌
func extractBearerToken(c *gin.Context) string {
	const prefix = "Bearer "
	header := c.GetHeader("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
