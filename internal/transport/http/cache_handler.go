package httptransport

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"unibox/backend/internal/middleware"
	"unibox/backend/internal/storage/redis"
)

// CacheHandler 通用 KV 缓存边界处理器。
//
// 前端用它保存跨设备的界面偏好（如草稿、视图状态）。键按
// 用户隔离，Redis 未启用时所有端点返回 503。
type CacheHandler struct {
	cache *redis.Cache // 可为 nil
}

// NewCacheHandler 创建缓存处理器
func NewCacheHandler(cache *redis.Cache) *CacheHandler {
	return &CacheHandler{cache: cache}
}

type setValueRequest struct {
	Value string `json:"value" binding:"required"`
	TTL   string `json:"ttl"` // Go duration 格式，如 "24h"，空则不过期
}

// userKey 缓存键按用户隔离
func userKey(c *gin.Context) string {
	return middleware.UserID(c) + ":" + c.Param("key")
}

// Get godoc
// @Summary 读取缓存值
// @Tags Cache
// @Produce json
// @Param key path string true "键名"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Failure 503 {object} Response
// @Router /v1/cache/{key} [get]
func (h *CacheHandler) Get(c *gin.Context) {
	if h.cache == nil {
		ServiceUnavailable(c, MsgCacheUnavailable)
		return
	}

	value, err := h.cache.GetValue(userKey(c))
	if err != nil {
		if errors.Is(err, redis.ErrKeyNotFound) {
			NotFound(c, MsgCacheKeyNotFound)
			return
		}
		InternalError(c, MsgInternalError)
		return
	}

	Success(c, gin.H{
		"key":   c.Param("key"),
		"value": value,
	})
}

// Set godoc
// @Summary 写入缓存值
// @Tags Cache
// @Accept json
// @Produce json
// @Param key path string true "键名"
// @Param request body setValueRequest true "值与可选 TTL"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 503 {object} Response
// @Router /v1/cache/{key} [post]
func (h *CacheHandler) Set(c *gin.Context) {
	if h.cache == nil {
		ServiceUnavailable(c, MsgCacheUnavailable)
		return
	}

	var req setValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil || parsed < 0 {
			BadRequest(c, "ttl 格式无效")
			return
		}
		ttl = parsed
	}

	if err := h.cache.SetValue(userKey(c), req.Value, ttl); err != nil {
		InternalError(c, MsgCacheWriteFailed)
		return
	}

	SuccessWithMsg(c, "已保存", nil)
}

// Delete godoc
// @Summary 删除缓存值
// @Tags Cache
// @Param key path string true "键名"
// @Success 204
// @Failure 503 {object} Response
// @Router /v1/cache/{key} [delete]
func (h *CacheHandler) Delete(c *gin.Context) {
	if h.cache == nil {
		ServiceUnavailable(c, MsgCacheUnavailable)
		return
	}

	if err := h.cache.DeleteValue(userKey(c)); err != nil {
		InternalError(c, MsgInternalError)
		return
	}

	NoContent(c)
}
