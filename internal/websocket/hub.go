package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"unibox/backend/internal/auth"
)

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				// 同源请求没有 Origin 头
				return true
			}

			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}
			return false
		},
	}
}

// MessageType 定义 WebSocket 消息类型
type MessageType string

const (
	MessageTypeSyncStarted  MessageType = "sync_started"
	MessageTypeSyncComplete MessageType = "sync_complete"
	MessageTypeNewMessages  MessageType = "new_messages"
	MessageTypePing         MessageType = "ping"
	MessageTypePong         MessageType = "pong"
	MessageTypeError        MessageType = "error"
)

// Message 定义 WebSocket 消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client 代表一个 WebSocket 客户端连接
type Client struct {
	ID     string
	UserID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	log    *zap.Logger
}

// Hub 管理所有 WebSocket 连接。
//
// 连接按用户归组：同一用户的多端（网页、手机）都能收到
// 同步完成与新消息的推送。时间线只属于单个用户，不存在
// 跨用户订阅。
type Hub struct {
	clients        map[string]*Client            // clientID -> Client
	users          map[string]map[string]*Client // userID -> clientID -> Client
	register       chan *Client
	unregister     chan *Client
	broadcast      chan *userMessage
	mu             sync.RWMutex
	log            *zap.Logger
	allowedOrigins []string
	authService    *auth.Service
}

type userMessage struct {
	userID  string
	message *Message
}

// NewHub 创建 WebSocket Hub
func NewHub(allowedOrigins []string, authService *auth.Service, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	return &Hub{
		clients:        make(map[string]*Client),
		users:          make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan *userMessage, 256),
		log:            log,
		allowedOrigins: allowedOrigins,
		authService:    authService,
	}
}

// Run 启动 Hub
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			if h.users[client.UserID] == nil {
				h.users[client.UserID] = make(map[string]*Client)
			}
			h.users[client.UserID][client.ID] = client
			h.mu.Unlock()
			h.log.Info("client registered",
				zap.String("id", client.ID),
				zap.String("user_id", client.UserID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				if clients, exists := h.users[client.UserID]; exists {
					delete(clients, client.ID)
					if len(clients) == 0 {
						delete(h.users, client.UserID)
					}
				}
				delete(h.clients, client.ID)
				close(client.send)
				h.log.Info("client unregistered", zap.String("id", client.ID))
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.broadcastToUser(msg.userID, msg.message)

		case <-ticker.C:
			h.pingAllClients()
		}
	}
}

// SyncCompleteData 同步完成通知数据
type SyncCompleteData struct {
	AccountID   string `json:"accountId"`
	Platform    string `json:"platform"`
	Merged      int    `json:"merged"`
	RateLimited bool   `json:"rateLimited"`
}

// NotifySyncComplete 通知一次账户同步结束
func (h *Hub) NotifySyncComplete(userID string, data SyncCompleteData) {
	h.notify(userID, MessageTypeSyncComplete, data)
}

// NewMessagesData 新消息通知数据
type NewMessagesData struct {
	Count    int    `json:"count"`
	Platform string `json:"platform,omitempty"`
	Source   string `json:"source"` // "sync" 或 "webhook"
}

// NotifyNewMessages 通知时间线有新消息合入
func (h *Hub) NotifyNewMessages(userID string, data NewMessagesData) {
	h.notify(userID, MessageTypeNewMessages, data)
}

func (h *Hub) notify(userID string, msgType MessageType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("failed to marshal notification", zap.Error(err))
		return
	}

	msg := &Message{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- &userMessage{userID: userID, message: msg}:
	default:
		h.log.Warn("broadcast channel full, dropping notification",
			zap.String("user_id", userID),
			zap.String("type", string(msgType)))
	}
}

// broadcastToUser 向用户的所有连接广播消息
func (h *Hub) broadcastToUser(userID string, msg *Message) {
	h.mu.RLock()
	clients := h.users[userID]
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			h.log.Warn("client channel blocked, skipping", zap.String("clientID", client.ID))
		}
	}
}

// pingAllClients 向所有客户端发送 ping
func (h *Hub) pingAllClients() {
	msg := &Message{
		Type:      MessageTypePing,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.users = make(map[string]map[string]*Client)
}

// authenticate 认证客户端并返回用户 ID
func (h *Hub) authenticate(c *gin.Context) (string, bool) {
	token := c.Query("token")
	if token == "" {
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				token = parts[1]
			}
		}
	}
	if token == "" {
		return "", false
	}

	claims, err := h.authService.ValidateToken(token)
	if err != nil {
		return "", false
	}
	return claims.UserID, true
}

// HandleWebSocket 处理 WebSocket 连接
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		userID, ok := hub.authenticate(c)
		if !ok {
			hub.log.Warn("websocket authentication failed",
				zap.String("remote_addr", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:     uuid.New().String(),
			UserID: userID,
			conn:   conn,
			send:   make(chan []byte, 256),
			hub:    hub,
			log:    hub.log,
		}

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket error", zap.Error(err))
			}
			break
		}

		if msg.Type == MessageTypePong {
			c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		}
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.conn.WriteMessage(websocket.TextMessage, message)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
