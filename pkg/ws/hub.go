package ws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrUserOffline 目标用户没有在线连接
var ErrUserOffline = errors.New("user offline")

// Client 一条用户WebSocket连接
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID int64
	send   chan []byte
}

// Hub WebSocket连接管理中心。
// 按用户分组维护连接，通知投递按userID定向推送，
// 同一用户多端在线时每个连接各收一份。
type Hub struct {
	logger     *zap.Logger
	clients    map[int64]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewHub 创建Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[int64]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run 运行Hub，需在独立goroutine中调用
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.userID] == nil {
				h.clients[client.userID] = make(map[*Client]bool)
			}
			h.clients[client.userID][client] = true
			h.mu.Unlock()
			h.logger.Info("websocket client connected",
				zap.Int64("user_id", client.userID),
				zap.Int("total_clients", h.ClientCount()))

		case client := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.clients[client.userID]; ok {
				if _, ok := conns[client]; ok {
					delete(conns, client)
					close(client.send)
					if len(conns) == 0 {
						delete(h.clients, client.userID)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Info("websocket client disconnected",
				zap.Int64("user_id", client.userID),
				zap.Int("total_clients", h.ClientCount()))
		}
	}
}

// Push 定向推送给指定用户的所有在线连接。
// 用户不在线返回ErrUserOffline，调用方据此走重试/死信。
func (h *Hub) Push(userID int64, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := h.clients[userID]
	if len(conns) == 0 {
		return ErrUserOffline
	}

	delivered := 0
	for client := range conns {
		select {
		case client.send <- payload:
			delivered++
		default:
			// 慢消费者跳过，交由ReadPump超时回收
		}
	}
	if delivered == 0 {
		return ErrUserOffline
	}
	return nil
}

// Online 用户是否在线
func (h *Hub) Online(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// ClientCount 当前连接总数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

// NewClient 创建客户端连接
func NewClient(hub *Hub, conn *websocket.Conn, userID int64) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 64),
	}
}

// Register 注册到Hub
func (c *Client) Register() {
	c.hub.register <- c
}

// Unregister 从Hub注销
func (c *Client) Unregister() {
	c.hub.unregister <- c
}

// ReadPump 读循环，仅用于探测断连
func (c *Client) ReadPump() {
	defer func() {
		c.Unregister()
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// WritePump 写循环，send关闭后退出
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
}
