// internal/api/websocket.go
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var errSendTimeout = errors.New("websocket send queue is full")

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadJSON(v interface{}) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WSMessage 服务端推送的消息
type WSMessage struct {
	Type      string      `json:"type"`
	Text      string      `json:"text,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      string      `json:"code,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// WebSocketClient 表示一个 WebSocket 客户端连接
type WebSocketClient struct {
	conn      WebSocketConnection
	sessionID string
	clientIP  string
	send      chan []byte
	done      chan struct{}
	closed    int32 // 原子操作标志，0=开启，1=关闭
	lastPing  atomic.Int64
	createdAt time.Time
}

func newWebSocketClient(conn WebSocketConnection, sessionID string) *WebSocketClient {
	client := &WebSocketClient{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, 256),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	return client
}

// WebSocketManager 按会话管理所有 WebSocket 连接
type WebSocketManager struct {
	connections   map[string]map[*WebSocketClient]struct{} // sessionID -> clients
	register      chan *WebSocketClient
	unregister    chan *WebSocketClient
	cleanup       chan struct{}
	mutex         sync.RWMutex
	pingTimeout   time.Duration
	cleanupTicker *time.Ticker
	shutdownOnce  sync.Once
}

// 全局 WebSocket 管理器
var wsManager = &WebSocketManager{
	connections: make(map[string]map[*WebSocketClient]struct{}),
	register:    make(chan *WebSocketClient, 256),
	unregister:  make(chan *WebSocketClient, 256),
	cleanup:     make(chan struct{}),
	pingTimeout: 2 * pongWait,
}

func init() {
	go wsManager.run()
}

// ========================================
// WebSocketClient 方法
// ========================================

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		close(client.done)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后ping时间
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(time.Unix(0, client.lastPing.Load())) > timeout
}

// SendMessage 发送消息到客户端，队列满时最多等待 writeWait
func (client *WebSocketClient) SendMessage(message WSMessage) error {
	if client.IsClosed() {
		return nil
	}

	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	msgBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case client.send <- msgBytes:
		return nil
	case <-client.done:
		return nil
	case <-time.After(writeWait):
		log.Printf("⚠️ 会话 %s 的客户端消息队列已满", client.sessionID)
		return errSendTimeout
	}
}

// SendError 发送错误消息到客户端
func (client *WebSocketClient) SendError(code, errorMsg string) {
	client.SendMessage(WSMessage{Type: "error", Code: code, Error: sanitizeErrorMessage(errorMsg)})
}

// ========================================
// WebSocketManager 方法
// ========================================

// run 运行 WebSocket 管理器主循环
func (manager *WebSocketManager) run() {
	manager.cleanupTicker = time.NewTicker(30 * time.Second)
	defer manager.cleanupTicker.Stop()

	for {
		select {
		case client := <-manager.register:
			manager.registerClient(client)

		case client := <-manager.unregister:
			manager.unregisterClient(client)

		case <-manager.cleanupTicker.C:
			manager.cleanupExpiredConnections()

		case <-manager.cleanup:
			manager.shutdown()
			return
		}
	}
}

// registerClient 注册新客户端
func (manager *WebSocketManager) registerClient(client *WebSocketClient) {
	if client == nil {
		return
	}

	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if manager.connections[client.sessionID] == nil {
		manager.connections[client.sessionID] = make(map[*WebSocketClient]struct{})
	}
	manager.connections[client.sessionID][client] = struct{}{}

	log.Printf("✅ WebSocket 客户端已连接到会话 %s", client.sessionID)
}

// unregisterClient 安全注销客户端
func (manager *WebSocketManager) unregisterClient(client *WebSocketClient) {
	if client == nil {
		return
	}

	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if clients, exists := manager.connections[client.sessionID]; exists {
		delete(clients, client)
		if len(clients) == 0 {
			delete(manager.connections, client.sessionID)
		}
	}

	client.Close()
	log.Printf("🔌 WebSocket 客户端已断开连接 (会话: %s)", client.sessionID)
}

// cleanupExpiredConnections 清理过期和死连接
func (manager *WebSocketManager) cleanupExpiredConnections() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for sessionID, clients := range manager.connections {
		for client := range clients {
			if client.IsClosed() || client.IsExpired(manager.pingTimeout) {
				delete(clients, client)
				client.Close()
			}
		}
		if len(clients) == 0 {
			delete(manager.connections, sessionID)
		}
	}
}

// BroadcastToSession 向会话的客户端广播消息，skip 为 nil 时发给全部客户端
// 队列满的客户端被断开
func (manager *WebSocketManager) BroadcastToSession(sessionID string, message WSMessage, skip *WebSocketClient) {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	msgBytes, err := json.Marshal(message)
	if err != nil {
		log.Printf("❌ 序列化广播消息失败: %v", err)
		return
	}

	manager.mutex.RLock()
	targets := make([]*WebSocketClient, 0, len(manager.connections[sessionID]))
	for client := range manager.connections[sessionID] {
		if client != skip && !client.IsClosed() {
			targets = append(targets, client)
		}
	}
	manager.mutex.RUnlock()

	for _, client := range targets {
		select {
		case client.send <- msgBytes:
		default:
			client.Close()
		}
	}
}

// CloseSession 断开某个会话的全部客户端
func (manager *WebSocketManager) CloseSession(sessionID string) {
	manager.mutex.Lock()
	clients := manager.connections[sessionID]
	delete(manager.connections, sessionID)
	manager.mutex.Unlock()

	for client := range clients {
		client.Close()
	}
}

// Shutdown 关闭管理器和全部连接
func (manager *WebSocketManager) Shutdown() {
	manager.shutdownOnce.Do(func() {
		close(manager.cleanup)
	})
}

func (manager *WebSocketManager) shutdown() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	log.Println("🛑 正在关闭 WebSocket 管理器...")
	for _, clients := range manager.connections {
		for client := range clients {
			client.Close()
		}
	}
	manager.connections = make(map[string]map[*WebSocketClient]struct{})
	log.Println("✅ WebSocket 管理器已关闭")
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	sessions := make(map[string]int, len(manager.connections))
	total := 0
	for sessionID, clients := range manager.connections {
		active := 0
		for client := range clients {
			if !client.IsClosed() {
				active++
			}
		}
		sessions[sessionID] = active
		total += active
	}

	return map[string]interface{}{
		"total_sessions":    len(manager.connections),
		"total_connections": total,
		"sessions":          sessions,
	}
}

// ShutdownWebSockets 关闭全部会话连接，进程退出前调用
func ShutdownWebSockets() {
	wsManager.Shutdown()
}
