// internal/api/websocket_handlers.go
package api

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/Corphon/SekaiHub/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// 客户端消息类型
const (
	wsTypeAction   = "action"
	wsTypeReroll   = "reroll"
	wsTypeContinue = "continue"
	wsTypePing     = "ping"
)

// WSRequest 客户端发来的消息
type WSRequest struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// WebSocketHandler 处理会话的流式通道
// limiter 为空时不限流
type WebSocketHandler struct {
	sessions *services.SessionService
	limiter  *RateLimiter
	response *ResponseHelper
}

// NewWebSocketHandler 创建 WebSocket 处理器，生成类消息与 REST 接口共用 limiter
func NewWebSocketHandler(sessions *services.SessionService, limiter *RateLimiter) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
		limiter:  limiter,
		response: NewResponseHelper(),
	}
}

// SessionWebSocket 处理会话 WebSocket 连接
// 补全片段只发给发起请求的连接，完成后的回合广播给会话的所有连接
func (wh *WebSocketHandler) SessionWebSocket(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := wh.sessions.GetSession(sessionID); err != nil {
		wh.response.FromError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ 会话 WebSocket 升级失败: %v", err)
		return
	}

	client := newWebSocketClient(conn, sessionID)
	client.clientIP = c.ClientIP()

	select {
	case wsManager.register <- client:
	default:
		log.Printf("❌ 无法注册 WebSocket 客户端，注册通道已满")
		client.Close()
		return
	}

	defer func() {
		select {
		case wsManager.unregister <- client:
		case <-time.After(5 * time.Second):
			log.Printf("⚠️ WebSocket 客户端注销超时")
			client.Close()
		}
	}()

	go wh.handleWebSocketWrites(client)

	client.SendMessage(WSMessage{Type: "connected", Data: map[string]string{"session_id": sessionID}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wh.handleWebSocketReads(ctx, client)
}

// handleWebSocketReads 读取客户端消息，请求按到达顺序依次处理
func (wh *WebSocketHandler) handleWebSocketReads(ctx context.Context, client *WebSocketClient) {
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var request WSRequest
		if err := client.conn.ReadJSON(&request); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("⚠️ WebSocket 读取错误: %v", err)
			}
			return
		}

		client.UpdatePing()
		wh.handleMessage(ctx, client, request)
		// 补全可能超过读超时，处理完后重新计时
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// handleWebSocketWrites 将发送队列写入连接并定期发送ping
func (wh *WebSocketHandler) handleWebSocketWrites(client *WebSocketClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.done:
			return
		}
	}
}

// handleMessage 分发客户端请求
// 换用备用模型前先发送 reset，客户端应清空已显示的片段
func (wh *WebSocketHandler) handleMessage(ctx context.Context, client *WebSocketClient, request WSRequest) {
	onChunk := func(chunk string) {
		client.SendMessage(WSMessage{Type: "chunk", Text: chunk})
	}
	ctx = services.WithRetryHook(ctx, func() {
		client.SendMessage(WSMessage{Type: "reset"})
	})

	var (
		outcome *services.TurnOutcome
		err     error
	)

	kind := strings.ToLower(request.Type)
	switch kind {
	case wsTypeAction, wsTypeReroll, wsTypeContinue:
		if wh.limiter != nil && !wh.limiter.Allow(client.clientIP) {
			client.SendError(ErrorRateLimited, "请求过于频繁，请稍后再试")
			return
		}
	}

	switch kind {
	case wsTypeAction:
		outcome, err = wh.sessions.SubmitAction(ctx, client.sessionID, request.Text, onChunk)
	case wsTypeReroll:
		outcome, err = wh.sessions.Reroll(ctx, client.sessionID, onChunk)
	case wsTypeContinue:
		outcome, err = wh.sessions.Continue(ctx, client.sessionID, onChunk)
	case wsTypePing:
		client.SendMessage(WSMessage{Type: "pong"})
		return
	default:
		client.SendError(ErrorBadRequest, "未知的消息类型: "+request.Type)
		return
	}

	if err != nil {
		_, code := StatusForError(err)
		client.SendError(code, err.Error())
		return
	}

	turn := WSMessage{Type: "turn", Data: outcome}
	client.SendMessage(turn)
	wsManager.BroadcastToSession(client.sessionID, turn, client)
}
