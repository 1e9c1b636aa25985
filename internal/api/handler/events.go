package handler

import (
	"net/http"
	"time"

	"portfwd/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	eventWriteWait  = 10 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = eventPongWait * 9 / 10
)

// EventSource 规则事件订阅来源
type EventSource interface {
	Subscribe(buffer int) (<-chan telemetry.Event, func())
	Subscribers() int
}

/*
EventHandler 规则事件推送
功能：通过 WebSocket 把规则保存/删除事件实时推给前端，超过订阅上限时拒绝
*/
type EventHandler struct {
	source         EventSource
	maxSubscribers int
	upgrader       websocket.Upgrader
	logger         *zap.Logger
}

/*
NewEventHandler 创建事件推送处理器
参数：maxSubscribers 为 0 表示不限制；checkOrigin 校验浏览器来源，与 CORS 白名单一致
*/
func NewEventHandler(source EventSource, maxSubscribers int, checkOrigin func(*http.Request) bool) *EventHandler {
	return &EventHandler{
		source:         source,
		maxSubscribers: maxSubscribers,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: zap.L().Named("events"),
	}
}

// Stream 升级为 WebSocket 并持续推送事件
func (h *EventHandler) Stream(c *gin.Context) {
	if h.maxSubscribers > 0 && h.source.Subscribers() >= h.maxSubscribers {
		h.logger.Warn("事件订阅数已达上限，拒绝新连接", zap.Int("max", h.maxSubscribers))
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "订阅数已满"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket 升级失败", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := h.source.Subscribe(64)
	defer cancel()

	/* 读循环只处理控制帧，客户端断开时结束 */
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(eventPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case e, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"))
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("推送事件失败", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
