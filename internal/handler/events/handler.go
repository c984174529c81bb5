// Package events relays bus events to UI clients over WebSocket and SSE.
package events

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/roleplay/internal/event"
	"github.com/zhouzirui/z-tavern/roleplay/pkg/utils"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	bufferSize   = 64
)

// Subscriber registers bus handlers.
type Subscriber interface {
	Subscribe(handler event.Handler, types ...event.Type) func()
}

// Handler 事件推送处理器
type Handler struct {
	bus      Subscriber
	logger   *zap.Logger
	upgrader websocket.Upgrader
	clients  atomic.Int64
}

// New 创建事件推送处理器
func New(bus Subscriber, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		bus:    bus,
		logger: logger.Named("events"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册事件相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/events", h.handleWebSocket)
	r.Get("/events", h.handleSSE)
}

// Clients returns the number of connected clients.
func (h *Handler) Clients() int64 {
	return h.clients.Load()
}

// subscribe buffers bus events for one client. The bus publishes
// synchronously, so a slow client drops events instead of blocking it.
func (h *Handler) subscribe(remote string) (<-chan event.Event, func()) {
	ch := make(chan event.Event, bufferSize)
	var dropped atomic.Int64
	unsubscribe := h.bus.Subscribe(func(ev event.Event) {
		select {
		case ch <- ev:
		default:
			if dropped.Add(1) == 1 {
				h.logger.Warn("client too slow, dropping events", zap.String("remote", remote))
			}
		}
	})
	return ch, unsubscribe
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.clients.Add(1)
	defer h.clients.Add(-1)
	h.logger.Info("websocket connected", zap.String("remote", r.RemoteAddr))

	events, unsubscribe := h.subscribe(r.RemoteAddr)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.readLoop(conn, cancel)

	if err := h.write(conn, outgoingMessage{Type: "connected", Timestamp: time.Now().Unix()}); err != nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket closed", zap.String("remote", r.RemoteAddr))
			return
		case ev := <-events:
			if err := h.write(conn, ev); err != nil {
				h.logger.Debug("write event failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop 处理 pong 与关闭帧，客户端消息被忽略
func (h *Handler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// handleSSE 以 Server-Sent Events 推送事件
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	h.clients.Add(1)
	defer h.clients.Add(-1)

	events, unsubscribe := h.subscribe(r.RemoteAddr)
	defer unsubscribe()

	if err := utils.SendSSEComment(w, flusher, "connected"); err != nil {
		return
	}

	ticker := time.NewTicker(pingInterval / 2)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := utils.SendSSEEvent(w, flusher, ev.ID, string(ev.Type), ev); err != nil {
				h.logger.Debug("write sse event failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
