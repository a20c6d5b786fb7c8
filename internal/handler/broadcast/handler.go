// Package broadcast serves the realtime dashboard WebSocket and its REST companions.
package broadcast

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/supportdesk/backend/internal/service/broadcast"
	"github.com/zhouzirui/supportdesk/backend/pkg/utils"
)

const writeTimeout = 10 * time.Second

// Handler 实时广播HTTP处理器
type Handler struct {
	hub      *broadcast.Hub
	started  time.Time
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func New(hub *broadcast.Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub:     hub,
		started: time.Now(),
		logger:  logger.Named("broadcast.http"),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册广播路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleWebSocket)
	r.Get("/ws", h.handleWebSocket)
	r.Get("/status", h.handleStatus)
	r.Get("/clients", h.handleClients)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":    "running",
		"clients":   h.hub.Len(),
		"uptime":    time.Since(h.started).Seconds(),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (h *Handler) handleClients(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.hub.Clients())
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := &wsConn{ws: ws}
	id := h.hub.Register("", conn)
	ws.SetPongHandler(func(string) error {
		h.hub.MarkAlive(id)
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read failed", zap.String("client", id), zap.Error(err))
			}
			break
		}
		h.hub.HandleInbound(id, data)
	}
	h.hub.Unregister(id, conn)
}

// wsConn adapts a gorilla connection to broadcast.Conn.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *wsConn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
