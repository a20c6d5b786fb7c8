package chat

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	model "github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	chatsvc "github.com/zhouzirui/supportdesk/backend/internal/service/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/chatclient"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsOutBuffer    = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWebSocket 推送会话消息；首帧为 session 帧，之后客户端发送的 message 帧走 Exchange
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		session, err := h.desk.Sessions().CreateSession(ctx, chatsvc.CreateParams{})
		if err != nil {
			h.logger.Error("create session for websocket", zap.Error(err))
			_ = ws.WriteJSON(chatclient.Frame{Type: chatclient.FrameError, Error: "internal server error"})
			return
		}
		sessionID = session.ID
	} else if _, err := h.desk.Sessions().GetSession(ctx, sessionID); err != nil {
		_ = ws.WriteJSON(chatclient.Frame{Type: chatclient.FrameError, Error: err.Error()})
		return
	}

	out := make(chan chatclient.Frame, wsOutBuffer)
	out <- chatclient.Frame{Type: chatclient.FrameSession, SessionID: sessionID}

	push := func(f chatclient.Frame) {
		select {
		case out <- f:
		case <-ctx.Done():
		}
	}
	unsubscribe := h.desk.OnMessage(func(msg model.Message) {
		if msg.SessionID != sessionID || msg.Sender == model.SenderUser {
			return
		}
		push(chatclient.Frame{Type: chatclient.FrameMessage, Message: &msg})
	})
	defer unsubscribe()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case f := <-out:
				_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := ws.WriteJSON(f); err != nil {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	h.logger.Debug("chat websocket opened", zap.String("session", sessionID))
	for {
		var in chatclient.Frame
		if err := ws.ReadJSON(&in); err != nil {
			break
		}
		if in.Type != chatclient.FrameMessage {
			continue
		}
		if _, err := h.desk.Exchange(ctx, sessionID, in.Text); err != nil {
			push(chatclient.Frame{Type: chatclient.FrameError, ID: in.ID, Error: err.Error()})
		}
	}

	cancel()
	<-writerDone
	h.logger.Debug("chat websocket closed", zap.String("session", sessionID))
}
