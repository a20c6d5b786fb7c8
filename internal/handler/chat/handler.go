package chat

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	chatsvc "github.com/zhouzirui/supportdesk/backend/internal/service/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/desk"
	"github.com/zhouzirui/supportdesk/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	desk   *desk.Desk
	logger *zap.Logger
}

// New 创建聊天处理器
func New(d *desk.Desk, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{desk: d, logger: logger.Named("chat.http")}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions", h.handleGetSessions)
	r.Post("/sessions/{sessionID}/handoff", h.handleHandoff)
	r.Post("/sessions/{sessionID}/resolve", h.handleResolve)
	r.Post("/sessions/{sessionID}/close", h.handleClose)
	r.Post("/messages", h.handlePostMessage)
	r.Get("/messages", h.handleGetMessages)
	r.Get("/ws", h.handleWebSocket)
}

// handleCreateSession 创建会话，请求体可以为空
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID   string         `json:"userId"`
		Referrer string         `json:"referrer"`
		Metadata map[string]any `json:"metadata"`
	}
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(w, r, &payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	session, err := h.desk.Sessions().CreateSession(r.Context(), chatsvc.CreateParams{
		UserID:   payload.UserID,
		Referrer: payload.Referrer,
		Metadata: payload.Metadata,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleGetSessions 按 sessionId 查询会话；未指定时返回最近活跃的会话列表
func (h *Handler) handleGetSessions(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		sessions := h.desk.Sessions().ListSessions(r.Context(), queryLimit(r))
		utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
		return
	}

	session, err := h.desk.Sessions().GetSession(r.Context(), sessionID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handlePostMessage 保存用户消息并同步返回回复
func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Text      any    `json:"text"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	text, ok := payload.Text.(string)
	if !ok || text == "" {
		utils.RespondError(w, http.StatusBadRequest, "message text is required")
		return
	}

	exchange, err := h.desk.Exchange(r.Context(), payload.SessionID, text)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, exchange)
}

// handleGetMessages 返回会话消息；未指定会话时返回全局最近的消息
func (h *Handler) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		messages := h.desk.Sessions().RecentMessages(r.Context(), queryLimit(r))
		utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
		return
	}

	messages, err := h.desk.Sessions().Messages(r.Context(), sessionID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// handleHandoff 用户主动请求人工客服
func (h *Handler) handleHandoff(w http.ResponseWriter, r *http.Request) {
	msg, err := h.desk.RequestHuman(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, msg)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	session, err := h.desk.Sessions().Resolve(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	session, err := h.desk.Sessions().Close(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("chat request failed", zap.Error(err))
		utils.RespondError(w, status, "internal server error")
		return
	}
	utils.RespondError(w, status, err.Error())
}

// StatusFor 将服务层错误映射为 HTTP 状态码
func StatusFor(err error) int {
	switch {
	case errors.Is(err, chatsvc.ErrTextRequired):
		return http.StatusBadRequest
	case errors.Is(err, chatsvc.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatsvc.ErrSessionClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}
