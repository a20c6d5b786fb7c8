// Package stream serves the generative assist endpoints, including the chunked
// streaming variant.
package stream

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	chatsvc "github.com/zhouzirui/supportdesk/backend/internal/service/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/desk"
	"github.com/zhouzirui/supportdesk/backend/pkg/utils"
)

// Handler manages assist requests and streamed replies.
type Handler struct {
	desk   *desk.Desk
	logger *zap.Logger
}

// New creates a new stream handler
func New(d *desk.Desk, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{desk: d, logger: logger.Named("stream")}
}

// RegisterRoutes mounts POST and GET /ai.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/ai", h.handleAssist)
	r.Get("/ai", h.handleStream)
}

// StreamEvent is the payload of each SSE event.
type StreamEvent struct {
	SessionID string            `json:"sessionId,omitempty"`
	Content   string            `json:"content,omitempty"`
	Reply     *desk.AssistReply `json:"reply,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func (h *Handler) handleAssist(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message          any            `json:"message"`
		SessionID        string         `json:"sessionId"`
		UserID           string         `json:"userId"`
		PreviousMessages []chat.Message `json:"previousMessages"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	message, ok := payload.Message.(string)
	if !ok || utils.SanitizeText(message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "Message is required")
		return
	}

	reply, err := h.desk.Assist(r.Context(), desk.AssistRequest{
		Message:          message,
		SessionID:        payload.SessionID,
		UserID:           payload.UserID,
		PreviousMessages: payload.PreviousMessages,
	})
	if err != nil {
		h.respondError(w, err, "Failed to process chat message")
		return
	}
	utils.RespondJSON(w, http.StatusOK, reply)
}

// handleStream writes the reply as plain text chunks, or as SSE events when the
// client accepts text/event-stream.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	message := r.URL.Query().Get("message")
	sessionID := r.URL.Query().Get("sessionId")
	if utils.SanitizeText(message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "Message is required")
		return
	}
	if sessionID != "" {
		if _, err := h.desk.Sessions().GetSession(r.Context(), sessionID); err != nil {
			h.respondError(w, err, "Failed to stream response")
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	req := desk.AssistRequest{Message: message, SessionID: sessionID}
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		h.streamSSE(w, r, flusher, req)
		return
	}

	utils.SetupTextStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	if _, err := h.desk.Stream(r.Context(), req, func(chunk string) error {
		return utils.WriteTextChunk(w, flusher, chunk)
	}); err != nil {
		h.logger.Warn("text stream aborted", zap.String("session", sessionID), zap.Error(err))
	}
}

func (h *Handler) streamSSE(w http.ResponseWriter, r *http.Request, flusher http.Flusher, req desk.AssistRequest) {
	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := utils.SendSSEEvent(w, flusher, "start", StreamEvent{SessionID: req.SessionID}); err != nil {
		return
	}

	reply, err := h.desk.Stream(r.Context(), req, func(chunk string) error {
		return utils.SendSSEEvent(w, flusher, "delta", StreamEvent{SessionID: req.SessionID, Content: chunk})
	})
	if err != nil {
		h.logger.Warn("sse stream aborted", zap.String("session", req.SessionID), zap.Error(err))
		_ = utils.SendSSEEvent(w, flusher, "error", StreamEvent{SessionID: req.SessionID, Error: "Failed to stream response"})
		return
	}
	_ = utils.SendSSEEvent(w, flusher, "end", StreamEvent{SessionID: req.SessionID, Reply: &reply})
}

func (h *Handler) respondError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, chatsvc.ErrTextRequired):
		utils.RespondError(w, http.StatusBadRequest, "Message is required")
	case errors.Is(err, chatsvc.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatsvc.ErrSessionClosed):
		utils.RespondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("assist request failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, fallback)
	}
}
