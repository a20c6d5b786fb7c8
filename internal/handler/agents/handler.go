// Package agents exposes roster administration for the handoff router.
package agents

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/supportdesk/backend/internal/service/handoff"
	"github.com/zhouzirui/supportdesk/backend/pkg/utils"
)

// Handler 客服名册HTTP处理器
type Handler struct {
	router *handoff.Router
}

func New(router *handoff.Router) *Handler {
	return &Handler{router: router}
}

// RegisterRoutes 注册客服路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/wait", h.handleWait)
	r.Post("/{agentID}/status", h.handleSetStatus)
	r.Post("/{agentID}/release", h.handleRelease)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"agents": h.router.Roster(),
		"stats":  h.router.Stats(),
	})
}

func (h *Handler) handleWait(w http.ResponseWriter, r *http.Request) {
	wait := h.router.EstimateWait()
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"estimatedWaitMinutes": int(wait.Minutes()),
	})
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status handoff.AgentStatus `json:"status"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.router.SetStatus(chi.URLParam(r, "agentID"), payload.Status); err != nil {
		respondRosterError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"stats": h.router.Stats()})
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	if err := h.router.Release(chi.URLParam(r, "agentID")); err != nil {
		respondRosterError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"stats": h.router.Stats()})
}

func respondRosterError(w http.ResponseWriter, err error) {
	if errors.Is(err, handoff.ErrAgentNotFound) {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondError(w, http.StatusBadRequest, err.Error())
}
