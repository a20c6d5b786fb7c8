// Package knowledge exposes the help center catalog.
package knowledge

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/supportdesk/backend/internal/model/support"
	"github.com/zhouzirui/supportdesk/backend/internal/service/resolve"
	"github.com/zhouzirui/supportdesk/backend/pkg/utils"
)

const (
	defaultPopular = 5
	relatedLimit   = 3
)

// Handler 知识库HTTP处理器
type Handler struct {
	engine *resolve.Engine
}

func New(engine *resolve.Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes 注册知识库路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/search", h.handleSearch)
	r.Get("/popular", h.handlePopular)
	r.Get("/categories", h.handleCategories)
	r.Get("/categories/{categoryID}/articles", h.handleCategoryArticles)
	r.Get("/articles/{articleID}", h.handleArticle)
}

// CategorySummary 分类及其文章数量
type CategorySummary struct {
	support.Category
	ArticleCount int `json:"articleCount"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		utils.RespondError(w, http.StatusBadRequest, "q query parameter is required")
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.engine.Search(query))
}

func (h *Handler) handlePopular(w http.ResponseWriter, r *http.Request) {
	limit := defaultPopular
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"articles": support.Popular(h.engine.Store(), limit)})
}

func (h *Handler) handleCategories(w http.ResponseWriter, r *http.Request) {
	store := h.engine.Store()
	categories := store.Categories()
	out := make([]CategorySummary, len(categories))
	for i, c := range categories {
		out[i] = CategorySummary{Category: c, ArticleCount: len(support.ByCategory(store, c.ID))}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"categories": out})
}

func (h *Handler) handleCategoryArticles(w http.ResponseWriter, r *http.Request) {
	categoryID := chi.URLParam(r, "categoryID")
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"category": categoryID,
		"articles": support.ByCategory(h.engine.Store(), categoryID),
	})
}

func (h *Handler) handleArticle(w http.ResponseWriter, r *http.Request) {
	articleID := chi.URLParam(r, "articleID")
	article, ok := h.engine.Store().FindArticle(articleID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "article not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"article": article,
		"related": support.Related(h.engine.Store(), articleID, relatedLimit),
	})
}
