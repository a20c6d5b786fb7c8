package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zhouzirui/supportdesk/backend/internal/handler/agents"
	broadcastHandler "github.com/zhouzirui/supportdesk/backend/internal/handler/broadcast"
	"github.com/zhouzirui/supportdesk/backend/internal/handler/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/handler/knowledge"
	"github.com/zhouzirui/supportdesk/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/supportdesk/backend/internal/middleware"
	"github.com/zhouzirui/supportdesk/backend/internal/service/broadcast"
	"github.com/zhouzirui/supportdesk/backend/internal/service/desk"
	"github.com/zhouzirui/supportdesk/backend/pkg/utils"
)

// Options configures the API router.
type Options struct {
	CORSOrigins []string
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter wires HTTP routes to the support desk.
func NewRouter(d *desk.Desk, opts Options) http.Handler {
	r := newBaseRouter(opts)

	chatHandler := chat.New(d, opts.Logger)
	streamHandler := stream.New(d, opts.Logger)
	knowledgeHandler := knowledge.New(d.Engine())
	agentsHandler := agents.New(d.Router())

	r.Route("/chat", func(cr chi.Router) {
		chatHandler.RegisterRoutes(cr)
		streamHandler.RegisterRoutes(cr)
	})
	r.Route("/api", func(api chi.Router) {
		api.Route("/knowledge", knowledgeHandler.RegisterRoutes)
		api.Route("/agents", agentsHandler.RegisterRoutes)
	})
	return r
}

// NewBroadcastRouter serves the realtime dashboard feed.
func NewBroadcastRouter(hub *broadcast.Hub, opts Options) http.Handler {
	r := newBaseRouter(opts)
	h := broadcastHandler.New(hub, opts.Logger)
	h.RegisterRoutes(r)
	r.Route("/api", h.RegisterRoutes)
	return r
}

func newBaseRouter(opts Options) chi.Router {
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(opts.CORSOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}
