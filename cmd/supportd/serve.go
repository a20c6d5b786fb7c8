package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
	"github.com/zhouzirui/supportdesk/backend/internal/handler"
	"github.com/zhouzirui/supportdesk/backend/internal/metrics"
	"github.com/zhouzirui/supportdesk/backend/internal/model/support"
	"github.com/zhouzirui/supportdesk/backend/internal/service/ai"
	"github.com/zhouzirui/supportdesk/backend/internal/service/broadcast"
	chatsvc "github.com/zhouzirui/supportdesk/backend/internal/service/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/desk"
	"github.com/zhouzirui/supportdesk/backend/internal/service/handoff"
	"github.com/zhouzirui/supportdesk/backend/internal/service/resolve"
	"github.com/zhouzirui/supportdesk/backend/internal/service/triage"
	"github.com/zhouzirui/supportdesk/backend/internal/store"
)

const shutdownTimeout = 10 * time.Second

func runServers(cmd *cobra.Command, opts *rootOptions, api, dashboard bool) error {
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.Global()
	g, ctx := errgroup.WithContext(ctx)

	if api {
		d, closeDesk, err := buildDesk(ctx, cfg, logger, m)
		if err != nil {
			return err
		}
		defer closeDesk()

		router := handler.NewRouter(d, handler.Options{CORSOrigins: cfg.Server.CORSOrigins, Logger: logger})
		g.Go(func() error {
			return runServer(ctx, logger.Named("api"), newHTTPServer(cfg.Server.Addr, router))
		})
	}

	if dashboard {
		hub := broadcast.NewHub(logger, m)
		defer hub.Close()

		scheduler := broadcast.NewScheduler(hub, broadcast.DefaultGenerators(cfg.Broadcast), cfg.Broadcast.Heartbeat, logger)
		router := handler.NewBroadcastRouter(hub, handler.Options{CORSOrigins: cfg.Server.CORSOrigins, Logger: logger})
		g.Go(func() error { return scheduler.Run(ctx) })
		g.Go(func() error {
			return runServer(ctx, logger.Named("broadcast"), newHTTPServer(cfg.Broadcast.Addr, router))
		})
	}

	return g.Wait()
}

// buildDesk 组装存储、知识库、模型与人工转接。
func buildDesk(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*desk.Desk, func(), error) {
	kv, err := store.Open(ctx, store.Config{
		Driver:     cfg.Store.Driver,
		SQLitePath: cfg.Store.SQLitePath,
		RedisAddr:  cfg.Store.RedisAddr,
		RedisPass:  cfg.Store.RedisPassword,
		RedisDB:    cfg.Store.RedisDB,
		Prefix:     cfg.Store.Prefix,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	closeStore := func() {
		if err := kv.Close(); err != nil {
			logger.Warn("store close failed", zap.Error(err))
		}
	}
	logger.Info("store opened", zap.String("driver", cfg.Store.Driver))

	catalog := support.Seed()
	if cfg.Resolve.CatalogPath != "" {
		catalog, err = support.LoadFile(cfg.Resolve.CatalogPath)
		if err != nil {
			closeStore()
			return nil, nil, fmt.Errorf("load catalog: %w", err)
		}
		logger.Info("catalog loaded", zap.String("path", cfg.Resolve.CatalogPath))
	}
	catalogStore := support.NewMemoryStore(catalog)

	sessions, err := chatsvc.NewService(ctx, kv, logger, m)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	var engineOpts []resolve.Option
	var tr *triage.Service
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			logger.Warn("chat model unavailable, continuing without AI assistance", zap.Error(err))
		} else {
			if gen, err := ai.NewService(ctx, chatModel, catalog.Categories, cfg.AI, logger); err != nil {
				logger.Warn("AI service init failed", zap.Error(err))
			} else {
				engineOpts = append(engineOpts, resolve.WithGenerator(gen))
				logger.Info("AI service initialized", zap.String("model", cfg.AI.Model))
			}
			if tr, err = triage.NewService(ctx, chatModel, cfg.AI, logger); err != nil {
				logger.Warn("triage classifier init failed, using keyword rules", zap.Error(err))
				tr = nil
			}
		}
	} else {
		logger.Info("Ark credentials not configured, AI assistance disabled")
	}
	if tr == nil {
		// 关键词规则不会出错
		tr, _ = triage.NewService(ctx, nil, cfg.AI, logger)
	}

	engine := resolve.NewEngine(catalogStore, cfg.Resolve, logger, m, engineOpts...)
	router := handoff.NewRouter(handoff.DefaultRoster(), cfg.Handoff, nil, logger, m)
	return desk.New(sessions, engine, router, tr, logger), closeStore, nil
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func runServer(ctx context.Context, logger *zap.Logger, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		logger.Info("server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s: %w", srv.Addr, err)
	}
}
