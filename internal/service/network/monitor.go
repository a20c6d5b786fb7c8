// Package network tracks whether the chat backend is reachable.
package network

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
	"github.com/zhouzirui/supportdesk/backend/internal/eventbus"
	"github.com/zhouzirui/supportdesk/backend/internal/metrics"
)

// Status is the last observed reachability.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Prober performs a single reachability check.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// HTTPProber issues a HEAD request and treats any 2xx response as reachable.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func (p HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe %s: unexpected status %d", p.URL, resp.StatusCode)
	}
	return nil
}

// Monitor combines edge-triggered OS connectivity events with periodic probes.
// Subscribers hear about a status only when it differs from the previous one.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	status Status
	bus    *eventbus.Bus[Status]
}

// NewMonitor creates a monitor in the unknown state.
func NewMonitor(prober Prober, cfg config.NetworkConfig, logger *zap.Logger, m *metrics.Metrics) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("network")
	m.SetNetworkStatus(-1)
	return &Monitor{
		prober:   prober,
		interval: cfg.ProbeInterval,
		timeout:  cfg.ProbeTimeout,
		logger:   logger,
		metrics:  m,
		status:   StatusUnknown,
		bus:      eventbus.New[Status]("network.status", logger),
	}
}

// Status returns the current status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Monitor) IsOnline() bool  { return m.Status() == StatusOnline }
func (m *Monitor) IsOffline() bool { return m.Status() == StatusOffline }

// Report feeds an OS-level connectivity event into the monitor.
func (m *Monitor) Report(online bool) {
	if online {
		m.logger.Info("network back online")
		m.set(StatusOnline)
		return
	}
	m.logger.Info("network gone offline")
	m.set(StatusOffline)
}

// Check runs one probe bounded by the configured timeout and reports whether the backend is reachable.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.IsOnline()
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	if err := m.prober.Probe(ctx); err != nil {
		m.logger.Debug("reachability probe failed", zap.Error(err))
		m.set(StatusOffline)
		return false
	}
	m.set(StatusOnline)
	return true
}

// Run probes immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// OnChange registers fn for status transitions.
func (m *Monitor) OnChange(fn func(Status)) (unsubscribe func()) {
	return m.bus.Subscribe(fn)
}

func (m *Monitor) set(status Status) {
	m.mu.Lock()
	if m.status == status {
		m.mu.Unlock()
		return
	}
	m.status = status
	m.mu.Unlock()

	switch status {
	case StatusOnline:
		m.metrics.SetNetworkStatus(1)
	case StatusOffline:
		m.metrics.SetNetworkStatus(0)
	}
	m.bus.Publish(status)
}
