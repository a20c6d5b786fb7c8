package broadcast

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler drives the generators and the hub heartbeat from one cron engine.
type Scheduler struct {
	hub        *Hub
	generators []Generator
	heartbeat  time.Duration
	cron       *cron.Cron
	logger     *zap.Logger
	now        func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// SchedulerOption customises a Scheduler.
type SchedulerOption func(*Scheduler)

// WithRand fixes the random source, mainly for tests.
func WithRand(r *rand.Rand) SchedulerOption {
	return func(s *Scheduler) { s.rng = r }
}

// WithClock replaces time.Now for generated timestamps.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(hub *Hub, generators []Generator, heartbeat time.Duration, logger *zap.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		hub:        hub,
		generators: generators,
		heartbeat:  heartbeat,
		cron:       cron.New(cron.WithLocation(time.UTC)),
		logger:     logger.Named("scheduler"),
		now:        time.Now,
		rng:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tick runs one generator immediately. It reports whether a payload was published.
func (s *Scheduler) Tick(g Generator) bool {
	s.mu.Lock()
	if g.Chance < 1 && s.rng.Float64() >= g.Chance {
		s.mu.Unlock()
		return false
	}
	payload := g.Generate(s.rng, s.now())
	s.mu.Unlock()

	s.hub.Broadcast(g.Topic, payload)
	return true
}

// Run schedules every generator plus the heartbeat and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, g := range s.generators {
		if g.Every <= 0 {
			return fmt.Errorf("generator %s: period must be positive", g.Topic)
		}
		s.cron.Schedule(cron.Every(g.Every), cron.FuncJob(func() { s.Tick(g) }))
	}
	if s.heartbeat > 0 {
		s.cron.Schedule(cron.Every(s.heartbeat), cron.FuncJob(s.hub.Heartbeat))
	}

	s.logger.Info("broadcast scheduler started",
		zap.Int("generators", len(s.generators)),
		zap.Duration("heartbeat", s.heartbeat))
	s.cron.Start()

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("broadcast scheduler stopped")
	return nil
}
