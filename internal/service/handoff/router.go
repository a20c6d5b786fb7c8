// Package handoff assigns escalated conversations to human agents.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
	"github.com/zhouzirui/supportdesk/backend/internal/metrics"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
)

// ErrAgentNotFound is returned by roster operations on an unknown agent id.
var ErrAgentNotFound = errors.New("agent not found")

// ApologyMessage is returned when the handoff itself fails.
const ApologyMessage = "Sorry, there was an issue connecting you with our support team. Please try again or email us directly at support@reflect.app"

type AgentStatus string

const (
	AgentAvailable AgentStatus = "available"
	AgentBusy      AgentStatus = "busy"
	AgentOffline   AgentStatus = "offline"
)

// Agent is a human support agent on the roster.
type Agent struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Status      AgentStatus `json:"status"`
	Specialties []string    `json:"specialties"`
	CurrentLoad int         `json:"currentLoad"`
	MaxLoad     int         `json:"maxLoad"`
}

func (a Agent) eligible() bool {
	return a.Status == AgentAvailable && a.CurrentLoad < a.MaxLoad
}

func (a Agent) clone() Agent {
	a.Specialties = slices.Clone(a.Specialties)
	return a
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
	UrgencyUrgent Urgency = "urgent"
)

type Reason string

const (
	ReasonEscalation   Reason = "escalation"
	ReasonUserRequest  Reason = "user_request"
	ReasonComplexIssue Reason = "complex_issue"
	ReasonBilling      Reason = "billing"
	ReasonTechnical    Reason = "technical"
)

// Request asks for a human to take over a session.
type Request struct {
	SessionID string
	UserID    string
	UserEmail string
	Reason    Reason
	Category  string
	Urgency   Urgency
	Messages  []chat.Message
}

// Result is the outcome shown to the visitor. Agent is nil when the request was queued or failed.
type Result struct {
	Success       bool          `json:"success"`
	Agent         *Agent        `json:"agent,omitempty"`
	EstimatedWait time.Duration `json:"estimatedWaitTime"`
	TicketID      string        `json:"ticketId,omitempty"`
	Message       string        `json:"message"`
}

// Stats counts agents by availability.
type Stats struct {
	Available int `json:"available"`
	Busy      int `json:"busy"`
	Offline   int `json:"offline"`
}

// Notifier tells an agent about a new assignment.
type Notifier interface {
	Notify(ctx context.Context, agent Agent, req Request, ticketID string) error
}

// LogNotifier records assignments in the log.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, agent Agent, req Request, ticketID string) error {
	if n.Logger != nil {
		n.Logger.Info("agent notified of handoff",
			zap.String("agent", agent.Name),
			zap.String("ticket", ticketID),
			zap.String("session", req.SessionID),
			zap.String("reason", string(req.Reason)),
			zap.String("urgency", string(req.Urgency)))
	}
	return nil
}

// DefaultRoster is the built-in team.
func DefaultRoster() []Agent {
	return []Agent{
		{ID: "agent-1", Name: "Sarah Chen", Email: "sarah@reflect.app", Status: AgentAvailable,
			Specialties: []string{"technical", "features", "ai-assistant"}, CurrentLoad: 2, MaxLoad: 5},
		{ID: "agent-2", Name: "Mike Rodriguez", Email: "mike@reflect.app", Status: AgentAvailable,
			Specialties: []string{"billing", "account", "integrations"}, CurrentLoad: 1, MaxLoad: 4},
		{ID: "agent-3", Name: "Emma Thompson", Email: "emma@reflect.app", Status: AgentBusy,
			Specialties: []string{"getting-started", "sync-backup", "mobile"}, CurrentLoad: 3, MaxLoad: 3},
	}
}

// Router owns the agent roster and its load counters.
type Router struct {
	cfg      config.HandoffConfig
	notifier Notifier
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu     sync.Mutex
	agents []Agent
}

// NewRouter copies roster; the router is the only writer of agent state afterwards.
func NewRouter(roster []Agent, cfg config.HandoffConfig, notifier Notifier, logger *zap.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("handoff")
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	if cfg.TicketPrefix == "" {
		cfg.TicketPrefix = "TICKET"
	}

	agents := make([]Agent, len(roster))
	for i, a := range roster {
		agents[i] = a.clone()
	}
	return &Router{
		cfg:      cfg,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		agents:   agents,
	}
}

// RequestHandoff assigns the best eligible agent or queues a ticket. It never
// returns an error; failures produce an apology result.
func (r *Router) RequestHandoff(ctx context.Context, req Request) Result {
	agent, ok := r.reserve(req)
	if !ok {
		wait := r.EstimateWait()
		ticketID := r.ticketID("QUEUE")
		r.logger.Info("handoff queued",
			zap.String("ticket", ticketID),
			zap.String("session", req.SessionID),
			zap.Duration("wait", wait))
		r.metrics.RecordHandoff("queued")
		return Result{
			Success:       true,
			EstimatedWait: wait,
			TicketID:      ticketID,
			Message: fmt.Sprintf("All our agents are currently helping other customers. You're in the queue and the estimated wait time is %d minutes. We'll connect you with the next available agent.",
				int(wait.Minutes())),
		}
	}

	ticketID := r.ticketID("")
	if err := r.notifier.Notify(ctx, agent, req, ticketID); err != nil {
		r.logger.Error("agent notification failed, releasing assignment",
			zap.String("agent", agent.ID),
			zap.String("ticket", ticketID),
			zap.Error(err))
		_ = r.Release(agent.ID)
		r.metrics.RecordHandoff("failed")
		return Result{Success: false, Message: ApologyMessage}
	}

	r.metrics.RecordHandoff("assigned")
	return Result{
		Success:  true,
		Agent:    &agent,
		TicketID: ticketID,
		Message: fmt.Sprintf("Great! I'm connecting you with %s, who specializes in %s. They'll be with you shortly.",
			agent.Name, strings.Join(agent.Specialties, ", ")),
	}
}

// reserve scores the eligible agents and increments the winner's load in one critical section.
func (r *Router) reserve(req Request) (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := -1
	bestScore := math.Inf(-1)
	for i, a := range r.agents {
		if !a.eligible() {
			continue
		}
		if s := r.score(a, req); s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return Agent{}, false
	}

	r.agents[best].CurrentLoad++
	return r.agents[best].clone(), true
}

func (r *Router) score(a Agent, req Request) float64 {
	var score float64
	if req.Category != "" && slices.Contains(a.Specialties, req.Category) {
		score += r.cfg.SpecialtyBonus
	}
	score -= r.cfg.LoadPenalty * float64(a.CurrentLoad)
	if req.Urgency == UrgencyUrgent && len(a.Specialties) > r.cfg.GeneralistMin {
		score += r.cfg.UrgentBonus
	}
	return score
}

// EstimateWait derives a queue wait from the number of busy agents.
func (r *Router) EstimateWait() time.Duration {
	busy := r.Stats().Busy
	return max(time.Duration(busy)*r.cfg.WaitPerBusy, r.cfg.MinWait)
}

// Release frees one unit of load on the agent.
func (r *Router) Release(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(agentID)
	if i < 0 {
		return ErrAgentNotFound
	}
	if r.agents[i].CurrentLoad > 0 {
		r.agents[i].CurrentLoad--
	}
	return nil
}

// SetStatus changes an agent's availability.
func (r *Router) SetStatus(agentID string, status AgentStatus) error {
	switch status {
	case AgentAvailable, AgentBusy, AgentOffline:
	default:
		return fmt.Errorf("invalid agent status %q", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(agentID)
	if i < 0 {
		return ErrAgentNotFound
	}
	r.agents[i].Status = status
	r.logger.Info("agent status updated", zap.String("agent", r.agents[i].Name), zap.String("status", string(status)))
	return nil
}

// Roster returns a snapshot of every agent.
func (r *Router) Roster() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Agent, len(r.agents))
	for i, a := range r.agents {
		out[i] = a.clone()
	}
	return out
}

// Stats counts agents by availability. Agents at capacity count as busy.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var st Stats
	for _, a := range r.agents {
		switch {
		case a.Status == AgentOffline:
			st.Offline++
		case a.Status == AgentBusy || a.CurrentLoad >= a.MaxLoad:
			st.Busy++
		default:
			st.Available++
		}
	}
	return st
}

func (r *Router) indexLocked(agentID string) int {
	for i := range r.agents {
		if r.agents[i].ID == agentID {
			return i
		}
	}
	return -1
}

func (r *Router) ticketID(kind string) string {
	parts := []string{r.cfg.TicketPrefix}
	if kind != "" {
		parts = append(parts, kind)
	}
	parts = append(parts, fmt.Sprint(r.now().UnixMilli()), uuid.NewString()[:8])
	return strings.Join(parts, "-")
}
