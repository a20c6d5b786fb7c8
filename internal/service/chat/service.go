package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/supportdesk/backend/internal/metrics"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/model/support"
	"github.com/zhouzirui/supportdesk/backend/internal/store"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session is closed")
	ErrTextRequired    = errors.New("message text is required")
)

// MaxRecentMessages caps RecentMessages.
const MaxRecentMessages = 50

const sessionKeyPrefix = "session:"

// CreateParams describes a new session.
type CreateParams struct {
	UserID   string
	Referrer string
	Metadata map[string]any
}

// Service owns chat sessions and their message history. Sessions are cached in
// memory and written through to the key-value store on every mutation.
type Service struct {
	kv      store.KV
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*chat.Session
}

// NewService loads persisted sessions from kv. Entries that cannot be decoded are skipped.
func NewService(ctx context.Context, kv store.KV, logger *zap.Logger, m *metrics.Metrics) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		kv:       kv,
		logger:   logger.Named("sessions"),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*chat.Session),
	}

	entries, err := kv.Scan(ctx, sessionKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	for _, e := range entries {
		var session chat.Session
		if err := json.Unmarshal(e.Value, &session); err != nil {
			s.logger.Warn("skipping unreadable session", zap.String("key", e.Key), zap.Error(err))
			continue
		}
		s.sessions[session.ID] = &session
	}
	return s, nil
}

// CreateSession opens a session and seeds it with the welcome message.
func (s *Service) CreateSession(ctx context.Context, params CreateParams) (chat.Session, error) {
	now := s.now()
	session := &chat.Session{
		ID:           uuid.NewString(),
		UserID:       params.UserID,
		Status:       chat.SessionActive,
		StartTime:    now,
		LastActivity: now,
		Context:      chat.SessionContext{Referrer: params.Referrer},
		Metadata:     params.Metadata,
	}
	session.Messages = []chat.Message{{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Text:      support.Welcome,
		Sender:    chat.SenderAgent,
		Timestamp: now,
		Meta:      chat.TextMeta{SuggestedActions: support.WelcomeActions},
	}}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persistLocked(ctx, session); err != nil {
		return chat.Session{}, err
	}
	s.sessions[session.ID] = session
	s.metrics.RecordSession()
	return session.Clone(), nil
}

// AppendMessage adds msg to the end of the session history. Timestamps never go
// backwards within a session: an older timestamp is raised to the last one.
func (s *Service) AppendMessage(ctx context.Context, sessionID string, msg chat.Message) (chat.Message, error) {
	if strings.TrimSpace(msg.Text) == "" && msg.Kind() != chat.KindTyping {
		return chat.Message{}, ErrTextRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Message{}, ErrSessionNotFound
	}
	if session.Status == chat.SessionClosed {
		return chat.Message{}, ErrSessionClosed
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.SessionID = sessionID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	if n := len(session.Messages); n > 0 && msg.Timestamp.Before(session.Messages[n-1].Timestamp) {
		msg.Timestamp = session.Messages[n-1].Timestamp
	}

	updated := session.Clone()
	updated.Messages = append(updated.Messages, msg)
	updated.LastActivity = msg.Timestamp
	if msg.Sender == chat.SenderUser {
		updated.Context.PreviousQueries = append(updated.Context.PreviousQueries, msg.Text)
	}
	// only a handoff outcome escalates; a reply that merely suggests one does not
	if meta, ok := msg.Meta.(chat.EscalationMeta); ok {
		if updated.Status == chat.SessionActive {
			updated.Status = chat.SessionEscalated
		}
		if meta.AgentID != "" {
			updated.AssignedAgentID = meta.AgentID
		}
	}

	if err := s.persistLocked(ctx, &updated); err != nil {
		return chat.Message{}, err
	}
	s.sessions[sessionID] = &updated
	s.metrics.RecordMessage(string(msg.Sender))
	return msg, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// Messages returns the session history in insertion order.
func (s *Service) Messages(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return append([]chat.Message(nil), session.Messages...), nil
}

// RecentMessages returns the newest messages across every session, oldest first.
// limit is capped at MaxRecentMessages.
func (s *Service) RecentMessages(_ context.Context, limit int) []chat.Message {
	if limit <= 0 || limit > MaxRecentMessages {
		limit = MaxRecentMessages
	}

	s.mu.RLock()
	var all []chat.Message
	for _, session := range s.sessions {
		all = append(all, session.Messages...)
	}
	s.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

// ListSessions returns sessions with the most recent activity first, without their messages.
func (s *Service) ListSessions(_ context.Context, limit int) []chat.Session {
	if limit <= 0 || limit > MaxRecentMessages {
		limit = MaxRecentMessages
	}

	s.mu.RLock()
	out := make([]chat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		summary := session.Clone()
		summary.Messages = nil
		out = append(out, summary)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MarkEscalated flags the session as handed off, optionally to a specific agent.
func (s *Service) MarkEscalated(ctx context.Context, sessionID, agentID string) (chat.Session, error) {
	return s.update(ctx, sessionID, func(session *chat.Session) error {
		if session.Status == chat.SessionClosed {
			return ErrSessionClosed
		}
		session.Status = chat.SessionEscalated
		if agentID != "" {
			session.AssignedAgentID = agentID
		}
		return nil
	})
}

// Resolve marks the session as resolved. Resolved sessions still accept messages.
func (s *Service) Resolve(ctx context.Context, sessionID string) (chat.Session, error) {
	return s.update(ctx, sessionID, func(session *chat.Session) error {
		if session.Status == chat.SessionClosed {
			return ErrSessionClosed
		}
		session.Status = chat.SessionResolved
		return nil
	})
}

// Close ends the session. Sessions are never deleted.
func (s *Service) Close(ctx context.Context, sessionID string) (chat.Session, error) {
	return s.update(ctx, sessionID, func(session *chat.Session) error {
		session.Status = chat.SessionClosed
		return nil
	})
}

func (s *Service) update(ctx context.Context, sessionID string, fn func(*chat.Session) error) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}

	updated := session.Clone()
	if err := fn(&updated); err != nil {
		return chat.Session{}, err
	}
	updated.LastActivity = s.now()

	if err := s.persistLocked(ctx, &updated); err != nil {
		return chat.Session{}, err
	}
	s.sessions[sessionID] = &updated
	return updated.Clone(), nil
}

func (s *Service) persistLocked(ctx context.Context, session *chat.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}
	if err := s.kv.Set(ctx, sessionKeyPrefix+session.ID, data); err != nil {
		return fmt.Errorf("persist session %s: %w", session.ID, err)
	}
	return nil
}
