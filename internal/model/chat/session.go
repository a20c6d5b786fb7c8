package chat

import "time"

// SessionStatus is the lifecycle state of a conversation.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionEscalated SessionStatus = "escalated"
	SessionResolved  SessionStatus = "resolved"
	SessionClosed    SessionStatus = "closed"
)

// SessionContext carries what the desk learned about the visitor.
type SessionContext struct {
	PreviousQueries []string `json:"previousQueries,omitempty"`
	Referrer        string   `json:"referrer,omitempty"`
}

// Session is one conversation between a visitor and the support desk.
type Session struct {
	ID              string         `json:"id"`
	UserID          string         `json:"userId,omitempty"`
	Status          SessionStatus  `json:"status"`
	StartTime       time.Time      `json:"createdAt"`
	LastActivity    time.Time      `json:"lastActivity"`
	Messages        []Message      `json:"messages"`
	Context         SessionContext `json:"context"`
	AssignedAgentID string         `json:"assignedAgentId,omitempty"`
	// Metadata is free-form JSON supplied by the widget.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy that shares no slices or maps with s.
func (s Session) Clone() Session {
	out := s
	out.Messages = append([]Message(nil), s.Messages...)
	out.Context.PreviousQueries = append([]string(nil), s.Context.PreviousQueries...)
	if s.Metadata != nil {
		out.Metadata = cloneValue(s.Metadata).(map[string]any)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
