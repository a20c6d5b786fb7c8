package chat

import (
	"encoding/json"
	"fmt"
)

// Kind tags the metadata variant attached to a message.
type Kind string

const (
	KindText        Kind = "text"
	KindQuickAnswer Kind = "quick_answer"
	KindArticle     Kind = "article"
	KindEscalation  Kind = "escalation"
	KindTyping      Kind = "typing"
)

// Metadata is implemented by each message variant.
type Metadata interface {
	Kind() Kind
}

// TextMeta accompanies plain replies produced by topic matching or generation.
type TextMeta struct {
	Confidence       float64  `json:"confidence,omitempty"`
	Category         string   `json:"category,omitempty"`
	SuggestedActions []string `json:"suggestedActions,omitempty"`
	Escalate         bool     `json:"isEscalated,omitempty"`
}

func (TextMeta) Kind() Kind { return KindText }

// QuickAnswerMeta accompanies a pre-authored direct answer.
type QuickAnswerMeta struct {
	Confidence       float64  `json:"confidence"`
	Category         string   `json:"category,omitempty"`
	QuickAnswerID    string   `json:"quickAnswerId"`
	SuggestedActions []string `json:"suggestedActions,omitempty"`
}

func (QuickAnswerMeta) Kind() Kind { return KindQuickAnswer }

// ArticleMeta accompanies a knowledge base article preview.
type ArticleMeta struct {
	ArticleID        string   `json:"articleId"`
	Category         string   `json:"category,omitempty"`
	SuggestedActions []string `json:"suggestedActions,omitempty"`
}

func (ArticleMeta) Kind() Kind { return KindArticle }

// EscalationMeta records the outcome of a human handoff. The wait is in whole minutes.
type EscalationMeta struct {
	AgentID              string   `json:"agentId,omitempty"`
	TicketID             string   `json:"ticketId,omitempty"`
	EstimatedWaitMinutes int      `json:"estimatedWaitTime,omitempty"`
	SuggestedActions     []string `json:"suggestedActions,omitempty"`
}

func (EscalationMeta) Kind() Kind { return KindEscalation }

// TypingMeta marks a transient typing indicator.
type TypingMeta struct{}

func (TypingMeta) Kind() Kind { return KindTyping }

func decodeMetadata(kind Kind, raw json.RawMessage) (Metadata, error) {
	if kind == "" {
		kind = KindText
	}

	var (
		meta Metadata
		err  error
	)
	switch kind {
	case KindText:
		var v TextMeta
		err = unmarshalOptional(raw, &v)
		meta = v
	case KindQuickAnswer:
		var v QuickAnswerMeta
		err = unmarshalOptional(raw, &v)
		meta = v
	case KindArticle:
		var v ArticleMeta
		err = unmarshalOptional(raw, &v)
		meta = v
	case KindEscalation:
		var v EscalationMeta
		err = unmarshalOptional(raw, &v)
		meta = v
	case KindTyping:
		meta = TypingMeta{}
	default:
		return nil, fmt.Errorf("unknown message type %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s metadata: %w", kind, err)
	}
	if len(raw) == 0 && kind == KindText {
		return nil, nil
	}
	return meta, nil
}

func unmarshalOptional(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
