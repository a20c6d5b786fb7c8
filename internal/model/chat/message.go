package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAgent  Sender = "agent"
	SenderSystem Sender = "system"
)

// DeliveryStatus tracks outbound delivery of user messages.
type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSending DeliveryStatus = "sending"
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
)

// Message is a single turn in a support conversation.
type Message struct {
	ID        string
	SessionID string
	Text      string
	Sender    Sender
	Timestamp time.Time
	// Status is only set on outbound user messages.
	Status DeliveryStatus
	// QueueID references the queue entry holding the message until it is delivered.
	QueueID string
	Meta    Metadata
}

// Kind returns the message type derived from its metadata.
func (m Message) Kind() Kind {
	if m.Meta == nil {
		return KindText
	}
	return m.Meta.Kind()
}

// SuggestedActions returns the follow-up prompts carried by the metadata, if any.
func (m Message) SuggestedActions() []string {
	switch meta := m.Meta.(type) {
	case TextMeta:
		return meta.SuggestedActions
	case QuickAnswerMeta:
		return meta.SuggestedActions
	case ArticleMeta:
		return meta.SuggestedActions
	case EscalationMeta:
		return meta.SuggestedActions
	default:
		return nil
	}
}

// Escalates reports whether the message asks for a human handoff.
func (m Message) Escalates() bool {
	switch meta := m.Meta.(type) {
	case TextMeta:
		return meta.Escalate
	case EscalationMeta:
		return true
	default:
		return false
	}
}

type messageJSON struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId,omitempty"`
	Text      string          `json:"text"`
	Sender    Sender          `json:"sender"`
	Timestamp time.Time       `json:"timestamp"`
	Status    DeliveryStatus  `json:"status,omitempty"`
	QueueID   string          `json:"queueId,omitempty"`
	Type      Kind            `json:"type"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// MarshalJSON writes the metadata variant next to its "type" tag.
func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		ID:        m.ID,
		SessionID: m.SessionID,
		Text:      m.Text,
		Sender:    m.Sender,
		Timestamp: m.Timestamp,
		Status:    m.Status,
		QueueID:   m.QueueID,
		Type:      m.Kind(),
	}
	if m.Meta != nil {
		raw, err := json.Marshal(m.Meta)
		if err != nil {
			return nil, fmt.Errorf("marshal %s metadata: %w", m.Kind(), err)
		}
		out.Metadata = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the metadata variant selected by "type".
func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	*m = Message{
		ID:        in.ID,
		SessionID: in.SessionID,
		Text:      in.Text,
		Sender:    in.Sender,
		Timestamp: in.Timestamp,
		Status:    in.Status,
		QueueID:   in.QueueID,
	}

	meta, err := decodeMetadata(in.Type, in.Metadata)
	if err != nil {
		return err
	}
	m.Meta = meta
	return nil
}
