// Package aitest provides a scripted chat model for tests.
package aitest

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Model replays a fixed reply. Chunks, when set, are used for streaming;
// otherwise Stream yields Reply as one chunk.
type Model struct {
	Reply  string
	Chunks []string
	Err    error

	mu    sync.Mutex
	calls [][]*schema.Message
}

var _ model.ChatModel = (*Model)(nil)

func (m *Model) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.record(input)
	if m.Err != nil {
		return nil, m.Err
	}
	return schema.AssistantMessage(m.Reply, nil), nil
}

func (m *Model) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.record(input)
	if m.Err != nil {
		return nil, m.Err
	}
	chunks := m.Chunks
	if len(chunks) == 0 {
		chunks = []string{m.Reply}
	}
	msgs := make([]*schema.Message, 0, len(chunks))
	for _, c := range chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (m *Model) BindTools([]*schema.ToolInfo) error { return nil }

// LastInput returns the messages passed on the most recent call.
func (m *Model) LastInput() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

func (m *Model) record(input []*schema.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, input)
}
