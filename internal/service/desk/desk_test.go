package desk_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/model/support"
	chatsvc "github.com/zhouzirui/supportdesk/backend/internal/service/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/desk"
	"github.com/zhouzirui/supportdesk/backend/internal/service/handoff"
	"github.com/zhouzirui/supportdesk/backend/internal/service/resolve"
	"github.com/zhouzirui/supportdesk/backend/internal/service/triage"
	"github.com/zhouzirui/supportdesk/backend/internal/store"
)

func newDesk(t *testing.T, roster []handoff.Agent) *desk.Desk {
	t.Helper()
	return newDeskWithNotifier(t, roster, nil)
}

func newDeskWithNotifier(t *testing.T, roster []handoff.Agent, notifier handoff.Notifier) *desk.Desk {
	t.Helper()
	ctx := context.Background()
	cfg := config.Defaults()

	sessions, err := chatsvc.NewService(ctx, store.NewMemory(), nil, nil)
	require.NoError(t, err)
	engine := resolve.NewEngine(support.NewMemoryStore(support.Seed()), cfg.Resolve, nil, nil)
	router := handoff.NewRouter(roster, cfg.Handoff, notifier, nil, nil)
	tr, err := triage.NewService(ctx, nil, cfg.AI, nil)
	require.NoError(t, err)

	return desk.New(sessions, engine, router, tr, nil)
}

func TestExchangeStoresQuickAnswer(t *testing.T) {
	d := newDesk(t, handoff.DefaultRoster())
	ctx := context.Background()

	var published []chat.Kind
	d.OnMessage(func(m chat.Message) { published = append(published, m.Kind()) })

	ex, err := d.Exchange(ctx, "", "How much does Reflect cost?")
	require.NoError(t, err)
	require.NotEmpty(t, ex.SessionID)
	assert.False(t, ex.ShouldEscalate)
	assert.Equal(t, chat.StatusSent, ex.UserMessage.Status)
	require.NotEmpty(t, ex.Responses)
	assert.Equal(t, chat.KindQuickAnswer, ex.Responses[0].Kind())

	messages, err := d.Sessions().Messages(ctx, ex.SessionID)
	require.NoError(t, err)
	// welcome, visitor, replies; the typing indicator is not stored
	assert.Len(t, messages, 2+len(ex.Responses))
	for _, m := range messages {
		assert.NotEqual(t, chat.KindTyping, m.Kind())
	}
	assert.Contains(t, published, chat.KindTyping)
}

func TestExchangeSanitizesAndRejectsEmpty(t *testing.T) {
	d := newDesk(t, handoff.DefaultRoster())

	_, err := d.Exchange(context.Background(), "", "<script>alert(1)</script>")
	assert.ErrorIs(t, err, chatsvc.ErrTextRequired)

	ex, err := d.Exchange(context.Background(), "", "<b>backlinks</b>")
	require.NoError(t, err)
	assert.Equal(t, "backlinks", ex.UserMessage.Text)
}

func TestExchangeUnknownSession(t *testing.T) {
	d := newDesk(t, handoff.DefaultRoster())
	_, err := d.Exchange(context.Background(), "missing", "hello")
	assert.ErrorIs(t, err, chatsvc.ErrSessionNotFound)
}

func TestExchangeEscalatesToAgent(t *testing.T) {
	d := newDesk(t, handoff.DefaultRoster())
	ctx := context.Background()

	ex, err := d.Exchange(ctx, "", "sync keeps failing on my devices")
	require.NoError(t, err)
	assert.True(t, ex.ShouldEscalate)

	last := ex.Responses[len(ex.Responses)-1]
	require.Equal(t, chat.KindEscalation, last.Kind())
	meta := last.Meta.(chat.EscalationMeta)
	assert.NotEmpty(t, meta.AgentID)
	assert.NotEmpty(t, meta.TicketID)

	session, err := d.Sessions().GetSession(ctx, ex.SessionID)
	require.NoError(t, err)
	assert.Equal(t, chat.SessionEscalated, session.Status)
	assert.Equal(t, meta.AgentID, session.AssignedAgentID)
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, handoff.Agent, handoff.Request, string) error {
	return errors.New("pager unreachable")
}

func TestFailedHandoffLeavesSessionActive(t *testing.T) {
	d := newDeskWithNotifier(t, handoff.DefaultRoster(), failingNotifier{})
	ctx := context.Background()

	ex, err := d.Exchange(ctx, "", "sync keeps failing on my devices")
	require.NoError(t, err)
	assert.True(t, ex.ShouldEscalate)

	last := ex.Responses[len(ex.Responses)-1]
	assert.Equal(t, handoff.ApologyMessage, last.Text)
	assert.Equal(t, chat.KindText, last.Kind())

	session, err := d.Sessions().GetSession(ctx, ex.SessionID)
	require.NoError(t, err)
	assert.Equal(t, chat.SessionActive, session.Status)
	assert.Empty(t, session.AssignedAgentID)

	for _, a := range d.Router().Roster() {
		for _, orig := range handoff.DefaultRoster() {
			if a.ID == orig.ID {
				assert.Equal(t, orig.CurrentLoad, a.CurrentLoad, "load released for %s", a.ID)
			}
		}
	}
}

func TestRequestHumanQueuesWhenNobodyIsFree(t *testing.T) {
	roster := []handoff.Agent{{ID: "a", Name: "Busy Bee", Status: handoff.AgentBusy, MaxLoad: 1}}
	d := newDesk(t, roster)
	ctx := context.Background()

	session, err := d.Sessions().CreateSession(ctx, chatsvc.CreateParams{})
	require.NoError(t, err)

	msg, err := d.RequestHuman(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, chat.KindEscalation, msg.Kind())
	meta := msg.Meta.(chat.EscalationMeta)
	assert.Empty(t, meta.AgentID)
	assert.Contains(t, meta.TicketID, "-QUEUE-")
	assert.Equal(t, 5, meta.EstimatedWaitMinutes)
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"estimatedWaitTime":5`)
	assert.Contains(t, msg.Text, "5 minutes")

	_, err = d.RequestHuman(ctx, "missing")
	assert.ErrorIs(t, err, chatsvc.ErrSessionNotFound)
}

func TestAssistWithoutSessionIsNotStored(t *testing.T) {
	d := newDesk(t, handoff.DefaultRoster())

	reply, err := d.Assist(context.Background(), desk.AssistRequest{Message: "how do backlinks work?"})
	require.NoError(t, err)
	assert.Empty(t, reply.UserMessage.SessionID)
	assert.Equal(t, chat.SenderAgent, reply.AgentMessage.Sender)
	assert.NotNil(t, reply.SuggestedActions)
	assert.Empty(t, d.Sessions().ListSessions(context.Background(), 0))
}

func TestAssistUnknownSession(t *testing.T) {
	d := newDesk(t, handoff.DefaultRoster())
	_, err := d.Assist(context.Background(), desk.AssistRequest{Message: "hi", SessionID: "missing"})
	assert.ErrorIs(t, err, chatsvc.ErrSessionNotFound)
}

func TestStreamStoresReply(t *testing.T) {
	d := newDesk(t, handoff.DefaultRoster())
	ctx := context.Background()
	session, err := d.Sessions().CreateSession(ctx, chatsvc.CreateParams{})
	require.NoError(t, err)

	var streamed strings.Builder
	reply, err := d.Stream(ctx, desk.AssistRequest{Message: "tell me about backlinks", SessionID: session.ID}, func(chunk string) error {
		streamed.WriteString(chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, reply.AgentMessage.Text, streamed.String())

	messages, err := d.Sessions().Messages(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, reply.AgentMessage.ID, messages[len(messages)-1].ID)
}

func TestLocalTransportDeliversReplies(t *testing.T) {
	d := newDesk(t, handoff.DefaultRoster())
	ctx := context.Background()

	conn, err := desk.LocalTransport{Desk: d}.Connect(ctx, "")
	require.NoError(t, err)
	defer conn.Close()
	require.NotEmpty(t, conn.SessionID())

	require.NoError(t, conn.Send(ctx, chat.Message{Text: "How much does Reflect cost?"}))

	var kinds []chat.Kind
	for len(conn.Messages()) > 0 {
		m := <-conn.Messages()
		assert.Equal(t, conn.SessionID(), m.SessionID)
		assert.NotEqual(t, chat.SenderUser, m.Sender)
		kinds = append(kinds, m.Kind())
	}
	assert.Equal(t, chat.KindTyping, kinds[0])
	assert.Contains(t, kinds, chat.KindQuickAnswer)

	_, err = desk.LocalTransport{Desk: d}.Connect(ctx, "missing")
	assert.ErrorIs(t, err, chatsvc.ErrSessionNotFound)
}
