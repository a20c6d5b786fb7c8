// Package desk runs a support exchange end to end: store the visitor's message,
// resolve a reply, and hand the session to a human when the reply calls for it.
package desk

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/supportdesk/backend/internal/eventbus"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	chatsvc "github.com/zhouzirui/supportdesk/backend/internal/service/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/handoff"
	"github.com/zhouzirui/supportdesk/backend/internal/service/resolve"
	"github.com/zhouzirui/supportdesk/backend/internal/service/triage"
	"github.com/zhouzirui/supportdesk/backend/pkg/utils"
)

var (
	assignedActions = []string{"Wait for agent", "Continue with AI assistant", "Leave a message"}
	queuedActions   = []string{"Continue with AI", "Browse help articles", "Check status page"}
	apologyActions  = []string{"Email support@reflect.app", "Try again later"}
)

// Exchange is the result of one visitor message.
type Exchange struct {
	SessionID      string         `json:"sessionId"`
	UserMessage    chat.Message   `json:"userMessage"`
	Responses      []chat.Message `json:"responses"`
	ShouldEscalate bool           `json:"shouldEscalate"`
}

// AssistRequest asks for a generated reply. SessionID is optional; without it the
// exchange is not stored and PreviousMessages is used as history.
type AssistRequest struct {
	Message          string
	SessionID        string
	UserID           string
	PreviousMessages []chat.Message
}

// AssistReply mirrors the assist endpoint's response body.
type AssistReply struct {
	UserMessage      chat.Message  `json:"userMessage"`
	AgentMessage     chat.Message  `json:"agentMessage"`
	Escalation       *chat.Message `json:"escalation,omitempty"`
	ShouldEscalate   bool          `json:"shouldEscalate"`
	SuggestedActions []string      `json:"suggestedActions"`
}

// Desk wires the session store, the resolution engine and the handoff router.
type Desk struct {
	sessions *chatsvc.Service
	engine   *resolve.Engine
	router   *handoff.Router
	triage   *triage.Service
	events   *eventbus.Bus[chat.Message]
	logger   *zap.Logger
}

// New builds a Desk. triage may be nil, in which case handoffs use medium urgency.
func New(sessions *chatsvc.Service, engine *resolve.Engine, router *handoff.Router, tr *triage.Service, logger *zap.Logger) *Desk {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Desk{
		sessions: sessions,
		engine:   engine,
		router:   router,
		triage:   tr,
		events:   eventbus.New[chat.Message]("desk.messages", logger),
		logger:   logger.Named("desk"),
	}
}

// Sessions exposes the session store.
func (d *Desk) Sessions() *chatsvc.Service { return d.sessions }

// Engine exposes the resolution engine.
func (d *Desk) Engine() *resolve.Engine { return d.engine }

// Router exposes the handoff router.
func (d *Desk) Router() *handoff.Router { return d.router }

// OnMessage subscribes to every message the desk stores, plus transient typing indicators.
func (d *Desk) OnMessage(fn func(chat.Message)) (unsubscribe func()) {
	return d.events.Subscribe(fn)
}

// Exchange stores the visitor's text, resolves replies and escalates when needed.
// An empty sessionID opens a new session.
func (d *Desk) Exchange(ctx context.Context, sessionID, text string) (Exchange, error) {
	text = utils.SanitizeText(text)
	if text == "" {
		return Exchange{}, chatsvc.ErrTextRequired
	}

	if sessionID == "" {
		session, err := d.sessions.CreateSession(ctx, chatsvc.CreateParams{})
		if err != nil {
			return Exchange{}, err
		}
		sessionID = session.ID
	}

	userMsg, err := d.append(ctx, sessionID, chat.Message{Text: text, Sender: chat.SenderUser, Status: chat.StatusSent})
	if err != nil {
		return Exchange{}, err
	}
	d.typing(sessionID)

	res := d.engine.Resolve(ctx, text)
	out := Exchange{SessionID: sessionID, UserMessage: userMsg, ShouldEscalate: res.Escalate}
	for _, msg := range res.Messages {
		stored, err := d.append(ctx, sessionID, msg)
		if err != nil {
			return Exchange{}, err
		}
		out.Responses = append(out.Responses, stored)
	}

	if res.Escalate {
		escalation, err := d.escalate(ctx, sessionID, res.Category, handoff.ReasonEscalation)
		if err != nil {
			return Exchange{}, err
		}
		out.Responses = append(out.Responses, escalation)
	}
	return out, nil
}

// Assist answers with the generative path. Generator failures never surface as errors.
func (d *Desk) Assist(ctx context.Context, req AssistRequest) (AssistReply, error) {
	text := utils.SanitizeText(req.Message)
	if text == "" {
		return AssistReply{}, chatsvc.ErrTextRequired
	}

	history := req.PreviousMessages
	if req.SessionID != "" {
		messages, err := d.sessions.Messages(ctx, req.SessionID)
		if err != nil {
			return AssistReply{}, err
		}
		history = messages
	}

	res := d.engine.Assist(ctx, history, text)
	return d.finishAssist(ctx, req, text, res)
}

// Stream is Assist with the reply written incrementally through emit.
func (d *Desk) Stream(ctx context.Context, req AssistRequest, emit func(string) error) (AssistReply, error) {
	text := utils.SanitizeText(req.Message)
	if text == "" {
		return AssistReply{}, chatsvc.ErrTextRequired
	}

	history := req.PreviousMessages
	if req.SessionID != "" {
		messages, err := d.sessions.Messages(ctx, req.SessionID)
		if err != nil {
			return AssistReply{}, err
		}
		history = messages
	}

	res, err := d.engine.AssistStream(ctx, history, text, emit)
	if err != nil {
		return AssistReply{}, err
	}
	return d.finishAssist(ctx, req, text, res)
}

func (d *Desk) finishAssist(ctx context.Context, req AssistRequest, text string, res resolve.Resolution) (AssistReply, error) {
	now := time.Now().UTC()
	userMsg := chat.Message{Text: text, Sender: chat.SenderUser, Status: chat.StatusSent, Timestamp: now, SessionID: req.SessionID}
	agentMsg := res.Messages[0]
	agentMsg.SessionID = req.SessionID
	if agentMsg.Timestamp.IsZero() {
		agentMsg.Timestamp = now
	}

	reply := AssistReply{
		ShouldEscalate:   res.Escalate,
		SuggestedActions: agentMsg.SuggestedActions(),
	}
	if reply.SuggestedActions == nil {
		reply.SuggestedActions = []string{}
	}

	if req.SessionID == "" {
		reply.UserMessage, reply.AgentMessage = userMsg, agentMsg
		if res.Escalate {
			d.logger.Info("escalation suggested for anonymous assist request", zap.String("user", req.UserID))
		}
		return reply, nil
	}

	var err error
	if reply.UserMessage, err = d.append(ctx, req.SessionID, userMsg); err != nil {
		return AssistReply{}, err
	}
	if reply.AgentMessage, err = d.append(ctx, req.SessionID, agentMsg); err != nil {
		return AssistReply{}, err
	}
	if res.Escalate {
		escalation, err := d.escalate(ctx, req.SessionID, res.Category, handoff.ReasonEscalation)
		if err != nil {
			return AssistReply{}, err
		}
		reply.Escalation = &escalation
	}
	return reply, nil
}

// RequestHuman escalates on the visitor's explicit request.
func (d *Desk) RequestHuman(ctx context.Context, sessionID string) (chat.Message, error) {
	if _, err := d.sessions.GetSession(ctx, sessionID); err != nil {
		return chat.Message{}, err
	}
	return d.escalate(ctx, sessionID, "", handoff.ReasonUserRequest)
}

func (d *Desk) escalate(ctx context.Context, sessionID, category string, reason handoff.Reason) (chat.Message, error) {
	session, err := d.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Message{}, err
	}

	urgency := handoff.UrgencyMedium
	if d.triage != nil {
		assessment := d.triage.Assess(ctx, session.Messages, lastUserText(session.Messages))
		urgency = handoff.Urgency(assessment.Urgency)
		if category == "" {
			category = assessment.Category
		}
	}

	result := d.router.RequestHandoff(ctx, handoff.Request{
		SessionID: session.ID,
		UserID:    session.UserID,
		Reason:    reason,
		Category:  category,
		Urgency:   urgency,
		Messages:  session.Messages,
	})

	msg := chat.Message{Text: result.Message, Sender: chat.SenderSystem}
	switch {
	case !result.Success:
		msg.Meta = chat.TextMeta{SuggestedActions: apologyActions}
	case result.Agent != nil:
		msg.Meta = chat.EscalationMeta{AgentID: result.Agent.ID, TicketID: result.TicketID, SuggestedActions: assignedActions}
	default:
		msg.Meta = chat.EscalationMeta{TicketID: result.TicketID, EstimatedWaitMinutes: int(result.EstimatedWait.Minutes()), SuggestedActions: queuedActions}
	}

	return d.append(ctx, sessionID, msg)
}

func (d *Desk) append(ctx context.Context, sessionID string, msg chat.Message) (chat.Message, error) {
	stored, err := d.sessions.AppendMessage(ctx, sessionID, msg)
	if err != nil {
		return chat.Message{}, err
	}
	d.events.Publish(stored)
	return stored, nil
}

func (d *Desk) typing(sessionID string) {
	d.events.Publish(chat.Message{
		SessionID: sessionID,
		Sender:    chat.SenderAgent,
		Timestamp: time.Now().UTC(),
		Meta:      chat.TypingMeta{},
	})
}

func lastUserText(messages []chat.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Sender == chat.SenderUser {
			return messages[i].Text
		}
	}
	return ""
}
