package resolve

import (
	"context"

	"go.uber.org/zap"

	"github.com/zhouzirui/supportdesk/backend/internal/analysis/intent"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
)

// FallbackReply is sent when the generator fails.
const FallbackReply = "I'm having trouble processing your request right now. Let me connect you with our support team for immediate assistance."

var fallbackActions = []string{"Contact human support", "Try again later"}

const generatedConfidence = 0.8

// Generator produces free-text replies. Implementations must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, history []chat.Message, query string) (string, error)
}

// StreamGenerator can also emit a reply incrementally.
type StreamGenerator interface {
	Generator
	Stream(ctx context.Context, history []chat.Message, query string, emit func(string) error) error
}

// Assist answers with a canned topic when one matches confidently, otherwise asks
// the generator. Generator failures degrade to FallbackReply with escalation.
func (e *Engine) Assist(ctx context.Context, history []chat.Message, query string) Resolution {
	if res, ok := e.canned(query); ok {
		e.metrics.RecordResolution(string(res.Path))
		return res
	}

	text, err := e.generator.Generate(ctx, history, query)
	if err != nil {
		e.logger.Warn("generator failed, sending fallback", zap.Error(err))
		res := fallback()
		e.metrics.RecordResolution(string(res.Path))
		return res
	}

	res := e.generated(query, text)
	e.metrics.RecordResolution(string(res.Path))
	return res
}

// AssistStream is Assist with incremental output. Canned and fallback replies are
// emitted as one chunk. The returned Resolution carries the complete reply.
func (e *Engine) AssistStream(ctx context.Context, history []chat.Message, query string, emit func(string) error) (Resolution, error) {
	if res, ok := e.canned(query); ok {
		e.metrics.RecordResolution(string(res.Path))
		return res, emit(res.Messages[0].Text)
	}

	streamer, ok := e.generator.(StreamGenerator)
	if !ok {
		res := e.Assist(ctx, history, query)
		return res, emit(res.Messages[0].Text)
	}

	var (
		full    []byte
		emitErr error
	)
	err := streamer.Stream(ctx, history, query, func(chunk string) error {
		full = append(full, chunk...)
		if err := emit(chunk); err != nil {
			emitErr = err
			return err
		}
		return nil
	})
	if emitErr != nil {
		return Resolution{}, emitErr
	}
	if err != nil {
		e.logger.Warn("generator stream failed, sending fallback", zap.Error(err))
		res := fallback()
		e.metrics.RecordResolution(string(res.Path))
		if len(full) > 0 {
			return res, emit("\n\n" + FallbackReply)
		}
		return res, emit(FallbackReply)
	}

	res := e.generated(query, string(full))
	e.metrics.RecordResolution(string(res.Path))
	return res, nil
}

// canned returns a topic reply when it clears the assist threshold, or a
// help/default reply when no generator is configured.
func (e *Engine) canned(query string) (Resolution, bool) {
	match := e.Match(query)
	if match.Topic == nil || match.Confidence <= e.cfg.AssistConfidence {
		if e.generator != nil {
			return Resolution{}, false
		}
	}

	path := PathTopic
	if match.Topic == nil {
		path = PathClarify
	}
	return Resolution{
		Path:       path,
		Confidence: match.Confidence,
		Category:   match.Category(),
		Escalate:   match.Escalate,
		Messages: []chat.Message{{
			Text:   match.Response,
			Sender: chat.SenderAgent,
			Meta: chat.TextMeta{
				Confidence:       match.Confidence,
				Category:         match.Category(),
				SuggestedActions: match.FollowUp,
				Escalate:         match.Escalate,
			},
		}},
	}, true
}

func (e *Engine) generated(query, text string) Resolution {
	escalate := intent.ShouldEscalate(query, text)
	category := intent.Categorize(query)
	return Resolution{
		Path:       PathGenerated,
		Confidence: generatedConfidence,
		Category:   category,
		Escalate:   escalate,
		Messages: []chat.Message{{
			Text:   intent.FormatReply(text),
			Sender: chat.SenderAgent,
			Meta: chat.TextMeta{
				Confidence:       generatedConfidence,
				Category:         category,
				SuggestedActions: intent.ExtractActions(text),
				Escalate:         escalate,
			},
		}},
	}
}

func fallback() Resolution {
	return Resolution{
		Path:       PathFallback,
		Confidence: 0.3,
		Escalate:   true,
		Messages: []chat.Message{{
			Text:   FallbackReply,
			Sender: chat.SenderAgent,
			Meta: chat.TextMeta{
				Confidence:       0.3,
				SuggestedActions: fallbackActions,
				Escalate:         true,
			},
		}},
	}
}
