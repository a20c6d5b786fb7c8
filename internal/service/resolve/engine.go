// Package resolve turns an inbound support message into agent replies using the
// knowledge base, the topic catalog and, optionally, a text generator.
package resolve

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
	"github.com/zhouzirui/supportdesk/backend/internal/metrics"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/model/support"
)

// Path names the branch that produced a resolution.
type Path string

const (
	PathQuickAnswer Path = "quick_answer"
	PathTopic       Path = "topic"
	PathClarify     Path = "clarify"
	PathGenerated   Path = "generated"
	PathFallback    Path = "fallback"
)

var articleActions = []string{"Show full article", "Find more articles", "Ask a specific question"}

// Resolution is the engine's answer to one inbound message. Messages is never empty.
type Resolution struct {
	Path       Path
	Messages   []chat.Message
	Confidence float64
	Category   string
	Escalate   bool
}

// Engine resolves inbound messages against a support catalog.
type Engine struct {
	store     support.Store
	cfg       config.ResolveConfig
	generator Generator
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// Option customises an Engine.
type Option func(*Engine)

// WithGenerator enables the generative assist path.
func WithGenerator(g Generator) Option {
	return func(e *Engine) { e.generator = g }
}

// NewEngine builds an engine over store.
func NewEngine(store support.Store, cfg config.ResolveConfig, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:   store,
		cfg:     cfg,
		logger:  logger.Named("resolve"),
		metrics: m,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the catalog the engine answers from.
func (e *Engine) Store() support.Store { return e.store }

// Search runs a knowledge base search.
func (e *Engine) Search(query string) SearchResult { return Search(e.store, query) }

// Match runs topic matching with the configured minimum score.
func (e *Engine) Match(input string) Match { return MatchTopic(e.store, input, e.cfg.TopicMinScore) }

// Resolve answers input with a quick answer, a topic response or a clarifying menu, in that order.
func (e *Engine) Resolve(_ context.Context, input string) Resolution {
	res := e.resolve(input)
	e.metrics.RecordResolution(string(res.Path))
	e.logger.Debug("resolved message",
		zap.String("path", string(res.Path)),
		zap.Float64("confidence", res.Confidence),
		zap.Bool("escalate", res.Escalate))
	return res
}

func (e *Engine) resolve(input string) Resolution {
	search := e.Search(input)
	if len(search.QuickAnswers) > 0 && search.QuickAnswers[0].Score > e.cfg.QuickAnswerMin {
		qa := search.QuickAnswers[0]
		res := Resolution{
			Path:       PathQuickAnswer,
			Confidence: qa.Confidence,
			Category:   qa.Category,
			Messages: []chat.Message{{
				Text:   qa.Answer,
				Sender: chat.SenderAgent,
				Meta: chat.QuickAnswerMeta{
					Confidence:       qa.Confidence,
					Category:         qa.Category,
					QuickAnswerID:    qa.ID,
					SuggestedActions: qa.FollowUpQuestions,
				},
			}},
		}
		if len(search.Articles) > 0 {
			res.Messages = append(res.Messages, e.articlePreview(search.Articles[0].Article))
		}
		return res
	}

	match := e.Match(input)
	if match.Topic != nil && match.Confidence > e.cfg.TopicMinConfidence {
		return Resolution{
			Path:       PathTopic,
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
		}
	}

	return Resolution{
		Path:       PathClarify,
		Confidence: 0.3,
		Messages: []chat.Message{{
			Text:   support.ClarifyMenu(e.store.Categories()),
			Sender: chat.SenderAgent,
			Meta: chat.TextMeta{
				Confidence:       0.3,
				SuggestedActions: support.ClarifyActions,
			},
		}},
	}
}

func (e *Engine) articlePreview(a support.Article) chat.Message {
	return chat.Message{
		Text:   "📚 **Related Article:** " + a.Title + "\n\n" + Preview(a.Content, e.cfg.PreviewChars) + "\n\n*Would you like me to show you the complete article?*",
		Sender: chat.SenderAgent,
		Meta: chat.ArticleMeta{
			ArticleID:        a.ID,
			Category:         a.Category,
			SuggestedActions: articleActions,
		},
	}
}

// Preview returns the first n characters of content followed by an ellipsis.
func Preview(content string, n int) string {
	runes := []rune(strings.TrimSpace(content))
	if n > 0 && len(runes) > n {
		runes = runes[:n]
	}
	return string(runes) + "..."
}
