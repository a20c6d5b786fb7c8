package ai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/model/support"
)

// DefaultHistoryLimit is how many prior turns are sent to the model.
const DefaultHistoryLimit = 6

// Service generates support replies through an eino chain.
type Service struct {
	cfg          config.AIConfig
	chain        compose.Runnable[map[string]any, *schema.Message]
	system       string
	historyLimit int
	logger       *zap.Logger
}

// NewService compiles the prompt + chat model chain. chatModel is usually built
// with config.AIConfig.NewChatModel and may be shared with the triage classifier.
func NewService(ctx context.Context, chatModel model.BaseChatModel, categories []support.Category, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}

	return &Service{
		cfg:          cfg,
		chain:        runnable,
		system:       SystemPrompt(categories),
		historyLimit: historyLimit,
		logger:       logger.Named("ai"),
	}, nil
}

// StreamingEnabled 指示是否开启流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// Generate returns a complete reply to query given the conversation so far.
func (s *Service) Generate(ctx context.Context, history []chat.Message, query string) (string, error) {
	response, err := s.chain.Invoke(ctx, s.buildChainInput(history, query))
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil {
		return "", errors.New("model returned no message")
	}

	s.logger.Debug("generated reply", zap.Int("history", len(history)), zap.Int("length", len(response.Content)))
	return response.Content, nil
}

// Stream emits reply chunks as the model produces them. When streaming is
// disabled the full reply is emitted as a single chunk.
func (s *Service) Stream(ctx context.Context, history []chat.Message, query string, emit func(string) error) error {
	if !s.StreamingEnabled() {
		text, err := s.Generate(ctx, history, query)
		if err != nil {
			return err
		}
		return emit(text)
	}

	stream, err := s.chain.Stream(ctx, s.buildChainInput(history, query))
	if err != nil {
		return fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive stream chunk: %w", err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		if err := emit(chunk.Content); err != nil {
			return err
		}
	}
}

func (s *Service) buildChainInput(history []chat.Message, query string) map[string]any {
	return map[string]any{
		"system":  s.system,
		"history": s.buildHistoryMessages(history),
		"query":   query,
	}
}

func (s *Service) buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > s.historyLimit {
		startIdx = len(messages) - s.historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		if msg.Text == "" || msg.Kind() == chat.KindTyping {
			continue
		}
		if msg.Sender == chat.SenderUser {
			history = append(history, schema.UserMessage(msg.Text))
		} else {
			history = append(history, schema.AssistantMessage(msg.Text, nil))
		}
	}
	return history
}
