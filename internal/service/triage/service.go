package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/supportdesk/backend/internal/analysis/intent"
	"github.com/zhouzirui/supportdesk/backend/internal/config"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
)

// Assessment 表示一次会话的紧急程度判断。
type Assessment struct {
	Urgency    intent.Level
	Category   string
	Confidence float32
	Reason     string
}

// Service 使用大模型判断转人工请求的紧急程度，并在必要时回退到关键词规则。
type Service struct {
	enabled      bool
	classifier   compose.Runnable[map[string]any, *schema.Message]
	historyLimit int
	logger       *zap.Logger
}

// NewService 创建分诊服务。chatModel 可重用现有的大模型实例，为 nil 时只使用关键词规则。
func NewService(ctx context.Context, chatModel model.BaseChatModel, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 6
	}

	svc := &Service{
		enabled:      cfg.TriageEnabled && chatModel != nil,
		historyLimit: historyLimit,
		logger:       logger.Named("triage"),
	}
	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(triageSystemPrompt),
		schema.UserMessage(triageUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile triage classifier chain: %w", err)
	}

	svc.classifier = runnable
	return svc, nil
}

// Enabled 返回是否启用了模型分诊。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.classifier != nil
}

// Assess 根据历史对话与最新输入判断紧急程度。
func (s *Service) Assess(ctx context.Context, history []chat.Message, userMessage string) Assessment {
	if !s.Enabled() {
		return s.fallback(history, userMessage)
	}

	input := map[string]any{
		"history":      formatHistory(history, s.historyLimit),
		"user_message": strings.TrimSpace(userMessage),
	}

	msg, err := s.classifier.Invoke(ctx, input)
	if err != nil {
		s.logger.Warn("classifier invoke failed, use fallback", zap.Error(err))
		return s.fallback(history, userMessage)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.fallback(history, userMessage)
	}

	result, err := parseClassifierOutput(msg.Content)
	if err != nil {
		s.logger.Warn("classifier output parse failed, use fallback", zap.Error(err))
		return s.fallback(history, userMessage)
	}

	level, ok := intent.ParseLevel(result.Urgency)
	if !ok {
		return s.fallback(history, userMessage)
	}

	category := strings.TrimSpace(result.Category)
	if category == "" {
		category = intent.Categorize(userMessage)
	}

	confidence := result.Confidence
	if confidence <= 0 {
		confidence = 0.6
	}
	if confidence > 1 {
		confidence = 1
	}

	return Assessment{
		Urgency:    level,
		Category:   category,
		Confidence: confidence,
		Reason:     strings.TrimSpace(result.Reason),
	}
}

func (s *Service) fallback(history []chat.Message, userMessage string) Assessment {
	texts := recentUserTexts(history, s.historyLimit)
	texts = append(texts, userMessage)
	decision := intent.Urgency(texts...)

	confidence := float32(0.3)
	if decision.Score > 0 {
		confidence = 0.55
	}
	return Assessment{
		Urgency:    decision.Level,
		Category:   intent.Categorize(userMessage),
		Confidence: confidence,
		Reason:     "fallback",
	}
}

// parseClassifierOutput 解析大模型返回的 JSON。
func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func recentUserTexts(messages []chat.Message, limit int) []string {
	var texts []string
	for i := len(messages) - 1; i >= 0 && len(texts) < limit; i-- {
		if messages[i].Sender == chat.SenderUser {
			texts = append(texts, messages[i].Text)
		}
	}
	return texts
}

func formatHistory(messages []chat.Message, limit int) string {
	if len(messages) == 0 {
		return "(no previous messages)"
	}
	if limit < 1 {
		limit = 1
	}
	start := max(len(messages)-limit, 0)

	var lines []string
	for _, msg := range messages[start:] {
		content := strings.TrimSpace(msg.Text)
		if content == "" {
			continue
		}
		role := "Visitor"
		if msg.Sender != chat.SenderUser {
			role = "Support"
		}
		lines = append(lines, role+": "+content)
	}
	if len(lines) == 0 {
		return "(no previous messages)"
	}
	return strings.Join(lines, "\n")
}

type classifierPayload struct {
	Urgency    string  `json:"urgency"`
	Category   string  `json:"category"`
	Confidence float32 `json:"confidence"`
	Reason     string  `json:"reason"`
}

const triageSystemPrompt = "You triage customer support conversations for Reflect, a note-taking app. Read the recent conversation and the visitor's latest message and decide how urgently a human agent must step in.\nOutput only one JSON object with the fields: urgency (one of low/medium/high/urgent), category (one of getting-started/features/ai-assistant/sync-backup/billing/technical/account/general), confidence (a number between 0 and 1), reason (one short sentence). Do not output anything else."

const triageUserPrompt = "Recent conversation:\n{history}\n\nLatest visitor message:\n{user_message}\n\nReturn the JSON."
