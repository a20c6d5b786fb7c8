// Package intent derives support signals (category, urgency, escalation, follow-up actions) from chat text.
package intent

import (
	"regexp"
	"strings"
)

// GeneralCategory is returned when no category keyword matches.
const GeneralCategory = "general"

// MaxActions caps ExtractActions.
const MaxActions = 3

type categoryRule struct {
	id       string
	keywords []string
}

// Checked in order; the first matching category wins.
var categoryRules = []categoryRule{
	{"getting-started", []string{"install", "setup", "first", "begin", "start"}},
	{"features", []string{"feature", "how to", "backlink", "note", "search"}},
	{"ai-assistant", []string{"ai", "assistant", "smart", "help writing"}},
	{"sync-backup", []string{"sync", "backup", "device", "cloud"}},
	{"billing", []string{"price", "cost", "plan", "billing", "payment"}},
	{"technical", []string{"bug", "error", "broken", "slow", "crash"}},
	{"account", []string{"login", "password", "account", "security"}},
}

var escalationKeywords = []string{
	"billing", "refund", "cancel", "delete account", "data loss", "bug", "broken",
	"not working", "frustrated", "angry", "speak to human", "human agent", "manager", "supervisor",
}

var escalationReplyPhrases = []string{"human support", "contact our team", "escalate"}

var actionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)try (.*?)(?:\.|$)`),
	regexp.MustCompile(`(?i)you can (.*?)(?:\.|$)`),
	regexp.MustCompile(`(?i)consider (.*?)(?:\.|$)`),
	regexp.MustCompile(`(?i)check (.*?)(?:\.|$)`),
}

var missingSpaceAfterPeriod = regexp.MustCompile(`\.([A-Z])`)

// Categorize maps a user message to a support category id.
func Categorize(message string) string {
	lower := strings.ToLower(message)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.id
			}
		}
	}
	return GeneralCategory
}

// ShouldEscalate reports whether the user asked for something a human must handle
// or the generated reply itself points at human support.
func ShouldEscalate(userMessage, reply string) bool {
	user := strings.ToLower(userMessage)
	for _, kw := range escalationKeywords {
		if strings.Contains(user, kw) {
			return true
		}
	}
	lowerReply := strings.ToLower(reply)
	for _, phrase := range escalationReplyPhrases {
		if strings.Contains(lowerReply, phrase) {
			return true
		}
	}
	return false
}

// ExtractActions pulls up to MaxActions short imperative suggestions out of a reply.
func ExtractActions(reply string) []string {
	var actions []string
	for _, pattern := range actionPatterns {
		for _, m := range pattern.FindAllStringSubmatch(reply, -1) {
			action := strings.TrimSpace(m[1])
			if len(action) > 10 && len(action) < 50 {
				actions = append(actions, action)
			}
		}
	}

	if strings.Contains(reply, "feature") {
		actions = append(actions, "Learn about Pro features")
	}
	if strings.Contains(reply, "sync") {
		actions = append(actions, "Check sync status")
	}
	if strings.Contains(reply, "AI") {
		actions = append(actions, "Try AI assistant")
	}

	if len(actions) > MaxActions {
		actions = actions[:MaxActions]
	}
	return actions
}

// FormatReply tidies generated text before it is shown to the visitor.
func FormatReply(text string) string {
	formatted := strings.TrimSpace(text)
	formatted = missingSpaceAfterPeriod.ReplaceAllString(formatted, ". $1")
	if strings.Contains(formatted, "welcome") || strings.Contains(formatted, "hello") {
		formatted = "👋 " + formatted
	}
	return formatted
}
