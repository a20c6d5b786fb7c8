package resolve

import (
	"math"
	"strings"

	"github.com/zhouzirui/supportdesk/backend/internal/model/support"
)

var (
	helpFollowUp    = []string{"Browse help topics", "Contact human support", "Search documentation"}
	defaultFollowUp = []string{"Browse help topics", "Contact human support", "Try rephrasing your question"}
)

// Match is the best topic for an input, or a generic fallback when nothing scored.
type Match struct {
	Topic      *support.Topic
	Score      float64
	Confidence float64
	Response   string
	FollowUp   []string
	Escalate   bool
}

// Category returns the matched topic's category, if any.
func (m Match) Category() string {
	if m.Topic == nil {
		return ""
	}
	return m.Topic.Category
}

// ScoreTopic sums keyword lengths plus half the length of each title word found in message.
// message must already be lower-cased.
func ScoreTopic(topic support.Topic, message string) float64 {
	score := 0.0
	for _, kw := range topic.Keywords {
		if kw != "" && strings.Contains(message, strings.ToLower(kw)) {
			score += float64(len(kw))
		}
	}
	for _, word := range strings.Split(strings.ToLower(topic.Title), " ") {
		if word != "" && strings.Contains(message, word) {
			score += float64(len(word)) * 0.5
		}
	}
	return score
}

// MatchTopic picks the highest scoring topic. Earlier topics win ties.
func MatchTopic(store support.Store, input string, minScore float64) Match {
	message := strings.ToLower(input)

	var best *support.Topic
	bestScore := 0.0
	topics := store.Topics()
	for i := range topics {
		if score := ScoreTopic(topics[i], message); score > bestScore {
			bestScore = score
			best = &topics[i]
		}
	}

	if best != nil && bestScore > minScore {
		return Match{
			Topic:      best,
			Score:      bestScore,
			Confidence: math.Min(bestScore/10, 1),
			Response:   best.Response,
			FollowUp:   best.FollowUp,
			Escalate:   best.Escalate,
		}
	}

	if strings.Contains(message, "help") || strings.Contains(message, "support") {
		return Match{
			Score:      bestScore,
			Confidence: 0.3,
			Response:   support.HelpMenu(store.Categories()),
			FollowUp:   helpFollowUp,
		}
	}
	return Match{
		Score:      bestScore,
		Confidence: 0.1,
		Response:   support.DefaultReply,
		FollowUp:   defaultFollowUp,
	}
}
