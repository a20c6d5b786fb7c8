package intent

import "strings"

// Level is the urgency of a support request.
type Level string

const (
	Low    Level = "low"
	Medium Level = "medium"
	High   Level = "high"
	Urgent Level = "urgent"
)

// Decision is the urgency inferred from conversation text.
type Decision struct {
	Level Level
	Score int
}

var urgencyBuckets = map[Level][]string{
	Urgent: {
		"data loss", "lost all", "lost my notes", "deleted everything", "security breach", "hacked",
		"locked out", "can't log in", "cannot log in", "charged twice", "emergency", "asap", "immediately",
	},
	High: {
		"not working", "broken", "crash", "error", "refund", "cancel", "frustrated", "angry",
		"urgent", "manager", "supervisor", "deadline", "still waiting",
	},
	Medium: {
		"sync", "slow", "billing", "payment", "bug", "missing", "problem", "issue", "help",
	},
}

var levelRank = map[Level]int{Low: 0, Medium: 1, High: 2, Urgent: 3}

// ParseLevel accepts a level name in any case.
func ParseLevel(raw string) (Level, bool) {
	l := Level(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := levelRank[l]; ok {
		return l, true
	}
	return "", false
}

// Urgency scores the user's recent messages. Repeated exclamation marks push toward High.
func Urgency(messages ...string) Decision {
	scores := make(map[Level]int)
	exclamations := 0
	for _, text := range messages {
		normalized := strings.ToLower(strings.TrimSpace(text))
		if normalized == "" {
			continue
		}
		for level, keywords := range urgencyBuckets {
			for _, kw := range keywords {
				if strings.Contains(normalized, kw) {
					scores[level] += 3
				}
			}
		}
		exclamations += strings.Count(text, "!")
	}
	if exclamations >= 2 {
		scores[High] += exclamations
	}

	best := Decision{Level: Low}
	for level, s := range scores {
		if s > best.Score || (s == best.Score && s > 0 && levelRank[level] > levelRank[best.Level]) {
			best = Decision{Level: level, Score: s}
		}
	}
	return best
}
