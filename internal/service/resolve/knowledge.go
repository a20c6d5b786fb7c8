package resolve

import (
	"math"
	"sort"
	"strings"

	"github.com/zhouzirui/supportdesk/backend/internal/model/support"
)

const (
	quickAnswerCutoff = 0.3
	articleCutoff     = 0.2
	maxQuickAnswers   = 3
	maxArticles       = 5
)

// ScoredQuickAnswer pairs a quick answer with its relevance to a query.
type ScoredQuickAnswer struct {
	support.QuickAnswer
	Score float64 `json:"score"`
}

// ScoredArticle pairs an article with its relevance to a query.
type ScoredArticle struct {
	support.Article
	Score float64 `json:"score"`
}

// SearchResult is the outcome of a knowledge base search.
type SearchResult struct {
	QuickAnswers []ScoredQuickAnswer `json:"quickAnswers"`
	Articles     []ScoredArticle     `json:"articles"`
	Confidence   float64             `json:"confidence"`
}

// Search ranks quick answers and articles against query.
func Search(store support.Store, query string) SearchResult {
	normalized := strings.ToLower(strings.TrimSpace(query))
	result := SearchResult{QuickAnswers: []ScoredQuickAnswer{}, Articles: []ScoredArticle{}}
	if normalized == "" {
		return result
	}

	for _, qa := range store.QuickAnswers() {
		score := Relevance(normalized, qa.Question, qa.Answer, qa.Category, nil)
		if score > quickAnswerCutoff {
			result.QuickAnswers = append(result.QuickAnswers, ScoredQuickAnswer{QuickAnswer: qa, Score: score})
		}
	}
	sort.SliceStable(result.QuickAnswers, func(i, j int) bool {
		return result.QuickAnswers[i].Score > result.QuickAnswers[j].Score
	})
	if len(result.QuickAnswers) > maxQuickAnswers {
		result.QuickAnswers = result.QuickAnswers[:maxQuickAnswers]
	}

	for _, a := range store.Articles() {
		score := Relevance(normalized, a.Title, a.Content, a.Category, a.Tags)
		if score > articleCutoff {
			result.Articles = append(result.Articles, ScoredArticle{Article: a, Score: score})
		}
	}
	sort.SliceStable(result.Articles, func(i, j int) bool {
		return result.Articles[i].Score > result.Articles[j].Score
	})
	if len(result.Articles) > maxArticles {
		result.Articles = result.Articles[:maxArticles]
	}

	if len(result.QuickAnswers) > 0 {
		result.Confidence = result.QuickAnswers[0].Score
	}
	if len(result.Articles) > 0 && result.Articles[0].Score > result.Confidence {
		result.Confidence = result.Articles[0].Score
	}
	return result
}

// Relevance scores a lower-cased query against one knowledge entry, in [0, 1].
// Query words shorter than three characters are ignored.
func Relevance(query, title, content, category string, tags []string) float64 {
	var words []string
	for _, w := range strings.Split(query, " ") {
		if len(w) > 2 {
			words = append(words, w)
		}
	}

	titleLower := strings.ToLower(title)
	contentLower := strings.ToLower(content)
	categoryLower := strings.ToLower(category)

	score := 0.0
	for _, w := range words {
		if strings.Contains(titleLower, w) {
			score += 0.4
		}
	}
	for _, w := range words {
		score += math.Min(float64(strings.Count(contentLower, w))*0.1, 0.3)
	}
	if categoryLower != "" && (strings.Contains(categoryLower, query) || strings.Contains(query, categoryLower)) {
		score += 0.2
	}
	for _, tag := range tags {
		tagLower := strings.ToLower(tag)
		if strings.Contains(tagLower, query) || strings.Contains(query, tagLower) {
			score += 0.15
		}
	}
	if strings.Contains(titleLower, query) || strings.Contains(contentLower, query) {
		score += 0.3
	}

	// Four decimals keep threshold comparisons stable against float drift.
	return math.Round(math.Min(score, 1)*1e4) / 1e4
}
