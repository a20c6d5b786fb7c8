package support

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Category groups topics, articles and agent specialties.
type Category struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Icon        string `json:"icon,omitempty" yaml:"icon"`
}

// Topic is a canned response matched by keywords.
type Topic struct {
	ID       string   `json:"id" yaml:"id"`
	Category string   `json:"category" yaml:"category"`
	Title    string   `json:"title" yaml:"title"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Response string   `json:"response" yaml:"response"`
	FollowUp []string `json:"followUp,omitempty" yaml:"followUp"`
	Escalate bool     `json:"escalate,omitempty" yaml:"escalate"`
}

// Article is a long-form knowledge base entry.
type Article struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Content     string   `json:"content" yaml:"content"`
	Category    string   `json:"category" yaml:"category"`
	Tags        []string `json:"tags" yaml:"tags"`
	Popularity  int      `json:"popularity" yaml:"popularity"`
	Helpfulness float64  `json:"helpfulness" yaml:"helpfulness"`
}

// QuickAnswer is a short pre-authored answer to a common question.
type QuickAnswer struct {
	ID                string   `json:"id" yaml:"id"`
	Question          string   `json:"question" yaml:"question"`
	Answer            string   `json:"answer" yaml:"answer"`
	Category          string   `json:"category" yaml:"category"`
	Confidence        float64  `json:"confidence" yaml:"confidence"`
	FollowUpQuestions []string `json:"followUpQuestions,omitempty" yaml:"followUpQuestions"`
}

// Catalog is immutable reference data loaded once at startup.
type Catalog struct {
	Categories   []Category    `json:"categories" yaml:"categories"`
	Topics       []Topic       `json:"topics" yaml:"topics"`
	Articles     []Article     `json:"articles" yaml:"articles"`
	QuickAnswers []QuickAnswer `json:"quickAnswers" yaml:"quickAnswers"`
}

// Store exposes catalog lookups to the resolution engine and HTTP handlers.
type Store interface {
	Categories() []Category
	Topics() []Topic
	Articles() []Article
	QuickAnswers() []QuickAnswer
	FindArticle(id string) (Article, bool)
}

// MemoryStore implements Store over a Catalog held in memory.
type MemoryStore struct {
	catalog Catalog
}

// NewMemoryStore returns a MemoryStore holding a private copy of the catalog.
func NewMemoryStore(c Catalog) *MemoryStore {
	return &MemoryStore{catalog: Catalog{
		Categories:   append([]Category(nil), c.Categories...),
		Topics:       append([]Topic(nil), c.Topics...),
		Articles:     append([]Article(nil), c.Articles...),
		QuickAnswers: append([]QuickAnswer(nil), c.QuickAnswers...),
	}}
}

func (s *MemoryStore) Categories() []Category {
	return append([]Category(nil), s.catalog.Categories...)
}

func (s *MemoryStore) Topics() []Topic {
	return append([]Topic(nil), s.catalog.Topics...)
}

func (s *MemoryStore) Articles() []Article {
	return append([]Article(nil), s.catalog.Articles...)
}

func (s *MemoryStore) QuickAnswers() []QuickAnswer {
	return append([]QuickAnswer(nil), s.catalog.QuickAnswers...)
}

// FindArticle looks up an article by identifier.
func (s *MemoryStore) FindArticle(id string) (Article, bool) {
	for _, a := range s.catalog.Articles {
		if a.ID == id {
			return a, true
		}
	}
	return Article{}, false
}

// Popular returns the most popular articles first.
func Popular(store Store, limit int) []Article {
	articles := store.Articles()
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].Popularity > articles[j].Popularity
	})
	return truncate(articles, limit)
}

// ByCategory returns a category's articles, most helpful first.
func ByCategory(store Store, category string) []Article {
	var out []Article
	for _, a := range store.Articles() {
		if a.Category == category {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Helpfulness > out[j].Helpfulness
	})
	return out
}

// Related returns other articles in the same category as articleID.
func Related(store Store, articleID string, limit int) []Article {
	article, ok := store.FindArticle(articleID)
	if !ok {
		return nil
	}
	var out []Article
	for _, a := range ByCategory(store, article.Category) {
		if a.ID != articleID {
			out = append(out, a)
		}
	}
	return truncate(out, limit)
}

func truncate(articles []Article, limit int) []Article {
	if limit > 0 && len(articles) > limit {
		return articles[:limit]
	}
	return articles
}

// LoadFile reads a YAML catalog. Sections missing from the file fall back to Seed.
func LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	seed := Seed()
	if len(c.Categories) == 0 {
		c.Categories = seed.Categories
	}
	if len(c.Topics) == 0 {
		c.Topics = seed.Topics
	}
	if len(c.Articles) == 0 {
		c.Articles = seed.Articles
	}
	if len(c.QuickAnswers) == 0 {
		c.QuickAnswers = seed.QuickAnswers
	}
	return c, nil
}
