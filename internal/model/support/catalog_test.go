package support_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/supportdesk/backend/internal/model/support"
)

func TestSeedCatalog(t *testing.T) {
	c := support.Seed()

	assert.Len(t, c.Categories, 8)
	assert.Len(t, c.Topics, 9)
	assert.Len(t, c.Articles, 5)
	assert.Len(t, c.QuickAnswers, 8)

	escalating := map[string]bool{}
	for _, topic := range c.Topics {
		if topic.Escalate {
			escalating[topic.ID] = true
		}
	}
	assert.Equal(t, map[string]bool{"sync-issues": true, "performance-issues": true}, escalating)
}

func TestPopularAndRelated(t *testing.T) {
	store := support.NewMemoryStore(support.Seed())

	popular := support.Popular(store, 2)
	require.Len(t, popular, 2)
	assert.Equal(t, "getting-started-1", popular[0].ID)
	assert.Equal(t, "ai-assistant-1", popular[1].ID)

	features := support.ByCategory(store, "features")
	require.Len(t, features, 2)
	assert.Equal(t, "backlinks-1", features[0].ID)

	related := support.Related(store, "backlinks-1", 3)
	require.Len(t, related, 1)
	assert.Equal(t, "daily-notes-1", related[0].ID)

	assert.Empty(t, support.Related(store, "missing", 3))
}

func TestLoadFileFallsBackToSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := []byte(`
categories:
  - id: billing
    name: Billing
    description: Money matters
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	c, err := support.LoadFile(path)
	require.NoError(t, err)
	require.Len(t, c.Categories, 1)
	assert.Equal(t, "Billing", c.Categories[0].Name)
	assert.Len(t, c.Topics, 9)
}

func TestLoadFileRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("categories: [unterminated"), 0o600))

	_, err := support.LoadFile(path)
	assert.Error(t, err)
}
