package knowledge

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/hyperjump/kousei/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPGVectorStore(t *testing.T) {
	dsn := os.Getenv("KOUSEI_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("KOUSEI_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	table := "knowledge_test_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	s, err := NewPGVectorStore(ctx, dsn, 2, WithTable(table))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
		s.Close()
	})

	items := []*models.KnowledgeItem{
		item("b", "style", []string{"grammar"}, 0.6, 0.8),
		item("a", "paper", []string{"grammar"}, 1, 0),
		item("c", "style", nil, 0, 1),
	}
	n, err := s.Upsert(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Upsert(ctx, items[:1])
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	hits, err := s.Search(ctx, []float32{1, 0}, 2, models.KnowledgeFilter{})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-4)

	hits, err = s.Search(ctx, []float32{1, 0}, 10, models.KnowledgeFilter{KnowledgeType: "style", IssueCategory: "grammar"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)

	got, ok, err := s.Get(ctx, "c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{0, 1}, got.Embedding)
}
