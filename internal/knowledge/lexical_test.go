package knowledge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kousei/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lexicalItems() []*models.KnowledgeItem {
	return []*models.KnowledgeItem{
		{ID: "1", Description: "Use \\citep for parenthetical citations", KnowledgeType: "latex", IssueCategory: []string{"citation"}},
		{ID: "2", Description: "Avoid passive voice in the abstract", KnowledgeType: "style", IssueCategory: []string{"grammar"}},
		{ID: "3", Description: "Define every acronym at first use in the abstract", KnowledgeType: "style", IssueCategory: []string{"terminology"}},
	}
}

func TestLexicalIndex_Search(t *testing.T) {
	ctx := context.Background()
	l, err := NewLexicalIndex("")
	require.NoError(t, err)
	defer l.Close()
	require.NoError(t, l.Index(ctx, lexicalItems()))

	n, err := l.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	hits, err := l.Search(ctx, "citations", 10, models.KnowledgeFilter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "1", hits[0].ID)
	assert.Greater(t, hits[0].Score, 0.0)

	hits, err = l.Search(ctx, "abstract", 10, models.KnowledgeFilter{IssueCategory: "grammar"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "2", hits[0].ID)

	hits, err = l.Search(ctx, "   ", 10, models.KnowledgeFilter{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLexicalIndex_Fuzzy(t *testing.T) {
	ctx := context.Background()
	l, err := NewLexicalIndex("", WithFuzziness(1))
	require.NoError(t, err)
	defer l.Close()
	require.NoError(t, l.Index(ctx, lexicalItems()))

	hits, err := l.Search(ctx, "acronim", 10, models.KnowledgeFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "3", hits[0].ID)
}

func TestLexicalIndex_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lexical.bleve")
	l, err := NewLexicalIndex(path)
	require.NoError(t, err)
	require.NoError(t, l.Index(ctx, lexicalItems()))
	require.NoError(t, l.Delete(ctx, "1"))
	require.NoError(t, l.Close())

	l, err = NewLexicalIndex(path)
	require.NoError(t, err)
	defer l.Close()
	n, err := l.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}
