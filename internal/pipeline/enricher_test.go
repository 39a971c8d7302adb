package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/kousei/internal/chunking"
	"github.com/hyperjump/kousei/internal/embedding"
	"github.com/hyperjump/kousei/internal/hyde"
	"github.com/hyperjump/kousei/internal/knowledge"
	"github.com/hyperjump/kousei/internal/llm/mocks"
	"github.com/hyperjump/kousei/internal/models"
	"github.com/hyperjump/kousei/internal/retrieval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func paper(sections int) string {
	var b strings.Builder
	for i := range sections {
		fmt.Fprintf(&b, "\\section{Part %d}\nThis section discusses result number %d in detail.\n\n", i, i)
	}
	return b.String()
}

func newDoc(t *testing.T, text string) *models.Document {
	t.Helper()
	doc, err := models.NewDocument("paper.tex", text, models.SplitSection)
	require.NoError(t, err)
	return doc
}

func newChunker(t *testing.T) *chunking.Chunker {
	t.Helper()
	c, err := chunking.NewChunker(chunking.DefaultConstraints())
	require.NoError(t, err)
	return c
}

type echoQueries struct{ fallbackFor int }

func (g echoQueries) Generate(_ context.Context, ch *models.Chunk) *models.HyDEQuery {
	q := &models.HyDEQuery{ChunkIndex: ch.Index, Queries: []string{"q1", "q2"}}
	if ch.Index == g.fallbackFor {
		q.Queries = []string{ch.Text}
		q.Fallback = true
		q.FallbackReason = hyde.ReasonGeneration
	}
	return q
}

type funcRetriever func(ctx context.Context, q *models.HyDEQuery) (*models.RetrievalResult, error)

func (f funcRetriever) Retrieve(ctx context.Context, q *models.HyDEQuery) (*models.RetrievalResult, error) {
	return f(ctx, q)
}

func hitFor(q *models.HyDEQuery) *models.RetrievalResult {
	return &models.RetrievalResult{
		ChunkIndex: q.ChunkIndex,
		QueryCount: len(q.Queries),
		Items:      []*models.ScoredItem{{ID: fmt.Sprintf("item-%d", q.ChunkIndex), Score: 0.9}},
	}
}

func TestEnrich_OrderedByIndex(t *testing.T) {
	var inFlight, peak atomic.Int32
	r := funcRetriever(func(_ context.Context, q *models.HyDEQuery) (*models.RetrievalResult, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		// Later chunks finish first.
		time.Sleep(time.Duration(8-q.ChunkIndex) * time.Millisecond)
		return hitFor(q), nil
	})
	e := NewEnricher(newChunker(t), echoQueries{fallbackFor: -1}, r, WithWorkers(3))

	out, err := e.Enrich(context.Background(), newDoc(t, paper(8)))
	require.NoError(t, err)
	require.Len(t, out, 8)
	for i, ec := range out {
		assert.Equal(t, i, ec.Chunk.Index)
		assert.Equal(t, 2, ec.QueryCount)
		require.Len(t, ec.Results, 1)
		assert.Equal(t, fmt.Sprintf("item-%d", i), ec.Results[0].ID)
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestEnrich_DegradedAndFallback(t *testing.T) {
	r := funcRetriever(func(_ context.Context, q *models.HyDEQuery) (*models.RetrievalResult, error) {
		if q.ChunkIndex == 1 {
			return nil, errors.New("vector store unavailable")
		}
		return &models.RetrievalResult{ChunkIndex: q.ChunkIndex}, nil
	})
	e := NewEnricher(newChunker(t), echoQueries{fallbackFor: 2}, r)

	out, err := e.Enrich(context.Background(), newDoc(t, paper(3)))
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.False(t, out[0].Degraded)
	assert.NotNil(t, out[0].Results)
	assert.Empty(t, out[0].Results)

	assert.True(t, out[1].Degraded)
	assert.Empty(t, out[1].Results)
	require.Len(t, out[1].Notes, 1)
	assert.Contains(t, out[1].Notes[0], "vector store unavailable")

	assert.True(t, out[2].QueryFallback)
	assert.Equal(t, 1, out[2].QueryCount)
	assert.Contains(t, out[2].Notes[0], hyde.ReasonGeneration)
}

func TestEnrich_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	r := funcRetriever(func(rctx context.Context, q *models.HyDEQuery) (*models.RetrievalResult, error) {
		calls.Add(1)
		cancel()
		// Started chunks keep running after the caller cancels.
		assert.NoError(t, rctx.Err())
		return hitFor(q), nil
	})
	e := NewEnricher(newChunker(t), echoQueries{fallbackFor: -1}, r, WithWorkers(1))

	out, err := e.Enrich(ctx, newDoc(t, paper(4)))
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, out, 1)
	assert.Equal(t, 0, out[0].Chunk.Index)
	assert.False(t, out[0].Degraded)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEnrich_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := funcRetriever(func(context.Context, *models.HyDEQuery) (*models.RetrievalResult, error) {
		t.Fatal("no chunk should be dispatched")
		return nil, nil
	})
	e := NewEnricher(newChunker(t), echoQueries{fallbackFor: -1}, r)

	out, err := e.Enrich(ctx, newDoc(t, paper(2)))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out)
}

func TestEnrich_EmptyDocument(t *testing.T) {
	e := NewEnricher(newChunker(t), echoQueries{}, funcRetriever(nil))
	out, err := e.Enrich(context.Background(), newDoc(t, "  \n"))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestEnrich_EndToEnd(t *testing.T) {
	ctx := context.Background()
	emb := embedding.NewMockEmbedder(128)
	store, err := knowledge.NewMemoryStore(emb.Dimensions())
	require.NoError(t, err)

	descriptions := []string{
		"Use the present tense to describe results shown in figures.",
		"Define every acronym at its first use.",
	}
	vecs, err := emb.EmbedBatch(ctx, descriptions)
	require.NoError(t, err)
	items := make([]*models.KnowledgeItem, len(descriptions))
	for i, d := range descriptions {
		items[i] = &models.KnowledgeItem{ID: knowledge.ItemID("style", d), Description: d, KnowledgeType: "style", Embedding: vecs[i]}
	}
	_, err = store.Upsert(ctx, items)
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	gen := mocks.NewMockGenerator(ctrl)
	gen.EXPECT().Generate(gomock.Any(), gomock.Any()).
		Return("HYPOTHETICAL:\nTense is inconsistent.\nQUERIES:\n- Use the present tense to describe results shown in figures.\n", nil).
		Times(2)

	cfg := retrieval.DefaultConfig()
	cfg.ScoreFloor = 0.99
	e := NewEnricher(
		newChunker(t),
		hyde.NewGenerator(gen, hyde.DefaultConfig()),
		retrieval.NewCombiner(emb, store, cfg),
	)
	out, err := e.Enrich(ctx, newDoc(t, paper(2)))
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, ec := range out {
		assert.Equal(t, 2, ec.QueryCount)
		require.Len(t, ec.Results, 1)
		assert.Equal(t, descriptions[0], ec.Results[0].Item.Description)
	}
}
