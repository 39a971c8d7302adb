package hyde

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kousei/internal/cache"
	"github.com/hyperjump/kousei/internal/llm"
	"github.com/hyperjump/kousei/internal/llm/mocks"
	"github.com/hyperjump/kousei/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const sampleResponse = `HYPOTHETICAL:
The passage mixes tenses and uses
informal contractions.
QUERIES:
- consistent verb tense in methods
- avoid contractions in academic writing
* Consistent verb tense in methods
1. hyphenation of compound adjectives
`

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func chunk(idx int, text string) *models.Chunk {
	return &models.Chunk{Index: idx, Text: text, End: len(text), ParentIndex: models.NoParent}
}

func newGenerator(t *testing.T, cfg Config, opts ...Option) (*Generator, *mocks.MockGenerator) {
	t.Helper()
	ctrl := gomock.NewController(t)
	m := mocks.NewMockGenerator(ctrl)
	opts = append([]Option{WithClock(func() time.Time { return fixedTime })}, opts...)
	return NewGenerator(m, cfg, opts...), m
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		hyp     string
		queries []string
	}{
		{
			name:    "full format",
			in:      sampleResponse,
			hyp:     "The passage mixes tenses and uses informal contractions.",
			queries: []string{"consistent verb tense in methods", "avoid contractions in academic writing", "hyphenation of compound adjectives"},
		},
		{
			name:    "bold markers and crlf",
			in:      "**HYPOTHETICAL:** Overlong sentences.\r\n**QUERIES:**\r\n- sentence length\r\n",
			hyp:     "Overlong sentences.",
			queries: []string{"sentence length"},
		},
		{
			name:    "queries only",
			in:      "QUERIES:\n\"article usage\"\n\n2) comma splices",
			queries: []string{"article usage", "comma splices"},
		},
		{
			name:    "queries before hypothetical",
			in:      "QUERIES:\n- passive voice\n- tense agreement\nHYPOTHETICAL:\nThe text overuses the passive.",
			hyp:     "The text overuses the passive.",
			queries: []string{"passive voice", "tense agreement"},
		},
		{
			name: "hypothetical only",
			in:   "HYPOTHETICAL: Nothing else.",
			hyp:  "Nothing else.",
		},
		{
			name:    "no markers",
			in:      "- units in tables\n- 1.5 line spacing",
			queries: []string{"units in tables", "1.5 line spacing"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseResponse(tt.in)
			assert.Equal(t, tt.hyp, got.Hypothetical)
			assert.Equal(t, tt.queries, got.Queries)
		})
	}
}

func TestGenerate_IncludesHypotheticalFirst(t *testing.T) {
	g, m := newGenerator(t, DefaultConfig())
	m.EXPECT().Generate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p llm.Prompt) (string, error) {
			assert.Equal(t, "We has shown the results.", p.User)
			return sampleResponse, nil
		})

	q := g.Generate(context.Background(), chunk(3, "  We has shown the results.\n"))
	assert.Equal(t, 3, q.ChunkIndex)
	assert.False(t, q.Fallback)
	assert.Equal(t, fixedTime, q.CreatedAt)
	require.Len(t, q.Queries, 4)
	assert.Equal(t, q.Hypothetical, q.Queries[0])
}

func TestGenerate_WithoutHypothetical(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IncludeHypothetical = false
	g, m := newGenerator(t, cfg)
	m.EXPECT().Generate(gomock.Any(), gomock.Any()).Return(sampleResponse, nil)

	q := g.Generate(context.Background(), chunk(0, "We has shown the results."))
	assert.Len(t, q.Queries, 3)
	assert.NotEmpty(t, q.Hypothetical)
}

func TestGenerate_HypotheticalOnlyWithoutHypotheticalQuery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IncludeHypothetical = false
	c := cache.New(cache.NewMemoryStore())
	g, m := newGenerator(t, cfg, WithCache(c, "gpt-test"))
	m.EXPECT().Generate(gomock.Any(), gomock.Any()).Return("HYPOTHETICAL: The passage has tense issues.", nil).Times(2)
	ctx := context.Background()

	q := g.Generate(ctx, chunk(0, "We has shown the results."))
	assert.True(t, q.Fallback)
	assert.Equal(t, ReasonNoQueries, q.FallbackReason)
	assert.Equal(t, []string{"We has shown the results."}, q.Queries)

	// The unusable response is not cached, so the next call asks again.
	assert.True(t, g.Generate(ctx, chunk(0, "We has shown the results.")).Fallback)
	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.EntryCount)
}

func TestGenerate_CapsQueries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQueries = 2
	g, m := newGenerator(t, cfg)
	m.EXPECT().Generate(gomock.Any(), gomock.Any()).Return(sampleResponse, nil)

	q := g.Generate(context.Background(), chunk(0, "We has shown the results."))
	assert.Len(t, q.Queries, 2)
}

func TestGenerate_Fallbacks(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		response string
		err      error
		calls    int
		reason   string
	}{
		{name: "short chunk skips generation", text: "  Hi.  ", reason: ReasonTooShort},
		{name: "generation error", text: "A long enough paragraph.", err: errors.New("503"), calls: 1, reason: ReasonGeneration},
		{name: "empty response", text: "A long enough paragraph.", response: "  \n", calls: 1, reason: ReasonNoQueries},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, m := newGenerator(t, DefaultConfig())
			m.EXPECT().Generate(gomock.Any(), gomock.Any()).Return(tt.response, tt.err).Times(tt.calls)

			q := g.Generate(context.Background(), chunk(1, tt.text))
			assert.True(t, q.Fallback)
			assert.Equal(t, tt.reason, q.FallbackReason)
			assert.Equal(t, []string{strings.TrimSpace(tt.text)}, q.Queries)
		})
	}
}

func TestGenerate_TruncatesLongChunks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSectionLength = 20
	g, m := newGenerator(t, cfg)
	m.EXPECT().Generate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p llm.Prompt) (string, error) {
			assert.Equal(t, strings.Repeat("a", 20)+"...", p.User)
			return "QUERIES:\n- q", nil
		})

	q := g.Generate(context.Background(), chunk(0, strings.Repeat("a", 100)))
	assert.False(t, q.Fallback)
}

func TestGenerate_Cached(t *testing.T) {
	c := cache.New(cache.NewMemoryStore())
	g, m := newGenerator(t, DefaultConfig(), WithCache(c, "gpt-test"))
	m.EXPECT().Generate(gomock.Any(), gomock.Any()).Return(sampleResponse, nil).Times(1)
	ctx := context.Background()

	first := g.Generate(ctx, chunk(0, "We has shown the results."))
	second := g.Generate(ctx, chunk(7, "We has shown the results."))
	assert.Equal(t, first.Queries, second.Queries)
	assert.Equal(t, 7, second.ChunkIndex)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByLabel[LabelHyDE].Count)
}

func TestGenerate_FailuresNotCached(t *testing.T) {
	c := cache.New(cache.NewMemoryStore())
	g, m := newGenerator(t, DefaultConfig(), WithCache(c, "gpt-test"))
	gomock.InOrder(
		m.EXPECT().Generate(gomock.Any(), gomock.Any()).Return("", errors.New("timeout")),
		m.EXPECT().Generate(gomock.Any(), gomock.Any()).Return(sampleResponse, nil),
	)
	ctx := context.Background()

	assert.True(t, g.Generate(ctx, chunk(0, "We has shown the results.")).Fallback)
	assert.False(t, g.Generate(ctx, chunk(0, "We has shown the results.")).Fallback)
}
