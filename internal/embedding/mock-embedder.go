package embedding

import (
	"context"

	"github.com/hyperjump/kousei/pkg/utils"
)

// MockEmbedder is a deterministic offline embedder. Each word and adjacent word pair is
// hashed into a signed bucket, so texts sharing vocabulary get similar vectors and the
// same text always gets the same vector.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	words := SplitWords(text)
	for i, w := range words {
		e.add(emb, w, 1)
		if i > 0 {
			e.add(emb, words[i-1]+" "+w, 0.5)
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

func (e *MockEmbedder) add(emb []float32, feature string, weight float32) {
	h := HashString(feature)
	idx := int(h % uint64(e.dimensions))
	if h&(1<<63) != 0 {
		weight = -weight
	}
	emb[idx] += weight
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *MockEmbedder) Close() error {
	return nil
}
