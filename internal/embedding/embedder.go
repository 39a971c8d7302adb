// Package embedding turns text into vectors for knowledge retrieval.
package embedding

import "context"

// Embedder produces vector embeddings for text. Vectors are L2-normalized so inner
// product equals cosine similarity.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
