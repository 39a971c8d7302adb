// Package knowledge stores proofreading knowledge items and builds them from reference documents.
package knowledge

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hyperjump/kousei/internal/models"
)

// Store holds knowledge items with their embeddings.
type Store interface {
	// Upsert writes items keyed by ID. Rewriting an item with identical content is a no-op.
	// It returns the number of items inserted or changed.
	Upsert(ctx context.Context, items []*models.KnowledgeItem) (int, error)
	// Search returns up to topK items by descending cosine similarity to embedding.
	Search(ctx context.Context, embedding []float32, topK int, filter models.KnowledgeFilter) ([]*models.ScoredItem, error)
	Get(ctx context.Context, id string) (*models.KnowledgeItem, bool, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// ErrDimensionMismatch is returned when a vector does not match the store's dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// itemNamespace scopes knowledge item UUIDs.
var itemNamespace = uuid.MustParse("6f1c2a8e-3d4b-5e6f-8a9b-0c1d2e3f4a5b")

// ItemID derives a stable id from the knowledge type and the normalized description, so
// re-ingesting the same knowledge updates rather than duplicates it.
func ItemID(knowledgeType, description string) string {
	key := strings.ToLower(strings.TrimSpace(knowledgeType)) + "\x00" + normalizeDescription(description)
	return uuid.NewSHA1(itemNamespace, []byte(key)).String()
}

func normalizeDescription(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// sortScored orders hits by descending score, then ascending id.
func sortScored(hits []*models.ScoredItem) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}
