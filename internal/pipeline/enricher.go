// Package pipeline runs a document through chunking, HyDE query generation and knowledge
// retrieval, producing the enriched chunks consumed by the rewrite step.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/kousei/internal/chunking"
	"github.com/hyperjump/kousei/internal/models"
	"go.uber.org/zap"
)

// DefaultWorkers is the number of chunks processed concurrently when unset.
const DefaultWorkers = 4

// QueryGenerator derives retrieval queries for a chunk. It never fails; failures surface
// as a fallback query.
type QueryGenerator interface {
	Generate(ctx context.Context, chunk *models.Chunk) *models.HyDEQuery
}

// Retriever looks up knowledge for a chunk's queries.
type Retriever interface {
	Retrieve(ctx context.Context, q *models.HyDEQuery) (*models.RetrievalResult, error)
}

// Enricher attaches retrieved knowledge to every chunk of a document.
type Enricher struct {
	chunker   *chunking.Chunker
	queries   QueryGenerator
	retriever Retriever
	workers   int
	logger    *zap.Logger
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithWorkers bounds how many chunks are processed at once.
func WithWorkers(n int) Option {
	return func(e *Enricher) { e.workers = n }
}

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Enricher) { e.logger = l }
}

// NewEnricher creates an Enricher.
func NewEnricher(c *chunking.Chunker, q QueryGenerator, r Retriever, opts ...Option) *Enricher {
	e := &Enricher{chunker: c, queries: q, retriever: r, workers: DefaultWorkers, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 1 {
		e.workers = 1
	}
	return e
}

// Enrich chunks doc and processes the chunks concurrently, returning them in index order.
// Only a chunking failure is an error. When ctx is cancelled no further chunks are started;
// chunks already started run to completion so their external calls still fill the caches,
// and the completed subset is returned together with ctx.Err().
func (e *Enricher) Enrich(ctx context.Context, doc *models.Document) ([]*models.EnrichedChunk, error) {
	start := time.Now()
	chunks, err := e.chunker.Chunk(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk %s: %w", doc.Source, err)
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		results  = make([]*models.EnrichedChunk, 0, len(chunks))
		sem      = make(chan struct{}, e.workers)
		detached = context.WithoutCancel(ctx)
	)
	for _, ch := range chunks {
		if !e.acquire(ctx, sem) {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			ec := e.process(detached, ch)
			mu.Lock()
			results = append(results, ec)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Chunk.Index < results[j].Chunk.Index })
	degraded := 0
	for _, r := range results {
		if r.Degraded {
			degraded++
		}
	}
	e.logger.Info("document enriched",
		zap.String("source", doc.Source),
		zap.String("mode", string(doc.Mode)),
		zap.Int("chunks", len(chunks)),
		zap.Int("completed", len(results)),
		zap.Int("degraded", degraded),
		zap.Duration("duration", time.Since(start)))
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// acquire takes a worker slot unless ctx is done. A slot won after cancellation is given back.
func (e *Enricher) acquire(ctx context.Context, sem chan struct{}) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	if ctx.Err() != nil {
		<-sem
		return false
	}
	return true
}

func (e *Enricher) process(ctx context.Context, ch *models.Chunk) *models.EnrichedChunk {
	q := e.queries.Generate(ctx, ch)
	ec := &models.EnrichedChunk{
		Chunk:         ch,
		Results:       []*models.ScoredItem{},
		QueryCount:    len(q.Queries),
		QueryFallback: q.Fallback,
	}
	if q.Fallback {
		ec.Notes = append(ec.Notes, "queries fell back to chunk text: "+q.FallbackReason)
	}
	res, err := e.retriever.Retrieve(ctx, q)
	if err != nil {
		e.logger.Warn("retrieval failed", zap.Int("chunk", ch.Index), zap.Error(err))
		ec.Degraded = true
		ec.Notes = append(ec.Notes, "retrieval failed: "+err.Error())
		return ec
	}
	if res.Items != nil {
		ec.Results = res.Items
	}
	return ec
}
