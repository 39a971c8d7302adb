package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kousei/internal/analysis"
	"github.com/hyperjump/kousei/internal/chunking"
	"github.com/hyperjump/kousei/internal/embedding"
	"github.com/hyperjump/kousei/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// IngestReport summarizes one ingested file.
type IngestReport struct {
	RunID         string        `json:"run_id"`
	Source        string        `json:"source"`
	KnowledgeType string        `json:"knowledge_type"`
	Pages         int           `json:"pages"`
	Chunks        int           `json:"chunks"`
	FailedChunks  int           `json:"failed_chunks"`
	Extracted     int           `json:"extracted"`
	Unique        int           `json:"unique"`
	Written       int           `json:"written"`
	Duration      time.Duration `json:"duration"`
}

// Ingestor turns reference documents into stored knowledge: analyze, chunk, extract,
// embed, then upsert into the vector store and the optional lexical index.
type Ingestor struct {
	analyzer    analysis.Analyzer
	chunker     *chunking.Chunker
	extractor   *Extractor
	embedder    embedding.Embedder
	store       Store
	lexical     *LexicalIndex // optional
	mode        models.SplitMode
	concurrency int
	logger      *zap.Logger
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithLexicalIndex also indexes items for lexical retrieval.
func WithLexicalIndex(l *LexicalIndex) IngestorOption {
	return func(i *Ingestor) { i.lexical = l }
}

// WithConcurrency bounds concurrent extraction calls per file.
func WithConcurrency(n int) IngestorOption {
	return func(i *Ingestor) { i.concurrency = n }
}

// WithSplitMode sets how reference documents are chunked (section by default).
func WithSplitMode(m models.SplitMode) IngestorOption {
	return func(i *Ingestor) { i.mode = m }
}

// WithIngestLogger sets a logger.
func WithIngestLogger(l *zap.Logger) IngestorOption {
	return func(i *Ingestor) { i.logger = l }
}

// NewIngestor wires the ingestion stages.
func NewIngestor(a analysis.Analyzer, c *chunking.Chunker, x *Extractor, e embedding.Embedder, s Store, opts ...IngestorOption) *Ingestor {
	i := &Ingestor{
		analyzer:    a,
		chunker:     c,
		extractor:   x,
		embedder:    e,
		store:       s,
		mode:        models.SplitSection,
		concurrency: 4,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.concurrency < 1 {
		i.concurrency = 1
	}
	return i
}

// KnowledgeTypeFor derives a knowledge type from the directory holding path.
func KnowledgeTypeFor(path string) string {
	return filepath.Base(filepath.Dir(path))
}

// IngestFile ingests one document. An empty knowledgeType is derived from the parent
// directory name. Chunks whose extraction fails are counted and skipped; the file fails
// only when every chunk fails.
func (i *Ingestor) IngestFile(ctx context.Context, path, knowledgeType string) (*IngestReport, error) {
	start := time.Now()
	if knowledgeType == "" {
		knowledgeType = KnowledgeTypeFor(path)
	}
	report := &IngestReport{RunID: uuid.NewString(), Source: path, KnowledgeType: knowledgeType}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	result, err := i.analyzer.Analyze(ctx, content, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("failed to analyze %s: %w", path, err)
	}
	report.Pages = result.PageCount()

	doc, err := models.NewDocument(path, result.Content, i.mode)
	if err != nil {
		return nil, err
	}
	chunks, err := i.chunker.Chunk(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk %s: %w", path, err)
	}
	report.Chunks = len(chunks)

	perChunk := make([][]*models.KnowledgeItem, len(chunks))
	var mu sync.Mutex
	var failures []error
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for idx, ch := range chunks {
		g.Go(func() error {
			items, err := i.extractor.Extract(gctx, ch.Text, path, knowledgeType)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				i.logger.Warn("knowledge extraction failed",
					zap.String("source", path), zap.Int("chunk", ch.Index), zap.Error(err))
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
				return nil
			}
			perChunk[idx] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.FailedChunks = len(failures)
	if len(chunks) > 0 && len(failures) == len(chunks) {
		return nil, fmt.Errorf("failed to extract knowledge from %s: %w", path, errors.Join(failures...))
	}

	var all []*models.KnowledgeItem
	for _, items := range perChunk {
		all = append(all, items...)
	}
	report.Extracted = len(all)
	unique := Dedupe(all)
	report.Unique = len(unique)

	if len(unique) > 0 {
		if report.Written, err = i.persist(ctx, unique); err != nil {
			return nil, err
		}
	}
	report.Duration = time.Since(start)
	i.logger.Info("knowledge ingested",
		zap.String("run_id", report.RunID),
		zap.String("source", path),
		zap.String("knowledge_type", knowledgeType),
		zap.Int("chunks", report.Chunks),
		zap.Int("unique", report.Unique),
		zap.Int("written", report.Written),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// persist embeds items and writes them to the store and lexical index.
func (i *Ingestor) persist(ctx context.Context, items []*models.KnowledgeItem) (int, error) {
	texts := make([]string, len(items))
	for k, it := range items {
		texts[k] = it.Description
	}
	vecs, err := i.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed knowledge: %w", err)
	}
	for k, it := range items {
		it.Embedding = vecs[k]
	}
	written, err := i.store.Upsert(ctx, items)
	if err != nil {
		return 0, fmt.Errorf("failed to store knowledge: %w", err)
	}
	if i.lexical != nil {
		if err := i.lexical.Index(ctx, items); err != nil {
			return written, err
		}
	}
	return written, nil
}

// Supports reports whether path has an extension the analyzer can read.
func Supports(path string) bool {
	return analysis.NewLocalAnalyzer().Supports(filepath.Ext(path)) && filepath.Ext(path) != ""
}

// IngestDir ingests every supported file under dir, in path order. Files that fail are
// logged and reported in the returned error; the others are still ingested.
func (i *Ingestor) IngestDir(ctx context.Context, dir, knowledgeType string) ([]*IngestReport, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if Supports(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	var reports []*IngestReport
	var errs []error
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		r, err := i.IngestFile(ctx, p, knowledgeType)
		if err != nil {
			i.logger.Error("ingest failed", zap.String("path", p), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		reports = append(reports, r)
	}
	return reports, errors.Join(errs...)
}
