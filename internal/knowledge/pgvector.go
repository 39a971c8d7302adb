package knowledge

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/hyperjump/kousei/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PGVectorStore keeps knowledge items in PostgreSQL with the pgvector extension.
type PGVectorStore struct {
	pool       *pgxpool.Pool
	table      string
	dimensions int
	logger     *zap.Logger // optional
}

// PGOption configures a PGVectorStore.
type PGOption func(*PGVectorStore)

// WithTable overrides the table name (default "knowledge_items").
func WithTable(name string) PGOption {
	return func(s *PGVectorStore) { s.table = name }
}

// WithPGLogger sets a logger.
func WithPGLogger(l *zap.Logger) PGOption {
	return func(s *PGVectorStore) { s.logger = l }
}

// NewPGVectorStore connects to dsn, verifies the connection and creates the schema if needed.
func NewPGVectorStore(ctx context.Context, dsn string, dimensions int, opts ...PGOption) (*PGVectorStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	s := &PGVectorStore{table: "knowledge_items", dimensions: dimensions}
	for _, opt := range opts {
		opt(s)
	}
	if !tableName.MatchString(s.table) {
		return nil, fmt.Errorf("invalid table name %q", s.table)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s.pool = pool
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PGVectorStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			issue_category TEXT[] NOT NULL DEFAULT '{}',
			reference_url TEXT NOT NULL DEFAULT '',
			knowledge_type TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			embedding vector(%d) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table, s.dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_type_idx ON %s (knowledge_type)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Upsert writes items in one batch. Rows whose content and embedding are unchanged are
// left untouched and not counted.
func (s *PGVectorStore) Upsert(ctx context.Context, items []*models.KnowledgeItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (id, description, issue_category, reference_url, knowledge_type, source, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			description = EXCLUDED.description,
			issue_category = EXCLUDED.issue_category,
			reference_url = EXCLUDED.reference_url,
			knowledge_type = EXCLUDED.knowledge_type,
			source = EXCLUDED.source,
			embedding = EXCLUDED.embedding,
			updated_at = now()
		WHERE (%[1]s.description, %[1]s.issue_category, %[1]s.reference_url, %[1]s.knowledge_type, %[1]s.source, %[1]s.embedding)
			IS DISTINCT FROM
			(EXCLUDED.description, EXCLUDED.issue_category, EXCLUDED.reference_url, EXCLUDED.knowledge_type, EXCLUDED.source, EXCLUDED.embedding)`,
		s.table)

	batch := &pgx.Batch{}
	for _, it := range items {
		if len(it.Embedding) != s.dimensions {
			return 0, fmt.Errorf("item %s: %w: got %d, expected %d", it.ID, ErrDimensionMismatch, len(it.Embedding), s.dimensions)
		}
		categories := it.IssueCategory
		if categories == nil {
			categories = []string{}
		}
		batch.Queue(query, it.ID, it.Description, categories, it.ReferenceURL, it.KnowledgeType, it.Source, pgvector.NewVector(it.Embedding))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	written := 0
	for _, it := range items {
		tag, err := br.Exec()
		if err != nil {
			return written, fmt.Errorf("failed to upsert item %s: %w", it.ID, err)
		}
		written += int(tag.RowsAffected())
	}
	if s.logger != nil {
		s.logger.Debug("knowledge upserted", zap.Int("items", len(items)), zap.Int("written", written))
	}
	return written, nil
}

// Search ranks by cosine distance (<=>) and reports similarity as 1 - distance.
func (s *PGVectorStore) Search(ctx context.Context, embedding []float32, topK int, filter models.KnowledgeFilter) ([]*models.ScoredItem, error) {
	if len(embedding) != s.dimensions {
		return nil, fmt.Errorf("query: %w: got %d, expected %d", ErrDimensionMismatch, len(embedding), s.dimensions)
	}
	if topK <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT id, description, issue_category, reference_url, knowledge_type, source,
			1 - (embedding <=> $1) AS score
		FROM %s
		WHERE ($3 = '' OR knowledge_type = $3)
			AND ($4 = '' OR $4 = ANY(issue_category))
		ORDER BY embedding <=> $1, id
		LIMIT $2`, s.table)

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(embedding), topK, filter.KnowledgeType, filter.IssueCategory)
	if err != nil {
		return nil, fmt.Errorf("unable to query knowledge: %w", err)
	}
	defer rows.Close()

	var hits []*models.ScoredItem
	for rows.Next() {
		var it models.KnowledgeItem
		var score float64
		if err := rows.Scan(&it.ID, &it.Description, &it.IssueCategory, &it.ReferenceURL, &it.KnowledgeType, &it.Source, &score); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge row: %w", err)
		}
		hits = append(hits, &models.ScoredItem{ID: it.ID, Score: score, Item: &it})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	sortScored(hits)
	return hits, nil
}

func (s *PGVectorStore) Get(ctx context.Context, id string) (*models.KnowledgeItem, bool, error) {
	query := fmt.Sprintf(`SELECT id, description, issue_category, reference_url, knowledge_type, source, embedding FROM %s WHERE id = $1`, s.table)
	var it models.KnowledgeItem
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx, query, id).Scan(&it.ID, &it.Description, &it.IssueCategory, &it.ReferenceURL, &it.KnowledgeType, &it.Source, &vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get knowledge item %s: %w", id, err)
	}
	it.Embedding = vec.Slice()
	return &it, true, nil
}

func (s *PGVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count knowledge items: %w", err)
	}
	return n, nil
}

// Truncate removes every item. Used by tests and full rebuilds.
func (s *PGVectorStore) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`TRUNCATE %s`, s.table))
	return err
}

func (s *PGVectorStore) Close() error {
	s.pool.Close()
	return nil
}
