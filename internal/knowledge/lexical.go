package knowledge

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/kousei/internal/models"
)

// LexicalIndex is a bleve full-text index over knowledge descriptions. It complements
// vector search for queries that name specific LaTeX commands or terms.
type LexicalIndex struct {
	index     bleve.Index
	fuzziness int
}

type lexicalDoc struct {
	Description   string   `json:"description"`
	KnowledgeType string   `json:"knowledge_type"`
	IssueCategory []string `json:"issue_category"`
}

// LexicalOption configures a LexicalIndex.
type LexicalOption func(*LexicalIndex)

// WithFuzziness enables fuzzy term matching with the given edit distance (1 or 2).
func WithFuzziness(n int) LexicalOption {
	return func(l *LexicalIndex) { l.fuzziness = n }
}

func lexicalMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	doc.AddFieldMappingsAt("description", text)
	keyword := bleve.NewKeywordFieldMapping()
	doc.AddFieldMappingsAt("knowledge_type", keyword)
	doc.AddFieldMappingsAt("issue_category", keyword)
	im.DefaultMapping = doc
	return im
}

// NewLexicalIndex opens the index at path, creating it if absent. An empty path builds an
// in-memory index.
func NewLexicalIndex(path string, opts ...LexicalOption) (*LexicalIndex, error) {
	l := &LexicalIndex{}
	for _, opt := range opts {
		opt(l)
	}
	var err error
	switch {
	case path == "":
		l.index, err = bleve.NewMemOnly(lexicalMapping())
	case exists(path):
		l.index, err = bleve.Open(path)
	default:
		l.index, err = bleve.New(path, lexicalMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open lexical index: %w", err)
	}
	return l, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Index adds or replaces items in one batch.
func (l *LexicalIndex) Index(ctx context.Context, items []*models.KnowledgeItem) error {
	batch := l.index.NewBatch()
	for _, it := range items {
		if err := batch.Index(it.ID, lexicalDoc{
			Description:   it.Description,
			KnowledgeType: it.KnowledgeType,
			IssueCategory: it.IssueCategory,
		}); err != nil {
			return fmt.Errorf("failed to index item %s: %w", it.ID, err)
		}
	}
	if err := l.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to write lexical batch: %w", err)
	}
	return nil
}

// Search returns up to limit item ids with raw bleve scores, best first.
func (l *LexicalIndex) Search(ctx context.Context, query string, limit int, filter models.KnowledgeFilter) ([]*models.ScoredItem, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}
	var q blevequery.Query = l.textQuery(query)
	if !filter.IsZero() {
		conj := bleve.NewConjunctionQuery(q)
		if filter.KnowledgeType != "" {
			tq := bleve.NewTermQuery(filter.KnowledgeType)
			tq.SetField("knowledge_type")
			conj.AddQuery(tq)
		}
		if filter.IssueCategory != "" {
			tq := bleve.NewTermQuery(filter.IssueCategory)
			tq.SetField("issue_category")
			conj.AddQuery(tq)
		}
		q = conj
	}
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	hits := make([]*models.ScoredItem, len(res.Hits))
	for i, h := range res.Hits {
		hits[i] = &models.ScoredItem{ID: h.ID, Score: h.Score}
	}
	return hits, nil
}

func (l *LexicalIndex) textQuery(query string) blevequery.Query {
	if l.fuzziness <= 0 {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("description")
		return mq
	}
	terms := strings.Fields(strings.ToLower(query))
	disj := bleve.NewDisjunctionQuery()
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(l.fuzziness)
		fq.SetField("description")
		disj.AddQuery(fq)
	}
	return disj
}

// Delete removes an item.
func (l *LexicalIndex) Delete(ctx context.Context, id string) error {
	return l.index.Delete(id)
}

// DocCount returns the number of indexed items.
func (l *LexicalIndex) DocCount() (uint64, error) {
	return l.index.DocCount()
}

func (l *LexicalIndex) Close() error {
	return l.index.Close()
}
