package chunking

import (
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/kousei/internal/models"
)

// Chunker turns documents into ordered, validated chunks.
type Chunker struct {
	constraints Constraints
	logger      *zap.Logger // optional
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithLogger sets a logger for oversized-chunk warnings and debug summaries.
func WithLogger(l *zap.Logger) ChunkerOption {
	return func(c *Chunker) { c.logger = l }
}

// NewChunker creates a chunker with the given constraints.
func NewChunker(c Constraints, opts ...ChunkerOption) (*Chunker, error) {
	norm, err := c.Normalize()
	if err != nil {
		return nil, err
	}
	ch := &Chunker{constraints: norm}
	for _, opt := range opts {
		opt(ch)
	}
	return ch, nil
}

// Constraints returns the normalized constraints in use.
func (c *Chunker) Constraints() Constraints {
	return c.constraints
}

// Chunk splits doc according to its split mode. The result is deterministic for a given
// document text, mode and constraints. Blank documents produce no chunks.
func (c *Chunker) Chunk(doc *models.Document) ([]*models.Chunk, error) {
	strategy, err := StrategyFor(doc.Mode)
	if err != nil {
		return nil, err
	}
	spans, err := strategy.Detect(doc.Text, c.constraints)
	if err != nil {
		return nil, fmt.Errorf("failed to segment %s: %w", doc.Source, err)
	}
	if err := Validate(doc.Text, doc.Mode, spans); err != nil {
		return nil, err
	}

	chunks := make([]*models.Chunk, len(spans))
	oversized := 0
	for i, s := range spans {
		chunks[i] = &models.Chunk{
			Index:       i,
			Start:       s.Start,
			End:         s.End,
			Text:        doc.Text[s.Start:s.End],
			Kind:        s.Kind,
			ParentIndex: s.Parent,
			Overlap:     s.Overlap,
			Oversized:   s.Oversized,
		}
		if s.Oversized {
			oversized++
			if c.logger != nil {
				c.logger.Warn("chunk exceeds max length",
					zap.String("source", doc.Source),
					zap.Int("index", i),
					zap.Int("parent_index", s.Parent),
					zap.Int("length", utf8.RuneCountInString(chunks[i].Text)),
					zap.Int("max_length", c.constraints.MaxLength))
			}
		}
	}
	if c.logger != nil {
		c.logger.Debug("document chunked",
			zap.String("source", doc.Source),
			zap.String("mode", string(doc.Mode)),
			zap.Int("chunks", len(chunks)),
			zap.Int("oversized", oversized))
	}
	return chunks, nil
}

// Validate checks that spans tile text: the first starts at 0, the last ends at len(text),
// each span's own region starts where the previous one ended, and only overlap-capable
// modes repeat text from the previous span.
func Validate(text string, mode models.SplitMode, spans []Span) error {
	fail := func(i int, format string, args ...any) error {
		return &InconsistencyError{Mode: string(mode), Index: i, Reason: fmt.Sprintf(format, args...)}
	}
	if len(spans) == 0 {
		if isBlank(text) {
			return nil
		}
		return fail(0, "no spans for non-empty text of length %d", len(text))
	}
	prevCore, prevEnd := 0, 0
	for i, s := range spans {
		if s.Start < 0 || s.End > len(text) || s.Start >= s.End {
			return fail(i, "span [%d,%d) outside [0,%d] or empty", s.Start, s.End, len(text))
		}
		if s.Overlap < 0 || (s.Overlap > 0 && !mode.AllowsOverlap()) {
			return fail(i, "overlap %d not allowed", s.Overlap)
		}
		core := s.Start + s.Overlap
		if core >= s.End {
			return fail(i, "overlap %d covers the whole span", s.Overlap)
		}
		if i == 0 && s.Start != 0 {
			return fail(i, "first span starts at %d", s.Start)
		}
		if i > 0 {
			if core != prevEnd {
				return fail(i, "gap or overlap: starts at %d, previous ended at %d", core, prevEnd)
			}
			if s.Start <= prevCore {
				return fail(i, "overlap reaches into the start of span %d", i-1)
			}
		}
		if !utf8.RuneStart(text[s.Start]) || (s.End < len(text) && !utf8.RuneStart(text[s.End])) {
			return fail(i, "span [%d,%d) splits a character", s.Start, s.End)
		}
		if s.Parent != models.NoParent && (s.Parent < 0 || s.Parent >= i) {
			return fail(i, "parent index %d does not precede the span", s.Parent)
		}
		prevCore, prevEnd = core, s.End
	}
	if prevEnd != len(text) {
		return fail(len(spans)-1, "last span ends at %d, text length %d", prevEnd, len(text))
	}
	return nil
}
