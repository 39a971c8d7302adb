// Package chunking splits LaTeX documents into bounded, contiguous chunks.
//
// Each SplitMode is implemented by one Strategy. A Strategy only finds boundaries; the
// Chunker assigns indices, verifies that the spans tile the document and builds chunks.
package chunking

import (
	"fmt"
	"unicode/utf8"

	"github.com/hyperjump/kousei/internal/models"
)

// Strategy finds natural break points in a document.
// Detect must return spans that cover text exactly, in order. Blank text yields no spans.
type Strategy interface {
	Mode() models.SplitMode
	Detect(text string, c Constraints) ([]Span, error)
}

// StrategyFor returns the strategy implementing mode.
func StrategyFor(mode models.SplitMode) (Strategy, error) {
	switch mode {
	case models.SplitSection:
		return SectionStrategy{}, nil
	case models.SplitCommand:
		return CommandStrategy{}, nil
	case models.SplitSentence:
		return SentenceStrategy{}, nil
	case models.SplitHybrid:
		return HybridStrategy{}, nil
	case models.SplitRecursiveNLP:
		return NewRecursiveStrategy()
	default:
		return nil, fmt.Errorf("no chunking strategy for mode %q", mode)
	}
}

// Detect runs the strategy for mode over text.
func Detect(text string, mode models.SplitMode, c Constraints) ([]Span, error) {
	s, err := StrategyFor(mode)
	if err != nil {
		return nil, err
	}
	c, err = c.Normalize()
	if err != nil {
		return nil, err
	}
	return s.Detect(text, c)
}

// Recommend suggests a split mode from document length: short documents keep whole
// sections, medium ones use HYBRID, long ones use SENTENCE.
func Recommend(text string) models.SplitMode {
	n := utf8.RuneCountInString(text)
	switch {
	case n < 500:
		return models.SplitSection
	case n < 2000:
		return models.SplitHybrid
	default:
		return models.SplitSentence
	}
}
