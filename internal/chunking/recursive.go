package chunking

import (
	"fmt"
	"strings"
	"sync"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"

	"github.com/hyperjump/kousei/internal/models"
)

var (
	tokenizerOnce sync.Once
	tokenizer     *sentences.DefaultSentenceTokenizer
	tokenizerErr  error
)

func englishTokenizer() (*sentences.DefaultSentenceTokenizer, error) {
	tokenizerOnce.Do(func() {
		tokenizer, tokenizerErr = english.NewSentenceTokenizer(nil)
	})
	return tokenizer, tokenizerErr
}

// fallbackSeparators are tried in order on sentences that exceed the max length.
var fallbackSeparators = []string{"\n", " "}

// RecursiveStrategy segments prose with a trained sentence tokenizer, drops boundaries that
// fall inside LaTeX constructs, and groups sentences like SentenceStrategy. Sentences over
// the max length are split at line breaks, then at word boundaries.
type RecursiveStrategy struct {
	tok *sentences.DefaultSentenceTokenizer
}

// NewRecursiveStrategy loads the sentence tokenizer.
func NewRecursiveStrategy() (*RecursiveStrategy, error) {
	tok, err := englishTokenizer()
	if err != nil {
		return nil, fmt.Errorf("failed to load sentence tokenizer: %w", err)
	}
	return &RecursiveStrategy{tok: tok}, nil
}

func (*RecursiveStrategy) Mode() models.SplitMode { return models.SplitRecursiveNLP }

func (s *RecursiveStrategy) Detect(text string, c Constraints) ([]Span, error) {
	if isBlank(text) {
		return nil, nil
	}
	mask := protectedMask(text)
	cuts := append(s.sentenceCuts(text, mask), paragraphCuts(text, 0, len(text), mask)...)
	b := newSpanBuilder(text, c)
	for _, p := range b.pack(boundsOf(0, len(text), dedupe(cuts))) {
		group := b.newGroup()
		if p.runes > c.MaxLength {
			splitRecursive(b, p.start, p.end, 0, group)
			continue
		}
		b.add(p.start, p.end, models.KindSentence, group)
	}
	b.mergeShort()
	return b.result(), nil
}

// sentenceCuts maps tokenizer output back onto byte offsets. The tokenizer returns
// sentence text, so each sentence is located from a moving cursor; sentences that
// cannot be located contribute no boundary.
func (s *RecursiveStrategy) sentenceCuts(text string, mask []bool) []int {
	var cuts []int
	cursor := 0
	for _, sent := range s.tok.Tokenize(text) {
		body := strings.TrimSpace(sent.Text)
		if body == "" {
			continue
		}
		idx := strings.Index(text[cursor:], body)
		if idx < 0 {
			continue
		}
		last := cursor + idx + len(body)
		cursor = last
		if mask[last-1] {
			continue
		}
		if cut := skipSpace(text, last, len(text)); cut < len(text) {
			cuts = append(cuts, cut)
		}
	}
	return cuts
}

// splitRecursive divides an oversized range at the separator for level and packs the
// parts; parts still too long go to the next separator. A single token over the max
// length is emitted oversized.
func splitRecursive(b *spanBuilder, lo, hi, level, group int) {
	for ; level < len(fallbackSeparators); level++ {
		cuts := separatorCuts(b.text, lo, hi, fallbackSeparators[level])
		if len(cuts) == 0 {
			continue
		}
		for _, p := range b.pack(boundsOf(lo, hi, cuts)) {
			if p.runes > b.c.MaxLength {
				splitRecursive(b, p.start, p.end, level+1, group)
				continue
			}
			b.add(p.start, p.end, models.KindSentence, group)
		}
		return
	}
	b.add(lo, hi, models.KindSentence, group)
}

// separatorCuts returns the offsets just past each run of sep inside (lo, hi).
func separatorCuts(text string, lo, hi int, sep string) []int {
	var cuts []int
	i := lo
	for i < hi {
		j := strings.Index(text[i:hi], sep)
		if j < 0 {
			break
		}
		end := i + j + len(sep)
		for strings.HasPrefix(text[end:hi], sep) {
			end += len(sep)
		}
		if end < hi && end > lo {
			cuts = append(cuts, end)
		}
		i = end
	}
	return cuts
}
