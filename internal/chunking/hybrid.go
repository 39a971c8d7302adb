package chunking

import (
	"github.com/hyperjump/kousei/internal/models"
)

// HybridStrategy keeps whole sections where they fit and re-splits the rest by sentence.
// With OverlapSentences > 0 each chunk also repeats the last sentences of its predecessor.
type HybridStrategy struct{}

func (HybridStrategy) Mode() models.SplitMode { return models.SplitHybrid }

func (HybridStrategy) Detect(text string, c Constraints) ([]Span, error) {
	if isBlank(text) {
		return nil, nil
	}
	sc := newSectionScanner(text)
	b := newSpanBuilder(text, c)
	for _, seg := range sc.topSegments() {
		group := b.newGroup()
		if b.runeLen(seg.start, seg.end) <= c.MaxLength {
			b.add(seg.start, seg.end, seg.kind, group)
			continue
		}
		cuts := sentenceCuts(text, seg.start, seg.end, sc.protected())
		for _, p := range b.pack(boundsOf(seg.start, seg.end, cuts)) {
			b.add(p.start, p.end, models.KindSentence, group)
		}
	}
	b.mergeShort()
	spans := b.result()
	if c.OverlapSentences > 0 {
		addOverlap(b, spans, sc.protected())
	}
	return spans, nil
}

// addOverlap extends each span backwards over up to OverlapSentences trailing sentences of
// its predecessor's own text. An extension that would push the span over the max length
// is shortened, and a span never swallows its predecessor entirely.
func addOverlap(b *spanBuilder, spans []Span, mask []bool) {
	for i := len(spans) - 1; i >= 1; i-- {
		prev := spans[i-1]
		cuts := sentenceCuts(b.text, prev.Start, prev.End, mask)
		if len(cuts) == 0 {
			continue
		}
		cur := &spans[i]
		for k := min(b.c.OverlapSentences, len(cuts)); k >= 1; k-- {
			from := cuts[len(cuts)-k]
			if n := b.runeLen(from, cur.End); n <= b.c.MaxLength {
				cur.Overlap = cur.Start - from
				cur.Start = from
				cur.runes = n
				break
			}
		}
	}
}
