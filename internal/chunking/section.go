package chunking

import (
	"regexp"

	"github.com/hyperjump/kousei/internal/models"
)

// sectionLevels are the structural markers from coarsest to finest. Paragraph breaks
// form the final level below these.
var sectionLevels = []*regexp.Regexp{
	regexp.MustCompile(`\\(?:part|chapter|section)\*?\s*[\[{]`),
	regexp.MustCompile(`\\subsection\*?\s*[\[{]`),
	regexp.MustCompile(`\\subsubsection\*?\s*[\[{]`),
}

// paragraphLevel is the level index for blank-line paragraph breaks.
var paragraphLevel = len(sectionLevels)

// SectionStrategy breaks at sectioning commands and splits oversized sections at the
// next finer marker.
type SectionStrategy struct{}

func (SectionStrategy) Mode() models.SplitMode { return models.SplitSection }

func (SectionStrategy) Detect(text string, c Constraints) ([]Span, error) {
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
		sc.split(b, seg.start, seg.end, 1, seg.kind, group)
	}
	b.mergeShort()
	return b.result(), nil
}

type segment struct {
	start, end int
	kind       models.ChunkKind
}

type sectionScanner struct {
	text     string
	comments []bool
	mask     []bool
}

func newSectionScanner(text string) *sectionScanner {
	return &sectionScanner{text: text, comments: commentMask(text)}
}

func (sc *sectionScanner) protected() []bool {
	if sc.mask == nil {
		sc.mask = protectedMask(sc.text)
	}
	return sc.mask
}

// cuts returns marker offsets of the given level inside [lo, hi).
func (sc *sectionScanner) cuts(lo, hi, level int) []int {
	if level >= paragraphLevel {
		return paragraphCuts(sc.text, lo, hi, sc.protected())
	}
	var out []int
	for _, m := range sectionLevels[level].FindAllStringIndex(sc.text[lo:hi], -1) {
		pos := lo + m[0]
		if sc.comments[pos] {
			continue
		}
		out = append(out, pos)
	}
	return out
}

// topSegments splits the whole text at top-level section markers. Text before the first
// marker stays with the first section.
func (sc *sectionScanner) topSegments() []segment {
	markers := sc.cuts(0, len(sc.text), 0)
	if len(markers) == 0 {
		return []segment{{0, len(sc.text), models.KindParagraph}}
	}
	bounds := boundsOf(0, len(sc.text), markers[1:])
	out := make([]segment, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		out = append(out, segment{bounds[i], bounds[i+1], models.KindSection})
	}
	return out
}

// split divides [lo, hi) at the first level from level onwards that has markers, packs
// the pieces and recurses into pieces that are still over the max length. A range with
// no finer marker is emitted oversized.
func (sc *sectionScanner) split(b *spanBuilder, lo, hi, level int, kind models.ChunkKind, group int) {
	for lvl := level; lvl <= paragraphLevel; lvl++ {
		bounds := boundsOf(lo, hi, sc.cuts(lo, hi, lvl))
		if len(bounds) <= 2 {
			continue
		}
		pieceKind := kind
		if lvl == paragraphLevel {
			pieceKind = models.KindParagraph
		}
		for _, p := range b.pack(bounds) {
			if p.runes > b.c.MaxLength {
				sc.split(b, p.start, p.end, lvl+1, pieceKind, group)
				continue
			}
			b.add(p.start, p.end, pieceKind, group)
		}
		return
	}
	b.add(lo, hi, kind, group)
}
