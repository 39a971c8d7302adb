package chunking

import (
	"unicode/utf8"

	"github.com/hyperjump/kousei/internal/models"
)

// Span is a detected chunk boundary [Start, End) over the document text.
type Span struct {
	Start int
	End   int
	Kind  models.ChunkKind
	// Parent is the index of the span that opens the same structural unit, or models.NoParent.
	Parent int
	// Overlap is the number of leading bytes repeated from the previous span.
	Overlap   int
	Oversized bool

	group int // structural unit the span was cut from
	runes int
}

// spanBuilder accumulates spans and assigns structural groups.
type spanBuilder struct {
	text   string
	c      Constraints
	spans  []Span
	groups int
}

func newSpanBuilder(text string, c Constraints) *spanBuilder {
	return &spanBuilder{text: text, c: c}
}

func (b *spanBuilder) newGroup() int {
	b.groups++
	return b.groups
}

func (b *spanBuilder) add(start, end int, kind models.ChunkKind, group int) {
	if start >= end {
		return
	}
	n := utf8.RuneCountInString(b.text[start:end])
	b.spans = append(b.spans, Span{
		Start:     start,
		End:       end,
		Kind:      kind,
		Oversized: n > b.c.MaxLength,
		group:     group,
		runes:     n,
	})
}

func (b *spanBuilder) runeLen(start, end int) int {
	return utf8.RuneCountInString(b.text[start:end])
}

// piece is a packed range of consecutive units.
type piece struct {
	start, end int
	runes      int
}

// pack groups the units delimited by bounds greedily: a unit joins the current piece while
// the piece stays within the target length. A unit that alone exceeds the target forms its
// own piece, which may be over the max length.
func (b *spanBuilder) pack(bounds []int) []piece {
	var out []piece
	var cur piece
	open := false
	for i := 0; i+1 < len(bounds); i++ {
		a, z := bounds[i], bounds[i+1]
		if a >= z {
			continue
		}
		n := b.runeLen(a, z)
		if open && cur.runes+n <= b.c.TargetLength {
			cur.end = z
			cur.runes += n
			continue
		}
		if open {
			out = append(out, cur)
		}
		cur = piece{start: a, end: z, runes: n}
		open = true
	}
	if open {
		out = append(out, cur)
	}
	return out
}

// mergeShort folds spans shorter than the min length into a neighbour when the merged span
// stays within the max length. The previous neighbour is preferred.
func (b *spanBuilder) mergeShort() {
	if b.c.MinLength <= 0 || len(b.spans) < 2 {
		return
	}
	in := b.spans
	out := make([]Span, 0, len(in))
	for i := 0; i < len(in); i++ {
		s := in[i]
		if s.runes < b.c.MinLength {
			if last := len(out) - 1; last >= 0 && out[last].runes+s.runes <= b.c.MaxLength {
				out[last].End = s.End
				out[last].runes += s.runes
				continue
			}
			if i+1 < len(in) && in[i+1].runes+s.runes <= b.c.MaxLength {
				in[i+1].Start = s.Start
				in[i+1].runes += s.runes
				continue
			}
		}
		out = append(out, s)
	}
	b.spans = out
}

// result returns the spans with structural groups collapsed into parent indices.
func (b *spanBuilder) result() []Span {
	first := make(map[int]int, len(b.spans))
	for i := range b.spans {
		s := &b.spans[i]
		if j, ok := first[s.group]; ok {
			s.Parent = j
			continue
		}
		first[s.group] = i
		s.Parent = models.NoParent
	}
	return b.spans
}

// boundsOf turns sorted interior cut points into a bounds slice over [lo, hi].
func boundsOf(lo, hi int, cuts []int) []int {
	bounds := make([]int, 0, len(cuts)+2)
	bounds = append(bounds, lo)
	for _, c := range cuts {
		if c > bounds[len(bounds)-1] && c < hi {
			bounds = append(bounds, c)
		}
	}
	return append(bounds, hi)
}
