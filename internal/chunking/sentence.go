package chunking

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/kousei/internal/models"
)

// abbreviations never end a sentence when followed by a period.
var abbreviations = map[string]bool{
	"e.g": true, "i.e": true, "al": true, "cf": true, "vs": true,
	"fig": true, "figs": true, "eq": true, "eqs": true, "sec": true, "secs": true,
	"ref": true, "refs": true, "tab": true, "no": true, "vol": true, "pp": true,
	"approx": true, "resp": true, "ch": true, "dr": true, "mr": true, "mrs": true,
	"ms": true, "prof": true, "st": true, "thm": true, "lem": true, "def": true,
}

// SentenceStrategy breaks at sentence-terminal punctuation outside commands, math and
// environments, then groups sentences greedily up to the target length.
type SentenceStrategy struct{}

func (SentenceStrategy) Mode() models.SplitMode { return models.SplitSentence }

func (SentenceStrategy) Detect(text string, c Constraints) ([]Span, error) {
	if isBlank(text) {
		return nil, nil
	}
	b := newSpanBuilder(text, c)
	mask := protectedMask(text)
	groupSentences(b, 0, len(text), sentenceCuts(text, 0, len(text), mask))
	b.mergeShort()
	return b.result(), nil
}

// groupSentences packs the sentences of [lo, hi) into spans. Every span is its own
// structural unit.
func groupSentences(b *spanBuilder, lo, hi int, cuts []int) {
	for _, p := range b.pack(boundsOf(lo, hi, cuts)) {
		b.add(p.start, p.end, models.KindSentence, b.newGroup())
	}
}

// sentenceCuts returns the offsets inside (lo, hi) where a new sentence starts.
// A sentence ends after terminal punctuation (plus closing quotes and brackets) that is
// followed by whitespace, or at a blank line. The trailing whitespace belongs to the
// sentence it follows.
func sentenceCuts(text string, lo, hi int, mask []bool) []int {
	var cuts []int
	for i := lo; i < hi; {
		r, size := utf8.DecodeRuneInString(text[i:])
		if mask[i] {
			i += size
			continue
		}
		switch r {
		case '.', '!', '?':
			end := skipClosers(text, i+size, hi)
			if end < hi && !isSpaceAt(text, end) {
				break
			}
			if r == '.' && isAbbreviation(text, lo, i) {
				break
			}
			if cut := skipSpace(text, end, hi); cut < hi {
				cuts = append(cuts, cut)
			}
		case '。', '！', '？':
			end := skipClosers(text, i+size, hi)
			if cut := skipSpace(text, end, hi); cut < hi {
				cuts = append(cuts, cut)
			}
		}
		i += size
	}
	cuts = append(cuts, paragraphCuts(text, lo, hi, mask)...)
	return dedupe(cuts)
}

func skipClosers(text string, i, hi int) int {
	for i < hi && strings.IndexByte(`"')]`, text[i]) >= 0 {
		i++
	}
	return i
}

func isSpaceAt(text string, i int) bool {
	r, _ := utf8.DecodeRuneInString(text[i:])
	return unicode.IsSpace(r)
}

func skipSpace(text string, i, hi int) int {
	for i < hi {
		r, size := utf8.DecodeRuneInString(text[i:hi])
		if !unicode.IsSpace(r) {
			break
		}
		i += size
	}
	return i
}

// isAbbreviation reports whether the period at text[dot] closes a known abbreviation or
// a single-letter initial.
func isAbbreviation(text string, lo, dot int) bool {
	start := dot
	for start > lo {
		r, size := utf8.DecodeLastRuneInString(text[lo:start])
		if unicode.IsSpace(r) || r == '(' || r == '~' || r == '{' {
			break
		}
		start -= size
	}
	word := strings.TrimLeft(text[start:dot], `"'([`)
	if word == "" {
		return false
	}
	if utf8.RuneCountInString(word) == 1 {
		r, _ := utf8.DecodeRuneInString(word)
		return unicode.IsUpper(r)
	}
	return abbreviations[strings.ToLower(word)]
}

func dedupe(cuts []int) []int {
	if len(cuts) < 2 {
		return cuts
	}
	sort.Ints(cuts)
	out := cuts[:1]
	for _, c := range cuts[1:] {
		if c != out[len(out)-1] {
			out = append(out, c)
		}
	}
	return out
}
