package chunking

import (
	"regexp"
	"strings"

	"github.com/hyperjump/kousei/internal/models"
)

var structuralCommand = regexp.MustCompile(`\\(?:documentclass|usepackage|title|author|date|maketitle|part|chapter|section|subsection|subsubsection|paragraph|subparagraph|bibliographystyle|bibliography|appendix|input|include|tableofcontents|begin|end)\b\*?`)

// CommandStrategy breaks around structural commands. An environment is kept whole from
// \begin to its matching \end.
type CommandStrategy struct{}

func (CommandStrategy) Mode() models.SplitMode { return models.SplitCommand }

func (CommandStrategy) Detect(text string, c Constraints) ([]Span, error) {
	if isBlank(text) {
		return nil, nil
	}
	b := newSpanBuilder(text, c)
	comments := commentMask(text)
	var mask []bool
	inPreamble := hasDocumentEnvironment(text)

	emitText := func(lo, hi int) {
		if lo >= hi {
			return
		}
		group := b.newGroup()
		if b.runeLen(lo, hi) <= c.MaxLength {
			b.add(lo, hi, models.KindParagraph, group)
			return
		}
		if mask == nil {
			mask = protectedMask(text)
		}
		for _, p := range b.pack(boundsOf(lo, hi, paragraphCuts(text, lo, hi, mask))) {
			b.add(p.start, p.end, models.KindParagraph, group)
		}
	}

	pos := 0
	for pos < len(text) {
		loc := nextCommand(text, pos, comments)
		if loc == nil {
			break
		}
		start, end, isDocBegin := commandExtent(text, loc)
		emitText(pos, start)
		kind := models.KindCommand
		if inPreamble {
			kind = models.KindPreamble
		}
		b.add(start, end, kind, b.newGroup())
		if isDocBegin {
			inPreamble = false
		}
		pos = end
	}
	emitText(pos, len(text))
	b.mergeShort()
	return b.result(), nil
}

// nextCommand returns the location of the next uncommented structural command at or after pos.
func nextCommand(text string, pos int, comments []bool) []int {
	for pos < len(text) {
		loc := structuralCommand.FindStringIndex(text[pos:])
		if loc == nil {
			return nil
		}
		abs := []int{pos + loc[0], pos + loc[1]}
		if !comments[abs[0]] && !isEscaped(text, abs[0]) {
			return abs
		}
		pos = abs[1]
	}
	return nil
}

// commandExtent returns the span a structural command occupies: the command with its
// arguments, or the whole environment for \begin, plus trailing blanks up to and
// including one newline.
func commandExtent(text string, loc []int) (start, end int, isDocBegin bool) {
	start = loc[0]
	end = -1
	if name, openEnd, ok := environmentAt(text, start); ok {
		if containerEnvironments[name] {
			end = openEnd
			isDocBegin = name == "document"
		} else if e := envEnd(text, start, name); e > 0 {
			end = e
		}
	}
	if end < 0 {
		end = skipArgs(text, loc[1])
	}
	for end < len(text) && (text[end] == ' ' || text[end] == '\t' || text[end] == '\r') {
		end++
	}
	if end < len(text) && text[end] == '\n' {
		end++
	}
	return start, end, isDocBegin
}

func hasDocumentEnvironment(text string) bool {
	return strings.Contains(text, `\begin{document}`)
}
