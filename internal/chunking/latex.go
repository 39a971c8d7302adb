package chunking

import (
	"regexp"
	"strings"
)

var (
	beginEnvPattern = regexp.MustCompile(`^\\begin\s*\{([^{}]+)\}`)
	blankLine       = regexp.MustCompile(`\n[ \t\r]*\n\s*`)
)

// isEscaped reports whether text[i] is preceded by an odd number of backslashes.
func isEscaped(text string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && text[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// commentMask marks every byte that belongs to a % comment (up to, not including, the newline).
func commentMask(text string) []bool {
	mask := make([]bool, len(text))
	for i := 0; i < len(text); i++ {
		if text[i] != '%' || isEscaped(text, i) {
			continue
		}
		j := i
		for j < len(text) && text[j] != '\n' {
			mask[j] = true
			j++
		}
		i = j
	}
	return mask
}

// matchDelim returns the index just past the delimiter that closes text[open], or -1.
func matchDelim(text string, open int, o, c byte) int {
	depth := 0
	for i := open; i < len(text); i++ {
		switch text[i] {
		case '\\':
			i++
		case o:
			depth++
		case c:
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// commandNameEnd returns the index after the control word starting at text[i] == '\\'.
func commandNameEnd(text string, i int) int {
	j := i + 1
	for j < len(text) && isLetter(text[j]) {
		j++
	}
	if j < len(text) && text[j] == '*' {
		j++
	}
	return j
}

// skipArgs consumes optional [..] and mandatory {..} arguments following a command.
// Only spaces and tabs may separate arguments.
func skipArgs(text string, i int) int {
	for {
		j := i
		for j < len(text) && (text[j] == ' ' || text[j] == '\t') {
			j++
		}
		if j >= len(text) {
			return i
		}
		var end int
		switch text[j] {
		case '{':
			end = matchDelim(text, j, '{', '}')
		case '[':
			end = matchDelim(text, j, '[', ']')
		default:
			return i
		}
		if end < 0 {
			return i
		}
		i = end
	}
}

// envEnd returns the index after the \end{name} that closes the environment opened at
// from, honouring nested environments of the same name. It returns -1 when unbalanced.
func envEnd(text string, from int, name string) int {
	begin := `\begin{` + name + `}`
	end := `\end{` + name + `}`
	depth := 0
	i := from
	for i < len(text) {
		nb := strings.Index(text[i:], begin)
		ne := strings.Index(text[i:], end)
		if ne < 0 {
			return -1
		}
		if nb >= 0 && nb < ne {
			depth++
			i += nb + len(begin)
			continue
		}
		depth--
		i += ne + len(end)
		if depth == 0 {
			return i
		}
	}
	return -1
}

// environmentAt parses \begin{name} at text[i] and returns the environment name and the
// index just past the opening command. ok is false if text[i:] does not open an environment.
func environmentAt(text string, i int) (name string, openEnd int, ok bool) {
	m := beginEnvPattern.FindStringSubmatchIndex(text[i:])
	if m == nil {
		return "", 0, false
	}
	return text[i+m[2] : i+m[3]], i + m[1], true
}

// containerEnvironments are environments whose body is ordinary prose.
var containerEnvironments = map[string]bool{
	"document": true,
}

// protectedMask marks bytes where a sentence must not end: comments, math, command
// names with their arguments, and whole non-container environments.
// Unterminated constructs protect only their opening token.
func protectedMask(text string) []bool {
	mask := make([]bool, len(text))
	mark := func(a, b int) {
		for k := a; k < b && k < len(mask); k++ {
			mask[k] = true
		}
	}
	i := 0
	for i < len(text) {
		switch text[i] {
		case '%':
			j := strings.IndexByte(text[i:], '\n')
			if j < 0 {
				j = len(text) - i
			}
			mark(i, i+j)
			i += j
		case '$':
			delim := "$"
			if strings.HasPrefix(text[i:], "$$") {
				delim = "$$"
			}
			end := closingIndex(text, i+len(delim), delim)
			if end < 0 {
				mark(i, i+len(delim))
				i += len(delim)
				continue
			}
			mark(i, end)
			i = end
		case '\\':
			i = protectCommand(text, i, mark)
		default:
			i++
		}
	}
	return mask
}

func protectCommand(text string, i int, mark func(a, b int)) int {
	if i+1 >= len(text) {
		mark(i, i+1)
		return i + 1
	}
	switch next := text[i+1]; {
	case next == '[' || next == '(':
		closer := `\]`
		if next == '(' {
			closer = `\)`
		}
		end := strings.Index(text[i+2:], closer)
		if end < 0 {
			mark(i, i+2)
			return i + 2
		}
		stop := i + 2 + end + len(closer)
		mark(i, stop)
		return stop
	case !isLetter(next):
		mark(i, i+2)
		return i + 2
	}
	if name, openEnd, ok := environmentAt(text, i); ok {
		if containerEnvironments[name] {
			mark(i, openEnd)
			return openEnd
		}
		if end := envEnd(text, i, name); end > 0 {
			mark(i, end)
			return end
		}
		mark(i, openEnd)
		return openEnd
	}
	end := skipArgs(text, commandNameEnd(text, i))
	mark(i, end)
	return end
}

// closingIndex finds the unescaped delim at or after from and returns the index past it.
func closingIndex(text string, from int, delim string) int {
	for from < len(text) {
		j := strings.Index(text[from:], delim)
		if j < 0 {
			return -1
		}
		pos := from + j
		if !isEscaped(text, pos) {
			return pos + len(delim)
		}
		from = pos + 1
	}
	return -1
}

// paragraphCuts returns the start offsets of paragraphs inside (lo, hi) that follow a
// blank line outside any protected region.
func paragraphCuts(text string, lo, hi int, mask []bool) []int {
	var cuts []int
	for _, m := range blankLine.FindAllStringIndex(text[lo:hi], -1) {
		start, end := lo+m[0], lo+m[1]
		if mask[start] || end >= hi {
			continue
		}
		cuts = append(cuts, end)
	}
	return cuts
}

func isBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
