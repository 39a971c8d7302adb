// Package utils provides shared utilities for text, math, and logging.
package utils

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var excessBlankLines = regexp.MustCompile(`\n{3,}`)

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged. Multi-byte characters are never cut.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}

// RuneLen returns the number of characters in s.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// CleanText trims s and collapses runs of three or more newlines into a single blank line.
func CleanText(s string) string {
	return excessBlankLines.ReplaceAllString(strings.TrimSpace(s), "\n\n")
}
