// Package models defines core data structures for documents, chunks, queries, and retrieval results.
package models

import (
	"fmt"
	"strings"
)

// SplitMode selects the chunking strategy applied to a document.
type SplitMode string

const (
	SplitSection      SplitMode = "section"
	SplitCommand      SplitMode = "command"
	SplitSentence     SplitMode = "sentence"
	SplitHybrid       SplitMode = "hybrid"
	SplitRecursiveNLP SplitMode = "recursive_nlp"
)

// SplitModes lists every supported mode in a stable order.
var SplitModes = []SplitMode{SplitSection, SplitCommand, SplitSentence, SplitHybrid, SplitRecursiveNLP}

// ParseSplitMode converts a user-supplied name into a SplitMode.
// Matching is case-insensitive and accepts "-" in place of "_".
func ParseSplitMode(s string) (SplitMode, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, m := range SplitModes {
		if string(m) == norm {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown split mode %q", s)
}

// AllowsOverlap reports whether chunks produced under this mode may share text with their predecessor.
func (m SplitMode) AllowsOverlap() bool {
	return m == SplitHybrid
}

// Document is a source text submitted for chunking. It is not modified after construction.
type Document struct {
	Source string    `json:"source"`
	Text   string    `json:"-"`
	Mode   SplitMode `json:"mode"`
}

// NewDocument validates mode and returns a Document.
func NewDocument(source, text string, mode SplitMode) (*Document, error) {
	if _, err := ParseSplitMode(string(mode)); err != nil {
		return nil, err
	}
	return &Document{Source: source, Text: text, Mode: mode}, nil
}
