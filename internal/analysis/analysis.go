// Package analysis turns binary and text documents into plain text, one entry per page,
// and caches the results by content fingerprint.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Page is the text of one page (PDF), slide (PPTX) or sheet (XLSX).
type Page struct {
	Number  int    `json:"page_number"`
	Content string `json:"content"`
}

// Analysis is the result of analyzing one document.
type Analysis struct {
	Format   string `json:"format"`
	Encoding string `json:"encoding,omitempty"`
	Content  string `json:"content"`
	Pages    []Page `json:"pages"`
}

// PageCount returns the number of pages.
func (a *Analysis) PageCount() int { return len(a.Pages) }

// Analyzer extracts text from document bytes. ext includes the leading dot.
type Analyzer interface {
	Analyze(ctx context.Context, content []byte, ext string) (*Analysis, error)
	// Name and Version identify the analyzer in cache fingerprints.
	Name() string
	Version() int
}

// ErrUnsupportedFormat is returned for extensions no analyzer handles.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// AnalysisError wraps a failed analysis. Retryable marks failures of a remote analysis
// service worth retrying; local parse errors are permanent.
type AnalysisError struct {
	Op        string
	Ext       string
	Retryable bool
	Err       error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analyze %s: %s: %v", e.Ext, e.Op, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the analysis may succeed.
func (e *AnalysisError) Temporary() bool { return e.Retryable }

// NormalizeExt lowercases ext and ensures a leading dot.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func joinPages(pages []Page) string {
	var b strings.Builder
	for i, p := range pages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(p.Content)
	}
	return b.String()
}
