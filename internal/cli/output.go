// Package cli formats command results for the terminal or for other programs.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/kousei/internal/cache"
	"github.com/hyperjump/kousei/internal/knowledge"
	"github.com/hyperjump/kousei/internal/models"
	"github.com/hyperjump/kousei/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// FormatFor maps a --json flag to an OutputFormat.
func FormatFor(asJSON bool) OutputFormat {
	if asJSON {
		return OutputJSON
	}
	return OutputText
}

const (
	previewChars = 160
	rule         = "─────────────────────────────────────────────────────────"
)

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// chunkOutput is the JSON shape of a chunking run.
type chunkOutput struct {
	Source string           `json:"source"`
	Mode   models.SplitMode `json:"mode"`
	Count  int              `json:"count"`
	Chunks []*models.Chunk  `json:"chunks"`
}

// WriteChunks writes the chunks cut from doc.
func WriteChunks(w io.Writer, doc *models.Document, chunks []*models.Chunk, format OutputFormat) error {
	if format == OutputJSON {
		if chunks == nil {
			chunks = []*models.Chunk{}
		}
		return WriteJSON(w, chunkOutput{Source: doc.Source, Mode: doc.Mode, Count: len(chunks), Chunks: chunks})
	}
	fmt.Fprintf(w, "%s: %d chunks (%s)\n", doc.Source, len(chunks), doc.Mode)
	for _, c := range chunks {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "#%d %s [%d,%d) %d chars", c.Index, c.Kind, c.Start, c.End, utils.RuneLen(c.Text))
		if c.HasParent() {
			fmt.Fprintf(w, " parent=%d", c.ParentIndex)
		}
		if c.Overlap > 0 {
			fmt.Fprintf(w, " overlap=%d", c.Overlap)
		}
		if c.Oversized {
			fmt.Fprint(w, " oversized")
		}
		fmt.Fprintf(w, "\n%s\n", Preview(c.Text))
	}
	return nil
}

// WriteEnriched writes enriched chunks with their retrieved knowledge.
func WriteEnriched(w io.Writer, results []*models.EnrichedChunk, format OutputFormat) error {
	if format == OutputJSON {
		if results == nil {
			results = []*models.EnrichedChunk{}
		}
		return WriteJSON(w, results)
	}
	degraded, fallback := 0, 0
	for _, r := range results {
		if r.Degraded {
			degraded++
		}
		if r.QueryFallback {
			fallback++
		}
	}
	fmt.Fprintf(w, "%d chunks enriched (%d degraded, %d query fallbacks)\n", len(results), degraded, fallback)
	for _, r := range results {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "#%d %s | %d queries | %d results\n", r.Chunk.Index, r.Chunk.Kind, r.QueryCount, len(r.Results))
		fmt.Fprintf(w, "%s\n", Preview(r.Chunk.Text))
		for i, hit := range r.Results {
			desc := hit.ID
			if hit.Item != nil {
				desc = fmt.Sprintf("[%s] %s", hit.Item.KnowledgeType, hit.Item.Description)
			}
			fmt.Fprintf(w, "  %d. %.4f %s\n", i+1, hit.Score, Preview(desc))
		}
		for _, n := range r.Notes {
			fmt.Fprintf(w, "  note: %s\n", n)
		}
	}
	return nil
}

// WriteIngestReports writes one line per ingested file.
func WriteIngestReports(w io.Writer, reports []*knowledge.IngestReport, format OutputFormat) error {
	if format == OutputJSON {
		if reports == nil {
			reports = []*knowledge.IngestReport{}
		}
		return WriteJSON(w, reports)
	}
	written := 0
	for _, r := range reports {
		written += r.Written
		fmt.Fprintf(w, "%s [%s]: %d chunks, %d failed, %d extracted, %d unique, %d written in %s\n",
			r.Source, r.KnowledgeType, r.Chunks, r.FailedChunks, r.Extracted, r.Unique, r.Written,
			r.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(w, "%d files, %d items written\n", len(reports), written)
	return nil
}

// CacheReport is what the cache stats command prints.
type CacheReport struct {
	*cache.Stats
	// DiskBytes is the on-disk size of a SQLite cache, zero for other backends.
	DiskBytes       int64    `json:"disk_bytes,omitempty"`
	Recommendations []string `json:"recommendations"`
}

// WriteCacheStats writes cache statistics and maintenance hints.
func WriteCacheStats(w io.Writer, r *CacheReport, format OutputFormat) error {
	if format == OutputJSON {
		if r.Recommendations == nil {
			r.Recommendations = []string{}
		}
		return WriteJSON(w, r)
	}
	s := r.Stats
	fmt.Fprintf(w, "Entries: %d (%s)\n", s.EntryCount, HumanBytes(s.TotalSize))
	if r.DiskBytes > 0 {
		fmt.Fprintf(w, "Disk: %s\n", HumanBytes(r.DiskBytes))
	}
	fmt.Fprintf(w, "Hit rate: %.1f%% (%d hits, %d misses, %d computed)\n", s.HitRate*100, s.Hits, s.Misses, s.Computes)
	fmt.Fprintf(w, "Saved: %d calls, %s\n", s.CallsSaved, HumanBytes(s.BytesSaved))
	if !s.Oldest.IsZero() {
		fmt.Fprintf(w, "Oldest: %s\n", s.Oldest.Format(time.RFC3339))
	}
	labels := make([]string, 0, len(s.ByLabel))
	for l := range s.ByLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		ls := s.ByLabel[l]
		name := l
		if name == "" {
			name = "(unlabeled)"
		}
		fmt.Fprintf(w, "  %-20s %6d entries %10s %6d hits avg %s\n",
			name, ls.Count, HumanBytes(ls.TotalSize), ls.TotalHits, ls.AvgCompute.Round(time.Millisecond))
	}
	for _, hint := range r.Recommendations {
		fmt.Fprintf(w, "hint: %s\n", hint)
	}
	return nil
}

// Preview collapses whitespace and shortens s for one-line display.
func Preview(s string) string {
	return utils.Truncate(strings.Join(strings.Fields(s), " "), previewChars)
}

// HumanBytes formats n with a binary unit.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
