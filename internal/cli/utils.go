// Package cli provides output formatting and an HTTP client for the codesearch CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hyperjump/codesearch/internal/indexer"
	"github.com/hyperjump/codesearch/internal/models"
	"github.com/hyperjump/codesearch/internal/status"
	"github.com/hyperjump/codesearch/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one search result per line.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

const snippetLen = 200

// WriteSearchResults writes search results to w in the given format.
// Unknown formats are written as text.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, r := range response.Results {
			fmt.Fprintf(w, "%.4f\t%s#%d\t%s\n", r.Score, r.File, r.ChunkIndex, utils.Truncate(utils.OneLine(r.Text), 80))
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d results for %q\n\n", len(response.Results), response.Query)
	for i, r := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", i+1, r.Score)
		fmt.Fprintf(w, "File: %s (chunk %d)\n", r.File, r.ChunkIndex)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Text, snippetLen))
	}
}

// WriteRunReport writes the outcome of an indexing run.
func WriteRunReport(w io.Writer, report *indexer.RunReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "run_id:      %s\n", report.RunID)
	fmt.Fprintf(w, "scanned:     %d\n", report.FilesScanned)
	fmt.Fprintf(w, "changed:     %d\n", report.FilesChanged)
	fmt.Fprintf(w, "unchanged:   %d\n", report.FilesSkipped)
	if report.FilesUnreadable > 0 {
		fmt.Fprintf(w, "unreadable:  %d\n", report.FilesUnreadable)
	}
	if report.FilesPruned > 0 {
		fmt.Fprintf(w, "pruned:      %d\n", report.FilesPruned)
	}
	fmt.Fprintf(w, "chunks:      %d in %d batch(es)\n", report.Chunks, report.Batches)
	fmt.Fprintf(w, "points:      %d\n", report.Points)
	fmt.Fprintf(w, "took:        %s\n", report.Duration.Round(time.Millisecond))
	return nil
}

// WriteStatus writes an index status report.
func WriteStatus(w io.Writer, r *status.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	fmt.Fprintf(w, "collection:        %s (%s)\n", r.Collection, r.VectorBackend)
	if r.Points != nil {
		fmt.Fprintf(w, "points:            %d   # vectors in the collection\n", *r.Points)
	} else {
		fmt.Fprintf(w, "points:            unavailable (%s)\n", r.VectorError)
	}
	if r.StateEntries != nil {
		fmt.Fprintf(w, "indexed_files:     %d   # entries in %s\n", *r.StateEntries, r.StatePath)
	} else {
		fmt.Fprintf(w, "indexed_files:     unavailable (%s)\n", r.StateError)
	}
	fmt.Fprintf(w, "disk_usage_bytes:  %d\n", r.DiskUsageBytes)
	fmt.Fprintf(w, "pipeline:          %s", r.Pipeline.State)
	if r.Pipeline.Batches > 0 && r.Pipeline.State == indexer.StateEmbedding {
		fmt.Fprintf(w, " (batch %d/%d)", r.Pipeline.Batch, r.Pipeline.Batches)
	}
	fmt.Fprintln(w)
	if r.LastRun != nil {
		fmt.Fprintf(w, "last_run:          %s at %s, %d changed\n",
			r.LastRun.RunID, r.LastRun.StartedAt.Format(time.RFC3339), r.LastRun.FilesChanged)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
