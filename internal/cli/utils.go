// Package cli provides output helpers for the docrag command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/syncer"
	"github.com/hyperjump/docrag/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const snippetWords = 40

// WriteSearchResults writes a search response to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", len(response.Results), response.QueryTime)
	if response.Answer != "" {
		fmt.Fprintf(w, "Answer:\n%s\n\n", response.Answer)
	}
	for i, result := range response.Results {
		writeOneResult(w, i+1, result)
	}
	return nil
}

func writeOneResult(w io.Writer, rank int, result *models.ScoredChunk) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f | Chunk: %d\n", rank, result.Score, result.ChunkIndex)
	fmt.Fprintf(w, "Document: %s\n", result.DocumentID)
	if result.DocumentName != "" {
		fmt.Fprintf(w, "Name: %s\n", result.DocumentName)
	}
	fmt.Fprintf(w, "\n%s\n", TruncateWords(result.Text, snippetWords))
	fmt.Fprintln(w)
}

// PrintSearchResults prints search results to stdout in text format.
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// WriteSyncReport writes the outcome of a sync run.
func WriteSyncReport(w io.Writer, rep *syncer.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, rep)
	}
	mode := "incremental"
	if rep.Full {
		mode = "full"
	}
	fmt.Fprintf(w, "Sync (%s) finished in %s\n", mode, rep.Duration)
	fmt.Fprintf(w, "  found:   %d\n  indexed: %d\n  skipped: %d\n  failed:  %d\n  removed: %d\n",
		rep.Found, rep.Indexed, rep.Skipped, rep.Failed, rep.Removed)
	for _, e := range rep.Errors {
		fmt.Fprintf(w, "  error: %s\n", utils.Truncate(e, 200))
	}
	return nil
}

// Status summarizes the index for the status command.
type Status struct {
	Backend      string     `json:"backend"`
	Collection   string     `json:"collection"`
	Dimensions   int        `json:"dimensions"`
	Points       int        `json:"points"`
	Documents    []string   `json:"documents"`
	Breaker      string     `json:"breaker"`
	DiskUsage    *int64     `json:"disk_usage_bytes,omitempty"`
	LastSync     *time.Time `json:"last_sync,omitempty"`
	LastFullSync *time.Time `json:"last_full_sync,omitempty"`
}

// WriteStatus writes the index status.
func WriteStatus(w io.Writer, st *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Backend:    %s\n", st.Backend)
	fmt.Fprintf(w, "Collection: %s (%d dimensions)\n", st.Collection, st.Dimensions)
	fmt.Fprintf(w, "Breaker:    %s\n", st.Breaker)
	fmt.Fprintf(w, "Points:     %d\n", st.Points)
	fmt.Fprintf(w, "Documents:  %d\n", len(st.Documents))
	if st.DiskUsage != nil {
		fmt.Fprintf(w, "Disk usage: %d bytes\n", *st.DiskUsage)
	}
	fmt.Fprintf(w, "Last sync:  %s\n", formatTime(st.LastSync))
	fmt.Fprintf(w, "Full sync:  %s\n", formatTime(st.LastFullSync))
	for _, id := range st.Documents {
		fmt.Fprintf(w, "  %s\n", id)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
