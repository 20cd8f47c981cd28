// Package cli provides output formatting for the kotae command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const snippetLength = 200

// ParseFormat returns the output format named s. Unknown names fall back to text.
func ParseFormat(s string) OutputFormat {
	if strings.EqualFold(s, string(OutputJSON)) {
		return OutputJSON
	}
	return OutputText
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResponse writes an answer with its citations to w in the given format.
func WriteSearchResponse(w io.Writer, resp *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	writeSearchResponseText(w, resp)
	return nil
}

func writeSearchResponseText(w io.Writer, resp *models.SearchResponse) {
	if !resp.Grounded {
		reason := resp.Reason
		if reason == "" {
			reason = models.ReasonNoRelevantContent
		}
		fmt.Fprintf(w, "\nNo answer (%s) in %dms\n", reason, resp.Timing.TotalMs)
		return
	}

	var flags []string
	if resp.Cached {
		flags = append(flags, "cached")
	}
	if resp.Degraded {
		flags = append(flags, "vector only")
	}
	if resp.FellBack {
		flags = append(flags, "original query")
	}
	fmt.Fprintf(w, "\nAnswer (%s, %s tier, %dms", resp.AnswerMode, resp.Tier, resp.Timing.TotalMs)
	if len(flags) > 0 {
		fmt.Fprintf(w, ", %s", strings.Join(flags, ", "))
	}
	fmt.Fprintln(w, ")")
	fmt.Fprintf(w, "\n%s\n\n", resp.Answer)

	if len(resp.Citations) == 0 {
		return
	}
	fmt.Fprintln(w, "Sources:")
	for i, c := range resp.Citations {
		name := c.DocumentName
		if name == "" {
			name = c.DocumentID
		}
		loc := fmt.Sprintf("chunk %d", c.ChunkIndex)
		if c.PageNumber != nil {
			loc = fmt.Sprintf("page %d, %s", *c.PageNumber, loc)
		}
		fmt.Fprintf(w, "  [%d] %s (%s) score %.3f\n", i+1, name, loc, c.Score)
		if c.Snippet != "" {
			fmt.Fprintf(w, "      %s\n", utils.Truncate(c.Snippet, snippetLength))
		}
	}
}

// WriteStatus writes one document status to w.
func WriteStatus(w io.Writer, st models.DocumentStatus, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "ID:         %s\n", st.ID)
	fmt.Fprintf(w, "Name:       %s\n", st.Name)
	fmt.Fprintf(w, "State:      %s\n", st.State)
	fmt.Fprintf(w, "Stages:     metadata=%t chunks=%t embedded=%t\n", st.MetadataExtracted, st.ChunksCreated, st.Embedded)
	fmt.Fprintf(w, "Chunks:     %d (%d embedded)\n", st.ChunkCount, st.EmbeddingCount)
	fmt.Fprintf(w, "References: %d\n", st.References)
	if st.Retries > 0 {
		fmt.Fprintf(w, "Retries:    %d\n", st.Retries)
	}
	if st.State == models.StateFailed {
		fmt.Fprintf(w, "Failure:    %s: %s\n", st.FailureReason, st.Error)
	}
	return nil
}

// WriteStatusList writes a table of document statuses to w.
func WriteStatusList(w io.Writer, docs []models.DocumentStatus, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tCHUNKS\tREFS")
	for _, st := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", st.ID, TruncateWords(st.Name, 6), st.State, st.ChunkCount, st.References)
	}
	return tw.Flush()
}

// WriteBulkOutcomes writes per-file submission results to w.
func WriteBulkOutcomes(w io.Writer, outcomes []indexer.BulkOutcome, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, outcomes)
	}
	counts := map[string]int{}
	for _, o := range outcomes {
		counts[o.Status]++
		switch o.Status {
		case indexer.OutcomeError:
			fmt.Fprintf(w, "error      %s: %s\n", o.Name, o.Error)
		default:
			fmt.Fprintf(w, "%-10s %s -> %s\n", o.Status, o.Name, o.DocumentID)
		}
	}
	fmt.Fprintf(w, "\n%d submitted, %d duplicate, %d failed\n",
		counts[indexer.OutcomeSuccess], counts[indexer.OutcomeDuplicate], counts[indexer.OutcomeError])
	return nil
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
