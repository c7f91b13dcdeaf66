// Package output provides consistent CLI output formatting.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/bibliomcp/bibliomcp/internal/search"
)

// Writer provides formatted output for CLI.
type Writer struct {
	out io.Writer
}

// New creates a new output Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status("❌", msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Results renders a fused result list for human consumption.
func (w *Writer) Results(query string, resp *search.Response) {
	if resp == nil || len(resp.Results) == 0 {
		_, _ = fmt.Fprintf(w.out, "No results for %q\n", query)
		return
	}

	_, _ = fmt.Fprintf(w.out, "%d result", len(resp.Results))
	if len(resp.Results) != 1 {
		_, _ = fmt.Fprint(w.out, "s")
	}
	_, _ = fmt.Fprintf(w.out, " for %q (confidence: %s)\n\n", query, resp.Quality.Confidence)

	for i, r := range resp.Results {
		if r == nil {
			continue
		}
		_, _ = fmt.Fprintf(w.out, "%3d. %-24s %.4f  [%s]",
			i+1, r.ItemID, r.Score, strings.Join(r.Backends, ","))
		if r.SubQueryHits > 1 {
			_, _ = fmt.Fprintf(w.out, "  hits=%d", r.SubQueryHits)
		}
		_, _ = fmt.Fprintln(w.out)
	}

	w.Quality(resp)
}

// Quality renders the quality report footer.
func (w *Writer) Quality(resp *search.Response) {
	q := resp.Quality
	_, _ = fmt.Fprintf(w.out, "\ncoverage %d/%d backends",
		q.BackendsWithResults, q.BackendsQueried)
	if resp.AttemptsUsed > 1 {
		_, _ = fmt.Fprintf(w.out, ", %d attempts", resp.AttemptsUsed)
	}
	if len(resp.SubQueries) > 1 {
		_, _ = fmt.Fprintf(w.out, ", %d sub-queries", len(resp.SubQueries))
	}
	if q.ShouldEscalate {
		_, _ = fmt.Fprint(w.out, " (low confidence, refinement recommended)")
	}
	_, _ = fmt.Fprintln(w.out)
}
