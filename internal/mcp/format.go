package mcp

import (
	"fmt"
	"strings"

	"github.com/bibliomcp/bibliomcp/internal/backend"
	"github.com/bibliomcp/bibliomcp/internal/search"
)

// ToSearchOutput converts an orchestrator response to the tool output format.
func ToSearchOutput(resp *search.Response) SearchOutput {
	if resp == nil {
		return SearchOutput{Results: []ResultOutput{}}
	}

	out := SearchOutput{
		Results:      make([]ResultOutput, 0, len(resp.Results)),
		Quality:      toQualityOutput(resp.Quality),
		SubQueries:   resp.SubQueries,
		AttemptsUsed: resp.AttemptsUsed,
	}
	for _, r := range resp.Results {
		if r == nil {
			continue
		}
		out.Results = append(out.Results, toResultOutput(r))
	}
	return out
}

// toResultOutput converts one fused result with its explainability fields.
func toResultOutput(r *search.FusedResult) ResultOutput {
	out := ResultOutput{
		ItemID:        r.ItemID,
		Score:         r.Score,
		Backends:      r.Backends,
		BackendRanks:  r.BackendRanks,
		BackendScores: r.BackendScores,
		SubQueryHits:  r.SubQueryHits,
	}
	if r.Metadata != nil {
		out.Collection = r.Metadata[backend.MetaCollection]
		out.ItemType = r.Metadata[backend.MetaItemType]
	}
	return out
}

func toQualityOutput(q search.QualityReport) QualityOutput {
	return QualityOutput{
		Confidence:          string(q.Confidence),
		Coverage:            q.Coverage,
		ResultCount:         q.ResultCount,
		TopScore:            q.TopScore,
		BackendsQueried:     q.BackendsQueried,
		BackendsWithResults: q.BackendsWithResults,
		ShouldEscalate:      q.ShouldEscalate,
	}
}

// FormatResponse formats a search response as markdown.
func FormatResponse(query string, resp *search.Response) string {
	if resp == nil || len(resp.Results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Search Results for \"%s\"\n\n", query))
	sb.WriteString(fmt.Sprintf("Found %d result", len(resp.Results)))
	if len(resp.Results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString(fmt.Sprintf(" (confidence: %s)\n\n", resp.Quality.Confidence))

	if len(resp.SubQueries) > 1 {
		sb.WriteString("Sub-queries: ")
		for i, sq := range resp.SubQueries {
			if i > 0 {
				sb.WriteString("; ")
			}
			fmt.Fprintf(&sb, "`%s`", sq)
		}
		sb.WriteString("\n\n")
	}

	for i, r := range resp.Results {
		formatResult(&sb, i+1, r)
	}

	formatQuality(&sb, resp.Quality, resp.AttemptsUsed)
	return sb.String()
}

// formatResult formats a single fused result.
func formatResult(sb *strings.Builder, num int, r *search.FusedResult) {
	if r == nil {
		return
	}

	fmt.Fprintf(sb, "### %d. %s (score: %.4f)\n", num, r.ItemID, r.Score)
	fmt.Fprintf(sb, "**Match:** %s\n", matchReason(r))

	if r.Metadata != nil {
		var meta []string
		if c := r.Metadata[backend.MetaCollection]; c != "" {
			meta = append(meta, fmt.Sprintf("collection: %s", c))
		}
		if t := r.Metadata[backend.MetaItemType]; t != "" {
			meta = append(meta, fmt.Sprintf("type: %s", t))
		}
		if len(meta) > 0 {
			fmt.Fprintf(sb, "**Item:** %s\n", strings.Join(meta, ", "))
		}
	}
	sb.WriteString("\n")
}

// matchReason creates a human-readable explanation of why an item ranked
// where it did.
func matchReason(r *search.FusedResult) string {
	var parts []string

	for _, name := range r.Backends {
		if rank, ok := r.BackendRanks[name]; ok {
			parts = append(parts, fmt.Sprintf("%s rank %d", name, rank))
		} else {
			parts = append(parts, name)
		}
	}
	reason := strings.Join(parts, ", ")

	if len(r.Backends) > 1 {
		reason += fmt.Sprintf(" (agreement across %d backends)", len(r.Backends))
	}
	if r.SubQueryHits > 1 {
		reason += fmt.Sprintf("; relevant to %d sub-queries", r.SubQueryHits)
	}
	if reason == "" {
		reason = "matched content"
	}
	return reason
}

// formatQuality appends the quality report footer.
func formatQuality(sb *strings.Builder, q search.QualityReport, attempts int) {
	sb.WriteString("---\n")
	fmt.Fprintf(sb, "Coverage: %d/%d backends", q.BackendsWithResults, q.BackendsQueried)
	if attempts > 1 {
		fmt.Fprintf(sb, " after %d attempts", attempts)
	}
	if q.ShouldEscalate {
		sb.WriteString(". Consider refine_search for a stronger result set")
	}
	sb.WriteString(".\n")
}
