package search

// AssessQuality computes a quality report for a fused result set.
//
// Coverage is backendsWithResults / backendsQueried. Confidence is low when
// coverage falls below the low threshold or the result count is under the
// configured minimum; high when coverage reaches the high threshold and the
// top fused score reaches the quality floor; medium otherwise.
//
// This is a pure function: the same inputs always yield the same report.
func AssessQuality(results []*FusedResult, backendsQueried, backendsWithResults int, cfg Config) QualityReport {
	report := QualityReport{
		ResultCount:         len(results),
		BackendsQueried:     backendsQueried,
		BackendsWithResults: backendsWithResults,
	}

	if backendsQueried > 0 {
		report.Coverage = float64(backendsWithResults) / float64(backendsQueried)
	}
	if len(results) > 0 {
		report.TopScore = results[0].Score
	}

	minResults := cfg.MinResults
	if minResults <= 0 {
		minResults = 3
	}

	switch {
	case report.ResultCount == 0,
		report.Coverage < cfg.LowCoverage,
		report.ResultCount < minResults:
		report.Confidence = ConfidenceLow
	case report.Coverage >= cfg.HighCoverage && report.TopScore >= cfg.qualityFloor():
		report.Confidence = ConfidenceHigh
	default:
		report.Confidence = ConfidenceMedium
	}

	report.ShouldEscalate = report.Confidence == ConfidenceLow || report.ResultCount == 0
	return report
}
