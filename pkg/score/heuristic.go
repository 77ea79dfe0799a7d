package score

import (
	"strings"
)

const (
	// maxHeuristicRunes bounds how much of a page the heuristic reads
	maxHeuristicRunes = 200_000

	keywordTextWeight = 0.5
	keywordURLWeight  = 1.0
	penaltyWeight     = 1.0

	MinScore = 0.0
	MaxScore = 100.0
)

var keywords = []string{
	"dataset", "data", "download", "csv", "xlsx", "json", "statistics",
	"report", "api", "resource", "catalog", "open data", "indicator", "time series",
}

var penalties = []string{"login", "signin", "javascript:"}

// Heuristic scores how likely a page is to lead to data files. Each keyword
// adds 0.5 per non-overlapping occurrence in the page text and 1.0 if it
// appears in the URL; each penalty term found in text or URL subtracts 1.0.
// The result is clamped to [0, 100].
func Heuristic(html, pageURL string) float64 {
	text := strings.ToLower(truncateRunes(html, maxHeuristicRunes))
	lowerURL := strings.ToLower(pageURL)

	score := 0.0
	for _, kw := range keywords {
		score += keywordTextWeight * float64(strings.Count(text, kw))
		if strings.Contains(lowerURL, kw) {
			score += keywordURLWeight
		}
	}
	for _, p := range penalties {
		if strings.Contains(text, p) || strings.Contains(lowerURL, p) {
			score -= penaltyWeight
		}
	}
	return clamp(score)
}

func clamp(v float64) float64 {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

// truncateRunes returns at most n runes of s
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
