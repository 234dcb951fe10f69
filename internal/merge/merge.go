// Package merge deduplicates and prioritizes issues collected from
// multiple reviewers and backends.
package merge

import (
	"sort"

	"github.com/joescharf/panel/internal/models"
)

// key is the dedup identity of an issue. Two findings at the same file,
// start line, and category are the same issue regardless of who flagged it.
type key struct {
	File     string
	Line     int
	Category models.Category
}

// severityBase maps severity to its base priority contribution.
var severityBase = map[models.Severity]float64{
	models.SeverityCritical: 100,
	models.SeverityHigh:     75,
	models.SeverityMedium:   50,
	models.SeverityLow:      25,
}

// categoryMultiplier weights categories; security and logic findings
// outrank style and documentation nits at equal severity.
var categoryMultiplier = map[models.Category]float64{
	models.CategorySecurity:      1.5,
	models.CategoryLogic:         1.3,
	models.CategoryPerformance:   1.2,
	models.CategoryArchitecture:  1.1,
	models.CategoryTesting:       1.0,
	models.CategoryBusiness:      1.0,
	models.CategoryStyle:         0.8,
	models.CategoryDocumentation: 0.7,
}

// Score computes an issue's priority: severity base times category
// multiplier, plus 5 per flagging reviewer, capped at 100.
func Score(issue models.Issue) float64 {
	mult, ok := categoryMultiplier[issue.Category]
	if !ok {
		mult = 1.0
	}
	score := severityBase[issue.Severity]*mult + 5*float64(len(issue.FlaggedBy))
	if score > 100 {
		score = 100
	}
	return score
}

// Issues deduplicates by (file, line, category) and orders the result by
// descending priority score, stable on ties. On collision the kept issue
// takes the max severity and the union of FlaggedBy; first-seen wins for
// every other field. The operation is idempotent and order-independent
// apart from first-seen tie-breaking.
func Issues(issues []models.Issue) []models.Issue {
	index := make(map[key]int)
	var out []models.Issue

	for _, issue := range issues {
		k := key{File: issue.File, Line: issue.LineStart, Category: issue.Category}
		i, seen := index[k]
		if !seen {
			kept := issue
			kept.FlaggedBy = unionFlaggedBy(nil, issue.FlaggedBy)
			index[k] = len(out)
			out = append(out, kept)
			continue
		}
		out[i].Severity = models.MaxSeverity(out[i].Severity, issue.Severity)
		out[i].FlaggedBy = unionFlaggedBy(out[i].FlaggedBy, issue.FlaggedBy)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return Score(out[i]) > Score(out[j])
	})
	return out
}

// unionFlaggedBy merges provenance sets, preserving first-seen order and
// dropping duplicates.
func unionFlaggedBy(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing)+len(extra))
	out := make([]string, 0, len(existing)+len(extra))
	for _, s := range existing {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range extra {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
