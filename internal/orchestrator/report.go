package orchestrator

import (
	"fmt"
	"strings"

	"github.com/joescharf/panel/internal/models"
)

// Per-issue score deductions from a perfect 10.
const (
	deductCritical = 2.0
	deductHigh     = 1.0
	deductMedium   = 0.3
	deductLow      = 0.1
)

// severityCounts tallies merged issues by severity.
func severityCounts(issues []models.Issue) map[models.Severity]int {
	by := map[models.Severity]int{}
	for _, issue := range issues {
		by[issue.Severity]++
	}
	return by
}

// scoreIssues computes the 0-10 quality score by severity deduction.
func scoreIssues(by map[models.Severity]int) float64 {
	score := 10.0 -
		deductCritical*float64(by[models.SeverityCritical]) -
		deductHigh*float64(by[models.SeverityHigh]) -
		deductMedium*float64(by[models.SeverityMedium]) -
		deductLow*float64(by[models.SeverityLow])
	if score < 0 {
		return 0
	}
	return score
}

// recommend derives the verdict from the severity tallies.
func recommend(by map[models.Severity]int) models.Recommendation {
	crit := by[models.SeverityCritical]
	high := by[models.SeverityHigh]
	switch {
	case crit >= 1 || high > 3:
		return models.RecommendationRequestChanges
	case high >= 1:
		return models.RecommendationApproveWithChanges
	default:
		return models.RecommendationApprove
	}
}

// nextSteps renders a short severity-grouped action list. Issues arrive
// already sorted by priority, so the first titles per severity are the
// most pressing ones.
func nextSteps(issues []models.Issue) []string {
	const maxTitles = 3
	order := []models.Severity{
		models.SeverityCritical, models.SeverityHigh,
		models.SeverityMedium, models.SeverityLow,
	}
	verbs := map[models.Severity]string{
		models.SeverityCritical: "Fix before merge",
		models.SeverityHigh:     "Address",
		models.SeverityMedium:   "Consider fixing",
		models.SeverityLow:      "Optionally clean up",
	}

	var steps []string
	for _, sev := range order {
		var titles []string
		count := 0
		for _, issue := range issues {
			if issue.Severity != sev {
				continue
			}
			count++
			if len(titles) < maxTitles {
				titles = append(titles, issue.Title)
			}
		}
		if count == 0 {
			continue
		}
		step := fmt.Sprintf("%s %d %s issue(s): %s",
			verbs[sev], count, strings.ToLower(string(sev)), strings.Join(titles, "; "))
		if count > len(titles) {
			step += fmt.Sprintf(" (+%d more)", count-len(titles))
		}
		steps = append(steps, step)
	}
	return steps
}
