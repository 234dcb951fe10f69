package challenger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joescharf/panel/internal/models"
	"github.com/joescharf/panel/internal/specialist"
)

// issueSchema documents the JSON shape reviewers must return for each issue.
const issueSchema = `{"severity": "CRITICAL|HIGH|MEDIUM|LOW", "category": "security|logic|performance|architecture|testing|business|style|documentation", "file": "path", "line_start": N, "line_end": N, "title": "...", "description": "...", "suggested_fix": "...", "effort": 1-5}`

// writeContext appends the shared codebase material to a prompt.
func writeContext(b *strings.Builder, rc *models.ReviewContext) {
	if rc.Previous != nil && len(rc.Previous.Issues) > 0 {
		b.WriteString("## Findings From Prior Review\n\n")
		b.WriteString("Already reported against this task; do not duplicate them, but flag any you believe are wrong:\n")
		for _, issue := range rc.Previous.Issues {
			fmt.Fprintf(b, "- [%s] %s:%d %s\n", issue.Severity, issue.File, issue.LineStart, issue.Title)
		}
		b.WriteString("\n")
	}
	if rc.StructureDocs != "" {
		b.WriteString("## Structure Documentation\n\n")
		b.WriteString(rc.StructureDocs)
		b.WriteString("\n\n")
	}
	if rc.Requirements != "" {
		b.WriteString("## Requirements\n\n")
		b.WriteString(rc.Requirements)
		b.WriteString("\n\n")
	}
	if len(rc.Files) > 0 {
		b.WriteString("## Files Under Review\n\n")
		for _, f := range rc.Files {
			fmt.Fprintf(b, "### %s\n```\n%s\n```\n\n", f.Path, f.Content)
		}
	}
}

// BuildReviewPrompt generates the initial reviewer prompt for a specialist.
func BuildReviewPrompt(spec specialist.Specialist, rc *models.ReviewContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a %s code review specialist.\n\n", spec.Name)
	fmt.Fprintf(&b, "Focus: %s\n\n", spec.Focus)
	if len(spec.Checklist) > 0 {
		b.WriteString("Checklist:\n")
		for _, item := range spec.Checklist {
			fmt.Fprintf(&b, "- %s\n", item)
		}
		b.WriteString("\n")
	}

	writeContext(&b, rc)

	b.WriteString("Return ONLY a JSON object, no markdown fencing or explanation:\n")
	fmt.Fprintf(&b, `{"specialist": %q, "summary": "...", "issues": [%s], "checklist": {"item": count}}`, spec.Name, issueSchema)
	b.WriteString("\nReport every genuine finding with exact file and line. Do not pad with trivia.\n")

	return b.String()
}

// BuildRefinePrompt conditions the next reviewer call on the latest critique.
func BuildRefinePrompt(spec specialist.Specialist, rc *models.ReviewContext, prev *models.ReviewOutput, feedback *models.ChallengerFeedback) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a %s code review specialist refining your previous review.\n\n", spec.Name)

	prevJSON, _ := json.Marshal(prev)
	b.WriteString("## Your Previous Review\n\n")
	b.Write(prevJSON)
	b.WriteString("\n\n")

	if feedback != nil {
		b.WriteString("## Challenger Critique\n\n")
		fmt.Fprintf(&b, "Completeness score: %.0f/100\n\n", feedback.Satisfaction)
		if len(feedback.MissedIssues) > 0 {
			b.WriteString("Candidate issues you may have missed:\n")
			for _, mi := range feedback.MissedIssues {
				fmt.Fprintf(&b, "- [%s] %s:%d %s\n", mi.Severity, mi.File, mi.LineStart, mi.Title)
			}
			b.WriteString("\n")
		}
		if len(feedback.Disputes) > 0 {
			b.WriteString("Disputed findings:\n")
			for _, d := range feedback.Disputes {
				fmt.Fprintf(&b, "- %s: %s\n", d.Title, d.Reason)
			}
			b.WriteString("\n")
		}
	}

	writeContext(&b, rc)

	b.WriteString("Produce an improved complete review. Validate each missed-issue candidate against the files before adopting it; drop or amend disputed findings you cannot defend.\n")
	b.WriteString("Return ONLY the same JSON object shape as before, no markdown fencing.\n")

	return b.String()
}

// BuildChallengerPrompt asks the critique role to score the latest review
// against the real files.
func BuildChallengerPrompt(spec specialist.Specialist, rc *models.ReviewContext, latest *models.ReviewOutput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are an adversarial review challenger for a %s review.\n", spec.Name)
	b.WriteString("Judge the review below for completeness and correctness against the actual files. Hunt for findings it missed and findings it got wrong.\n\n")

	latestJSON, _ := json.Marshal(latest)
	b.WriteString("## Review Under Critique\n\n")
	b.Write(latestJSON)
	b.WriteString("\n\n")

	writeContext(&b, rc)

	b.WriteString("Return ONLY a JSON object, no markdown fencing:\n")
	fmt.Fprintf(&b, `{"satisfaction": 0-100, "missed_issues": [%s], "disputes": [{"title": "...", "reason": "..."}]}`, issueSchema)
	b.WriteString("\nScore 100 only when you find nothing missed and nothing to dispute.\n")

	return b.String()
}
