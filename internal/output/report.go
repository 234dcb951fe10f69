package output

import (
	"fmt"
	"strings"

	"github.com/joescharf/panel/internal/models"
)

// PrintReport renders a final review report for the terminal.
func (u *UI) PrintReport(report *models.FinalReport) {
	fmt.Fprintf(u.Out, "\n%s %s\n", Cyan("Review"), report.TaskID)
	if report.ProjectType != "" {
		fmt.Fprintf(u.Out, "Project type: %s\n", report.ProjectType)
	}
	fmt.Fprintf(u.Out, "Score: %s/10   Recommendation: %s\n",
		ScoreColor(report.Score), RecommendationColor(report.Recommendation))
	fmt.Fprintf(u.Out, "Duration: %s\n", report.Duration.Round(1e9))
	if len(report.Resumed) > 0 {
		u.Info("resumed from checkpoints: %s", strings.Join(report.Resumed, ", "))
	}
	fmt.Fprintln(u.Out)

	u.printReviewers(report)
	u.printIssues(report)

	if report.Agreement != nil {
		a := report.Agreement
		fmt.Fprintf(u.Out, "\nBackend agreement (%d backends): %d unique, %d overlapping, %d unanimous\n",
			a.Backends, a.Unique, a.Overlap, a.FullAgreement)
	}

	if len(report.NextSteps) > 0 {
		fmt.Fprintf(u.Out, "\n%s\n", Cyan("Next steps"))
		for _, step := range report.NextSteps {
			fmt.Fprintf(u.Out, "  - %s\n", step)
		}
	}

	if len(report.Usage) > 0 {
		fmt.Fprintln(u.Out)
		for _, usage := range report.Usage {
			u.VerboseLog("%s: %d in / %d out tokens", usage.Model, usage.InputTokens, usage.OutputTokens)
		}
	}
}

func (u *UI) printReviewers(report *models.FinalReport) {
	if len(report.Reviewers) == 0 {
		return
	}
	table := u.Table([]string{"Reviewer", "Status", "Convergence", "Iterations"})
	for _, rr := range report.Reviewers {
		status := string(rr.Status)
		switch rr.Status {
		case models.ReviewerStatusCompleted:
			status = Green(status)
		case models.ReviewerStatusError:
			status = Red(status)
		case models.ReviewerStatusCancelled:
			status = Yellow(status)
		}
		_ = table.Append([]string{rr.Reviewer, status, string(rr.Convergence), fmt.Sprintf("%d", len(rr.History))})
	}
	_ = table.Render()
}

func (u *UI) printIssues(report *models.FinalReport) {
	if len(report.Issues) == 0 {
		u.Success("no issues found")
		return
	}

	fmt.Fprintf(u.Out, "\n%s (%d)\n", Cyan("Issues"), len(report.Issues))
	table := u.Table([]string{"Severity", "Category", "Location", "Title", "Found By"})
	for _, issue := range report.Issues {
		location := issue.File
		if issue.LineStart > 0 {
			location = fmt.Sprintf("%s:%d", issue.File, issue.LineStart)
		}
		_ = table.Append([]string{
			SeverityColor(issue.Severity),
			string(issue.Category),
			location,
			issue.Title,
			strings.Join(issue.FlaggedBy, ", "),
		})
	}
	_ = table.Render()
}
