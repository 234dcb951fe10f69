package fanout

import (
	"fmt"
	"strings"

	"github.com/joescharf/panel/internal/models"
	"github.com/joescharf/panel/internal/specialist"
)

// BuildMultiplexPrompt packs the whole specialist set into one invocation
// so the backend pays for the shared codebase context once.
func BuildMultiplexPrompt(specs []specialist.Specialist, rc *models.ReviewContext) string {
	var b strings.Builder

	b.WriteString("You are a code review panel running multiple specialist reviews over the same codebase in one pass.\n\n")

	b.WriteString("## Specialists\n\n")
	for _, s := range specs {
		fmt.Fprintf(&b, "### %s\n%s\n", s.Name, s.Focus)
		for _, item := range s.Checklist {
			fmt.Fprintf(&b, "- %s\n", item)
		}
		b.WriteString("\n")
	}

	if rc.Previous != nil && len(rc.Previous.Issues) > 0 {
		b.WriteString("## Findings From Prior Review\n\n")
		b.WriteString("Already reported against this task; do not duplicate them, but flag any you believe are wrong:\n")
		for _, issue := range rc.Previous.Issues {
			fmt.Fprintf(&b, "- [%s] %s:%d %s\n", issue.Severity, issue.File, issue.LineStart, issue.Title)
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
			fmt.Fprintf(&b, "### %s\n```\n%s\n```\n\n", f.Path, f.Content)
		}
	}

	b.WriteString("For EACH specialist above, emit one fenced JSON block of this shape:\n\n")
	b.WriteString("```json\n")
	b.WriteString(`{"specialist": "<name>", "review": {"summary": "...", "issues": [{"severity": "CRITICAL|HIGH|MEDIUM|LOW", "category": "...", "file": "path", "line_start": N, "title": "...", "description": "...", "suggested_fix": "..."}]}}`)
	b.WriteString("\n```\n\n")
	b.WriteString("Emit every block even when a specialist found nothing (empty issues array). No prose between blocks.\n")

	return b.String()
}
