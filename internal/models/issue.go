package models

// Severity classifies how serious an issue is.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// severityRank orders severities for max-of comparisons. Higher is worse.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the numeric rank of the severity (unknown severities rank lowest).
func (s Severity) Rank() int { return severityRank[s] }

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Category classifies the kind of problem an issue describes.
type Category string

const (
	CategorySecurity      Category = "security"
	CategoryLogic         Category = "logic"
	CategoryPerformance   Category = "performance"
	CategoryArchitecture  Category = "architecture"
	CategoryTesting       Category = "testing"
	CategoryBusiness      Category = "business"
	CategoryStyle         Category = "style"
	CategoryDocumentation Category = "documentation"
)

// Issue is one finding surfaced by a reviewer backend.
// Dedup identity is (File, LineStart, Category), not ID.
type Issue struct {
	ID            string   `json:"id,omitempty"`
	Severity      Severity `json:"severity"`
	Category      Category `json:"category"`
	File          string   `json:"file"`
	LineStart     int      `json:"line_start"`
	LineEnd       int      `json:"line_end,omitempty"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	SuggestedFix  string   `json:"suggested_fix,omitempty"`
	References    []string `json:"references,omitempty"`
	FlaggedBy     []string `json:"flagged_by,omitempty"` // provenance: which reviewers/backends found it
	Effort        int      `json:"effort,omitempty"`     // 1 (trivial) to 5 (major)
	FilesAffected int      `json:"files_affected,omitempty"`
}
