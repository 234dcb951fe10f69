package models

import "time"

// ModelUsage records token consumption for one model within an invocation.
type ModelUsage struct {
	Model        string `json:"model"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// AddUsage merges b into a, summing entries that share a model name.
func AddUsage(a, b []ModelUsage) []ModelUsage {
	out := make([]ModelUsage, len(a))
	copy(out, a)
	for _, u := range b {
		merged := false
		for i := range out {
			if out[i].Model == u.Model {
				out[i].InputTokens += u.InputTokens
				out[i].OutputTokens += u.OutputTokens
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, u)
		}
	}
	return out
}

// ReviewOutput is one specialist's result from a single reviewer pass.
// It is immutable once returned by a loop iteration.
type ReviewOutput struct {
	Specialist  string         `json:"specialist"`
	Summary     string         `json:"summary,omitempty"`
	Issues      []Issue        `json:"issues"`
	Checklist   map[string]int `json:"checklist,omitempty"`   // checklist item -> findings tally
	Refinements []string       `json:"refinements,omitempty"` // audit trail of refine steps applied
	Usage       []ModelUsage   `json:"usage,omitempty"`
}

// Dispute challenges an existing issue as wrong or overstated.
type Dispute struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// ChallengerFeedback is the critique produced once per loop iteration.
type ChallengerFeedback struct {
	Satisfaction float64   `json:"satisfaction"` // 0-100 completeness score
	MissedIssues []Issue   `json:"missed_issues,omitempty"`
	Disputes     []Dispute `json:"disputes,omitempty"`
}

// IterationRecord is one append-only entry of a loop's history.
type IterationRecord struct {
	Iteration          int     `json:"iteration"`
	Satisfaction       float64 `json:"satisfaction"`
	IssuesAdded        int     `json:"issues_added"`
	ChallengesResolved int     `json:"challenges_resolved"`
}

// Convergence is a challenger loop's terminal state.
type Convergence string

const (
	ConvergenceThresholdMet     Convergence = "THRESHOLD_MET"
	ConvergenceForcedAcceptance Convergence = "FORCED_ACCEPTANCE"
	ConvergenceMaxIterations    Convergence = "MAX_ITERATIONS_REACHED"
	ConvergenceStagnated        Convergence = "STAGNATED"
	ConvergenceCancelled        Convergence = "CANCELLED"
	ConvergenceError            Convergence = "ERROR"
)

// ReviewerStatus is the outcome of one specialist's run within a review.
type ReviewerStatus string

const (
	ReviewerStatusCompleted ReviewerStatus = "completed"
	ReviewerStatusError     ReviewerStatus = "error"
	ReviewerStatusCancelled ReviewerStatus = "cancelled"
)

// ReviewerResult bundles everything one specialist produced, including
// failures. A failed reviewer never aborts the overall review.
type ReviewerResult struct {
	Reviewer    string            `json:"reviewer"`
	Status      ReviewerStatus    `json:"status"`
	Output      *ReviewOutput     `json:"output,omitempty"`
	History     []IterationRecord `json:"history,omitempty"`
	Convergence Convergence       `json:"convergence,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
}

// Recommendation is the overall verdict derived from merged issues.
type Recommendation string

const (
	RecommendationRequestChanges     Recommendation = "REQUEST_CHANGES"
	RecommendationApproveWithChanges Recommendation = "APPROVE_WITH_CHANGES"
	RecommendationApprove            Recommendation = "APPROVE"
)

// Agreement reports cross-backend overlap observed during fan-out.
type Agreement struct {
	Backends      int `json:"backends"`       // successful backends contributing
	Unique        int `json:"unique"`         // issues found by exactly one backend
	Overlap       int `json:"overlap"`        // issues found by two or more
	FullAgreement int `json:"full_agreement"` // issues found by every backend
}

// FinalReport is the aggregate result of a review task. It is always
// well-formed, even when every reviewer failed.
type FinalReport struct {
	TaskID         string           `json:"task_id"`
	ProjectType    string           `json:"project_type,omitempty"`
	Issues         []Issue          `json:"issues"`
	BySeverity     map[Severity]int `json:"by_severity"`
	Score          float64          `json:"score"` // 0-10, severity deductions
	Recommendation Recommendation   `json:"recommendation"`
	Reviewers      []ReviewerResult `json:"reviewers"`
	NextSteps      []string         `json:"next_steps,omitempty"`
	Agreement      *Agreement       `json:"agreement,omitempty"`
	Resumed        []string         `json:"resumed,omitempty"` // reviewers loaded from checkpoints
	Duration       time.Duration    `json:"duration"`
	Usage          []ModelUsage     `json:"usage,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}
