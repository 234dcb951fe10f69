package models

import "time"

// CheckpointStatus is the durable state of one reviewer's checkpoint.
type CheckpointStatus string

const (
	CheckpointStatusCompleted CheckpointStatus = "completed"
	CheckpointStatusError     CheckpointStatus = "error"
)

// ReviewerCheckpoint is a durable snapshot of one specialist's result,
// unique per (TaskID, Reviewer). Completed checkpoints let a resumed
// review skip re-running that specialist while still merging its issues.
type ReviewerCheckpoint struct {
	ID                string
	TaskID            string
	Reviewer          string
	Status            CheckpointStatus
	IssuesJSON        string // serialized []Issue
	FinalSatisfaction float64
	Iterations        int
	UsageJSON         string // serialized []ModelUsage
	StartedAt         time.Time
	CompletedAt       *time.Time
}
