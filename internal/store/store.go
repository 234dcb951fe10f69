package store

import (
	"context"

	"github.com/joescharf/panel/internal/models"
)

// Store defines the persistence interface for panel checkpoints.
type Store interface {
	// UpsertCheckpoint inserts or replaces the checkpoint for the
	// checkpoint's (TaskID, Reviewer) pair.
	UpsertCheckpoint(ctx context.Context, cp *models.ReviewerCheckpoint) error

	// GetCheckpoint returns the checkpoint for one reviewer of a task.
	GetCheckpoint(ctx context.Context, taskID, reviewer string) (*models.ReviewerCheckpoint, error)

	// ListCheckpoints returns every checkpoint recorded for a task.
	ListCheckpoints(ctx context.Context, taskID string) ([]*models.ReviewerCheckpoint, error)

	// ListCompletedCheckpoints returns only the checkpoints a resumed
	// review may reuse.
	ListCompletedCheckpoints(ctx context.Context, taskID string) ([]*models.ReviewerCheckpoint, error)

	// DeleteCheckpoints removes all checkpoints for a task.
	DeleteCheckpoints(ctx context.Context, taskID string) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
