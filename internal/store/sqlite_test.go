package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/panel/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

func TestUpsertCheckpoint_InsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	done := time.Now().UTC().Truncate(time.Second)
	cp := &models.ReviewerCheckpoint{
		TaskID:            "PR-42",
		Reviewer:          "security",
		Status:            models.CheckpointStatusCompleted,
		IssuesJSON:        `[{"severity":"HIGH","title":"x"}]`,
		FinalSatisfaction: 88.5,
		Iterations:        2,
		CompletedAt:       &done,
	}
	err := s.UpsertCheckpoint(ctx, cp)
	require.NoError(t, err)
	assert.NotEmpty(t, cp.ID)
	assert.False(t, cp.StartedAt.IsZero())

	got, err := s.GetCheckpoint(ctx, "PR-42", "security")
	require.NoError(t, err)
	assert.Equal(t, cp.ID, got.ID)
	assert.Equal(t, models.CheckpointStatusCompleted, got.Status)
	assert.Equal(t, cp.IssuesJSON, got.IssuesJSON)
	assert.Equal(t, 88.5, got.FinalSatisfaction)
	assert.Equal(t, 2, got.Iterations)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, "[]", got.UsageJSON, "empty usage defaults to an empty array")
}

func TestUpsertCheckpoint_ReplacesOnSameReviewer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &models.ReviewerCheckpoint{
		TaskID:   "PR-42",
		Reviewer: "security",
		Status:   models.CheckpointStatusError,
	}
	require.NoError(t, s.UpsertCheckpoint(ctx, first))

	done := time.Now().UTC()
	second := &models.ReviewerCheckpoint{
		TaskID:            "PR-42",
		Reviewer:          "security",
		Status:            models.CheckpointStatusCompleted,
		FinalSatisfaction: 91,
		Iterations:        3,
		CompletedAt:       &done,
	}
	require.NoError(t, s.UpsertCheckpoint(ctx, second))

	all, err := s.ListCheckpoints(ctx, "PR-42")
	require.NoError(t, err)
	require.Len(t, all, 1, "upsert must not duplicate the (task, reviewer) row")
	assert.Equal(t, models.CheckpointStatusCompleted, all[0].Status)
	assert.Equal(t, 3, all[0].Iterations)
}

func TestListCompletedCheckpoints_FiltersErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertCheckpoint(ctx, &models.ReviewerCheckpoint{
		TaskID: "PR-42", Reviewer: "security", Status: models.CheckpointStatusCompleted,
	}))
	require.NoError(t, s.UpsertCheckpoint(ctx, &models.ReviewerCheckpoint{
		TaskID: "PR-42", Reviewer: "quality", Status: models.CheckpointStatusError,
	}))
	require.NoError(t, s.UpsertCheckpoint(ctx, &models.ReviewerCheckpoint{
		TaskID: "PR-99", Reviewer: "security", Status: models.CheckpointStatusCompleted,
	}))

	completed, err := s.ListCompletedCheckpoints(ctx, "PR-42")
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "security", completed[0].Reviewer)

	all, err := s.ListCheckpoints(ctx, "PR-42")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDeleteCheckpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertCheckpoint(ctx, &models.ReviewerCheckpoint{
		TaskID: "PR-42", Reviewer: "security", Status: models.CheckpointStatusCompleted,
	}))
	require.NoError(t, s.UpsertCheckpoint(ctx, &models.ReviewerCheckpoint{
		TaskID: "PR-42", Reviewer: "quality", Status: models.CheckpointStatusCompleted,
	}))

	n, err := s.DeleteCheckpoints(ctx, "PR-42")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.GetCheckpoint(ctx, "PR-42", "security")
	assert.Error(t, err)
}

func TestGetCheckpoint_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetCheckpoint(context.Background(), "nope", "security")
	assert.ErrorContains(t, err, "checkpoint not found")
}
