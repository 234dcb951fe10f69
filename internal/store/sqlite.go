package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/panel/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors when several reviewer loops
	// checkpoint at once.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Checkpoints ---

const checkpointColumns = `id, task_id, reviewer, status, issues_json, final_satisfaction, iterations, usage_json, started_at, completed_at`

func (s *SQLiteStore) UpsertCheckpoint(ctx context.Context, cp *models.ReviewerCheckpoint) error {
	if cp.ID == "" {
		cp.ID = newULID()
	}
	if cp.StartedAt.IsZero() {
		cp.StartedAt = time.Now().UTC()
	}
	if cp.IssuesJSON == "" {
		cp.IssuesJSON = "[]"
	}
	if cp.UsageJSON == "" {
		cp.UsageJSON = "[]"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reviewer_checkpoints (`+checkpointColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id, reviewer) DO UPDATE SET
			status = excluded.status,
			issues_json = excluded.issues_json,
			final_satisfaction = excluded.final_satisfaction,
			iterations = excluded.iterations,
			usage_json = excluded.usage_json,
			completed_at = excluded.completed_at`,
		cp.ID, cp.TaskID, cp.Reviewer, cp.Status, cp.IssuesJSON,
		cp.FinalSatisfaction, cp.Iterations, cp.UsageJSON, cp.StartedAt, cp.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, taskID, reviewer string) (*models.ReviewerCheckpoint, error) {
	cp := &models.ReviewerCheckpoint{}
	err := s.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM reviewer_checkpoints WHERE task_id = ? AND reviewer = ?`,
		taskID, reviewer,
	).Scan(&cp.ID, &cp.TaskID, &cp.Reviewer, &cp.Status, &cp.IssuesJSON,
		&cp.FinalSatisfaction, &cp.Iterations, &cp.UsageJSON, &cp.StartedAt, &cp.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("checkpoint not found: %s/%s", taskID, reviewer)
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return cp, nil
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context, taskID string) ([]*models.ReviewerCheckpoint, error) {
	return s.listCheckpoints(ctx,
		`SELECT `+checkpointColumns+` FROM reviewer_checkpoints WHERE task_id = ? ORDER BY reviewer`,
		taskID)
}

func (s *SQLiteStore) ListCompletedCheckpoints(ctx context.Context, taskID string) ([]*models.ReviewerCheckpoint, error) {
	return s.listCheckpoints(ctx,
		`SELECT `+checkpointColumns+` FROM reviewer_checkpoints WHERE task_id = ? AND status = ? ORDER BY reviewer`,
		taskID, string(models.CheckpointStatusCompleted))
}

func (s *SQLiteStore) listCheckpoints(ctx context.Context, query string, args ...any) ([]*models.ReviewerCheckpoint, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cps []*models.ReviewerCheckpoint
	for rows.Next() {
		cp := &models.ReviewerCheckpoint{}
		if err := rows.Scan(&cp.ID, &cp.TaskID, &cp.Reviewer, &cp.Status, &cp.IssuesJSON,
			&cp.FinalSatisfaction, &cp.Iterations, &cp.UsageJSON, &cp.StartedAt, &cp.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

func (s *SQLiteStore) DeleteCheckpoints(ctx context.Context, taskID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM reviewer_checkpoints WHERE task_id = ?`, taskID)
	if err != nil {
		return 0, fmt.Errorf("delete checkpoints: %w", err)
	}
	return result.RowsAffected()
}
