package session

import (
	"context"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/joescharf/panel/internal/models"
)

// Runner is the background work a session drives. It must return the
// final report, or an error when context preparation failed outright.
type Runner func(ctx context.Context, s *Session) (*models.FinalReport, error)

// Registry owns every live session in the process. It is constructed at
// the composition root and injected; there is no package-level instance.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	capacity  int
	retention time.Duration
}

// NewRegistry creates a registry, reading buffer capacity and completed-
// session retention from viper when configured.
func NewRegistry() *Registry {
	capacity := viper.GetInt("session.buffer_capacity")
	if capacity <= 0 {
		capacity = 256
	}
	retention := viper.GetDuration("session.retention")
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &Registry{
		sessions:  make(map[string]*Session),
		capacity:  capacity,
		retention: retention,
	}
}

// StartOrGet returns the running session for taskID, or starts a new one
// driving run in the background. The bool reports whether a session
// already existed — a duplicate start never duplicates work.
func (r *Registry) StartOrGet(taskID string, run Runner) (*Session, bool) {
	r.mu.Lock()
	if existing, ok := r.sessions[taskID]; ok && existing.Status() == StatusRunning {
		r.mu.Unlock()
		return existing, true
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := newSession(taskID, r.capacity, cancel)
	r.sessions[taskID] = s
	r.mu.Unlock()

	go func() {
		report, err := run(ctx, s)
		switch {
		case ctx.Err() != nil:
			s.complete(StatusCancelled, report, "review cancelled")
		case err != nil:
			s.complete(StatusFailed, nil, err.Error())
		default:
			s.complete(StatusCompleted, report, "")
		}
		// Keep the finished session around for replay, then sweep it.
		time.AfterFunc(r.retention, func() { r.remove(taskID, s) })
	}()

	return s, false
}

// Get returns the session for taskID, live or recently completed.
func (r *Registry) Get(taskID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[taskID]
	return s, ok
}

// List returns all known sessions.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Cancel requests cooperative cancellation of a running review. This is
// the only way a review stops early; subscriber disconnects never do.
func (r *Registry) Cancel(taskID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[taskID]
	r.mu.Unlock()
	if !ok || s.Status() != StatusRunning {
		return false
	}
	s.cancel()
	return true
}

// remove drops s only if it is still the registered session for taskID;
// a fresh restart under the same id must not be swept by a stale timer.
func (r *Registry) remove(taskID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[taskID]; ok && current == s {
		delete(r.sessions, taskID)
	}
}
