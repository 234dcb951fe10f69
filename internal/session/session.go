// Package session tracks one cancellable background unit of work per
// review task and buffers its progress events for replay to any number
// of subscribers.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/joescharf/panel/internal/models"
)

// Status is the lifecycle state of a review session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// subscriberSlack is extra channel capacity beyond the replay buffer so a
// subscriber reading history is unlikely to drop the first live events.
const subscriberSlack = 16

// Session is one review's event hub. The buffer and subscriber set are
// the only concurrently mutated state and share the one mutex.
type Session struct {
	TaskID string

	mu       sync.Mutex
	status   Status
	buf      []models.ProgressEvent // bounded ring, oldest dropped first
	capacity int
	subs     map[chan models.ProgressEvent]struct{}
	report   *models.FinalReport
	errMsg   string

	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	endedAt   time.Time
}

func newSession(taskID string, capacity int, cancel context.CancelFunc) *Session {
	return &Session{
		TaskID:    taskID,
		status:    StatusRunning,
		capacity:  capacity,
		subs:      make(map[chan models.ProgressEvent]struct{}),
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now().UTC(),
	}
}

// Publish appends the event to the ring buffer and offers it to every
// live subscriber. A full subscriber queue silently drops the event
// rather than blocking the producer; the buffer remains the source of
// truth for replay.
func (s *Session) Publish(ev models.ProgressEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if ev.TaskID == "" {
		ev.TaskID = s.TaskID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, ev)
	if len(s.buf) > s.capacity {
		s.buf = s.buf[len(s.buf)-s.capacity:]
	}
	for ch := range s.subs {
		select {
		case ch <- ev:
		default: // deliberate backpressure: slow subscribers lose live events
		}
	}
}

// Subscribe registers a new subscriber queue. The returned channel first
// yields the full buffered history, then live events, so a reconnecting
// client misses nothing that is still buffered.
func (s *Session) Subscribe() chan models.ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan models.ProgressEvent, s.capacity+subscriberSlack)
	for _, ev := range s.buf {
		ch <- ev
	}
	s.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber queue. It cancels only the
// subscription, never the review.
func (s *Session) Unsubscribe(ch chan models.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}

// complete transitions the session to a terminal state and publishes the
// sentinel event subscribers close on. The buffer stays available for
// later replay.
func (s *Session) complete(status Status, report *models.FinalReport, errMsg string) {
	s.mu.Lock()
	if s.status != StatusRunning {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.report = report
	s.errMsg = errMsg
	s.endedAt = time.Now().UTC()
	s.mu.Unlock()

	sentinel := models.ProgressEvent{Type: models.EventReviewCompleted}
	if status == StatusFailed {
		sentinel = models.ProgressEvent{Type: models.EventReviewError, Message: errMsg}
	}
	s.Publish(sentinel)
	close(s.done)
}

// Status returns the session's current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Report returns the final report once the session completed.
func (s *Session) Report() *models.FinalReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Err returns the failure message for failed sessions.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// StartedAt returns when the session began.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// History returns a copy of the buffered events.
func (s *Session) History() []models.ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ProgressEvent, len(s.buf))
	copy(out, s.buf)
	return out
}
