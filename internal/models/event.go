package models

import "time"

// EventType names a progress event on the review stream.
type EventType string

const (
	EventControl           EventType = "control"
	EventReviewStarted     EventType = "review-started"
	EventReviewCompleted   EventType = "review-completed"
	EventReviewError       EventType = "review-error"
	EventReviewerStarted   EventType = "reviewer-started"
	EventReviewerIteration EventType = "reviewer-iteration"
	EventReviewerStreaming EventType = "reviewer-streaming"
	EventReviewerCompleted EventType = "reviewer-completed"
	EventReviewerError     EventType = "reviewer-error"
	EventPing              EventType = "ping"
)

// ProgressEvent is one entry on a review's progress stream. Only non-zero
// fields are serialized.
type ProgressEvent struct {
	Type         EventType `json:"type"`
	TaskID       string    `json:"task_id,omitempty"`
	Time         time.Time `json:"time"`
	Reviewer     string    `json:"reviewer,omitempty"`
	Iteration    int       `json:"iteration,omitempty"`
	Satisfaction float64   `json:"satisfaction,omitempty"`
	IssueCount   int       `json:"issue_count,omitempty"`
	Message      string    `json:"message,omitempty"`
	Chunk        string    `json:"chunk,omitempty"`
	Reconnect    bool      `json:"reconnect,omitempty"`
}

// Terminal reports whether the event closes the stream for subscribers.
func (e ProgressEvent) Terminal() bool {
	switch e.Type {
	case EventReviewCompleted, EventReviewError:
		return true
	}
	return false
}
