package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/joescharf/panel/internal/session"
)

var (
	reviewsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "panel",
		Name:      "reviews_started_total",
		Help:      "Review tasks accepted by the API.",
	})

	reviewsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "panel",
		Name:      "reviews_finished_total",
		Help:      "Review tasks reaching a terminal state, by status.",
	}, []string{"status"})

	issuesFound = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "panel",
		Name:      "issues_found_total",
		Help:      "Merged issues reported across all completed reviews.",
	})

	activeReviews = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "panel",
		Name:      "active_reviews",
		Help:      "Review sessions currently running.",
	})
)

// observeSession tracks one freshly started session through to its
// terminal state.
func observeSession(sess *session.Session) {
	reviewsStarted.Inc()
	activeReviews.Inc()
	go func() {
		<-sess.Done()
		activeReviews.Dec()
		reviewsFinished.WithLabelValues(string(sess.Status())).Inc()
		if report := sess.Report(); report != nil {
			issuesFound.Add(float64(len(report.Issues)))
		}
	}()
}
