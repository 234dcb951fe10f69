// Package api exposes the review engine over HTTP: task lifecycle,
// a server-sent-events progress stream, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joescharf/panel/internal/models"
	"github.com/joescharf/panel/internal/orchestrator"
	"github.com/joescharf/panel/internal/session"
)

// ReviewRunner runs one review task. *orchestrator.Engine implements it.
type ReviewRunner interface {
	Run(ctx context.Context, req orchestrator.Request, sink orchestrator.EventSink) (*models.FinalReport, error)
}

// EngineFactory builds a runner for a request's backend selection. An
// empty selection means the configured default backends.
type EngineFactory func(backends []string) (ReviewRunner, error)

// Server provides the REST API handlers.
type Server struct {
	registry  *session.Registry
	engineFor EngineFactory
}

// NewServer creates a new API server.
func NewServer(registry *session.Registry, engineFor EngineFactory) *Server {
	return &Server{registry: registry, engineFor: engineFor}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/reviews", s.startReview)
	mux.HandleFunc("GET /api/v1/reviews/{id}", s.getReview)
	mux.HandleFunc("GET /api/v1/reviews/{id}/events", s.streamEvents)
	mux.HandleFunc("DELETE /api/v1/reviews/{id}", s.cancelReview)

	mux.Handle("GET /metrics", promhttp.Handler())

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type startReviewRequest struct {
	TaskID   string   `json:"task_id"`
	Path     string   `json:"path"`
	Mode     string   `json:"mode"`
	Fresh    bool     `json:"fresh"`
	Backends []string `json:"backends"`
}

type reviewView struct {
	TaskID    string              `json:"task_id"`
	Status    session.Status      `json:"status"`
	StartedAt string              `json:"started_at"`
	Report    *models.FinalReport `json:"report,omitempty"`
	Error     string              `json:"error,omitempty"`
}

func viewOf(sess *session.Session) reviewView {
	return reviewView{
		TaskID:    sess.TaskID,
		Status:    sess.Status(),
		StartedAt: sess.StartedAt().Format("2006-01-02T15:04:05Z07:00"),
		Report:    sess.Report(),
		Error:     sess.Err(),
	}
}

func (s *Server) startReview(w http.ResponseWriter, r *http.Request) {
	var req startReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if req.TaskID == "" {
		req.TaskID = ulid.Make().String()
	}

	engine, err := s.engineFor(req.Backends)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	oreq := orchestrator.Request{
		TaskID: req.TaskID,
		Path:   req.Path,
		Mode:   req.Mode,
		Fresh:  req.Fresh,
	}
	sess, existed := s.registry.StartOrGet(req.TaskID, func(ctx context.Context, sess *session.Session) (*models.FinalReport, error) {
		return engine.Run(ctx, oreq, sess)
	})
	if existed {
		writeJSON(w, http.StatusOK, viewOf(sess))
		return
	}
	observeSession(sess)
	writeJSON(w, http.StatusAccepted, viewOf(sess))
}

func (s *Server) getReview(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "review not found")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) cancelReview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "review not found")
		return
	}
	if !s.registry.Cancel(id) {
		writeError(w, http.StatusConflict, "review is not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "cancelled": true})
}
