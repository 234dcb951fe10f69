// Package orchestrator coordinates a full review task: context
// preparation, specialist selection, concurrent reviewer execution,
// issue merging, and final report assembly.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joescharf/panel/internal/backend"
	"github.com/joescharf/panel/internal/challenger"
	"github.com/joescharf/panel/internal/fanout"
	"github.com/joescharf/panel/internal/merge"
	"github.com/joescharf/panel/internal/models"
	"github.com/joescharf/panel/internal/specialist"
	"github.com/joescharf/panel/internal/store"
)

// EventSink receives progress events. *session.Session satisfies it;
// tests use in-memory recorders.
type EventSink interface {
	Publish(ev models.ProgressEvent)
}

type nopSink struct{}

func (nopSink) Publish(models.ProgressEvent) {}

// Request describes one review task.
type Request struct {
	TaskID string
	Path   string
	Mode   string // ModeFull (default) or ModeArchitecture
	Fresh  bool   // discard checkpoints instead of resuming
}

// Engine runs review tasks. It is safe for concurrent use; all
// per-review state lives in Run.
type Engine struct {
	adapters []backend.Adapter
	store    store.Store // optional; nil disables checkpointing
	cfg      challenger.Config
}

// NewEngine creates an engine over the configured backends. With more
// than one backend, reviews fan out and cross-validate; with one, each
// specialist runs its own challenger loop.
func NewEngine(adapters []backend.Adapter, st store.Store, cfg challenger.Config) *Engine {
	return &Engine{adapters: adapters, store: st, cfg: cfg}
}

// reviewerOutcome is one specialist's contribution, gathered after the
// errgroup join so the aggregate is never mutated concurrently.
type reviewerOutcome struct {
	result models.ReviewerResult
	issues []models.Issue
	usage  []models.ModelUsage
}

// Run executes the review and always returns a well-formed report when
// context preparation succeeded, however many reviewers failed.
func (e *Engine) Run(ctx context.Context, req Request, sink EventSink) (*models.FinalReport, error) {
	if sink == nil {
		sink = nopSink{}
	}
	if len(e.adapters) == 0 {
		return nil, fmt.Errorf("no reviewer backends configured")
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeFull
	}

	start := time.Now()
	rc, err := BuildContext(req.TaskID, req.Path, mode)
	if err != nil {
		return nil, err
	}

	// Architecture reviews run the architecture specialist set whatever
	// the classified project type is; the type still feeds the report.
	selector := rc.ProjectType
	if mode == ModeArchitecture {
		selector = ModeArchitecture
	}
	specs := specialist.ForProjectType(selector)

	var (
		reviewers []models.ReviewerResult
		allIssues []models.Issue
		usage     []models.ModelUsage
		resumed   []string
		agreement *models.Agreement
	)

	// Checkpoint handling: fresh deletes, resume skips completed
	// specialists and keeps their issues in the merge.
	if e.store != nil {
		if req.Fresh {
			if _, err := e.store.DeleteCheckpoints(ctx, req.TaskID); err != nil {
				slog.Warn("discarding checkpoints failed", "task", req.TaskID, "error", err)
			}
		} else {
			cps, err := e.store.ListCompletedCheckpoints(ctx, req.TaskID)
			if err != nil {
				slog.Warn("loading checkpoints failed", "task", req.TaskID, "error", err)
			}
			for _, cp := range cps {
				rr, issues, cpUsage := restoreCheckpoint(cp)
				reviewers = append(reviewers, rr)
				allIssues = append(allIssues, issues...)
				usage = models.AddUsage(usage, cpUsage)
				resumed = append(resumed, cp.Reviewer)
			}
			if len(resumed) > 0 {
				// Remaining reviewers refine against what earlier runs
				// already found instead of rediscovering it.
				rc.Previous = &models.FinalReport{TaskID: req.TaskID, Issues: merge.Issues(allIssues)}
			}
		}
	}

	remaining := withoutResumed(specs, resumed)

	sink.Publish(models.ProgressEvent{
		Type:   models.EventReviewStarted,
		TaskID: req.TaskID,
		Message: fmt.Sprintf("%s review of %s: %d reviewer(s), %d resumed",
			rc.ProjectType, req.Path, len(remaining), len(resumed)),
	})

	switch {
	case len(remaining) == 0:
		// Everything restored from checkpoints.
	case len(e.adapters) > 1:
		fanReviewers, fanIssues, fanUsage, agr := e.runFanout(ctx, rc, remaining, sink)
		reviewers = append(reviewers, fanReviewers...)
		allIssues = append(allIssues, fanIssues...)
		usage = models.AddUsage(usage, fanUsage)
		agreement = agr
	default:
		outcomes := e.runLoops(ctx, rc, remaining, sink)
		for _, o := range outcomes {
			reviewers = append(reviewers, o.result)
			allIssues = append(allIssues, o.issues...)
			usage = models.AddUsage(usage, o.usage)
		}
	}

	merged := merge.Issues(allIssues)
	if merged == nil {
		merged = []models.Issue{}
	}
	by := severityCounts(merged)

	return &models.FinalReport{
		TaskID:         req.TaskID,
		ProjectType:    rc.ProjectType,
		Issues:         merged,
		BySeverity:     by,
		Score:          scoreIssues(by),
		Recommendation: recommend(by),
		Reviewers:      reviewers,
		NextSteps:      nextSteps(merged),
		Agreement:      agreement,
		Resumed:        resumed,
		Duration:       time.Since(start),
		Usage:          usage,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// runLoops drives one challenger loop per specialist concurrently on
// the single configured backend. A failed loop costs only its own
// findings.
func (e *Engine) runLoops(ctx context.Context, rc *models.ReviewContext, specs []specialist.Specialist, sink EventSink) []reviewerOutcome {
	outcomes := make([]reviewerOutcome, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		g.Go(func() error {
			outcomes[i] = e.runLoop(gctx, rc, spec, sink)
			return nil // reviewer failures never cancel siblings
		})
	}
	_ = g.Wait()
	return outcomes
}

func (e *Engine) runLoop(ctx context.Context, rc *models.ReviewContext, spec specialist.Specialist, sink EventSink) reviewerOutcome {
	startedAt := time.Now().UTC()
	sink.Publish(models.ProgressEvent{
		Type:     models.EventReviewerStarted,
		TaskID:   rc.TaskID,
		Reviewer: spec.Name,
	})

	cb := challenger.Callbacks{
		OnIteration: func(rec models.IterationRecord) {
			sink.Publish(models.ProgressEvent{
				Type:         models.EventReviewerIteration,
				TaskID:       rc.TaskID,
				Reviewer:     spec.Name,
				Iteration:    rec.Iteration,
				Satisfaction: rec.Satisfaction,
				IssueCount:   rec.IssuesAdded,
			})
		},
		OnChunk: func(chunk string) {
			sink.Publish(models.ProgressEvent{
				Type:     models.EventReviewerStreaming,
				TaskID:   rc.TaskID,
				Reviewer: spec.Name,
				Chunk:    chunk,
			})
		},
	}

	res := challenger.NewLoop(e.adapters[0], spec, e.cfg, cb).Run(ctx, rc)

	out := reviewerOutcome{
		result: models.ReviewerResult{
			Reviewer:    spec.Name,
			Status:      statusOf(res.Convergence),
			Output:      res.Output,
			History:     res.History,
			Convergence: res.Convergence,
			StartedAt:   startedAt,
			CompletedAt: time.Now().UTC(),
		},
		usage: res.Usage,
	}
	if res.Err != nil {
		out.result.Error = res.Err.Error()
	}
	// An errored reviewer keeps its partial Output for the report but
	// is excluded from aggregation.
	if res.Output != nil && out.result.Status != models.ReviewerStatusError {
		out.issues = tagIssues(res.Output.Issues, spec.Name)
	}

	switch out.result.Status {
	case models.ReviewerStatusCancelled:
		// No checkpoint: a resumed review should rerun this specialist.
	case models.ReviewerStatusError:
		e.checkpoint(ctx, rc.TaskID, spec.Name, models.CheckpointStatusError, out, startedAt)
		sink.Publish(models.ProgressEvent{
			Type:     models.EventReviewerError,
			TaskID:   rc.TaskID,
			Reviewer: spec.Name,
			Message:  out.result.Error,
		})
	default:
		e.checkpoint(ctx, rc.TaskID, spec.Name, models.CheckpointStatusCompleted, out, startedAt)
		sink.Publish(models.ProgressEvent{
			Type:       models.EventReviewerCompleted,
			TaskID:     rc.TaskID,
			Reviewer:   spec.Name,
			IssueCount: len(out.issues),
			Message:    string(res.Convergence),
		})
	}
	return out
}

// runFanout cross-validates the remaining specialists across every
// configured backend and checkpoints per specialist from the merged
// provenance.
func (e *Engine) runFanout(ctx context.Context, rc *models.ReviewContext, specs []specialist.Specialist, sink EventSink) ([]models.ReviewerResult, []models.Issue, []models.ModelUsage, *models.Agreement) {
	startedAt := time.Now().UTC()
	runner := fanout.NewRunner(e.adapters, specs, e.cfg.InvocationTimeout)
	runner.OnChunk = func(backendName, chunk string) {
		sink.Publish(models.ProgressEvent{
			Type:     models.EventReviewerStreaming,
			TaskID:   rc.TaskID,
			Reviewer: backendName,
			Chunk:    chunk,
		})
	}
	for _, b := range e.adapters {
		sink.Publish(models.ProgressEvent{
			Type:     models.EventReviewerStarted,
			TaskID:   rc.TaskID,
			Reviewer: b.Name(),
		})
	}

	res := runner.Run(ctx, rc)

	completedAt := time.Now().UTC()
	reviewers := make([]models.ReviewerResult, 0, len(res.Backends))
	for _, br := range res.Backends {
		rr := models.ReviewerResult{
			Reviewer:    br.Backend,
			Status:      models.ReviewerStatusCompleted,
			StartedAt:   startedAt,
			CompletedAt: completedAt,
		}
		ev := models.ProgressEvent{
			Type:     models.EventReviewerCompleted,
			TaskID:   rc.TaskID,
			Reviewer: br.Backend,
		}
		if br.Err != nil {
			rr.Status = models.ReviewerStatusError
			rr.Error = br.Err.Error()
			ev.Type = models.EventReviewerError
			ev.Message = rr.Error
		}
		reviewers = append(reviewers, rr)
		sink.Publish(ev)
	}

	// Checkpoint only specialists a successful backend actually
	// reviewed. When every backend failed nothing completed, and a
	// resume must rerun the whole set rather than restore empty state.
	covered := map[string]bool{}
	for _, br := range res.Backends {
		if br.Err != nil {
			continue
		}
		for _, sr := range br.Reviews {
			covered[sr.Specialist] = true
		}
	}
	for _, spec := range specs {
		if !covered[spec.Name] {
			continue
		}
		issues := issuesOfSpecialist(res.Issues, spec.Name)
		out := reviewerOutcome{issues: issues}
		e.checkpoint(ctx, rc.TaskID, spec.Name, models.CheckpointStatusCompleted, out, startedAt)
	}

	agr := res.Agreement
	return reviewers, res.Issues, res.Usage, &agr
}

// checkpoint persists one specialist's snapshot. Persistence failures
// are logged and never fail the review.
func (e *Engine) checkpoint(ctx context.Context, taskID, reviewer string, status models.CheckpointStatus, out reviewerOutcome, startedAt time.Time) {
	if e.store == nil {
		return
	}
	issuesJSON, _ := json.Marshal(out.issues)
	usageJSON, _ := json.Marshal(out.usage)
	now := time.Now().UTC()
	cp := &models.ReviewerCheckpoint{
		TaskID:      taskID,
		Reviewer:    reviewer,
		Status:      status,
		IssuesJSON:  string(issuesJSON),
		UsageJSON:   string(usageJSON),
		Iterations:  len(out.result.History),
		StartedAt:   startedAt,
		CompletedAt: &now,
	}
	if n := len(out.result.History); n > 0 {
		cp.FinalSatisfaction = out.result.History[n-1].Satisfaction
	}
	if err := e.store.UpsertCheckpoint(ctx, cp); err != nil {
		slog.Warn("checkpoint write failed", "task", taskID, "reviewer", reviewer, "error", err)
	}
}

// restoreCheckpoint rebuilds a reviewer result from a durable snapshot.
func restoreCheckpoint(cp *models.ReviewerCheckpoint) (models.ReviewerResult, []models.Issue, []models.ModelUsage) {
	var issues []models.Issue
	if err := json.Unmarshal([]byte(cp.IssuesJSON), &issues); err != nil {
		slog.Warn("checkpoint issues unparseable", "task", cp.TaskID, "reviewer", cp.Reviewer, "error", err)
	}
	var cpUsage []models.ModelUsage
	_ = json.Unmarshal([]byte(cp.UsageJSON), &cpUsage)

	rr := models.ReviewerResult{
		Reviewer:  cp.Reviewer,
		Status:    models.ReviewerStatusCompleted,
		StartedAt: cp.StartedAt,
	}
	if cp.CompletedAt != nil {
		rr.CompletedAt = *cp.CompletedAt
	}
	return rr, issues, cpUsage
}

func statusOf(c models.Convergence) models.ReviewerStatus {
	switch c {
	case models.ConvergenceCancelled:
		return models.ReviewerStatusCancelled
	case models.ConvergenceError:
		return models.ReviewerStatusError
	default:
		return models.ReviewerStatusCompleted
	}
}

// tagIssues stamps reviewer provenance on a loop's findings.
func tagIssues(issues []models.Issue, reviewer string) []models.Issue {
	out := make([]models.Issue, len(issues))
	for i, issue := range issues {
		issue.FlaggedBy = []string{reviewer}
		out[i] = issue
	}
	return out
}

// issuesOfSpecialist filters merged fan-out issues down to one
// specialist using the backend:specialist provenance tags.
func issuesOfSpecialist(issues []models.Issue, name string) []models.Issue {
	var out []models.Issue
	for _, issue := range issues {
		for _, f := range issue.FlaggedBy {
			if _, spec, ok := strings.Cut(f, ":"); ok && spec == name {
				out = append(out, issue)
				break
			}
		}
	}
	return out
}

func withoutResumed(specs []specialist.Specialist, resumed []string) []specialist.Specialist {
	if len(resumed) == 0 {
		return specs
	}
	skip := map[string]bool{}
	for _, r := range resumed {
		skip[r] = true
	}
	var out []specialist.Specialist
	for _, s := range specs {
		if !skip[s.Name] {
			out = append(out, s)
		}
	}
	return out
}
