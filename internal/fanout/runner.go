// Package fanout runs the same specialist task set across multiple
// independent backends concurrently and cross-validates the findings.
package fanout

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joescharf/panel/internal/backend"
	"github.com/joescharf/panel/internal/merge"
	"github.com/joescharf/panel/internal/models"
	"github.com/joescharf/panel/internal/specialist"
)

// BackendResult is one backend's slice of a fan-out run.
type BackendResult struct {
	Backend string
	Reviews []SpecialistReview
	Usage   []models.ModelUsage
	Err     *backend.Error // non-nil when the invocation or every parse strategy failed
}

// Result aggregates a fan-out run across all backends.
type Result struct {
	Issues    []models.Issue // merged and prioritized
	Backends  []BackendResult
	Agreement models.Agreement
	Usage     []models.ModelUsage
}

// Runner executes the specialist set against N backends. Each backend
// multiplexes the whole set into one long invocation to amortize the
// shared codebase context.
type Runner struct {
	backends []backend.Adapter
	specs    []specialist.Specialist
	timeout  time.Duration

	// OnChunk, when set, receives streamed text tagged by backend name.
	OnChunk func(backendName, chunk string)
}

// NewRunner creates a fan-out runner over the given backends.
func NewRunner(backends []backend.Adapter, specs []specialist.Specialist, timeout time.Duration) *Runner {
	return &Runner{backends: backends, specs: specs, timeout: timeout}
}

// Run fans out to every backend concurrently. One backend's failure never
// fails the others; failed backends carry a tagged error and contribute
// no issues.
func (r *Runner) Run(ctx context.Context, rc *models.ReviewContext) *Result {
	prompt := BuildMultiplexPrompt(r.specs, rc)
	names := make([]string, len(r.specs))
	for i, s := range r.specs {
		names[i] = s.Name
	}

	results := make([]BackendResult, len(r.backends))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range r.backends {
		g.Go(func() error {
			results[i] = r.runBackend(gctx, b, prompt, rc, names)
			return nil // partial failure is tolerated, never propagated
		})
	}
	_ = g.Wait()

	return r.aggregate(results)
}

func (r *Runner) runBackend(ctx context.Context, b backend.Adapter, prompt string, rc *models.ReviewContext, specialistNames []string) BackendResult {
	br := BackendResult{Backend: b.Name()}

	inv := backend.Invocation{
		Prompt:  prompt,
		WorkDir: rc.WorkDir,
		Timeout: r.timeout,
	}
	if r.OnChunk != nil {
		inv.OnText = func(chunk string) { r.OnChunk(b.Name(), chunk) }
	}

	res := b.Invoke(ctx, inv)
	br.Usage = res.Usage
	if !res.Success {
		br.Err = res.Error
		slog.Warn("fan-out backend failed", "backend", b.Name(), "error", res.Error)
		return br
	}

	reviews, err := ParseOutput(res.Output, rc.WorkDir, b.Name(), specialistNames)
	if err != nil {
		// Unparseable output yields zero issues from this source.
		br.Err = &backend.Error{Kind: backend.KindEmptyOutput, Backend: b.Name(), Detail: err.Error()}
		slog.Warn("fan-out backend output unparseable", "backend", b.Name(), "error", err)
		return br
	}
	br.Reviews = reviews
	return br
}

// aggregate tags provenance, merges issues, and computes agreement stats.
func (r *Runner) aggregate(results []BackendResult) *Result {
	out := &Result{Backends: results}

	var all []models.Issue
	successful := 0
	for _, br := range results {
		out.Usage = models.AddUsage(out.Usage, br.Usage)
		if br.Err != nil {
			continue
		}
		successful++
		for _, sr := range br.Reviews {
			for _, issue := range sr.Review.Issues {
				issue.FlaggedBy = []string{provenance(br.Backend, sr.Specialist)}
				all = append(all, issue)
			}
		}
	}

	out.Issues = merge.Issues(all)
	out.Agreement = agreement(out.Issues, successful)
	return out
}

// provenance tags an issue with backend and specialist identity.
func provenance(backendName, specialistName string) string {
	return backendName + ":" + specialistName
}

// backendsOf counts the distinct backends in a merged issue's provenance.
func backendsOf(issue models.Issue) int {
	seen := map[string]bool{}
	for _, f := range issue.FlaggedBy {
		name, _, _ := strings.Cut(f, ":")
		seen[name] = true
	}
	return len(seen)
}

// agreement computes how many merged issues were found by one, several,
// or all successful backends. Failed backends are excluded.
func agreement(issues []models.Issue, successful int) models.Agreement {
	a := models.Agreement{Backends: successful}
	for _, issue := range issues {
		switch n := backendsOf(issue); {
		case n == 1:
			a.Unique++
		case n >= 2:
			a.Overlap++
		}
		if successful > 0 && backendsOf(issue) == successful {
			a.FullAgreement++
		}
	}
	return a
}
