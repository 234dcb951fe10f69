// Package challenger implements the bounded refine/critique loop that
// drives one specialist's review to convergence.
package challenger

import (
	"context"
	"log/slog"

	"github.com/joescharf/panel/internal/backend"
	"github.com/joescharf/panel/internal/models"
	"github.com/joescharf/panel/internal/specialist"
)

// Callbacks receive loop progress. Both fire before the convergence
// check of the iteration they report on.
type Callbacks struct {
	OnIteration func(rec models.IterationRecord)
	OnChunk     func(chunk string)
}

// Result is what a loop always returns: the latest output, the full
// history, and a terminal convergence status, converged or not.
type Result struct {
	Output      *models.ReviewOutput
	History     []models.IterationRecord
	Convergence models.Convergence
	Usage       []models.ModelUsage
	Err         *backend.Error // set when the loop never produced a review
}

// Loop runs one (specialist, codebase) review to convergence.
type Loop struct {
	adapter backend.Adapter
	spec    specialist.Specialist
	cfg     Config
	cb      Callbacks
}

// NewLoop creates a loop for one specialist against one backend.
func NewLoop(adapter backend.Adapter, spec specialist.Specialist, cfg Config, cb Callbacks) *Loop {
	return &Loop{adapter: adapter, spec: spec, cfg: cfg, cb: cb}
}

// Run executes initial-review -> critique -> (refine -> critique)* until
// a terminal state. Iterations are strictly sequential. Cancellation is
// honored at iteration boundaries; a cancelled loop still returns its
// latest state.
func (l *Loop) Run(ctx context.Context, rc *models.ReviewContext) *Result {
	res := &Result{}
	var feedback *models.ChallengerFeedback
	maxIter := l.cfg.effectiveMax()

	for iter := 1; iter <= HardIterationCeiling; iter++ {
		if ctx.Err() != nil {
			res.Convergence = models.ConvergenceCancelled
			return res
		}

		output, invErr := l.reviewStep(ctx, rc, res, feedback)
		if invErr != nil {
			if ctx.Err() != nil {
				res.Convergence = models.ConvergenceCancelled
				return res
			}
			// Initial review or a later refinement failed; either way
			// the loop is terminal in error. Any earlier review stays
			// in Output so the report can show it, but an errored
			// reviewer contributes nothing to the merge.
			res.Convergence = models.ConvergenceError
			res.Err = invErr
			return res
		}

		issuesAdded := len(output.Issues)
		if res.Output != nil {
			issuesAdded -= len(res.Output.Issues)
			if issuesAdded < 0 {
				issuesAdded = 0
			}
		}
		prevChallenges := 0
		if feedback != nil {
			prevChallenges = len(feedback.MissedIssues) + len(feedback.Disputes)
		}
		res.Output = output

		// Critique the latest review against the real files.
		satisfaction := l.lastSatisfaction(res)
		fb := l.critiqueStep(ctx, rc, res)
		if fb != nil {
			satisfaction = fb.Satisfaction
			feedback = fb
		}

		resolved := prevChallenges
		if fb != nil {
			open := len(fb.MissedIssues) + len(fb.Disputes)
			resolved = prevChallenges - open
			if resolved < 0 {
				resolved = 0
			}
		}

		rec := models.IterationRecord{
			Iteration:          iter,
			Satisfaction:       satisfaction,
			IssuesAdded:        issuesAdded,
			ChallengesResolved: resolved,
		}
		res.History = append(res.History, rec)
		if l.cb.OnIteration != nil {
			l.cb.OnIteration(rec)
		}

		// Termination checks, in order.
		if satisfaction >= l.cfg.SatisfactionThreshold {
			res.Convergence = models.ConvergenceThresholdMet
			return res
		}
		if iter >= maxIter {
			if satisfaction >= l.cfg.ForcedAcceptanceThreshold {
				res.Convergence = models.ConvergenceForcedAcceptance
			} else {
				res.Convergence = models.ConvergenceMaxIterations
			}
			return res
		}
		if l.stagnated(res.History) {
			res.Convergence = models.ConvergenceStagnated
			return res
		}
	}

	// Hard ceiling backstop; unreachable while maxIter <= the ceiling.
	res.Convergence = models.ConvergenceMaxIterations
	return res
}

// reviewStep runs the initial review or a refinement conditioned on the
// latest critique, returning the parsed output.
func (l *Loop) reviewStep(ctx context.Context, rc *models.ReviewContext, res *Result, feedback *models.ChallengerFeedback) (*models.ReviewOutput, *backend.Error) {
	var prompt string
	refining := res.Output != nil
	if refining {
		prompt = BuildRefinePrompt(l.spec, rc, res.Output, feedback)
	} else {
		prompt = BuildReviewPrompt(l.spec, rc)
	}

	inv := backend.Invocation{
		Prompt:  prompt,
		WorkDir: rc.WorkDir,
		Timeout: l.cfg.InvocationTimeout,
		OnText:  l.cb.OnChunk,
	}
	r := l.adapter.Invoke(ctx, inv)
	res.Usage = models.AddUsage(res.Usage, r.Usage)
	if !r.Success {
		return nil, r.Error
	}

	output, err := parseReviewOutput(r.Output)
	if err != nil {
		slog.Warn("reviewer response unparseable, treating as zero issues",
			"specialist", l.spec.Name, "backend", l.adapter.Name(), "error", err)
		output = &models.ReviewOutput{Specialist: l.spec.Name}
	}
	if output.Specialist == "" {
		output.Specialist = l.spec.Name
	}
	output.Usage = r.Usage
	if refining {
		output.Refinements = append(append([]string{}, res.Output.Refinements...),
			"refined against challenger critique")
	}
	return output, nil
}

// critiqueStep scores the latest review. A failed or unparseable critique
// returns nil; the caller carries the previous satisfaction forward.
func (l *Loop) critiqueStep(ctx context.Context, rc *models.ReviewContext, res *Result) *models.ChallengerFeedback {
	inv := backend.Invocation{
		Prompt:  BuildChallengerPrompt(l.spec, rc, res.Output),
		WorkDir: rc.WorkDir,
		Timeout: l.cfg.InvocationTimeout,
	}
	r := l.adapter.Invoke(ctx, inv)
	res.Usage = models.AddUsage(res.Usage, r.Usage)
	if !r.Success {
		slog.Warn("challenger invocation failed",
			"specialist", l.spec.Name, "backend", l.adapter.Name(), "error", r.Error)
		return nil
	}
	fb, err := parseFeedback(r.Output)
	if err != nil {
		slog.Warn("challenger response unparseable",
			"specialist", l.spec.Name, "backend", l.adapter.Name(), "error", err)
		return nil
	}
	return fb
}

func (l *Loop) lastSatisfaction(res *Result) float64 {
	if n := len(res.History); n > 0 {
		return res.History[n-1].Satisfaction
	}
	return 0
}

// stagnated reports whether each of the last StagnationWindow iterations
// improved satisfaction by less than MinImprovement. The window closes
// only once that many deltas exist.
func (l *Loop) stagnated(history []models.IterationRecord) bool {
	w := l.cfg.StagnationWindow
	if w <= 0 || len(history) <= w {
		return false
	}
	for i := len(history) - w; i < len(history); i++ {
		delta := history[i].Satisfaction - history[i-1].Satisfaction
		if delta >= l.cfg.MinImprovement {
			return false
		}
	}
	return true
}
