package challenger

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/joescharf/panel/internal/backend"
	"github.com/joescharf/panel/internal/models"
	"github.com/joescharf/panel/internal/specialist"
)

// fakeAdapter replays scripted satisfaction scores. Review prompts get a
// fixed JSON review; critique prompts consume the next score.
type fakeAdapter struct {
	scores      []float64
	critiques   int
	reviews     int
	failReview  bool // fail every review invocation
	failRefines bool // fail review invocations after the first
	garbage     bool // return unparseable review output
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Invoke(ctx context.Context, inv backend.Invocation) *backend.Result {
	if strings.Contains(inv.Prompt, "adversarial review challenger") {
		score := 0.0
		if f.critiques < len(f.scores) {
			score = f.scores[f.critiques]
		} else if len(f.scores) > 0 {
			score = f.scores[len(f.scores)-1]
		}
		f.critiques++
		return &backend.Result{
			Success: true,
			Output:  fmt.Sprintf(`{"satisfaction": %f, "missed_issues": [], "disputes": []}`, score),
		}
	}

	f.reviews++
	if f.failReview || (f.failRefines && f.reviews > 1) {
		return &backend.Result{
			Success: false,
			Error:   &backend.Error{Kind: backend.KindTimeout, Backend: "fake"},
		}
	}
	if f.garbage {
		return &backend.Result{Success: true, Output: "not json at all"}
	}
	return &backend.Result{
		Success: true,
		Output:  fmt.Sprintf(`{"specialist": "quality", "summary": "ok", "issues": [{"severity": "HIGH", "category": "logic", "file": "a.go", "line_start": %d, "title": "bug"}]}`, f.reviews),
	}
}

func testContext() *models.ReviewContext {
	return &models.ReviewContext{TaskID: "t1", WorkDir: "/tmp"}
}

func qualitySpec() specialist.Specialist {
	s, _ := specialist.Get(specialist.Quality)
	return s
}

func cfg() Config {
	return Config{
		SatisfactionThreshold:     85,
		ForcedAcceptanceThreshold: 70,
		MaxIterations:             5,
		StagnationWindow:          2,
		MinImprovement:            2.0,
	}
}

func TestLoop_ThresholdMetAtExactIteration(t *testing.T) {
	// Satisfaction hits the threshold on the third critique.
	fake := &fakeAdapter{scores: []float64{40, 60, 90}}
	loop := NewLoop(fake, qualitySpec(), cfg(), Callbacks{})

	res := loop.Run(context.Background(), testContext())
	if res.Convergence != models.ConvergenceThresholdMet {
		t.Fatalf("convergence = %s, want THRESHOLD_MET", res.Convergence)
	}
	if len(res.History) != 3 {
		t.Errorf("terminated after %d iterations, want exactly 3", len(res.History))
	}
	if res.Output == nil {
		t.Error("expected latest output to be returned")
	}
}

func TestLoop_NeverExceedsHardCeiling(t *testing.T) {
	// Score never converges and never stagnates; configured max is absurd.
	scores := make([]float64, 50)
	for i := range scores {
		scores[i] = float64(i * 2) // always improving by 2 per iteration, below threshold 1000
	}
	c := cfg()
	c.MaxIterations = 1000
	c.SatisfactionThreshold = 1000
	c.ForcedAcceptanceThreshold = 1000
	c.MinImprovement = 1.0 // improvement of 2 per iteration is progress
	fake := &fakeAdapter{scores: scores}
	loop := NewLoop(fake, qualitySpec(), c, Callbacks{})

	res := loop.Run(context.Background(), testContext())
	if len(res.History) > HardIterationCeiling {
		t.Fatalf("ran %d iterations, hard ceiling is %d", len(res.History), HardIterationCeiling)
	}
	if res.Convergence != models.ConvergenceMaxIterations {
		t.Errorf("convergence = %s, want MAX_ITERATIONS_REACHED", res.Convergence)
	}
}

func TestLoop_ForcedAcceptanceAtMax(t *testing.T) {
	c := cfg()
	c.MaxIterations = 2
	fake := &fakeAdapter{scores: []float64{50, 75}} // >= forced threshold 70 at max
	loop := NewLoop(fake, qualitySpec(), c, Callbacks{})

	res := loop.Run(context.Background(), testContext())
	if res.Convergence != models.ConvergenceForcedAcceptance {
		t.Fatalf("convergence = %s, want FORCED_ACCEPTANCE", res.Convergence)
	}
	if len(res.History) != 2 {
		t.Errorf("iterations = %d, want 2", len(res.History))
	}
}

func TestLoop_MaxIterationsBelowForcedThreshold(t *testing.T) {
	c := cfg()
	c.MaxIterations = 2
	fake := &fakeAdapter{scores: []float64{30, 40}}
	loop := NewLoop(fake, qualitySpec(), c, Callbacks{})

	res := loop.Run(context.Background(), testContext())
	if res.Convergence != models.ConvergenceMaxIterations {
		t.Fatalf("convergence = %s, want MAX_ITERATIONS_REACHED", res.Convergence)
	}
}

func TestLoop_StagnationAtWindowClose(t *testing.T) {
	// Deltas: 50 -> 50.5 -> 51.0: two consecutive sub-2.0 improvements
	// close the W=2 window at iteration 3, not before.
	c := cfg()
	c.MaxIterations = 10
	c.SatisfactionThreshold = 99
	fake := &fakeAdapter{scores: []float64{50, 50.5, 51.0, 51.5, 52.0}}
	loop := NewLoop(fake, qualitySpec(), c, Callbacks{})

	res := loop.Run(context.Background(), testContext())
	if res.Convergence != models.ConvergenceStagnated {
		t.Fatalf("convergence = %s, want STAGNATED", res.Convergence)
	}
	if len(res.History) != 3 {
		t.Errorf("stagnated after %d iterations, want 3 (window close)", len(res.History))
	}
}

func TestLoop_NoStagnationWhileImproving(t *testing.T) {
	c := cfg()
	c.MaxIterations = 4
	c.SatisfactionThreshold = 99
	fake := &fakeAdapter{scores: []float64{10, 30, 50, 70}} // +20 each round
	loop := NewLoop(fake, qualitySpec(), c, Callbacks{})

	res := loop.Run(context.Background(), testContext())
	if res.Convergence == models.ConvergenceStagnated {
		t.Fatal("loop stagnated while improving steadily")
	}
	if len(res.History) != 4 {
		t.Errorf("iterations = %d, want 4", len(res.History))
	}
}

func TestLoop_CallbacksFireBeforeConvergenceCheck(t *testing.T) {
	fake := &fakeAdapter{scores: []float64{90}} // converges on first iteration
	var seen []models.IterationRecord
	loop := NewLoop(fake, qualitySpec(), cfg(), Callbacks{
		OnIteration: func(rec models.IterationRecord) { seen = append(seen, rec) },
	})

	res := loop.Run(context.Background(), testContext())
	if res.Convergence != models.ConvergenceThresholdMet {
		t.Fatalf("convergence = %s", res.Convergence)
	}
	if len(seen) != 1 || seen[0].Iteration != 1 || seen[0].Satisfaction != 90 {
		t.Errorf("iteration callback records = %+v", seen)
	}
}

func TestLoop_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := &fakeAdapter{scores: []float64{90}}
	loop := NewLoop(fake, qualitySpec(), cfg(), Callbacks{})

	res := loop.Run(ctx, testContext())
	if res.Convergence != models.ConvergenceCancelled {
		t.Fatalf("convergence = %s, want CANCELLED", res.Convergence)
	}
}

func TestLoop_FirstReviewFailureIsError(t *testing.T) {
	fake := &fakeAdapter{failReview: true}
	loop := NewLoop(fake, qualitySpec(), cfg(), Callbacks{})

	res := loop.Run(context.Background(), testContext())
	if res.Convergence != models.ConvergenceError {
		t.Fatalf("convergence = %s, want ERROR", res.Convergence)
	}
	if res.Err == nil || res.Err.Kind != backend.KindTimeout {
		t.Errorf("expected tagged timeout error, got %v", res.Err)
	}
}

func TestLoop_FailedRefineIsErrorWithLastReview(t *testing.T) {
	// First review succeeds, critique stays below threshold, refine fails.
	fake := &fakeAdapter{scores: []float64{50}, failRefines: true}
	loop := NewLoop(fake, qualitySpec(), cfg(), Callbacks{})

	res := loop.Run(context.Background(), testContext())
	if res.Convergence != models.ConvergenceError {
		t.Fatalf("convergence = %s, want ERROR", res.Convergence)
	}
	if res.Err == nil {
		t.Fatal("expected the refine invocation error to surface")
	}
	if res.Output == nil || len(res.Output.Issues) != 1 {
		t.Errorf("last good review must survive for the report: %+v", res.Output)
	}
	if len(res.History) != 1 {
		t.Errorf("history = %d, want the one completed iteration", len(res.History))
	}
}

func TestLoop_UnparseableReviewIsZeroIssues(t *testing.T) {
	c := cfg()
	c.MaxIterations = 1
	fake := &fakeAdapter{garbage: true, scores: []float64{10}}
	loop := NewLoop(fake, qualitySpec(), c, Callbacks{})

	res := loop.Run(context.Background(), testContext())
	if res.Output == nil {
		t.Fatal("expected an output even for unparseable review")
	}
	if len(res.Output.Issues) != 0 {
		t.Errorf("issues = %d, want 0", len(res.Output.Issues))
	}
	if res.Convergence != models.ConvergenceMaxIterations {
		t.Errorf("convergence = %s", res.Convergence)
	}
}

func TestLoop_HistoryMonotonicIterations(t *testing.T) {
	fake := &fakeAdapter{scores: []float64{10, 20, 30, 40, 95}}
	c := cfg()
	c.MaxIterations = 5
	c.MinImprovement = 5.0
	loop := NewLoop(fake, qualitySpec(), c, Callbacks{})

	res := loop.Run(context.Background(), testContext())
	for i, rec := range res.History {
		if rec.Iteration != i+1 {
			t.Errorf("history[%d].Iteration = %d, want %d", i, rec.Iteration, i+1)
		}
	}
}
