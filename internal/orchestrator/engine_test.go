package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/joescharf/panel/internal/backend"
	"github.com/joescharf/panel/internal/challenger"
	"github.com/joescharf/panel/internal/models"
	"github.com/joescharf/panel/internal/specialist"
)

// scriptedAdapter answers review prompts with canned per-specialist
// issues and scores every critique at full satisfaction so loops
// converge after one iteration.
type scriptedAdapter struct {
	name   string
	issues map[string]string // specialist -> issues JSON array
	fail   map[string]bool   // specialist -> invocation failure

	mu       sync.Mutex
	reviewed []string
	prompts  []string
}

func (a *scriptedAdapter) Name() string { return a.name }

func (a *scriptedAdapter) Invoke(ctx context.Context, inv backend.Invocation) *backend.Result {
	if strings.Contains(inv.Prompt, "adversarial review challenger") {
		return &backend.Result{Success: true, Output: `{"satisfaction": 100}`}
	}
	for _, spec := range []string{
		specialist.Architecture, specialist.Quality, specialist.Security,
		specialist.Performance, specialist.Testing, specialist.BusinessLogic,
	} {
		if !strings.Contains(inv.Prompt, "You are a "+spec+" code review specialist") {
			continue
		}
		a.mu.Lock()
		a.reviewed = append(a.reviewed, spec)
		a.prompts = append(a.prompts, inv.Prompt)
		a.mu.Unlock()

		if a.fail[spec] {
			return &backend.Result{Success: false, Error: &backend.Error{Kind: backend.KindTimeout, Backend: a.name}}
		}
		// Map values are comma-separated issue objects.
		out := fmt.Sprintf(`{"specialist": %q, "summary": "done", "issues": [%s]}`, spec, a.issues[spec])
		return &backend.Result{
			Success: true,
			Output:  out,
			Usage:   []models.ModelUsage{{Model: a.name, InputTokens: 100, OutputTokens: 50}},
		}
	}
	return &backend.Result{Success: false, Error: &backend.Error{Kind: backend.KindEmptyOutput, Backend: a.name}}
}

func (a *scriptedAdapter) reviewedSpecs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string{}, a.reviewed...)
}

func (a *scriptedAdapter) seenPrompts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string{}, a.prompts...)
}

// refineFailAdapter reviews once, critiques below every threshold, then
// fails each refinement invocation.
type refineFailAdapter struct{ name string }

func (a *refineFailAdapter) Name() string { return a.name }

func (a *refineFailAdapter) Invoke(ctx context.Context, inv backend.Invocation) *backend.Result {
	switch {
	case strings.Contains(inv.Prompt, "adversarial review challenger"):
		return &backend.Result{Success: true, Output: `{"satisfaction": 50}`}
	case strings.Contains(inv.Prompt, "refining your previous review"):
		return &backend.Result{Success: false, Error: &backend.Error{Kind: backend.KindTimeout, Backend: a.name}}
	default:
		return &backend.Result{Success: true, Output: `{"summary": "found", "issues": [` + sharedCritical + `]}`}
	}
}

// memStore is an in-memory Store for engine tests.
type memStore struct {
	mu      sync.Mutex
	cps     map[string]*models.ReviewerCheckpoint // task/reviewer
	deleted []string
}

func newMemStore() *memStore {
	return &memStore{cps: map[string]*models.ReviewerCheckpoint{}}
}

func (m *memStore) key(taskID, reviewer string) string { return taskID + "/" + reviewer }

func (m *memStore) UpsertCheckpoint(ctx context.Context, cp *models.ReviewerCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpCopy := *cp
	m.cps[m.key(cp.TaskID, cp.Reviewer)] = &cpCopy
	return nil
}

func (m *memStore) GetCheckpoint(ctx context.Context, taskID, reviewer string) (*models.ReviewerCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[m.key(taskID, reviewer)]
	if !ok {
		return nil, fmt.Errorf("checkpoint not found: %s/%s", taskID, reviewer)
	}
	return cp, nil
}

func (m *memStore) ListCheckpoints(ctx context.Context, taskID string) ([]*models.ReviewerCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ReviewerCheckpoint
	for _, cp := range m.cps {
		if cp.TaskID == taskID {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (m *memStore) ListCompletedCheckpoints(ctx context.Context, taskID string) ([]*models.ReviewerCheckpoint, error) {
	all, _ := m.ListCheckpoints(ctx, taskID)
	var out []*models.ReviewerCheckpoint
	for _, cp := range all {
		if cp.Status == models.CheckpointStatusCompleted {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (m *memStore) DeleteCheckpoints(ctx context.Context, taskID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, taskID)
	var n int64
	for k, cp := range m.cps {
		if cp.TaskID == taskID {
			delete(m.cps, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) Migrate(ctx context.Context) error { return nil }
func (m *memStore) Close() error                      { return nil }

// recorderSink captures published events.
type recorderSink struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (r *recorderSink) Publish(ev models.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorderSink) ofType(t models.EventType) []models.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ProgressEvent
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func goWorkDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func fastConfig() challenger.Config {
	return challenger.Config{
		SatisfactionThreshold:     85,
		ForcedAcceptanceThreshold: 70,
		MaxIterations:             3,
		StagnationWindow:          2,
		MinImprovement:            2.0,
	}
}

const sharedCritical = `{"severity": "CRITICAL", "category": "security", "file": "auth.go", "line_start": 10, "title": "hardcoded credential"}`

func TestEngine_MergedReportAcrossReviewers(t *testing.T) {
	// quality flags the shared critical plus a LOW; security flags the
	// same critical plus two HIGHs. Four distinct issues overall.
	adapter := &scriptedAdapter{
		name: "fake",
		issues: map[string]string{
			specialist.Quality: sharedCritical + `, {"severity": "LOW", "category": "style", "file": "fmt.go", "line_start": 3, "title": "naming"}`,
			specialist.Security: sharedCritical + `,
				{"severity": "HIGH", "category": "security", "file": "auth.go", "line_start": 30, "title": "token not validated"},
				{"severity": "HIGH", "category": "logic", "file": "calc.go", "line_start": 7, "title": "off by one"}`,
		},
	}
	e := NewEngine([]backend.Adapter{adapter}, nil, fastConfig())

	report, err := e.Run(context.Background(), Request{TaskID: "PR-1", Path: goWorkDir(t)}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Issues) != 4 {
		t.Fatalf("merged issues = %d, want 4: %+v", len(report.Issues), report.Issues)
	}
	var shared *models.Issue
	for i := range report.Issues {
		if report.Issues[i].LineStart == 10 {
			shared = &report.Issues[i]
		}
	}
	if shared == nil {
		t.Fatal("shared critical missing")
	}
	if len(shared.FlaggedBy) != 2 {
		t.Errorf("shared FlaggedBy = %v, want both reviewers", shared.FlaggedBy)
	}

	if report.Recommendation != models.RecommendationRequestChanges {
		t.Errorf("recommendation = %s, want REQUEST_CHANGES", report.Recommendation)
	}
	// 10 - 2.0 - 1.0 - 1.0 - 0.1
	if report.Score != 5.9 {
		t.Errorf("score = %v, want 5.9", report.Score)
	}
	if report.BySeverity[models.SeverityCritical] != 1 || report.BySeverity[models.SeverityHigh] != 2 {
		t.Errorf("by severity = %v", report.BySeverity)
	}
	// Highest-priority issue first.
	if report.Issues[0].Severity != models.SeverityCritical {
		t.Errorf("first issue = %+v, want the critical", report.Issues[0])
	}
	if report.ProjectType != "go" {
		t.Errorf("project type = %s", report.ProjectType)
	}
	if len(report.NextSteps) == 0 {
		t.Error("next steps missing")
	}
}

func TestEngine_ReviewerFailureIsolated(t *testing.T) {
	adapter := &scriptedAdapter{
		name:   "fake",
		issues: map[string]string{specialist.Security: sharedCritical},
		fail:   map[string]bool{specialist.Quality: true},
	}
	e := NewEngine([]backend.Adapter{adapter}, nil, fastConfig())

	report, err := e.Run(context.Background(), Request{TaskID: "PR-2", Path: goWorkDir(t)}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Issues) != 1 {
		t.Fatalf("issues = %d, want the security finding to survive", len(report.Issues))
	}
	var failed *models.ReviewerResult
	for i := range report.Reviewers {
		if report.Reviewers[i].Reviewer == specialist.Quality {
			failed = &report.Reviewers[i]
		}
	}
	if failed == nil || failed.Status != models.ReviewerStatusError {
		t.Fatalf("quality reviewer should be marked error: %+v", failed)
	}
	if failed.Error == "" {
		t.Error("failed reviewer should carry its error")
	}
}

func TestEngine_ContextFailureAborts(t *testing.T) {
	e := NewEngine([]backend.Adapter{&scriptedAdapter{name: "fake"}}, nil, fastConfig())
	_, err := e.Run(context.Background(), Request{TaskID: "PR-3", Path: "/does/not/exist"}, nil)
	if err == nil {
		t.Fatal("context preparation failure must abort the review")
	}
}

func TestEngine_ResumeSkipsCompletedReviewers(t *testing.T) {
	st := newMemStore()
	seedIssues := `[{"severity": "HIGH", "category": "security", "file": "a.go", "line_start": 5, "title": "seeded", "flagged_by": ["security"]}]`
	_ = st.UpsertCheckpoint(context.Background(), &models.ReviewerCheckpoint{
		TaskID:     "PR-4",
		Reviewer:   specialist.Security,
		Status:     models.CheckpointStatusCompleted,
		IssuesJSON: seedIssues,
	})

	adapter := &scriptedAdapter{name: "fake"}
	e := NewEngine([]backend.Adapter{adapter}, st, fastConfig())

	report, err := e.Run(context.Background(), Request{TaskID: "PR-4", Path: goWorkDir(t)}, nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, spec := range adapter.reviewedSpecs() {
		if spec == specialist.Security {
			t.Error("resumed reviewer must not rerun")
		}
	}
	if len(report.Resumed) != 1 || report.Resumed[0] != specialist.Security {
		t.Errorf("resumed = %v", report.Resumed)
	}
	found := false
	for _, issue := range report.Issues {
		if issue.Title == "seeded" {
			found = true
		}
	}
	if !found {
		t.Error("checkpointed issues must appear in the merge")
	}
}

func TestEngine_FailedRefineExcludedFromMerge(t *testing.T) {
	st := newMemStore()
	e := NewEngine([]backend.Adapter{&refineFailAdapter{name: "fake"}}, st, fastConfig())

	report, err := e.Run(context.Background(), Request{TaskID: "PR-10", Path: goWorkDir(t)}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Issues) != 0 {
		t.Fatalf("issues = %d, errored reviewers must not feed the merge", len(report.Issues))
	}
	for _, rr := range report.Reviewers {
		if rr.Status != models.ReviewerStatusError {
			t.Errorf("reviewer %s status = %s, want error", rr.Reviewer, rr.Status)
		}
		if rr.Output == nil {
			t.Errorf("reviewer %s should keep its partial review for the report", rr.Reviewer)
		}
	}
	cps, _ := st.ListCompletedCheckpoints(context.Background(), "PR-10")
	if len(cps) != 0 {
		t.Errorf("completed checkpoints = %d, want none for errored reviewers", len(cps))
	}
}

func TestEngine_ResumeSharesPriorFindings(t *testing.T) {
	st := newMemStore()
	seedIssues := `[{"severity": "HIGH", "category": "security", "file": "a.go", "line_start": 5, "title": "seeded finding", "flagged_by": ["security"]}]`
	_ = st.UpsertCheckpoint(context.Background(), &models.ReviewerCheckpoint{
		TaskID:     "PR-11",
		Reviewer:   specialist.Security,
		Status:     models.CheckpointStatusCompleted,
		IssuesJSON: seedIssues,
	})

	adapter := &scriptedAdapter{name: "fake"}
	e := NewEngine([]backend.Adapter{adapter}, st, fastConfig())
	if _, err := e.Run(context.Background(), Request{TaskID: "PR-11", Path: goWorkDir(t)}, nil); err != nil {
		t.Fatal(err)
	}

	prompts := adapter.seenPrompts()
	if len(prompts) == 0 {
		t.Fatal("no reviewer prompts recorded")
	}
	for _, p := range prompts {
		if !strings.Contains(p, "Findings From Prior Review") || !strings.Contains(p, "seeded finding") {
			t.Fatal("remaining reviewers must see the restored findings in their prompt")
		}
	}
}

func TestEngine_ArchitectureModeRunsArchitectureSet(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"ARCHITECTURE.md": "Type: go\n\nlayers and boundaries",
		"main.go":         "package main",
	})
	adapter := &scriptedAdapter{name: "fake"}
	e := NewEngine([]backend.Adapter{adapter}, nil, fastConfig())

	report, err := e.Run(context.Background(), Request{TaskID: "PR-12", Path: dir, Mode: ModeArchitecture}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.ProjectType != "go" {
		t.Errorf("project type = %s, want the declared type", report.ProjectType)
	}
	specs := adapter.reviewedSpecs()
	if len(specs) != 2 {
		t.Fatalf("reviewed = %v, want architecture and business-logic only", specs)
	}
	for _, s := range specs {
		if s != specialist.Architecture && s != specialist.BusinessLogic {
			t.Errorf("unexpected specialist %s in architecture mode", s)
		}
	}
}

func TestEngine_FreshDiscardsCheckpoints(t *testing.T) {
	st := newMemStore()
	_ = st.UpsertCheckpoint(context.Background(), &models.ReviewerCheckpoint{
		TaskID:   "PR-5",
		Reviewer: specialist.Security,
		Status:   models.CheckpointStatusCompleted,
	})

	adapter := &scriptedAdapter{name: "fake"}
	e := NewEngine([]backend.Adapter{adapter}, st, fastConfig())

	report, err := e.Run(context.Background(), Request{TaskID: "PR-5", Path: goWorkDir(t), Fresh: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Resumed) != 0 {
		t.Errorf("fresh run resumed %v", report.Resumed)
	}
	reran := false
	for _, spec := range adapter.reviewedSpecs() {
		if spec == specialist.Security {
			reran = true
		}
	}
	if !reran {
		t.Error("fresh run must rerun every specialist")
	}
	if len(st.deleted) == 0 {
		t.Error("fresh run must delete prior checkpoints")
	}
}

func TestEngine_CheckpointsWrittenPerReviewer(t *testing.T) {
	st := newMemStore()
	adapter := &scriptedAdapter{
		name:   "fake",
		issues: map[string]string{specialist.Security: sharedCritical},
	}
	e := NewEngine([]backend.Adapter{adapter}, st, fastConfig())

	_, err := e.Run(context.Background(), Request{TaskID: "PR-6", Path: goWorkDir(t)}, nil)
	if err != nil {
		t.Fatal(err)
	}

	cps, _ := st.ListCompletedCheckpoints(context.Background(), "PR-6")
	if len(cps) != 5 {
		t.Fatalf("checkpoints = %d, want one per go-project specialist", len(cps))
	}
	cp, err := st.GetCheckpoint(context.Background(), "PR-6", specialist.Security)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(cp.IssuesJSON, "hardcoded credential") {
		t.Errorf("checkpoint issues = %s", cp.IssuesJSON)
	}
	if cp.FinalSatisfaction != 100 {
		t.Errorf("final satisfaction = %v", cp.FinalSatisfaction)
	}
}

func TestEngine_EmitsProgressEvents(t *testing.T) {
	sink := &recorderSink{}
	adapter := &scriptedAdapter{name: "fake"}
	e := NewEngine([]backend.Adapter{adapter}, nil, fastConfig())

	_, err := e.Run(context.Background(), Request{TaskID: "PR-7", Path: goWorkDir(t)}, sink)
	if err != nil {
		t.Fatal(err)
	}

	if len(sink.ofType(models.EventReviewStarted)) != 1 {
		t.Error("review-started missing")
	}
	if got := len(sink.ofType(models.EventReviewerStarted)); got != 5 {
		t.Errorf("reviewer-started = %d, want 5", got)
	}
	if got := len(sink.ofType(models.EventReviewerCompleted)); got != 5 {
		t.Errorf("reviewer-completed = %d, want 5", got)
	}
	iters := sink.ofType(models.EventReviewerIteration)
	if len(iters) == 0 {
		t.Fatal("iteration events missing")
	}
	if iters[0].Satisfaction != 100 {
		t.Errorf("iteration satisfaction = %v", iters[0].Satisfaction)
	}
}

func TestEngine_EmptyReviewApproves(t *testing.T) {
	adapter := &scriptedAdapter{name: "fake"}
	e := NewEngine([]backend.Adapter{adapter}, nil, fastConfig())

	report, err := e.Run(context.Background(), Request{TaskID: "PR-8", Path: goWorkDir(t)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Score != 10 {
		t.Errorf("score = %v, want 10", report.Score)
	}
	if report.Recommendation != models.RecommendationApprove {
		t.Errorf("recommendation = %s", report.Recommendation)
	}
	if report.Issues == nil {
		t.Error("issues must be non-nil even when empty")
	}
}

func TestScoreIssues_Floor(t *testing.T) {
	by := map[models.Severity]int{models.SeverityCritical: 8}
	if got := scoreIssues(by); got != 0 {
		t.Errorf("score = %v, want floor 0", got)
	}
}

func TestRecommend_Table(t *testing.T) {
	tests := []struct {
		name string
		by   map[models.Severity]int
		want models.Recommendation
	}{
		{"clean", map[models.Severity]int{}, models.RecommendationApprove},
		{"lows only", map[models.Severity]int{models.SeverityLow: 9}, models.RecommendationApprove},
		{"one high", map[models.Severity]int{models.SeverityHigh: 1}, models.RecommendationApproveWithChanges},
		{"three highs", map[models.Severity]int{models.SeverityHigh: 3}, models.RecommendationApproveWithChanges},
		{"four highs", map[models.Severity]int{models.SeverityHigh: 4}, models.RecommendationRequestChanges},
		{"one critical", map[models.Severity]int{models.SeverityCritical: 1}, models.RecommendationRequestChanges},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := recommend(tt.by); got != tt.want {
				t.Errorf("recommend(%v) = %s, want %s", tt.by, got, tt.want)
			}
		})
	}
}
