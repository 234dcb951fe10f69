package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joescharf/panel/internal/challenger"
	"github.com/joescharf/panel/internal/models"
	"github.com/joescharf/panel/internal/orchestrator"
	"github.com/joescharf/panel/internal/output"
)

var (
	reviewTaskID   string
	reviewMode     string
	reviewBackends []string
	reviewFresh    bool
	reviewJSON     bool
	reviewWatch    bool
)

var reviewCmd = &cobra.Command{
	Use:   "review <path>",
	Short: "Run a multi-reviewer code review of a directory",
	Long: `Run a full review of the given directory: specialist reviewers
iterate against a challenger critique until convergence, findings are
merged and prioritized, and the final report is printed.

An interrupted review resumes from its checkpoints when rerun with the
same task id; use --fresh to start over.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewRun(args[0])
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)

	reviewCmd.Flags().StringVar(&reviewTaskID, "task", "", "Task id (default derived from the path; reuse to resume)")
	reviewCmd.Flags().StringVar(&reviewMode, "mode", orchestrator.ModeFull, "Review mode: full or architecture")
	reviewCmd.Flags().StringSliceVar(&reviewBackends, "backends", nil, "Backends to fan out across (default from config)")
	reviewCmd.Flags().BoolVar(&reviewFresh, "fresh", false, "Discard checkpoints instead of resuming")
	reviewCmd.Flags().BoolVar(&reviewJSON, "json", false, "Print the report as JSON")
	reviewCmd.Flags().BoolVarP(&reviewWatch, "watch", "w", false, "Stream reviewer progress while running")
}

func reviewRun(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	adapters, err := adaptersFor(reviewBackends)
	if err != nil {
		return err
	}

	// Checkpointing is best-effort on the CLI path: a broken store
	// costs resumability, not the review.
	st, err := getStore()
	if err != nil {
		ui.Warning("checkpoints disabled: %v", err)
		st = nil
	}

	taskID := reviewTaskID
	if taskID == "" {
		taskID = "review-" + filepath.Base(abs)
	}

	// Ctrl-C cancels cooperatively; completed reviewers keep their
	// checkpoints.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	engine := orchestrator.NewEngine(adapters, st, challenger.DefaultConfig())
	var sink orchestrator.EventSink
	if reviewWatch {
		sink = &watchSink{ui: ui}
	}

	report, err := engine.Run(ctx, orchestrator.Request{
		TaskID: taskID,
		Path:   abs,
		Mode:   reviewMode,
		Fresh:  reviewFresh,
	}, sink)
	if err != nil {
		return err
	}

	if reviewJSON {
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	ui.PrintReport(report)
	return nil
}

// watchSink prints progress events as they happen.
type watchSink struct {
	ui *output.UI
}

func (s *watchSink) Publish(ev models.ProgressEvent) {
	switch ev.Type {
	case models.EventReviewStarted:
		s.ui.Info("%s", ev.Message)
	case models.EventReviewerStarted:
		s.ui.Info("%s: started", ev.Reviewer)
	case models.EventReviewerIteration:
		s.ui.Info("%s: iteration %d, satisfaction %.0f", ev.Reviewer, ev.Iteration, ev.Satisfaction)
	case models.EventReviewerCompleted:
		s.ui.Success("%s: %d issue(s), %s", ev.Reviewer, ev.IssueCount, ev.Message)
	case models.EventReviewerError:
		s.ui.Error("%s: %s", ev.Reviewer, ev.Message)
	case models.EventReviewerStreaming:
		s.ui.VerboseLog("%s: %s", ev.Reviewer, ev.Chunk)
	}
}
