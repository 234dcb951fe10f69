package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/joescharf/panel/internal/models"
)

const defaultCLITimeout = 15 * time.Minute

// CLIConfig configures an exec-based reviewer agent.
type CLIConfig struct {
	Command    string        // agent binary, e.g. "claude"
	Args       []string      // fixed args, e.g. ["-p", "--output-format", "text"]
	ResumeFlag string        // flag that accepts a session token, e.g. "--resume"
	Timeout    time.Duration // default per-invocation timeout
}

// CLIAdapter shells out to a local agent binary. The prompt is passed on
// stdin, stdout is the review output, and stderr is streamed line-wise to
// the caller for observability.
type CLIAdapter struct {
	name string
	cfg  CLIConfig
}

// NewCLIAdapter creates an adapter for the named agent binary.
func NewCLIAdapter(name string, cfg CLIConfig) *CLIAdapter {
	return &CLIAdapter{name: name, cfg: cfg}
}

// Name implements Adapter.
func (a *CLIAdapter) Name() string { return a.name }

// Invoke implements Adapter.
func (a *CLIAdapter) Invoke(ctx context.Context, inv Invocation) *Result {
	if _, err := exec.LookPath(a.cfg.Command); err != nil {
		return failure(a.name, KindNotFound, fmt.Sprintf("%s not in PATH", a.cfg.Command), err)
	}

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = a.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = defaultCLITimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{}, a.cfg.Args...)
	if inv.ResumeToken != "" && a.cfg.ResumeFlag != "" {
		args = append(args, a.cfg.ResumeFlag, inv.ResumeToken)
	}

	cmd := exec.CommandContext(ctx, a.cfg.Command, args...)
	cmd.Dir = inv.WorkDir
	cmd.Stdin = strings.NewReader(inv.Prompt)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return failure(a.name, KindExit, "stderr pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return failure(a.name, KindExit, "stdout pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return failure(a.name, KindNotFound, "start agent", err)
	}

	// Drain stderr concurrently so the child never blocks on a full pipe.
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if inv.OnStderr != nil {
				inv.OnStderr(scanner.Text())
			}
		}
	}()

	var out bytes.Buffer
	reader := bufio.NewReader(stdout)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
			if inv.OnText != nil {
				inv.OnText(string(buf[:n]))
			}
		}
		if readErr != nil {
			break
		}
	}
	<-stderrDone

	waitErr := cmd.Wait()
	output := strings.TrimSpace(out.String())

	if waitErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failure(a.name, KindTimeout, fmt.Sprintf("agent exceeded %s", timeout), waitErr)
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return failure(a.name, KindExit, fmt.Sprintf("exit code %d", exitErr.ExitCode()), waitErr)
		}
		return failure(a.name, KindExit, waitErr.Error(), waitErr)
	}
	if output == "" {
		return failure(a.name, KindEmptyOutput, "agent produced no output", nil)
	}

	return &Result{
		Success:      true,
		Output:       output,
		Usage:        []models.ModelUsage{{Model: a.name}},
		SessionToken: extractSessionToken(output),
	}
}

// extractSessionToken looks for a trailing JSON object carrying a
// session_id, the convention agent CLIs use to support --resume.
func extractSessionToken(output string) string {
	idx := strings.LastIndex(output, "\n")
	last := output
	if idx >= 0 {
		last = output[idx+1:]
	}
	last = strings.TrimSpace(last)
	if !strings.HasPrefix(last, "{") {
		return ""
	}
	var tail struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal([]byte(last), &tail); err != nil {
		return ""
	}
	return tail.SessionID
}
