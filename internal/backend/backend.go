// Package backend abstracts the external reviewer-agent implementations
// a review can be executed against. Every adapter exposes the same
// capability: invoke a prompt, stream progress, and return a tagged
// result. Failures never escape the boundary as panics or untyped
// errors; they are classified on the Result.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/joescharf/panel/internal/models"
)

// Invocation describes one backend call.
type Invocation struct {
	Prompt      string
	WorkDir     string        // working scope for adapters that run locally
	ResumeToken string        // backend session token from a prior invocation
	Timeout     time.Duration // per-invocation hard timeout; 0 uses the adapter default

	// Optional streaming callbacks. All are invoked from the adapter's
	// goroutine and must not block.
	OnText      func(chunk string)
	OnReasoning func(chunk string)
	OnStderr    func(line string)
}

// Result is the tagged outcome of one invocation.
type Result struct {
	Success      bool
	Output       string
	Usage        []models.ModelUsage
	Error        *Error // nil on success
	SessionToken string // opaque token for future resumption
}

// Adapter invokes one reviewer backend. Implementations are chosen by
// configuration, never by runtime type inspection.
type Adapter interface {
	Name() string
	Invoke(ctx context.Context, inv Invocation) *Result
}

// New constructs the adapter registered under name, configured from
// viper (`backend.<name>.*`).
func New(name string) (Adapter, error) {
	switch name {
	case "anthropic":
		return NewAnthropicAdapter(
			viper.GetString("anthropic.api_key"),
			viper.GetString("anthropic.model"),
		), nil
	case "":
		return nil, fmt.Errorf("backend name is empty")
	default:
		// Any other name is treated as a CLI agent definition.
		cmd := viper.GetString("backend." + name + ".command")
		if cmd == "" {
			return nil, fmt.Errorf("backend %q has no command configured", name)
		}
		return NewCLIAdapter(name, CLIConfig{
			Command:    cmd,
			Args:       viper.GetStringSlice("backend." + name + ".args"),
			ResumeFlag: viper.GetString("backend." + name + ".resume_flag"),
			Timeout:    viper.GetDuration("backend." + name + ".timeout"),
		}), nil
	}
}
