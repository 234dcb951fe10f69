// Package specialist defines the review perspectives a task can run and
// how they are selected for a codebase.
package specialist

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Specialist is one narrowly-scoped review perspective applied to a codebase.
type Specialist struct {
	Name      string   `yaml:"name"`
	Focus     string   `yaml:"focus"`
	Checklist []string `yaml:"checklist"`
}

// Built-in specialist names.
const (
	Architecture  = "architecture"
	Quality       = "quality"
	Security      = "security"
	Performance   = "performance"
	Testing       = "testing"
	BusinessLogic = "business-logic"
)

var builtins = map[string]Specialist{
	Architecture: {
		Name:  Architecture,
		Focus: "Module boundaries, dependency direction, layering, coupling, and whether the structure matches the documented design.",
		Checklist: []string{
			"circular or inverted dependencies",
			"leaky abstractions across package boundaries",
			"components with too many responsibilities",
			"missing seams for testing or replacement",
		},
	},
	Quality: {
		Name:  Quality,
		Focus: "Readability, error handling, resource management, and idiomatic use of the language.",
		Checklist: []string{
			"swallowed or untyped errors",
			"unclosed resources and leaked goroutines",
			"dead code and misleading names",
			"copy-pasted logic that should be shared",
		},
	},
	Security: {
		Name:  Security,
		Focus: "Injection, authentication/authorization gaps, secrets handling, unsafe deserialization, and input validation.",
		Checklist: []string{
			"unvalidated external input",
			"secrets in code or logs",
			"path traversal and command injection",
			"missing authorization checks",
		},
	},
	Performance: {
		Name:  Performance,
		Focus: "Algorithmic complexity, allocation pressure, blocking calls on hot paths, and unbounded growth.",
		Checklist: []string{
			"O(n^2) scans over large collections",
			"unbounded caches, queues, or buffers",
			"synchronous I/O on request paths",
			"lock contention and false sharing",
		},
	},
	Testing: {
		Name:  Testing,
		Focus: "Coverage of critical paths, edge cases, failure modes, and test quality.",
		Checklist: []string{
			"untested error branches",
			"tests asserting implementation instead of behavior",
			"missing concurrency and boundary tests",
			"flaky time- or order-dependent tests",
		},
	},
	BusinessLogic: {
		Name:  BusinessLogic,
		Focus: "Whether the code actually implements the stated requirements: domain rules, calculations, state transitions, and edge cases.",
		Checklist: []string{
			"requirements with no corresponding code",
			"calculations that disagree with the documented rules",
			"invalid state transitions",
			"unhandled domain edge cases",
		},
	},
}

// Get returns a specialist by name from the built-in set plus any overlay.
func Get(name string) (Specialist, bool) {
	s, ok := builtins[name]
	return s, ok
}

// ForProjectType selects the specialist set for a classified codebase.
// The business-logic specialist is always included: whatever the stack,
// the code has requirements to meet.
func ForProjectType(projectType string) []Specialist {
	var names []string
	switch projectType {
	case "architecture":
		names = []string{Architecture, BusinessLogic}
	case "go", "python", "rust":
		names = []string{Architecture, Quality, Security, Testing, BusinessLogic}
	case "web":
		names = []string{Quality, Security, Performance, BusinessLogic}
	default:
		names = []string{Architecture, Quality, Security, BusinessLogic}
	}
	out := make([]Specialist, 0, len(names))
	for _, n := range names {
		out = append(out, builtins[n])
	}
	return out
}

// LoadOverlay merges operator-defined specialists from a YAML file into
// the built-in set. Entries sharing a built-in name replace it; new names
// are added. A missing file is not an error.
func LoadOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read specialists file: %w", err)
	}

	var overlay struct {
		Specialists []Specialist `yaml:"specialists"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse specialists file: %w", err)
	}

	for _, s := range overlay.Specialists {
		if s.Name == "" {
			continue
		}
		builtins[s.Name] = s
	}
	return nil
}
