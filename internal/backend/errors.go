package backend

import "fmt"

// ErrorKind classifies an invocation failure.
type ErrorKind string

const (
	KindNotFound    ErrorKind = "adapter-not-found" // binary or endpoint unavailable
	KindTimeout     ErrorKind = "timeout"
	KindExit        ErrorKind = "non-zero-exit" // backend reported failure
	KindEmptyOutput ErrorKind = "empty-output"  // backend returned nothing usable
)

// Error is a classified invocation failure. Callers branch on Kind,
// never on message text.
type Error struct {
	Kind    ErrorKind
	Backend string
	Detail  string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend %s: %s: %s", e.Backend, e.Kind, e.Detail)
	}
	return fmt.Sprintf("backend %s: %s", e.Backend, e.Kind)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// failure builds a failed Result tagged with the given kind.
func failure(backendName string, kind ErrorKind, detail string, wrapped error) *Result {
	return &Result{
		Success: false,
		Error:   &Error{Kind: kind, Backend: backendName, Detail: detail, Wrapped: wrapped},
	}
}
