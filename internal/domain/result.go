package domain

import "fmt"

// Status is the outcome of a write operation.
type Status int

const (
	// StatusOK means the request was issued and acknowledged.
	StatusOK Status = iota
	// StatusSkipped means a guard short-circuited before any request.
	StatusSkipped
	// StatusFailed means the request was issued and the backend rejected it.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is returned by every write so callers and tests can observe
// failures that the UI chooses not to show.
type Result struct {
	Status Status
	Reason string
	Err    error
}

// OK builds a successful result.
func OK() Result { return Result{Status: StatusOK} }

// Skipped builds a result for a guarded no-op.
func Skipped(reason string) Result { return Result{Status: StatusSkipped, Reason: reason} }

// Failed builds a result wrapping err.
func Failed(reason string, err error) Result {
	return Result{Status: StatusFailed, Reason: reason, Err: err}
}

func (r Result) OK() bool      { return r.Status == StatusOK }
func (r Result) Skipped() bool { return r.Status == StatusSkipped }

func (r Result) String() string {
	if r.Err == nil {
		return r.Reason
	}
	return fmt.Sprintf("%s: %v", r.Reason, r.Err)
}
