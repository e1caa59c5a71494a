package sync

import (
	"strings"
	"time"
)

// Result summarizes one sync cycle.
type Result struct {
	StartedAt  time.Time
	FinishedAt time.Time

	// Uploaded counts outbox entries acknowledged by the hub this cycle.
	Uploaded int
	// Downloaded counts incoming records applied locally.
	Downloaded int
	// Deleted counts tombstones applied locally.
	Deleted int

	// Errors collects per-record failures. A non-empty slice does not abort
	// the cycle; failed outbox entries retry next cycle and a failed pull
	// page keeps the cursor where it was.
	Errors []string
}

// Ok reports whether the cycle completed without any record failure.
func (r *Result) Ok() bool {
	return len(r.Errors) == 0
}

// ErrorSummary joins the collected failures for status reporting.
func (r *Result) ErrorSummary() string {
	return strings.Join(r.Errors, "; ")
}

// Duration returns the cycle's wall time.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
