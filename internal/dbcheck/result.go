// Package dbcheck verifies that the configured database accepts connections.
//
// A check never returns an error. Failures are reported as a Result whose Kind
// says what went wrong, so callers decide whether a failed check matters.
package dbcheck

import "time"

// Status is the outcome of a check.
type Status string

// Check outcomes.
const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Kind classifies a failed check.
type Kind string

// Failure kinds. KindNone accompanies StatusOK.
const (
	KindNone           Kind = ""
	KindConnection     Kind = "connection"
	KindAuthentication Kind = "authentication"
	KindTimeout        Kind = "timeout"
	KindUnknown        Kind = "unknown"
)

// Result is the outcome of one liveness check.
type Result struct {
	Status    Status        `json:"status"`
	Kind      Kind          `json:"kind,omitempty"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
	CheckedAt time.Time     `json:"checked_at"`
}

// OK reports whether the database answered the liveness query.
func (r Result) OK() bool {
	return r.Status == StatusOK
}
