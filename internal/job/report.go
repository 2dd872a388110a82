package job

import (
	"time"

	"github.com/JakeFAU/scheduled-scraper/internal/dbcheck"
)

// Outcome summarizes how an invocation ended.
type Outcome string

// Invocation outcomes.
const (
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeDegraded means the page was fetched but the database check failed.
	OutcomeDegraded Outcome = "degraded"
	OutcomeFailed   Outcome = "failed"
)

// Report is the record of one invocation. It is logged, published and returned.
type Report struct {
	RunID        string          `json:"run_id"`
	URL          string          `json:"url"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Title        string          `json:"title,omitempty"`
	Excerpt      string          `json:"excerpt,omitempty"`
	TextLength   int             `json:"text_length"`
	SnapshotURI  string          `json:"snapshot_uri,omitempty"`
	SnapshotHash string          `json:"snapshot_hash,omitempty"`
	Database     *dbcheck.Result `json:"database,omitempty"`
	Outcome      Outcome         `json:"outcome"`
	Error        string          `json:"error,omitempty"`
}

// Attributes returns the message attributes subscribers filter on.
func (r Report) Attributes() map[string]string {
	attrs := map[string]string{
		"run_id":  r.RunID,
		"outcome": string(r.Outcome),
	}
	if r.Database != nil {
		attrs["database_status"] = string(r.Database.Status)
	}
	return attrs
}
