package model

import "time"

// RunStatus is the sync run state machine.
//
//	running → continuing → completing → completed
//	running/continuing → paused → continuing (on resume)
//	any → cancelled
type RunStatus string

const (
	RunRunning    RunStatus = "running"
	RunContinuing RunStatus = "continuing"
	RunCompleting RunStatus = "completing"
	RunCompleted  RunStatus = "completed"
	RunPaused     RunStatus = "paused"
	RunCancelled  RunStatus = "cancelled"
	RunFailed     RunStatus = "failed"
)

// Terminal reports whether no further chunks may run under this status.
// Paused runs are terminal until an operator resumes them.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunCancelled, RunFailed, RunPaused:
		return true
	}
	return false
}

// Active reports whether the run holds the single-writer lock: a second
// concurrent run must not start while one of these exists.
func (s RunStatus) Active() bool {
	switch s {
	case RunRunning, RunContinuing, RunCompleting:
		return true
	}
	return false
}

// Cursor records the last processed staging row id per source. A zero value
// means "from the beginning".
type Cursor map[Source]int64

// Clone returns an independent copy of the cursor.
func (c Cursor) Clone() Cursor {
	out := make(Cursor, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// SourceCounts accumulates per-source outcomes for operator visibility.
type SourceCounts struct {
	Processed int64 `json:"processed"`
	Created   int64 `json:"created"`
	Updated   int64 `json:"updated"`
	Skipped   int64 `json:"skipped"`
	Conflicts int64 `json:"conflicts"`
	Errors    int64 `json:"errors"`
}

// Add accumulates other into c.
func (c *SourceCounts) Add(other SourceCounts) {
	c.Processed += other.Processed
	c.Created += other.Created
	c.Updated += other.Updated
	c.Skipped += other.Skipped
	c.Conflicts += other.Conflicts
	c.Errors += other.Errors
}

// Merged returns the number of records that resulted in a write.
func (c SourceCounts) Merged() int64 {
	return c.Created + c.Updated
}

// SyncRun is the ledger row for one unification job. One row per job;
// mutated by every chunk; terminal when Status is completed, cancelled,
// or failed.
type SyncRun struct {
	ID          string                  `json:"id"`
	Status      RunStatus               `json:"status"`
	Sources     []Source                `json:"sources"`
	Counts      map[Source]SourceCounts `json:"counts"`
	Cursor      Cursor                  `json:"cursor"`
	Chunk       int                     `json:"chunk"`
	Message     string                  `json:"message,omitempty"`
	StartedAt   time.Time               `json:"started_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`

	// BatchSize overrides the engine's fetch size for this run only. Zero
	// means use the engine default. In-memory only, not persisted.
	BatchSize int `json:"-"`
}

// TotalErrors sums error counts across sources.
func (r *SyncRun) TotalErrors() int64 {
	var n int64
	for _, c := range r.Counts {
		n += c.Errors
	}
	return n
}

// TotalProcessed sums processed counts across sources.
func (r *SyncRun) TotalProcessed() int64 {
	var n int64
	for _, c := range r.Counts {
		n += c.Processed
	}
	return n
}
