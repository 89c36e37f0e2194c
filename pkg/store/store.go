// Package store persists job control records and per-usage-type results.
//
// The job record carries the completion barrier: a counter incremented
// atomically by every processor, compared against the fixed item total by
// the finalizer, plus a conditional finalize flag that makes the
// aggregate-and-publish step single-winner. Result rows are keyed by usage
// type and scoped to a job by clearing the table before each dispatch.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	// ErrJobNotFound indicates the job record does not exist.
	ErrJobNotFound = errors.New("job not found")
)

// StoreError wraps a failed store operation with context.
type StoreError struct {
	// Op is the operation that failed (e.g., "IncrementProcessed").
	Op string

	// Table is the table involved.
	Table string

	// Key is the record key, if applicable.
	Key string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s: %s/%s: %v", e.Op, e.Table, e.Key, e.Err)
	}
	return fmt.Sprintf("store %s: %s: %v", e.Op, e.Table, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Job is one end-to-end anomaly-detection run.
type Job struct {
	// ID is the opaque job identifier, created once per dispatch cycle.
	ID string

	// TotalItems is the number of work items dispatched, fixed at creation.
	TotalItems int

	// ProcessedCount increases monotonically, one atomic increment per
	// processed item. Never exceeds TotalItems under correct operation.
	ProcessedCount int

	// StartedAt is when the dispatcher created the job.
	StartedAt time.Time

	// Finalized is set exactly once by the finalizer that wins the
	// conditional claim.
	Finalized bool
}

// Unprocessed returns how many items remain, never negative.
func (j *Job) Unprocessed() int {
	if n := j.TotalItems - j.ProcessedCount; n > 0 {
		return n
	}
	return 0
}

// ItemResult is the evaluation outcome for one usage type.
//
// A placeholder row has Processed=false and zero values; the owning
// processor overwrites the whole row exactly once.
type ItemResult struct {
	UsageType       string
	Total           float64
	AverageDaily    float64
	PreviousDay     float64
	IncreaseBy      float64
	PreviousDayDate time.Time
	Processed       bool
	Triggered       bool
}

// JobStore persists job control records.
type JobStore interface {
	// CreateJob writes a new job record with a zero processed count.
	CreateJob(ctx context.Context, job Job) error

	// GetJob reads a job record with a consistent read, so a finalizer
	// triggered right after the last increment sees it.
	// Returns ErrJobNotFound when the record does not exist.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// IncrementProcessed atomically adds one to the job's processed count.
	IncrementProcessed(ctx context.Context, jobID string) error

	// MarkFinalized claims the finalize step with a conditional write.
	// Returns false (and no error) when another caller already claimed it.
	MarkFinalized(ctx context.Context, jobID string) (bool, error)
}

// ResultStore persists per-usage-type results.
type ResultStore interface {
	// Clear deletes every result row, driving partial batch failures to
	// completion. Called by the dispatcher before seeding a new job.
	Clear(ctx context.Context) error

	// PutPlaceholder seeds an unprocessed row for a usage type.
	PutPlaceholder(ctx context.Context, usageType string) error

	// PutResult overwrites the row for the result's usage type.
	PutResult(ctx context.Context, res ItemResult) error

	// TriggeredResults returns all rows with Processed and Triggered set.
	TriggeredResults(ctx context.Context) ([]ItemResult, error)
}
