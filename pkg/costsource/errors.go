package costsource

import (
	"errors"
	"fmt"
)

// Sentinel errors for cost source operations.
var (
	// ErrRateLimited indicates the upstream API throttled the request.
	// Retryable with backoff.
	ErrRateLimited = errors.New("rate limited")

	// ErrNoData indicates the query returned an empty or unusable series.
	ErrNoData = errors.New("no cost data")
)

// FetchError wraps a failed retrieval with the usage type it was for.
//
// A FetchError is terminal for the work item that caused it, never for the
// whole job: the caller still records the item as processed.
type FetchError struct {
	// Op is the operation that failed (e.g., "DailyCosts").
	Op string

	// UsageType is the category being fetched, if applicable.
	UsageType string

	// Attempts is the number of attempts made before giving up.
	Attempts int

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.UsageType != "" {
		return fmt.Sprintf("costsource %s: %s: %v", e.Op, e.UsageType, e.Err)
	}
	return fmt.Sprintf("costsource %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsRateLimited returns true if the error indicates upstream throttling.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
