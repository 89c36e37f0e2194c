// Package costsource abstracts the daily cost time-series source.
//
// The package exposes a small Source interface, a Cost Explorer
// implementation, and a Retrier decorator that adds throttling-aware
// exponential backoff. Callers depend on the interface so tests can inject
// scripted sources.
package costsource

import (
	"context"
	"time"

	"github.com/3leaps/costsentry/pkg/anomaly"
)

// Query selects the daily cost series for one usage type.
type Query struct {
	// UsageType is the category to fetch (required).
	UsageType string

	// Start and End bound the window (inclusive start, exclusive end, as
	// the upstream API defines it).
	Start time.Time
	End   time.Time

	// LinkedAccounts restricts the series to the given account IDs.
	// Empty means no account filtering.
	LinkedAccounts []string
}

// Source is a black-box daily cost time-series source.
type Source interface {
	// DailyCosts returns per-day amounts for the query window, ordered
	// most-recent-first.
	DailyCosts(ctx context.Context, q Query) ([]anomaly.Point, error)

	// UsageTypes enumerates the full category universe seen over the
	// trailing year. Empty values are dropped.
	UsageTypes(ctx context.Context) ([]string, error)
}
