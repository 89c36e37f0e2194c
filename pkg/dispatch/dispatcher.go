// Package dispatch creates anomaly-detection jobs and fans work out.
//
// One dispatch cycle clears the previous run's results, enumerates the
// usage-type universe, seeds a placeholder row per retained type, writes the
// job record that carries the completion barrier, and publishes one work
// message per type. There is no central scheduler after this point: the
// barrier counter is the only thing that ties the fan-out back together.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/costsentry/pkg/costsource"
	"github.com/3leaps/costsentry/pkg/params"
	"github.com/3leaps/costsentry/pkg/queue"
	"github.com/3leaps/costsentry/pkg/store"
)

// ErrSkipped is returned when today is outside the configured weekday
// schedule and the dispatch was a deliberate no-op.
var ErrSkipped = errors.New("dispatch skipped by weekday schedule")

// WorkPublisher is the queue surface the dispatcher needs.
type WorkPublisher interface {
	PublishWorkItem(ctx context.Context, jobID, usageType string) error
}

var _ WorkPublisher = (*queue.WorkQueue)(nil)

// Dispatcher runs one dispatch cycle.
type Dispatcher struct {
	source   costsource.Source
	jobs     store.JobStore
	results  store.ResultStore
	work     WorkPublisher
	settings *params.Settings
	logger   *zap.Logger
	now      func() time.Time
	newJobID func() string
}

// New creates a Dispatcher.
func New(source costsource.Source, jobs store.JobStore, results store.ResultStore, work WorkPublisher, settings *params.Settings, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		source:   source,
		jobs:     jobs,
		results:  results,
		work:     work,
		settings: settings,
		logger:   logger,
		now:      time.Now,
		newJobID: uuid.NewString,
	}
}

// WithClock overrides the clock. Test hook.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// WithJobID overrides job-id generation. Test hook.
func (d *Dispatcher) WithJobID(gen func() string) *Dispatcher {
	d.newJobID = gen
	return d
}

// Dispatch runs one cycle and returns the number of work items published.
//
// Returns (0, ErrSkipped) when today is outside the weekday schedule.
// A zero count with a nil error means the universe was empty or entirely
// filtered out: nothing to do.
func (d *Dispatcher) Dispatch(ctx context.Context) (int, error) {
	now := d.now()
	if !d.settings.ActiveWeekdays(ctx).Contains(now) {
		d.logger.Info("Skipping dispatch due to weekday schedule")
		return 0, ErrSkipped
	}

	if err := d.results.Clear(ctx); err != nil {
		return 0, err
	}

	universe, err := d.source.UsageTypes(ctx)
	if err != nil {
		return 0, err
	}

	allowList := d.settings.UsageTypeAllowList(ctx)

	// Seed a placeholder per retained type. A failed placeholder write
	// excludes that type from the job entirely: it must not count toward
	// the barrier if no worker will ever process it.
	retained := make([]string, 0, len(universe))
	for _, usageType := range universe {
		if !allowList.Match(usageType) {
			continue
		}
		if err := d.results.PutPlaceholder(ctx, usageType); err != nil {
			d.logger.Warn("Placeholder write failed, excluding usage type",
				zap.String("usage_type", usageType),
				zap.Error(err))
			continue
		}
		retained = append(retained, usageType)
	}

	jobID := d.newJobID()
	if err := d.jobs.CreateJob(ctx, store.Job{
		ID:         jobID,
		TotalItems: len(retained),
		StartedAt:  now,
	}); err != nil {
		return 0, err
	}

	d.logger.Info("Dispatching job",
		zap.String("job_id", jobID),
		zap.Int("usage_types", len(retained)))

	published := 0
	for _, usageType := range retained {
		if err := d.work.PublishWorkItem(ctx, jobID, usageType); err != nil {
			// The placeholder is already counted in the barrier total;
			// a lost publish means this job may never finalize. Keep
			// going so the remaining types still get evaluated.
			d.logger.Error("Work item publish failed",
				zap.String("job_id", jobID),
				zap.String("usage_type", usageType),
				zap.Error(err))
			continue
		}
		published++
	}

	if published < len(retained) {
		d.logger.Warn("Some work items were not published",
			zap.String("job_id", jobID),
			zap.Int("published", published),
			zap.Int("retained", len(retained)))
	}

	return len(retained), nil
}
