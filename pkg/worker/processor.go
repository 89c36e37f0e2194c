// Package worker consumes work items and evaluates them.
//
// Each item is independent: fetch the usage type's daily series, evaluate
// it, persist the result, and advance the job's completion barrier. The
// result write is durably visible before the barrier increment, so a
// finalizer that observes a full counter never reads a half-written result
// set. "The item completed" and "the item succeeded" are deliberately
// separate: an unresolvable fetch failure still advances the barrier.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/costsentry/pkg/anomaly"
	"github.com/3leaps/costsentry/pkg/costsource"
	"github.com/3leaps/costsentry/pkg/params"
	"github.com/3leaps/costsentry/pkg/store"
)

// Processor evaluates single work items.
type Processor struct {
	source   costsource.Source
	jobs     store.JobStore
	results  store.ResultStore
	settings *params.Settings
	logger   *zap.Logger
	testMode bool
	now      func() time.Time
}

// New creates a Processor. testMode propagates to the evaluator's smoke-test
// coin flip and must stay off outside development stacks.
func New(source costsource.Source, jobs store.JobStore, results store.ResultStore, settings *params.Settings, testMode bool, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		source:   source,
		jobs:     jobs,
		results:  results,
		settings: settings,
		logger:   logger,
		testMode: testMode,
		now:      time.Now,
	}
}

// WithClock overrides the clock. Test hook.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Process evaluates one usage type for a job.
//
// A fetch failure is terminal for the item but not the job: a zeroed,
// processed result is persisted so the barrier still advances. A result
// write failure is returned without incrementing, leaving the message for
// queue redelivery.
func (p *Processor) Process(ctx context.Context, jobID, usageType string) error {
	weekdays := p.settings.ActiveWeekdays(ctx)
	lookback := anomaly.ExtendedLookback(p.settings.LookbackDays(ctx), weekdays)

	now := p.now()
	series, fetchErr := p.source.DailyCosts(ctx, costsource.Query{
		UsageType: usageType,
		// One extra day so the day under evaluation sits on top of a full
		// baseline window.
		Start:          now.AddDate(0, 0, -(lookback + 1)),
		End:            now,
		LinkedAccounts: p.settings.LinkedAccounts(ctx),
	})

	var res store.ItemResult
	if fetchErr != nil {
		p.logger.Error("Cost series fetch failed, recording failed item",
			zap.String("job_id", jobID),
			zap.String("usage_type", usageType),
			zap.Error(fetchErr))
		res = store.ItemResult{UsageType: usageType, Processed: true}
	} else {
		eval := anomaly.New(weekdays, anomaly.Thresholds{
			MinIncrease:    p.settings.MinIncreaseThreshold(ctx),
			RelativeChange: p.settings.RelativeChangeThreshold(ctx),
		}, p.evalOptions()...)

		outcome := eval.Evaluate(series)
		res = store.ItemResult{
			UsageType:       usageType,
			Total:           outcome.Total,
			AverageDaily:    outcome.Average,
			PreviousDay:     outcome.PreviousDay,
			IncreaseBy:      outcome.Increase,
			PreviousDayDate: outcome.PreviousDayDate,
			Processed:       true,
			Triggered:       outcome.Triggered,
		}
	}

	// The result must be durable before the barrier moves; propagating the
	// write failure leaves the message for redelivery.
	if err := p.results.PutResult(ctx, res); err != nil {
		return err
	}

	if err := p.jobs.IncrementProcessed(ctx, jobID); err != nil {
		return err
	}

	p.logger.Info("Processed usage type",
		zap.String("job_id", jobID),
		zap.String("usage_type", usageType),
		zap.Bool("triggered", res.Triggered),
		zap.Bool("fetch_failed", fetchErr != nil))

	return nil
}

func (p *Processor) evalOptions() []anomaly.Option {
	if p.testMode {
		return []anomaly.Option{anomaly.WithTestMode()}
	}
	return nil
}
