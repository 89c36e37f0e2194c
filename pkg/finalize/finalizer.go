// Package finalize turns a completed job into exactly one notification.
//
// Completion signals arrive at-least-once and possibly concurrently: every
// worker batch re-signals its jobs, so the finalizer must be safe to run any
// number of times. The counter barrier decides WHETHER the job is done; the
// conditional finalize claim decides WHO aggregates and publishes.
package finalize

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/costsentry/pkg/notify"
	"github.com/3leaps/costsentry/pkg/params"
	"github.com/3leaps/costsentry/pkg/store"
)

// Finalizer checks completion signals against the job barrier and publishes
// the consolidated report for the run that crosses it.
type Finalizer struct {
	jobs     store.JobStore
	results  store.ResultStore
	notifier notify.Notifier
	settings *params.Settings
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Finalizer.
func New(jobs store.JobStore, results store.ResultStore, notifier notify.Notifier, settings *params.Settings, logger *zap.Logger) *Finalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finalizer{
		jobs:     jobs,
		results:  results,
		notifier: notifier,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the clock. Test hook.
func (f *Finalizer) WithClock(now func() time.Time) *Finalizer {
	f.now = now
	return f
}

// OnCompletionSignal handles one completion signal for a job.
//
// The signal is advisory: the job record is the source of truth. Unknown
// jobs, jobs with items outstanding, and jobs another finalizer already
// claimed are all quiet no-ops. Only a store failure returns an error, so
// the caller can leave the signal for redelivery.
func (f *Finalizer) OnCompletionSignal(ctx context.Context, jobID string) error {
	job, err := f.jobs.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		f.logger.Warn("Completion signal for unknown job", zap.String("job_id", jobID))
		return nil
	}
	if err != nil {
		return err
	}

	if remaining := job.Unprocessed(); remaining > 0 {
		f.logger.Info("Job not yet complete",
			zap.String("job_id", jobID),
			zap.Int("remaining", remaining))
		return nil
	}

	claimed, err := f.jobs.MarkFinalized(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed {
		f.logger.Info("Job already finalized", zap.String("job_id", jobID))
		return nil
	}

	elapsed := f.now().Sub(job.StartedAt)

	triggered, err := f.results.TriggeredResults(ctx)
	if err != nil {
		return err
	}
	if len(triggered) == 0 {
		f.logger.Info("No anomalies detected, skipping notification",
			zap.String("job_id", jobID),
			zap.Int("total_items", job.TotalItems))
		return nil
	}

	topicARN := f.settings.TopicARN(ctx)
	if topicARN == "" {
		f.logger.Warn("No notification topic configured, dropping report",
			zap.String("job_id", jobID),
			zap.Int("anomalies", len(triggered)))
		return nil
	}

	report := RenderReport(triggered, elapsed)
	if err := f.notifier.Publish(ctx, topicARN, report); err != nil {
		// The claim is already spent. Surface the failure rather than
		// pretend the report went out.
		return err
	}

	f.logger.Info("Job finalized",
		zap.String("job_id", jobID),
		zap.Int("anomalies", len(triggered)),
		zap.Duration("elapsed", elapsed))
	return nil
}
