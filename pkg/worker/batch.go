package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/costsentry/pkg/queue"
)

// DefaultConcurrency bounds how many items of one delivery batch are
// processed in parallel.
const DefaultConcurrency = 4

// Item is one decoded work item plus its queue receipt handle.
type Item struct {
	Msg           queue.WorkMessage
	ReceiptHandle string
}

// BatchSummary reports the outcome of one batch.
type BatchSummary struct {
	// Processed counts items that completed (including fetch failures,
	// which still advance the barrier).
	Processed int

	// Failed counts items whose messages must be redelivered.
	Failed int

	// Handled holds the receipt handles of completed items, safe to
	// delete from the queue.
	Handled []string

	// JobIDs are the distinct jobs touched by the batch.
	JobIDs []string
}

// CompletionPublisher is the completion-queue surface the batch group needs.
type CompletionPublisher interface {
	PublishCompletion(ctx context.Context, jobID string) error
}

var _ CompletionPublisher = (*queue.CompletionQueue)(nil)

// BatchGroup processes the items of one queue delivery with bounded
// concurrency and signals completion once per distinct job.
type BatchGroup struct {
	processor   *Processor
	completions CompletionPublisher
	concurrency int
	logger      *zap.Logger
}

// NewBatchGroup creates a BatchGroup. Non-positive concurrency takes the
// default.
func NewBatchGroup(processor *Processor, completions CompletionPublisher, concurrency int, logger *zap.Logger) *BatchGroup {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchGroup{
		processor:   processor,
		completions: completions,
		concurrency: concurrency,
		logger:      logger,
	}
}

// itemOutcome flows from the workers back to the single collector.
type itemOutcome struct {
	item Item
	err  error
}

// ProcessBatch runs every item, then publishes one completion signal per
// distinct job id.
//
// Items run under a semaphore; outcomes flow over a channel to a single
// collector goroutine, so no shared containers need locking. Completion
// signals go out only after every item has settled: within one delivery the
// increments land before the signals that make the finalizer re-check.
func (g *BatchGroup) ProcessBatch(ctx context.Context, items []Item) BatchSummary {
	outcomes := make(chan itemOutcome, len(items))

	var wg sync.WaitGroup
	sem := make(chan struct{}, g.concurrency)

	for _, item := range items {
		wg.Add(1)
		go func(item Item) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := g.processor.Process(ctx, item.Msg.JobID, item.Msg.UsageType)
			outcomes <- itemOutcome{item: item, err: err}
		}(item)
	}

	// Single collector: close the channel once all workers are done.
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var summary BatchSummary
	seen := make(map[string]bool)
	for out := range outcomes {
		if out.err != nil {
			summary.Failed++
			g.logger.Error("Work item failed, leaving message for redelivery",
				zap.String("job_id", out.item.Msg.JobID),
				zap.String("usage_type", out.item.Msg.UsageType),
				zap.Error(out.err))
			continue
		}
		summary.Processed++
		summary.Handled = append(summary.Handled, out.item.ReceiptHandle)
		if !seen[out.item.Msg.JobID] {
			seen[out.item.Msg.JobID] = true
			summary.JobIDs = append(summary.JobIDs, out.item.Msg.JobID)
		}
	}

	for _, jobID := range summary.JobIDs {
		if err := g.completions.PublishCompletion(ctx, jobID); err != nil {
			// The next delivery for this job re-signals; only a job whose
			// final increment happened here could stall, and redelivery
			// of any in-flight message unsticks it.
			g.logger.Error("Completion signal publish failed",
				zap.String("job_id", jobID),
				zap.Error(err))
		}
	}

	return summary
}
