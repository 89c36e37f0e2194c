package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/costsentry/internal/observability"
	"github.com/3leaps/costsentry/pkg/queue"
	"github.com/3leaps/costsentry/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume and evaluate work items",
	Long: `Consume work items from the work queue and evaluate each usage type.

Runs until interrupted. Each received batch is processed with bounded
concurrency; handled messages are deleted individually and one completion
signal per touched job is sent to the completion queue.

Example:
  costsentry worker
  costsentry worker --log-profile console`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, true, true)
	if err != nil {
		return err
	}

	if stopServer := startOpsServer(rt.cfg); stopServer != nil {
		defer stopServer()
	}

	logger := observability.CLILogger
	processor := worker.New(rt.source, rt.jobs, rt.results, rt.settings, rt.cfg.TestMode, logger)
	group := worker.NewBatchGroup(processor, rt.complete, rt.cfg.Worker.Concurrency, logger)

	logger.Info("Worker started",
		zap.Int("concurrency", rt.cfg.Worker.Concurrency),
		zap.Bool("test_mode", rt.cfg.TestMode))

	for {
		deliveries, err := rt.work.Receive(ctx, queue.MaxReceiveBatch)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Worker stopping")
				return nil
			}
			logger.Error("Work queue receive failed", zap.Error(err))
			continue
		}
		if len(deliveries) == 0 {
			if ctx.Err() != nil {
				logger.Info("Worker stopping")
				return nil
			}
			continue
		}

		items := decodeDeliveries(ctx, rt, deliveries, logger)
		summary := group.ProcessBatch(ctx, items)

		for _, handle := range summary.Handled {
			if err := rt.work.Delete(ctx, handle); err != nil {
				// The message reappears and the item reruns; result writes
				// are idempotent overwrites, but the barrier counts twice.
				logger.Warn("Work message delete failed", zap.Error(err))
			}
		}

		logger.Info("Batch complete",
			zap.Int("processed", summary.Processed),
			zap.Int("failed", summary.Failed),
			zap.Strings("job_ids", summary.JobIDs))
	}
}

// decodeDeliveries turns raw deliveries into work items. Undecodable bodies
// are deleted immediately: they will never become processable.
func decodeDeliveries(ctx context.Context, rt *runtime, deliveries []queue.Delivery, logger *zap.Logger) []worker.Item {
	items := make([]worker.Item, 0, len(deliveries))
	for _, d := range deliveries {
		msg, err := queue.DecodeWork(d.Body)
		if err != nil {
			logger.Error("Dropping malformed work message", zap.Error(err))
			if delErr := rt.work.Delete(ctx, d.ReceiptHandle); delErr != nil && !errors.Is(delErr, context.Canceled) {
				logger.Warn("Malformed message delete failed", zap.Error(delErr))
			}
			continue
		}
		items = append(items, worker.Item{Msg: msg, ReceiptHandle: d.ReceiptHandle})
	}
	return items
}
