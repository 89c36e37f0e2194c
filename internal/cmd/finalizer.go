package cmd

import (
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/costsentry/internal/observability"
	"github.com/3leaps/costsentry/pkg/finalize"
	"github.com/3leaps/costsentry/pkg/queue"
)

var finalizerCmd = &cobra.Command{
	Use:   "finalizer",
	Short: "Finalize completed runs and publish reports",
	Long: `Consume completion signals and finalize runs whose items are all
processed.

Runs until interrupted. Signals for incomplete or already-finalized runs
are acknowledged without effect; at most one consolidated report is
published per run.

Example:
  costsentry finalizer`,
	RunE: runFinalizer,
}

func init() {
	rootCmd.AddCommand(finalizerCmd)
}

func runFinalizer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, false, true)
	if err != nil {
		return err
	}

	if stopServer := startOpsServer(rt.cfg); stopServer != nil {
		defer stopServer()
	}

	logger := observability.CLILogger
	f := finalize.New(rt.jobs, rt.results, rt.notifier, rt.settings, logger)

	logger.Info("Finalizer started")

	for {
		deliveries, err := rt.complete.Receive(ctx, queue.MaxReceiveBatch)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Finalizer stopping")
				return nil
			}
			logger.Error("Completion queue receive failed", zap.Error(err))
			continue
		}
		if len(deliveries) == 0 && ctx.Err() != nil {
			logger.Info("Finalizer stopping")
			return nil
		}

		for _, d := range deliveries {
			jobID := strings.TrimSpace(d.Body)
			if jobID == "" {
				logger.Warn("Dropping empty completion signal")
				if err := rt.complete.Delete(ctx, d.ReceiptHandle); err != nil {
					logger.Warn("Completion message delete failed", zap.Error(err))
				}
				continue
			}

			if err := f.OnCompletionSignal(ctx, jobID); err != nil {
				// Leave the signal for redelivery.
				logger.Error("Completion signal handling failed",
					zap.String("job_id", jobID),
					zap.Error(err))
				continue
			}

			if err := rt.complete.Delete(ctx, d.ReceiptHandle); err != nil {
				logger.Warn("Completion message delete failed", zap.Error(err))
			}
		}
	}
}
