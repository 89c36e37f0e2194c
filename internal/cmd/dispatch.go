package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/costsentry/internal/observability"
	"github.com/3leaps/costsentry/pkg/dispatch"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Start one anomaly-detection run",
	Long: `Start one anomaly-detection run.

Clears the previous run's results, enumerates usage types from Cost
Explorer, records the job with its item total, and publishes one work
message per usage type. Intended to run once a day from a scheduler.

Example:
  costsentry dispatch
  costsentry dispatch --log-level debug`,
	RunE: runDispatch,
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
}

func runDispatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := buildRuntime(ctx, true, false)
	if err != nil {
		return err
	}

	d := dispatch.New(rt.source, rt.jobs, rt.results, rt.work, rt.settings, observability.CLILogger)
	count, err := d.Dispatch(ctx)
	if errors.Is(err, dispatch.ErrSkipped) {
		observability.CLILogger.Info("Not a scheduled day, nothing dispatched")
		return nil
	}
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	observability.CLILogger.Info("Dispatch complete", zap.Int("work_items", count))
	return nil
}
