// Package cmd wires configuration, AWS clients, and the tracker components
// behind the costsentry command tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/costsentry/internal/config"
	"github.com/3leaps/costsentry/internal/observability"
)

// versionInfo is injected at build time via SetVersionInfo.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata for the version command and the
// /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	flagLogLevel   string
	flagLogProfile string
)

var rootCmd = &cobra.Command{
	Use:   "costsentry",
	Short: "AWS billing anomaly tracker",
	Long: `costsentry watches AWS daily costs per usage type and reports anomalies.

A dispatch run fans one work item per usage type out over SQS; workers
evaluate each type against its recent baseline and record the outcome in
DynamoDB; the finalizer publishes one consolidated SNS report when every
item of a run has been processed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := cfg.Logging.Level
		if flagLogLevel != "" {
			level = flagLogLevel
		}
		profile := cfg.Logging.Profile
		if flagLogProfile != "" {
			profile = flagLogProfile
		}
		if err := observability.Init(level, profile); err != nil {
			return err
		}

		observability.CLILogger.Debug("Configuration loaded",
			zap.String("control_table", cfg.Tables.Control),
			zap.String("results_table", cfg.Tables.Results),
			zap.String("params_prefix", cfg.Params.Prefix))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&flagLogProfile, "log-profile", "", "Override log profile (structured|console)")
}

// Execute runs the command tree.
func Execute() {
	defer observability.Sync()
	if err := rootCmd.Execute(); err != nil {
		observability.CLILogger.Error("Command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
