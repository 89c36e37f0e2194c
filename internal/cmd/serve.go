package cmd

import (
	"context"

	"go.uber.org/zap"

	"github.com/3leaps/costsentry/internal/config"
	"github.com/3leaps/costsentry/internal/observability"
	"github.com/3leaps/costsentry/internal/server"
	"github.com/3leaps/costsentry/internal/server/handlers"
)

// startOpsServer starts the health/version listener for long-running
// commands. Returns a shutdown func; both are nil when the server is
// disabled.
func startOpsServer(cfg *config.Config) (stop func()) {
	if !cfg.Server.Enabled {
		return nil
	}

	handlers.InitHealthManager(versionInfo.Version)

	srv := server.New(cfg.Server.Host, cfg.Server.Port, server.Options{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})
	srv.SetVersion(server.VersionInfo{
		Version:   versionInfo.Version,
		Commit:    versionInfo.Commit,
		BuildDate: versionInfo.BuildDate,
	})

	go func() {
		observability.CLILogger.Info("Operational server listening",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", srv.Port()))
		if err := srv.Start(); err != nil {
			observability.CLILogger.Error("Operational server failed", zap.Error(err))
		}
	}()

	return func() {
		// Fresh context: the caller's is already canceled during shutdown.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			observability.CLILogger.Warn("Operational server shutdown failed", zap.Error(err))
		}
	}
}
