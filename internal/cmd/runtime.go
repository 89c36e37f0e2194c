package cmd

import (
	"context"
	"fmt"

	"github.com/3leaps/costsentry/internal/awsclient"
	"github.com/3leaps/costsentry/internal/config"
	"github.com/3leaps/costsentry/internal/observability"
	"github.com/3leaps/costsentry/pkg/costsource"
	"github.com/3leaps/costsentry/pkg/notify"
	"github.com/3leaps/costsentry/pkg/params"
	"github.com/3leaps/costsentry/pkg/queue"
	"github.com/3leaps/costsentry/pkg/store"
)

// runtime bundles the wired tracker components shared by the commands.
type runtime struct {
	cfg      *config.Config
	clients  *awsclient.Clients
	settings *params.Settings
	source   costsource.Source
	jobs     *store.JobTable
	results  *store.ResultTable
	work     *queue.WorkQueue
	complete *queue.CompletionQueue
	notifier *notify.SNSNotifier
}

// buildRuntime constructs every component off the loaded configuration.
func buildRuntime(ctx context.Context, needWorkQueue, needCompletionQueue bool) (*runtime, error) {
	cfg := config.GetConfig()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	if err := cfg.Validate(needWorkQueue, needCompletionQueue); err != nil {
		return nil, err
	}

	logger := observability.CLILogger

	clients, err := awsclient.New(ctx, awsclient.Config{
		Region:          cfg.AWS.Region,
		Profile:         cfg.AWS.Profile,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Endpoint:        cfg.AWS.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("build AWS clients: %w", err)
	}

	overrides, err := params.LoadOverrides(cfg.Params.OverridesFile)
	if err != nil {
		return nil, fmt.Errorf("load parameter overrides: %w", err)
	}
	settings := params.NewSettings(clients.SSM, cfg.Params.Prefix, overrides, logger)

	source := costsource.NewRetrier(
		costsource.NewExplorer(clients.CostExplorer),
		costsource.RetryConfig{RateLimit: cfg.Worker.RateLimit},
		logger,
	)

	rt := &runtime{
		cfg:      cfg,
		clients:  clients,
		settings: settings,
		source:   source,
		jobs:     store.NewJobTable(clients.DynamoDB, cfg.Tables.Control),
		results:  store.NewResultTable(clients.DynamoDB, cfg.Tables.Results, logger),
		notifier: notify.NewSNSNotifier(clients.SNS, logger),
	}
	if cfg.Queues.WorkURL != "" {
		rt.work = queue.NewWorkQueue(clients.SQS, cfg.Queues.WorkURL, logger)
	}
	if cfg.Queues.CompletionURL != "" {
		rt.complete = queue.NewCompletionQueue(clients.SQS, cfg.Queues.CompletionURL, logger)
	}
	return rt, nil
}
