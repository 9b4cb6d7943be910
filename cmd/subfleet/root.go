package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/subfleet/internal/adapter/browser"
	"github.com/fairyhunter13/subfleet/internal/adapter/executor"
	"github.com/fairyhunter13/subfleet/internal/adapter/executor/stub"
	"github.com/fairyhunter13/subfleet/internal/adapter/notify"
	"github.com/fairyhunter13/subfleet/internal/adapter/observability"
	"github.com/fairyhunter13/subfleet/internal/adapter/sheet"
	"github.com/fairyhunter13/subfleet/internal/config"
	"github.com/fairyhunter13/subfleet/internal/domain"
	"github.com/fairyhunter13/subfleet/internal/service/lock"
	"github.com/fairyhunter13/subfleet/internal/service/profile"
	"github.com/fairyhunter13/subfleet/internal/service/sharedconfig"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "subfleet",
		Short:         "Fleet-wide subscription pause/resume worker",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newBatchCmd())
	root.AddCommand(newScheduleCmd())
	return root
}

// deps is the wired dependency set shared by the worker and batch commands.
type deps struct {
	cfg      config.Config
	client   *sheet.Client
	gateway  *sheet.Gateway
	locks    *lock.Service
	resolver *profile.Resolver
	shared   *sharedconfig.Service
	exec     domain.TransitionExecutor
	notifier domain.Notifier
}

// buildDeps loads config, sets up logging and metrics, and wires the
// sheet-backed dependency graph.
func buildDeps(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateForSheet(); err != nil {
		return nil, err
	}
	slog.SetDefault(observability.SetupLogger(cfg))
	observability.InitMetrics()

	client, err := sheet.NewClient(ctx, cfg.SheetsBaseURL, cfg.SheetID, cfg.ServiceAccountPath, cfg.SheetHTTPTimeout)
	if err != nil {
		return nil, fmt.Errorf("sheet client: %w", err)
	}
	gateway := sheet.NewGateway(client, cfg.WorkerTab, cfg.ProfileMapTab, cfg.ProfileCacheTTL)
	locks := lock.NewService(gateway, cfg.LockLeaseHorizon)
	resolver := profile.NewResolver(gateway, browser.NewRegistry(cfg.BrowserAPIURL))

	shared := sharedconfig.New(client, cfg.ConfigTab, cfg.SharedConfigTTL, cfg.Tunables())

	var notifier domain.Notifier = notify.LogNotifier{}
	if cfg.SlackWebhookURL != "" {
		notifier = notify.Multi{notify.LogNotifier{}, notify.NewSlack(cfg.SlackWebhookURL)}
	}

	slog.Info("dependencies wired",
		slog.String("worker_id", locks.WorkerID()),
		slog.String("worker_tab", cfg.WorkerTab),
		slog.Bool("slack", cfg.SlackWebhookURL != ""))

	return &deps{
		cfg:      cfg,
		client:   client,
		gateway:  gateway,
		locks:    locks,
		resolver: resolver,
		shared:   shared,
		exec:     executor.NewGuarded(stub.New(), nil),
		notifier: notifier,
	}, nil
}
