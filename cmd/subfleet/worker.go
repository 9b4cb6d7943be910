package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/subfleet/internal/adapter/observability"
	"github.com/fairyhunter13/subfleet/internal/app"
	"github.com/fairyhunter13/subfleet/internal/schedule"
	"github.com/fairyhunter13/subfleet/internal/usecase"
)

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Scheduled transition worker",
	}
	cmd.AddCommand(newWorkerRunCmd())
	return cmd
}

func newWorkerRunCmd() *cobra.Command {
	var (
		continuous bool
		interval   time.Duration
		resumeLead time.Duration
		pauseLag   time.Duration
		retryCap   int
		window     string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run transition cycles (continuous by default; --continuous=false for a single cycle)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// A second signal after the graceful stop kills the process.
			go func() {
				<-ctx.Done()
				sig := make(chan os.Signal, 1)
				signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
				<-sig
				slog.Error("second signal received, exiting immediately")
				os.Exit(1)
			}()

			d, err := buildDeps(ctx)
			if err != nil {
				return err
			}

			shutdownTracing, err := observability.SetupTracing(d.cfg)
			if err != nil {
				slog.Warn("tracing setup failed, continuing without", slog.Any("error", err))
			} else if shutdownTracing != nil {
				defer func() {
					tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := shutdownTracing(tctx); err != nil {
						slog.Warn("tracing shutdown failed", slog.Any("error", err))
					}
				}()
			}

			opts := usecase.WorkerOptions{
				Continuous:  continuous,
				WindowMode:  window,
				DebugMode:   d.cfg.DebugMode,
				ExecTimeout: d.cfg.ExecutorTimeout,
			}
			// Only flags the operator actually set override the shared config.
			if cmd.Flags().Changed("interval") {
				opts.CheckInterval = &interval
			}
			if cmd.Flags().Changed("resume-lead") {
				opts.ResumeLead = &resumeLead
			}
			if cmd.Flags().Changed("pause-lag") {
				opts.PauseLag = &pauseLag
			}
			if cmd.Flags().Changed("retry-cap") {
				opts.RetryCap = &retryCap
			}

			schedules := schedule.NewRegistry()
			worker := usecase.NewWorker(d.gateway, d.locks, d.resolver, d.exec, d.shared, d.notifier, opts).
				WithScheduleSink(schedules)

			ops := app.NewOpsServer(d.cfg.OpsPort, d.client, schedules)
			go func() {
				if err := ops.Start(); err != nil {
					slog.Warn("ops server failed", slog.Any("error", err))
				}
			}()
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := ops.Shutdown(sctx); err != nil {
					slog.Warn("ops server shutdown failed", slog.Any("error", err))
				}
			}()

			if continuous {
				sweeper := app.NewStaleLockSweeper(d.gateway, d.locks.LeaseHorizon(), 0)
				go sweeper.Run(ctx)
			}

			if err := worker.Run(ctx); err != nil {
				return err
			}
			stats := worker.StatsSnapshot()
			slog.Info("worker finished",
				slog.Int("cycles", stats.Cycles),
				slog.Int("processed", stats.Processed),
				slog.Int("succeeded", stats.Succeeded),
				slog.Int("retryable", stats.Retryable),
				slog.Int("permanent", stats.Permanent),
				slog.Int("pending", stats.Pending),
				slog.Int("skipped", stats.Skipped),
				slog.Int("loops", stats.Loops))
			return nil
		},
	}
	cmd.Flags().BoolVar(&continuous, "continuous", true, "keep running cycles on the check interval; false runs one cycle and exits")
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "check interval between cycles")
	cmd.Flags().DurationVar(&resumeLead, "resume-lead", 10*time.Minute, "resume rows this early")
	cmd.Flags().DurationVar(&pauseLag, "pause-lag", 5*time.Minute, "pause rows this late")
	cmd.Flags().IntVar(&retryCap, "retry-cap", 3, "park rows after this many retryable failures")
	cmd.Flags().StringVar(&window, "window", "background", "browser window mode: focus or background")
	return cmd
}
