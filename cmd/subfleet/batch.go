package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/subfleet/internal/domain"
	"github.com/fairyhunter13/subfleet/internal/usecase"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run an explicit task list through the transition pipeline",
	}
	cmd.AddCommand(newBatchKindCmd(domain.KindPause), newBatchKindCmd(domain.KindResume))
	return cmd
}

func newBatchKindCmd(kind domain.TransitionKind) *cobra.Command {
	var (
		tasksPath       string
		concurrency     int
		batchSize       int
		interTaskDelay  time.Duration
		interBatchDelay time.Duration
		retry           bool
		window          string
	)
	cmd := &cobra.Command{
		Use:   string(kind),
		Short: fmt.Sprintf("Batch-%s the accounts in a tasks file", kind),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tasks, err := loadTasks(tasksPath)
			if err != nil {
				return err
			}

			d, err := buildDeps(ctx)
			if err != nil {
				return err
			}

			events := make(chan usecase.BatchEvent, 64)
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for ev := range events {
					switch ev.Type {
					case usecase.BatchEventBatchStart:
						slog.Info("batch starting", slog.Int("batch", ev.Batch), slog.Int("batches", ev.Batches))
					case usecase.BatchEventProgress:
						slog.Info("progress",
							slog.Int("completed", ev.Completed),
							slog.Int("failed", ev.Failed),
							slog.Int("skipped", ev.Skipped),
							slog.Int("total", ev.Total))
					default:
						slog.Info(string(ev.Type), slog.String("email", ev.Email), slog.String("detail", ev.Detail))
					}
				}
			}()

			proc := usecase.NewBatchProcessor(d.gateway, d.locks, d.resolver, d.exec, events, d.cfg.ExecutorTimeout)
			summary, runErr := proc.Run(ctx, tasks, usecase.BatchConfig{
				Kind:            kind,
				Concurrency:     concurrency,
				BatchSize:       batchSize,
				RetryEnabled:    retry,
				RetryCap:        d.cfg.RetryCap,
				InterTaskDelay:  interTaskDelay,
				InterBatchDelay: interBatchDelay,
				WindowMode:      window,
				DebugMode:       d.cfg.DebugMode,
			})
			close(events)
			wg.Wait()

			slog.Info("batch finished",
				slog.Int("completed", summary.Completed),
				slog.Int("failed", summary.Failed),
				slog.Int("skipped", summary.Skipped),
				slog.Int("total", summary.Total))
			if runErr != nil {
				return fmt.Errorf("batch interrupted: %w", runErr)
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d tasks failed", summary.Failed, summary.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tasksPath, "tasks", "", "path to the YAML tasks file (required)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "maximum tasks in flight")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "tasks per batch; 0 means one batch")
	cmd.Flags().DurationVar(&interTaskDelay, "inter-task-delay", 0, "pause between tasks when concurrency is 1")
	cmd.Flags().DurationVar(&interBatchDelay, "inter-batch-delay", 0, "pause between batches")
	cmd.Flags().BoolVar(&retry, "retry", false, "run one retry pass over failed tasks")
	cmd.Flags().StringVar(&window, "window", "background", "browser window mode: focus or background")
	_ = cmd.MarkFlagRequired("tasks")
	return cmd
}

// loadTasks reads and validates a YAML tasks file.
func loadTasks(path string) ([]usecase.BatchTask, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tasks file: %w", err)
	}
	var doc struct {
		Tasks []usecase.BatchTask `yaml:"tasks"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing tasks file: %w", err)
	}
	if len(doc.Tasks) == 0 {
		return nil, fmt.Errorf("tasks file %s contains no tasks", path)
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	for i, t := range doc.Tasks {
		if err := v.Struct(t); err != nil {
			return nil, fmt.Errorf("task %d (%q): %w", i+1, t.Email, err)
		}
	}
	return doc.Tasks, nil
}
