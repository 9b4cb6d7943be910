package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/subfleet/internal/adapter/observability"
	"github.com/fairyhunter13/subfleet/internal/domain"
	obsctx "github.com/fairyhunter13/subfleet/internal/observability"
)

// BatchTask is one account in an operator-supplied task list.
type BatchTask struct {
	Email         string `yaml:"email" json:"email" validate:"required,email"`
	Password      string `yaml:"password" json:"password"`
	RecoveryEmail string `yaml:"recoveryEmail" json:"recoveryEmail"`
	TOTPSecret    string `yaml:"totpSecret" json:"totpSecret"`
	ProfileID     string `yaml:"profileId" json:"profileId"`
	PaymentCard   string `yaml:"paymentCard" json:"paymentCard"`
}

// BatchConfig tunes one batch run.
type BatchConfig struct {
	Kind            domain.TransitionKind
	Concurrency     int
	BatchSize       int
	RetryEnabled    bool
	RetryCap        int
	InterTaskDelay  time.Duration
	InterBatchDelay time.Duration
	WindowMode      string
	DebugMode       bool
}

// BatchEventType tags the lifecycle events emitted during a run.
type BatchEventType string

const (
	BatchEventBatchStart  BatchEventType = "batch:start"
	BatchEventTaskDone    BatchEventType = "task:complete"
	BatchEventTaskFailed  BatchEventType = "task:failed"
	BatchEventTaskSkipped BatchEventType = "task:skipped"
	BatchEventProgress    BatchEventType = "progress"
)

// BatchEvent is the tagged union delivered to the events channel; the
// progress dashboard consumes it.
type BatchEvent struct {
	Type    BatchEventType
	Batch   int
	Batches int
	Email   string
	Detail  string

	Completed int
	Failed    int
	Skipped   int
	Total     int
}

// BatchSummary is the final tally of a run.
type BatchSummary struct {
	Completed int
	Failed    int
	Skipped   int
	Total     int
}

// BatchProcessor fans an explicit task list out under a concurrency limit
// with per-task and per-batch pacing, runs one retry pass over failures,
// and shares the executor/classifier/sheet-write contracts with the
// scheduled worker.
type BatchProcessor struct {
	sheet    domain.SheetGateway
	locks    LockService
	resolver ProfileResolver
	exec     domain.TransitionExecutor
	events   chan<- BatchEvent

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool

	mu      sync.Mutex
	tally   BatchSummary
	failed  []BatchTask
	execTimeout time.Duration
}

// NewBatchProcessor wires a processor. events may be nil; when set, the
// caller must drain the channel.
func NewBatchProcessor(sheet domain.SheetGateway, locks LockService, resolver ProfileResolver, exec domain.TransitionExecutor, events chan<- BatchEvent, execTimeout time.Duration) *BatchProcessor {
	if execTimeout <= 0 {
		execTimeout = 10 * time.Minute
	}
	return &BatchProcessor{
		sheet:       sheet,
		locks:       locks,
		resolver:    resolver,
		exec:        exec,
		events:      events,
		now:         time.Now,
		sleep:       sleepCtx,
		execTimeout: execTimeout,
	}
}

// WithClock overrides the processor clock and sleeper; used by tests.
func (p *BatchProcessor) WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) bool) *BatchProcessor {
	if now != nil {
		p.now = now
	}
	if sleep != nil {
		p.sleep = sleep
	}
	return p
}

// Run processes the tasks and returns the final tally. A cancelled context
// stops between tasks and batches; in-flight tasks finish.
func (p *BatchProcessor) Run(ctx context.Context, tasks []BatchTask, cfg BatchConfig) (BatchSummary, error) {
	if cfg.Kind != domain.KindPause && cfg.Kind != domain.KindResume {
		return BatchSummary{}, fmt.Errorf("op=usecase.BatchProcessor.Run: %w: kind %q", domain.ErrInvalidArgument, cfg.Kind)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = len(tasks)
		if cfg.BatchSize == 0 {
			cfg.BatchSize = 1
		}
	}

	p.mu.Lock()
	p.tally = BatchSummary{Total: len(tasks)}
	p.failed = nil
	p.mu.Unlock()

	p.runPass(ctx, tasks, cfg)

	if cfg.RetryEnabled {
		p.mu.Lock()
		retry := p.failed
		p.failed = nil
		p.mu.Unlock()
		if len(retry) > 0 && ctx.Err() == nil {
			slog.Info("batch retry pass", slog.Int("tasks", len(retry)))
			// RetryCap 0 on the second pass prevents recursion.
			retryCfg := cfg
			retryCfg.RetryEnabled = false
			retryCfg.RetryCap = 0
			p.runPass(ctx, retry, retryCfg)
		}
	}

	p.mu.Lock()
	out := p.tally
	p.mu.Unlock()
	return out, ctx.Err()
}

func (p *BatchProcessor) runPass(ctx context.Context, tasks []BatchTask, cfg BatchConfig) {
	batches := (len(tasks) + cfg.BatchSize - 1) / cfg.BatchSize
	for bi := 0; bi < batches; bi++ {
		if ctx.Err() != nil {
			return
		}
		lo := bi * cfg.BatchSize
		hi := lo + cfg.BatchSize
		if hi > len(tasks) {
			hi = len(tasks)
		}
		batch := tasks[lo:hi]
		p.emit(ctx, BatchEvent{Type: BatchEventBatchStart, Batch: bi + 1, Batches: batches, Total: len(tasks)})

		if cfg.Concurrency == 1 {
			// Strictly serial: run in place so the inter-task delay is a real
			// gap between one task finishing and the next starting.
			for ti, task := range batch {
				if ctx.Err() != nil {
					return
				}
				p.runTask(ctx, task, cfg, bi+1, batches)
				if ti+1 < len(batch) && cfg.InterTaskDelay > 0 {
					if !p.sleep(ctx, cfg.InterTaskDelay) {
						return
					}
				}
			}
		} else {
			// True fan-out runs unpaced.
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(cfg.Concurrency)
			for _, task := range batch {
				task := task
				g.Go(func() error {
					p.runTask(gctx, task, cfg, bi+1, batches)
					return nil
				})
			}
			_ = g.Wait()
		}

		if bi+1 < batches && cfg.InterBatchDelay > 0 {
			if !p.sleep(ctx, cfg.InterBatchDelay) {
				return
			}
		}
	}
}

// runTask mirrors the worker's processOne minus the time filter: lock (when
// the task exists as a sheet row), execute, classify, record.
func (p *BatchProcessor) runTask(ctx context.Context, task BatchTask, cfg BatchConfig, batch, batches int) {
	procCtx := context.WithoutCancel(ctx)
	procCtx = obsctx.ContextWithAccount(procCtx, task.Email)
	lg := slog.Default().With(slog.String("email", task.Email), slog.String("kind", string(cfg.Kind)))

	row, locked := p.lockRow(procCtx, task, cfg, lg)
	if row != nil && !locked {
		p.finishTask(ctx, task, "skipped", "row locked by another worker", batch, batches)
		return
	}

	res := p.execute(procCtx, task, row, cfg, lg)
	outcome := Classify(res)

	switch outcome.Kind {
	case OutcomeSuccessAlready:
		// Already in the target state short-circuits to skipped, but the
		// history still gets its "already" line when the row exists.
		if row != nil {
			p.recordSuccess(procCtx, *row, cfg.Kind, res, historyOutcomeAlready, lg)
		}
		p.finishTask(ctx, task, "skipped", "already in target state", batch, batches)
	case OutcomeSuccessNew:
		if row != nil {
			p.recordSuccess(procCtx, *row, cfg.Kind, res, historyOutcomeNewSuccess, lg)
		}
		p.finishTask(ctx, task, "complete", "", batch, batches)
	case OutcomePermanent:
		if row != nil {
			line := historyLine(cfg.Kind, res.DetectedLanguage, historyOutcomeFailure, p.now(), p.locks.WorkerID(), res.ErrorMessage)
			if err := p.sheet.RecordPermanentFailure(procCtx, row.Index, domain.PermanentRecord{NewStatus: outcome.NewStatus, ResultLine: line, IP: res.ObservedIP, ProxyID: res.ObservedProxyID}); err != nil {
				lg.Error("recording permanent failure failed", slog.Any("error", err))
			}
		}
		p.finishTask(ctx, task, "failed", res.ErrorMessage, batch, batches)
	default:
		// Pending and retryable both count as failures in the ad-hoc path;
		// the scheduled worker owns the pending state machine.
		if row != nil {
			line := historyLine(cfg.Kind, res.DetectedLanguage, historyOutcomeFailure, p.now(), p.locks.WorkerID(), res.ErrorMessage)
			if _, err := p.sheet.RecordRetryableFailure(procCtx, row.Index, domain.FailureRecord{ResultLine: line, IP: res.ObservedIP, ProxyID: res.ObservedProxyID}); err != nil {
				lg.Error("recording retryable failure failed", slog.Any("error", err))
			}
		}
		p.finishTask(ctx, task, "failed", res.ErrorMessage, batch, batches)
	}
}

// lockRow finds the sheet row for a task and takes its lease. A task with
// no sheet row is still executed; only the sheet writes are skipped.
func (p *BatchProcessor) lockRow(ctx context.Context, task BatchTask, cfg BatchConfig, lg *slog.Logger) (*domain.Row, bool) {
	row, err := p.sheet.RefetchByEmail(ctx, task.Email)
	if err != nil {
		lg.Warn("row lookup failed, executing without sheet writes", slog.Any("error", err))
		return nil, false
	}
	if row == nil {
		return nil, false
	}
	ok, err := p.locks.Acquire(ctx, row.Index)
	if err != nil {
		lg.Warn("lock acquire failed", slog.Any("error", err))
		return row, false
	}
	return row, ok
}

func (p *BatchProcessor) execute(ctx context.Context, task BatchTask, row *domain.Row, cfg BatchConfig, lg *slog.Logger) (res domain.TransitionResult) {
	r := domain.Row{
		Email:         task.Email,
		Password:      task.Password,
		RecoveryEmail: task.RecoveryEmail,
		TOTPSecret:    task.TOTPSecret,
		PaymentCard:   task.PaymentCard,
	}
	if row != nil {
		r = *row
	}

	profileID := task.ProfileID
	if profileID == "" {
		if id, err := p.resolver.Resolve(ctx, task.Email); err == nil {
			profileID = id
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, p.execTimeout)
	defer cancel()
	defer func() {
		closeID := res.ActualProfileIDUsed
		if closeID == "" {
			closeID = profileID
		}
		if err := p.exec.CloseProfile(context.WithoutCancel(ctx), closeID); err != nil {
			lg.Warn("browser close failed", slog.Any("error", err))
		}
		if rec := recover(); rec != nil {
			lg.Error("executor panicked", slog.Any("panic", rec))
			res = domain.TransitionResult{Kind: cfg.Kind, Status: domain.ResultGenericFailure, ErrorMessage: fmt.Sprintf("executor panic: %v", rec)}
		}
	}()

	out, err := p.exec.Execute(execCtx, profileID, r, cfg.Kind, domain.ExecuteOptions{
		RetryCount: cfg.RetryCap,
		DebugMode:  cfg.DebugMode,
		WindowMode: cfg.WindowMode,
	})
	if err != nil {
		return domain.TransitionResult{Kind: cfg.Kind, Status: domain.ResultGenericFailure, ErrorMessage: err.Error()}
	}
	return out
}

func (p *BatchProcessor) recordSuccess(ctx context.Context, row domain.Row, kind domain.TransitionKind, res domain.TransitionResult, tag string, lg *slog.Logger) {
	newStatus := kind.TargetStatus()
	if LoopDetected(row.ResultHistory, kind) {
		newStatus = domain.StatusManualCheckLoop
		lg.Warn("transition loop detected, quarantining row")
	}
	rec := domain.SuccessRecord{
		NewStatus:       newStatus,
		ResultLine:      historyLine(kind, res.DetectedLanguage, tag, p.now(), p.locks.WorkerID(), ""),
		IP:              res.ObservedIP,
		ProxyID:         res.ObservedProxyID,
		NextBillingDate: res.NextBillingDate,
		ClearPending:    !row.PendingCheckAt.IsZero() || !row.PendingRetryAt.IsZero(),
	}
	if err := p.sheet.RecordSuccess(ctx, row.Index, rec); err != nil {
		lg.Error("recording success failed", slog.Any("error", err))
	}
}

func (p *BatchProcessor) finishTask(ctx context.Context, task BatchTask, state, detail string, batch, batches int) {
	observability.BatchTasksTotal.WithLabelValues(state).Inc()
	var evType BatchEventType
	p.mu.Lock()
	switch state {
	case "complete":
		p.tally.Completed++
		evType = BatchEventTaskDone
	case "failed":
		p.tally.Failed++
		p.failed = append(p.failed, task)
		evType = BatchEventTaskFailed
	default:
		p.tally.Skipped++
		evType = BatchEventTaskSkipped
	}
	tally := p.tally
	p.mu.Unlock()

	p.emit(ctx, BatchEvent{Type: evType, Batch: batch, Batches: batches, Email: task.Email, Detail: detail,
		Completed: tally.Completed, Failed: tally.Failed, Skipped: tally.Skipped, Total: tally.Total})
	p.emit(ctx, BatchEvent{Type: BatchEventProgress, Batch: batch, Batches: batches,
		Completed: tally.Completed, Failed: tally.Failed, Skipped: tally.Skipped, Total: tally.Total})
}

func (p *BatchProcessor) emit(ctx context.Context, ev BatchEvent) {
	if p.events == nil {
		return
	}
	select {
	case p.events <- ev:
	case <-ctx.Done():
	}
}
