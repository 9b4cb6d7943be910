package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/subfleet/internal/adapter/observability"
	"github.com/fairyhunter13/subfleet/internal/domain"
	obsctx "github.com/fairyhunter13/subfleet/internal/observability"
)

// LockService is the worker's view of the per-row lease service.
type LockService interface {
	Acquire(ctx domain.Context, rowIndex int) (bool, error)
	Release(ctx domain.Context, rowIndex int) error
	FilterUnlocked(rows []domain.Row) []domain.Row
	WorkerID() string
}

// ProfileResolver maps an account email to a browser profile id; "" is a
// legitimate answer (the executor then searches on its own).
type ProfileResolver interface {
	Resolve(ctx domain.Context, email string) (string, error)
}

// TunablesSource re-syncs and returns the live scheduling knobs.
type TunablesSource interface {
	Sync(ctx domain.Context) domain.Tunables
}

// ScheduleSink receives the worker's upcoming pending re-attempts so the
// ops surface can list them. Optional.
type ScheduleSink interface {
	UpsertPendingRetry(email string, kind domain.TransitionKind, runAt time.Time)
}

// WorkerOptions tune one worker process. Pointer fields are overrides:
// nil means "use the shared-config snapshot".
type WorkerOptions struct {
	Continuous  bool
	WindowMode  string
	DebugMode   bool
	ExecTimeout time.Duration

	CheckInterval *time.Duration
	ResumeLead    *time.Duration
	PauseLag      *time.Duration
	RetryCap      *int
}

// Stats are the worker's cumulative counters. Mutations are scoped to the
// loop goroutine; reads take a snapshot.
type Stats struct {
	Cycles    int
	Processed int
	Succeeded int
	Retryable int
	Permanent int
	Pending   int
	Skipped   int
	Loops     int
}

// Worker is the fleet scheduler: it ticks on an interval, selects due rows,
// and drives each through lock → refetch → execute → classify → record.
type Worker struct {
	sheet    domain.SheetGateway
	locks    LockService
	resolver ProfileResolver
	exec     domain.TransitionExecutor
	shared   TunablesSource
	notifier domain.Notifier
	sink     ScheduleSink
	opts     WorkerOptions

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool

	mu    sync.Mutex
	stats Stats
}

// NewWorker wires the scheduler. notifier and sink may be nil.
func NewWorker(sheet domain.SheetGateway, locks LockService, resolver ProfileResolver, exec domain.TransitionExecutor, shared TunablesSource, notifier domain.Notifier, opts WorkerOptions) *Worker {
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = 10 * time.Minute
	}
	return &Worker{
		sheet:    sheet,
		locks:    locks,
		resolver: resolver,
		exec:     exec,
		shared:   shared,
		notifier: notifier,
		opts:     opts,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// WithScheduleSink attaches the pending-retry schedule sink.
func (w *Worker) WithScheduleSink(sink ScheduleSink) *Worker {
	w.sink = sink
	return w
}

// WithClock overrides the worker clock and sleeper; used by tests.
func (w *Worker) WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) bool) *Worker {
	if now != nil {
		w.now = now
	}
	if sleep != nil {
		w.sleep = sleep
	}
	return w
}

// StatsSnapshot returns a copy of the cumulative counters.
func (w *Worker) StatsSnapshot() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Run executes cycles until ctx is cancelled (continuous mode) or once.
// A cycle that overruns the check interval skips the next sleep; ticks
// never stack.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("worker loop starting",
		slog.String("worker_id", w.locks.WorkerID()),
		slog.Bool("continuous", w.opts.Continuous))
	for {
		start := w.now()
		tun := w.tunables(ctx)
		w.runCycle(ctx, tun)
		observability.CycleDuration.Observe(w.now().Sub(start).Seconds())

		if !w.opts.Continuous {
			return nil
		}
		if ctx.Err() != nil {
			slog.Info("worker loop stopping", slog.String("worker_id", w.locks.WorkerID()))
			return nil
		}
		if elapsed := w.now().Sub(start); elapsed < tun.CheckInterval {
			if !w.sleep(ctx, tun.CheckInterval-elapsed) {
				slog.Info("worker loop stopping", slog.String("worker_id", w.locks.WorkerID()))
				return nil
			}
		}
	}
}

// tunables merges the shared-config snapshot with explicit overrides.
func (w *Worker) tunables(ctx context.Context) domain.Tunables {
	tun := w.shared.Sync(ctx)
	if w.opts.CheckInterval != nil {
		tun.CheckInterval = *w.opts.CheckInterval
	}
	if w.opts.ResumeLead != nil {
		tun.ResumeLead = *w.opts.ResumeLead
	}
	if w.opts.PauseLag != nil {
		tun.PauseLag = *w.opts.PauseLag
	}
	if w.opts.RetryCap != nil {
		tun.RetryCap = *w.opts.RetryCap
	}
	return tun
}

func (w *Worker) runCycle(ctx context.Context, tun domain.Tunables) {
	tracer := otel.Tracer("subfleet.worker")
	ctx, span := tracer.Start(ctx, "worker.cycle")
	defer span.End()

	w.mu.Lock()
	w.stats.Cycles++
	w.mu.Unlock()

	rows, err := w.sheet.ListAllRows(ctx)
	if err != nil {
		span.RecordError(err)
		slog.Error("cycle: listing rows failed", slog.Any("error", err))
		w.notify(ctx, domain.Notification{
			Severity: domain.SeverityCritical,
			Title:    "sheet unreachable",
			Message:  err.Error(),
		})
		return
	}
	if len(rows) == 0 {
		slog.Info("cycle: idle, no rows")
		return
	}

	pendingCount := 0
	for _, r := range rows {
		if !r.PendingCheckAt.IsZero() {
			pendingCount++
		}
	}
	observability.RowsPending.Set(float64(pendingCount))

	unlocked := w.locks.FilterUnlocked(rows)
	part := PartitionDue(unlocked, w.now(), tun)
	observability.RowsDue.WithLabelValues("resume").Set(float64(len(part.ResumeDue)))
	observability.RowsDue.WithLabelValues("pause").Set(float64(len(part.PauseDue)))
	observability.RowsDue.WithLabelValues("pending").Set(float64(len(part.PendingDue)))
	span.SetAttributes(
		attribute.Int("rows.total", len(rows)),
		attribute.Int("rows.resume_due", len(part.ResumeDue)),
		attribute.Int("rows.pause_due", len(part.PauseDue)),
		attribute.Int("rows.pending_due", len(part.PendingDue)),
	)

	// Resumes before pauses: a delayed resume risks a missed charge window,
	// a delayed pause only postpones a saving.
	lists := []struct {
		kind domain.TransitionKind
		rows []domain.Row
	}{
		{domain.KindResume, part.ResumeDue},
		{domain.KindPause, part.PauseDue},
		{domain.KindPause, part.PendingDue},
	}
	for _, l := range lists {
		for _, row := range l.rows {
			if ctx.Err() != nil {
				return
			}
			// Guard against sheet mutations between snapshot and now.
			fresh, err := w.sheet.RefetchByEmail(ctx, row.Email)
			if err != nil {
				slog.Warn("cycle: refetch failed", slog.String("email", row.Email), slog.Any("error", err))
				continue
			}
			if fresh == nil || fresh.Email != row.Email {
				continue
			}
			if fresh.Status != l.kind.SourceStatus() {
				continue
			}
			w.processOne(ctx, *fresh, l.kind, tun)
		}
	}
}

// processOne drives a single due row through the full pipeline. Every
// failure inside is converted to a recorded outcome; nothing escapes as an
// error. Once started, it runs to completion even if ctx is cancelled, so
// that the lock and the sheet end up consistent.
func (w *Worker) processOne(ctx context.Context, row domain.Row, kind domain.TransitionKind, tun domain.Tunables) {
	procCtx := context.WithoutCancel(ctx)
	procCtx = obsctx.ContextWithAccount(procCtx, row.Email)
	lg := slog.Default().With(slog.String("email", row.Email), slog.String("kind", string(kind)))
	procCtx = obsctx.ContextWithLogger(procCtx, lg)

	tracer := otel.Tracer("subfleet.worker")
	procCtx, span := tracer.Start(procCtx, "worker.processOne")
	defer span.End()
	span.SetAttributes(
		attribute.String("row.email", row.Email),
		attribute.String("transition.kind", string(kind)),
	)

	w.mu.Lock()
	w.stats.Processed++
	w.mu.Unlock()

	ok, err := w.locks.Acquire(procCtx, row.Index)
	switch {
	case err != nil:
		observability.LockAcquireTotal.WithLabelValues("error").Inc()
		lg.Warn("lock acquire failed", slog.Any("error", err))
		w.countSkip()
		return
	case !ok:
		observability.LockAcquireTotal.WithLabelValues("lost").Inc()
		lg.Debug("lock held elsewhere, skipping")
		w.countSkip()
		return
	}
	observability.LockAcquireTotal.WithLabelValues("won").Inc()

	// Re-read under the lock; the row may have changed between selection and
	// acquisition.
	fresh, err := w.sheet.RefetchByEmail(procCtx, row.Email)
	if err != nil || fresh == nil || fresh.Status != kind.SourceStatus() {
		if err != nil {
			lg.Warn("post-lock refetch failed", slog.Any("error", err))
		}
		if relErr := w.locks.Release(procCtx, row.Index); relErr != nil {
			lg.Warn("lock release failed", slog.Any("error", relErr))
		}
		w.countSkip()
		return
	}

	profileID, err := w.resolver.Resolve(procCtx, fresh.Email)
	if err != nil {
		lg.Warn("profile resolution failed, executor will search", slog.Any("error", err))
		profileID = ""
	}

	res, captchaRetried := w.execute(procCtx, profileID, *fresh, kind)
	outcome := Classify(res)
	observability.TransitionsTotal.WithLabelValues(string(kind), string(outcome.Kind)).Inc()
	span.SetAttributes(attribute.String("transition.outcome", string(outcome.Kind)))

	w.apply(procCtx, *fresh, kind, res, outcome, captchaRetried, tun)
}

// execute calls the executor under its timeout, handling the single
// in-cycle image-captcha retry and converting panics and errors into a
// generic-failure result. The browser profile is closed on every path.
func (w *Worker) execute(ctx context.Context, profileID string, row domain.Row, kind domain.TransitionKind) (res domain.TransitionResult, captchaRetried bool) {
	lg := obsctx.LoggerFromContext(ctx)
	res = w.executeOnce(ctx, profileID, row, kind)
	if res.Status != domain.ResultImageCaptchaTransient {
		return res, false
	}
	// Image captchas are usually profile-state flukes; restart the browser
	// once and take the second result on its own merits.
	lg.Info("image captcha detected, restarting browser for one retry")
	if !w.sleep(ctx, 3*time.Second) {
		return res, false
	}
	return w.executeOnce(ctx, profileID, row, kind), true
}

func (w *Worker) executeOnce(ctx context.Context, profileID string, row domain.Row, kind domain.TransitionKind) (res domain.TransitionResult) {
	lg := obsctx.LoggerFromContext(ctx)
	execCtx, cancel := context.WithTimeout(ctx, w.opts.ExecTimeout)
	defer cancel()

	defer func() {
		// Closing is mandatory on every exit path, panics included.
		closeID := res.ActualProfileIDUsed
		if closeID == "" {
			closeID = profileID
		}
		if err := w.exec.CloseProfile(context.WithoutCancel(ctx), closeID); err != nil {
			lg.Warn("browser close failed", slog.Any("error", err))
		}
		if r := recover(); r != nil {
			lg.Error("executor panicked", slog.Any("panic", r))
			res = domain.TransitionResult{
				Kind:         kind,
				Status:       domain.ResultGenericFailure,
				ErrorMessage: fmt.Sprintf("executor panic: %v", r),
			}
		}
	}()

	start := w.now()
	out, err := w.exec.Execute(execCtx, profileID, row, kind, domain.ExecuteOptions{
		RetryCount: row.RetryCount,
		DebugMode:  w.opts.DebugMode,
		WindowMode: w.opts.WindowMode,
	})
	observability.TransitionDuration.WithLabelValues(string(kind)).Observe(w.now().Sub(start).Seconds())
	if err != nil {
		return domain.TransitionResult{Kind: kind, Status: domain.ResultGenericFailure, ErrorMessage: err.Error()}
	}
	return out
}

// apply records the classified outcome. The Record* gateway writes release
// the lock implicitly.
func (w *Worker) apply(ctx context.Context, row domain.Row, kind domain.TransitionKind, res domain.TransitionResult, outcome Outcome, captchaRetried bool, tun domain.Tunables) {
	lg := obsctx.LoggerFromContext(ctx)
	now := w.now()
	wid := w.locks.WorkerID()

	switch outcome.Kind {
	case OutcomeSuccessNew, OutcomeSuccessAlready:
		tag := historyOutcomeNewSuccess
		if outcome.Kind == OutcomeSuccessAlready {
			tag = historyOutcomeAlready
		}
		detail := ""
		if captchaRetried {
			detail = "CAPTCHA retry"
		}
		newStatus := kind.TargetStatus()
		// Loop check against the history read back under the lock: a fourth
		// same-kind success means the row is churning, not progressing.
		if LoopDetected(row.ResultHistory, kind) {
			newStatus = domain.StatusManualCheckLoop
			w.mu.Lock()
			w.stats.Loops++
			w.mu.Unlock()
			lg.Warn("transition loop detected, quarantining row")
			w.notify(ctx, domain.Notification{
				Severity: domain.SeverityCritical,
				Title:    "transition loop detected",
				Message:  fmt.Sprintf("%s flipped via %s successes %d+ times; quarantined for manual review", row.Email, kind, loopThreshold),
				Email:    row.Email,
				Kind:     kind,
			})
		}
		rec := domain.SuccessRecord{
			NewStatus:       newStatus,
			ResultLine:      historyLine(kind, res.DetectedLanguage, tag, now, wid, detail),
			IP:              res.ObservedIP,
			ProxyID:         res.ObservedProxyID,
			NextBillingDate: res.NextBillingDate,
			ClearPending:    !row.PendingCheckAt.IsZero() || !row.PendingRetryAt.IsZero(),
		}
		if err := w.sheet.RecordSuccess(ctx, row.Index, rec); err != nil {
			lg.Error("recording success failed", slog.Any("error", err))
			return
		}
		w.mu.Lock()
		w.stats.Succeeded++
		w.mu.Unlock()
		lg.Info("transition succeeded", slog.String("new_status", string(newStatus)), slog.String("tag", tag))

	case OutcomePermanent:
		line := historyLine(kind, res.DetectedLanguage, historyOutcomeFailure, now, wid, res.ErrorMessage)
		rec := domain.PermanentRecord{NewStatus: outcome.NewStatus, ResultLine: line, IP: res.ObservedIP, ProxyID: res.ObservedProxyID}
		if err := w.sheet.RecordPermanentFailure(ctx, row.Index, rec); err != nil {
			lg.Error("recording permanent failure failed", slog.Any("error", err))
			return
		}
		w.mu.Lock()
		w.stats.Permanent++
		w.mu.Unlock()
		lg.Warn("permanent failure", slog.String("new_status", string(outcome.NewStatus)))
		w.notify(ctx, domain.Notification{
			Severity: domain.SeverityCritical,
			Title:    "permanent failure: " + string(outcome.NewStatus),
			Message:  fmt.Sprintf("%s %s: %s", row.Email, kind, res.ErrorMessage),
			Email:    row.Email,
			Kind:     kind,
		})

	case OutcomePaymentPending:
		w.applyPending(ctx, row, kind, res, tun)

	default:
		// Retryable, including an image captcha that survived its one
		// in-cycle retry.
		detail := res.ErrorMessage
		if outcome.Kind == OutcomeImageCaptchaRetry {
			detail = "image captcha persisted after retry"
		}
		line := historyLine(kind, res.DetectedLanguage, historyOutcomeFailure, now, wid, detail)
		newCount, err := w.sheet.RecordRetryableFailure(ctx, row.Index, domain.FailureRecord{ResultLine: line, IP: res.ObservedIP, ProxyID: res.ObservedProxyID})
		if err != nil {
			lg.Error("recording retryable failure failed", slog.Any("error", err))
			return
		}
		w.mu.Lock()
		w.stats.Retryable++
		w.mu.Unlock()
		lg.Warn("retryable failure", slog.Int("retry_count", newCount), slog.String("detail", detail))
		if newCount == tun.RetryCap {
			// The time filter stops selecting the row from here; a human has
			// to clear the counter.
			w.notify(ctx, domain.Notification{
				Severity: domain.SeverityCritical,
				Title:    "retry cap exhausted",
				Message:  fmt.Sprintf("%s %s failed %d times; row parked until retryCount is cleared", row.Email, kind, newCount),
				Email:    row.Email,
				Kind:     kind,
			})
		}
	}
}

// applyPending runs the payment-pending sub-state-machine: start or keep
// the pending clock, or escalate once the horizon has elapsed.
func (w *Worker) applyPending(ctx context.Context, row domain.Row, kind domain.TransitionKind, res domain.TransitionResult, tun domain.Tunables) {
	lg := obsctx.LoggerFromContext(ctx)
	now := w.now()
	wid := w.locks.WorkerID()

	if !row.PendingCheckAt.IsZero() && now.Sub(row.PendingCheckAt) >= tun.PendingHorizon {
		if err := w.sheet.ClearPendingColumns(ctx, row.Index); err != nil {
			lg.Error("clearing pending columns failed", slog.Any("error", err))
		}
		line := historyLine(kind, res.DetectedLanguage, historyOutcomeFailure, now, wid,
			fmt.Sprintf("payment pending since %s exceeded horizon", row.PendingCheckAt.Format("2006-01-02 15:04")))
		rec := domain.PermanentRecord{NewStatus: domain.StatusManualCheckPaymentDelay, ResultLine: line, IP: res.ObservedIP, ProxyID: res.ObservedProxyID}
		if err := w.sheet.RecordPermanentFailure(ctx, row.Index, rec); err != nil {
			lg.Error("recording payment-delay escalation failed", slog.Any("error", err))
			return
		}
		w.mu.Lock()
		w.stats.Permanent++
		w.mu.Unlock()
		lg.Warn("payment pending exceeded horizon, escalated to manual review")
		w.notify(ctx, domain.Notification{
			Severity: domain.SeverityCritical,
			Title:    "payment delayed beyond horizon",
			Message:  fmt.Sprintf("%s billing cycle not finalized within %s; needs manual review", row.Email, tun.PendingHorizon),
			Email:    row.Email,
			Kind:     kind,
		})
		return
	}

	rec := domain.PendingRecord{
		ResultLine: historyLine(kind, res.DetectedLanguage, historyOutcomePending, now, wid, res.PaymentPendingReason),
		IP:         res.ObservedIP,
		ProxyID:    res.ObservedProxyID,
		RetryAt:    now.Add(tun.PendingRetry),
	}
	if row.PendingCheckAt.IsZero() {
		// First observation, or a corrupted check cell: (re)start the clock
		// rather than lose the row.
		rec.CheckAt = now
	}
	if err := w.sheet.RecordPending(ctx, row.Index, rec); err != nil {
		lg.Error("recording pending observation failed", slog.Any("error", err))
		return
	}
	if w.sink != nil {
		w.sink.UpsertPendingRetry(row.Email, kind, rec.RetryAt)
	}
	// Pending is a timed skip, not a failure: retryCount stays put.
	w.countSkip()
	w.mu.Lock()
	w.stats.Pending++
	w.mu.Unlock()
	lg.Info("payment pending, re-attempt scheduled", slog.Time("retry_at", rec.RetryAt))
}

func (w *Worker) countSkip() {
	w.mu.Lock()
	w.stats.Skipped++
	w.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (w *Worker) notify(ctx context.Context, n domain.Notification) {
	if w.notifier == nil {
		return
	}
	observability.NotificationsTotal.WithLabelValues(string(n.Severity)).Inc()
	w.notifier.Notify(ctx, n)
}
