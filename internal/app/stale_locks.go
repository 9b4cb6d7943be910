package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/subfleet/internal/domain"
	"github.com/fairyhunter13/subfleet/internal/service/lock"
)

// StaleLockSweeper clears lock tokens older than the lease horizon so rows
// orphaned by a crashed worker return to the schedulable pool.
type StaleLockSweeper struct {
	sheet    domain.SheetGateway
	horizon  time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewStaleLockSweeper constructs a sweeper. The sweep interval defaults to
// the horizon itself when zero.
func NewStaleLockSweeper(sheet domain.SheetGateway, horizon, interval time.Duration) *StaleLockSweeper {
	if interval <= 0 {
		interval = horizon
	}
	return &StaleLockSweeper{sheet: sheet, horizon: horizon, interval: interval, now: time.Now}
}

// WithClock overrides the sweeper clock; used by tests.
func (s *StaleLockSweeper) WithClock(now func() time.Time) *StaleLockSweeper {
	s.now = now
	return s
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *StaleLockSweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				slog.Warn("stale lock sweep failed", slog.Any("error", err))
			} else if n > 0 {
				slog.Info("stale locks cleared", slog.Int("count", n))
			}
		}
	}
}

// SweepOnce scans all rows and clears every expired or malformed lock
// token. Returns how many cells were cleared.
func (s *StaleLockSweeper) SweepOnce(ctx context.Context) (int, error) {
	rows, err := s.sheet.ListAllRows(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	cleared := 0
	for _, r := range rows {
		if r.LockToken == "" {
			continue
		}
		wid, ts, ok := lock.ParseToken(r.LockToken)
		if ok && now.Sub(ts) < s.horizon {
			continue
		}
		// Malformed tokens count as stale; a corrupted cell must not wedge
		// the row forever.
		if err := s.sheet.WriteLock(ctx, r.Index, ""); err != nil {
			slog.Warn("clearing stale lock failed",
				slog.Int("row", r.Index),
				slog.String("email", r.Email),
				slog.Any("error", err))
			continue
		}
		slog.Info("stale lock cleared",
			slog.Int("row", r.Index),
			slog.String("email", r.Email),
			slog.String("holder", wid))
		cleared++
	}
	return cleared, nil
}
