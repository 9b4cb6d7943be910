// Package lock implements the per-row distributed lease on the sheet's
// lock column.
//
// The backing store has no native compare-and-set, so acquisition is
// write-then-verify: write our token, read the cell back, and concede when
// another worker's token landed instead. This yields at most one winner per
// race, eventually. The stale-lease horizon lets a crashed worker's locks
// be reclaimed.
package lock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/subfleet/internal/domain"
)

// Service acquires and releases row leases on behalf of one worker process.
type Service struct {
	sheet    domain.SheetGateway
	workerID string
	lease    time.Duration
	now      func() time.Time
}

// NewService constructs a Service with a process-unique worker identifier
// (hostname + pid + random suffix).
func NewService(sheet domain.SheetGateway, lease time.Duration) *Service {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	id := fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
	return &Service{sheet: sheet, workerID: id, lease: lease, now: time.Now}
}

// WithClock overrides the service clock; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WorkerID returns this process's lock identity.
func (s *Service) WorkerID() string { return s.workerID }

// LeaseHorizon returns the stale-lease expiry window.
func (s *Service) LeaseHorizon() time.Duration { return s.lease }

// Acquire attempts to take the lease on a row. It returns false without
// error when the row is held by a live lease or another worker wins the
// write race.
func (s *Service) Acquire(ctx domain.Context, rowIndex int) (bool, error) {
	current, err := s.sheet.ReadLock(ctx, rowIndex)
	if err != nil {
		return false, fmt.Errorf("op=lock.Acquire: %w", err)
	}
	if _, ts, ok := ParseToken(current); ok && s.now().Sub(ts) < s.lease {
		return false, nil
	}

	token := s.Token()
	if err := s.sheet.WriteLock(ctx, rowIndex, token); err != nil {
		return false, fmt.Errorf("op=lock.Acquire: %w", err)
	}

	// Read-back verification: whoever's write survived owns the row.
	readBack, err := s.sheet.ReadLock(ctx, rowIndex)
	if err != nil {
		return false, fmt.Errorf("op=lock.Acquire: %w", err)
	}
	return readBack == token, nil
}

// Release unconditionally clears the lock cell. Record* gateway writes
// release implicitly; this is for the paths that bail out before a write.
func (s *Service) Release(ctx domain.Context, rowIndex int) error {
	if err := s.sheet.WriteLock(ctx, rowIndex, ""); err != nil {
		return fmt.Errorf("op=lock.Release: %w", err)
	}
	return nil
}

// FilterUnlocked drops rows whose lock is younger than the lease horizon.
// Purely a local pre-filter to reduce contention; acquisition still
// verifies.
func (s *Service) FilterUnlocked(rows []domain.Row) []domain.Row {
	out := make([]domain.Row, 0, len(rows))
	now := s.now()
	for _, r := range rows {
		if _, ts, ok := ParseToken(r.LockToken); ok && now.Sub(ts) < s.lease {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Token renders this worker's lease token: workerId@unixMillis.
func (s *Service) Token() string {
	return fmt.Sprintf("%s@%d", s.workerID, s.now().UnixMilli())
}

// ParseToken splits a lock cell into worker id and acquisition time.
// ok is false for an empty or malformed cell; callers should treat a
// malformed token as expired so a corrupted cell cannot wedge a row.
func ParseToken(token string) (workerID string, ts time.Time, ok bool) {
	if token == "" {
		return "", time.Time{}, false
	}
	i := strings.LastIndexByte(token, '@')
	if i <= 0 {
		return "", time.Time{}, false
	}
	millis, err := strconv.ParseInt(token[i+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return token[:i], time.UnixMilli(millis), true
}
