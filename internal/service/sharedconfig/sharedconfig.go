// Package sharedconfig serves the live-reloaded scheduling tunables backed
// by the spreadsheet's config tab.
package sharedconfig

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/subfleet/internal/domain"
)

// Recognised keys of the config tab (column A; values in column B).
const (
	keyResumeLeadMinutes    = "resumeLeadMinutes"
	keyPauseLagMinutes      = "pauseLagMinutes"
	keyCheckIntervalSeconds = "checkIntervalSeconds"
	keyRetryCap             = "retryCap"
	keyPendingRetryMinutes  = "pendingRetryMinutes"
	keyPendingHorizonHours  = "pendingHorizonHours"
)

// Source reads the raw key/value cells. The sheet values client satisfies it.
type Source interface {
	GetRange(ctx context.Context, a1 string) ([][]string, error)
}

// Service caches a snapshot of tunables and re-syncs it on a TTL. When the
// backing tab is unreachable the last good snapshot is kept.
type Service struct {
	src Source
	tab string
	ttl time.Duration

	mu        sync.Mutex
	snap      domain.Tunables
	fetchedAt time.Time
	now       func() time.Time
}

// New constructs a Service seeded with defaults so the first cycle works
// even if the tab never loads.
func New(src Source, tab string, ttl time.Duration, defaults domain.Tunables) *Service {
	return &Service{src: src, tab: tab, ttl: ttl, snap: defaults, now: time.Now}
}

// WithClock overrides the service clock; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Sync refreshes the snapshot when the TTL has elapsed and returns the
// current tunables. Unknown keys are ignored; a value that fails to parse
// keeps its previous setting.
func (s *Service) Sync(ctx context.Context) domain.Tunables {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil || (!s.fetchedAt.IsZero() && s.now().Sub(s.fetchedAt) < s.ttl) {
		return s.snap
	}
	values, err := s.src.GetRange(ctx, fmt.Sprintf("%s!A1:B", s.tab))
	if err != nil {
		slog.Warn("shared config sync failed, keeping last snapshot", slog.Any("error", err))
		return s.snap
	}
	next := s.snap
	for _, cells := range values {
		if len(cells) < 2 {
			continue
		}
		applyKey(&next, cells[0], cells[1])
	}
	s.snap = next
	s.fetchedAt = s.now()
	return s.snap
}

// Snapshot returns the cached tunables without syncing.
func (s *Service) Snapshot() domain.Tunables {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func applyKey(t *domain.Tunables, key, value string) {
	set := func(apply func(int)) {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			slog.Warn("shared config value unparsable, keeping previous",
				slog.String("key", key), slog.String("value", value))
			return
		}
		apply(n)
	}
	switch key {
	case keyResumeLeadMinutes:
		set(func(n int) { t.ResumeLead = time.Duration(n) * time.Minute })
	case keyPauseLagMinutes:
		set(func(n int) { t.PauseLag = time.Duration(n) * time.Minute })
	case keyCheckIntervalSeconds:
		set(func(n int) { t.CheckInterval = time.Duration(n) * time.Second })
	case keyRetryCap:
		set(func(n int) { t.RetryCap = n })
	case keyPendingRetryMinutes:
		set(func(n int) { t.PendingRetry = time.Duration(n) * time.Minute })
	case keyPendingHorizonHours:
		set(func(n int) { t.PendingHorizon = time.Duration(n) * time.Hour })
	}
}
