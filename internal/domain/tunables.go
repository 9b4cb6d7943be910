package domain

import "time"

// Tunables are the live-reloaded scheduling knobs. They come from the
// shared config tab by default; explicit worker options override them.
type Tunables struct {
	// ResumeLead selects paused rows whose scheduled time is within this
	// window ahead of now.
	ResumeLead time.Duration
	// PauseLag selects billing rows whose scheduled time is at least this
	// long in the past.
	PauseLag time.Duration
	// CheckInterval is the sleep between worker cycles.
	CheckInterval time.Duration
	// RetryCap stops selection of a row once its consecutive retryable
	// failure counter reaches this value.
	RetryCap int
	// PendingRetry is the cadence between payment-pending re-attempts.
	PendingRetry time.Duration
	// PendingHorizon bounds how long a row may stay payment-pending before
	// it is escalated to manual review.
	PendingHorizon time.Duration
}

// DefaultTunables returns the stock scheduling knobs used when the config
// tab is empty or unreachable at startup.
func DefaultTunables() Tunables {
	return Tunables{
		ResumeLead:     10 * time.Minute,
		PauseLag:       5 * time.Minute,
		CheckInterval:  60 * time.Second,
		RetryCap:       3,
		PendingRetry:   30 * time.Minute,
		PendingHorizon: 24 * time.Hour,
	}
}
