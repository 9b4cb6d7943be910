package sharedconfig

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/subfleet/internal/domain"
)

type fakeSource struct {
	values [][]string
	err    error
	calls  int
}

func (f *fakeSource) GetRange(_ context.Context, _ string) ([][]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.values, nil
}

func TestSyncAppliesOverrides(t *testing.T) {
	t.Parallel()
	src := &fakeSource{values: [][]string{
		{"resumeLeadMinutes", "20"},
		{"pauseLagMinutes", "1"},
		{"checkIntervalSeconds", "30"},
		{"retryCap", "5"},
		{"pendingRetryMinutes", "45"},
		{"pendingHorizonHours", "12"},
		{"someFutureKey", "whatever"},
		{"header only"},
	}}
	svc := New(src, "Config", time.Minute, domain.DefaultTunables())

	got := svc.Sync(context.Background())
	assert.Equal(t, 20*time.Minute, got.ResumeLead)
	assert.Equal(t, time.Minute, got.PauseLag)
	assert.Equal(t, 30*time.Second, got.CheckInterval)
	assert.Equal(t, 5, got.RetryCap)
	assert.Equal(t, 45*time.Minute, got.PendingRetry)
	assert.Equal(t, 12*time.Hour, got.PendingHorizon)
}

func TestSyncHonorsTTL(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.Local)
	src := &fakeSource{values: [][]string{{"retryCap", "5"}}}
	svc := New(src, "Config", 3*time.Minute, domain.DefaultTunables()).
		WithClock(func() time.Time { return now })

	svc.Sync(context.Background())
	svc.Sync(context.Background())
	assert.Equal(t, 1, src.calls, "second sync inside the TTL must not refetch")

	now = now.Add(4 * time.Minute)
	svc.Sync(context.Background())
	assert.Equal(t, 2, src.calls)
}

func TestSyncKeepsLastGoodOnError(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.Local)
	src := &fakeSource{values: [][]string{{"retryCap", "7"}}}
	svc := New(src, "Config", time.Minute, domain.DefaultTunables()).
		WithClock(func() time.Time { return now })

	got := svc.Sync(context.Background())
	assert.Equal(t, 7, got.RetryCap)

	now = now.Add(2 * time.Minute)
	src.err = errors.New("sheet down")
	got = svc.Sync(context.Background())
	assert.Equal(t, 7, got.RetryCap, "the last good snapshot survives an outage")
}

func TestSyncBadValueKeepsPrevious(t *testing.T) {
	t.Parallel()
	src := &fakeSource{values: [][]string{
		{"retryCap", "not a number"},
		{"pauseLagMinutes", "-3"},
	}}
	defaults := domain.DefaultTunables()
	svc := New(src, "Config", time.Minute, defaults)

	got := svc.Sync(context.Background())
	assert.Equal(t, defaults.RetryCap, got.RetryCap)
	assert.Equal(t, defaults.PauseLag, got.PauseLag)
}

func TestNilSourceServesDefaults(t *testing.T) {
	t.Parallel()
	defaults := domain.DefaultTunables()
	svc := New(nil, "Config", time.Minute, defaults)
	assert.Equal(t, defaults, svc.Sync(context.Background()))
	assert.Equal(t, defaults, svc.Snapshot())
}
