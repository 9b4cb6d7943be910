package lock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/subfleet/internal/domain"
)

// fakeSheet implements the two lock cells the service touches; everything
// else panics via the embedded nil interface.
type fakeSheet struct {
	domain.SheetGateway
	cells map[int]string
	// steal, when set, overwrites the cell after every write to simulate a
	// concurrent worker winning the race.
	steal string
	writes int
}

func newFakeSheet() *fakeSheet { return &fakeSheet{cells: map[int]string{}} }

func (f *fakeSheet) ReadLock(_ domain.Context, rowIndex int) (string, error) {
	return f.cells[rowIndex], nil
}

func (f *fakeSheet) WriteLock(_ domain.Context, rowIndex int, token string) error {
	f.writes++
	f.cells[rowIndex] = token
	if f.steal != "" && token != "" {
		f.cells[rowIndex] = f.steal
	}
	return nil
}

func newTestService(sheet domain.SheetGateway, now time.Time) *Service {
	return NewService(sheet, 5*time.Minute).WithClock(func() time.Time { return now })
}

func TestAcquireFreeRow(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.Local)
	sheet := newFakeSheet()
	svc := newTestService(sheet, now)

	ok, err := svc.Acquire(context.Background(), 4)
	require.NoError(t, err)
	assert.True(t, ok)

	wid, ts, parsed := ParseToken(sheet.cells[4])
	require.True(t, parsed)
	assert.Equal(t, svc.WorkerID(), wid)
	assert.Equal(t, now.UnixMilli(), ts.UnixMilli())
}

func TestAcquireHeldByLiveLease(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.Local)
	sheet := newFakeSheet()
	sheet.cells[4] = fmt.Sprintf("other-worker@%d", now.Add(-2*time.Minute).UnixMilli())
	svc := newTestService(sheet, now)

	ok, err := svc.Acquire(context.Background(), 4)
	require.NoError(t, err)
	assert.False(t, ok)
	// A live lease short-circuits before any write.
	assert.Zero(t, sheet.writes)
}

func TestAcquireTakesOverStaleLease(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.Local)
	sheet := newFakeSheet()
	sheet.cells[4] = fmt.Sprintf("crashed-worker@%d", now.Add(-10*time.Minute).UnixMilli())
	svc := newTestService(sheet, now)

	ok, err := svc.Acquire(context.Background(), 4)
	require.NoError(t, err)
	assert.True(t, ok)
	wid, _, parsed := ParseToken(sheet.cells[4])
	require.True(t, parsed)
	assert.Equal(t, svc.WorkerID(), wid)
}

func TestAcquireMalformedTokenTreatedAsExpired(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.Local)
	sheet := newFakeSheet()
	sheet.cells[4] = "not a lock token"
	svc := newTestService(sheet, now)

	ok, err := svc.Acquire(context.Background(), 4)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquireLosesWriteRace(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.Local)
	sheet := newFakeSheet()
	sheet.steal = fmt.Sprintf("rival@%d", now.UnixMilli())
	svc := newTestService(sheet, now)

	ok, err := svc.Acquire(context.Background(), 4)
	require.NoError(t, err)
	assert.False(t, ok)
	// The rival's token stays; we concede, never clobber.
	assert.Equal(t, sheet.steal, sheet.cells[4])
}

func TestRelease(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.Local)
	sheet := newFakeSheet()
	svc := newTestService(sheet, now)

	ok, err := svc.Acquire(context.Background(), 4)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, svc.Release(context.Background(), 4))
	assert.Empty(t, sheet.cells[4])
}

func TestFilterUnlocked(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.Local)
	svc := newTestService(newFakeSheet(), now)

	rows := []domain.Row{
		{Index: 2, Email: "free@x.com"},
		{Index: 3, Email: "live@x.com", LockToken: fmt.Sprintf("w@%d", now.Add(-time.Minute).UnixMilli())},
		{Index: 4, Email: "stale@x.com", LockToken: fmt.Sprintf("w@%d", now.Add(-6*time.Minute).UnixMilli())},
		{Index: 5, Email: "garbage@x.com", LockToken: "###"},
	}
	got := svc.FilterUnlocked(rows)
	require.Len(t, got, 3)
	assert.Equal(t, "free@x.com", got[0].Email)
	assert.Equal(t, "stale@x.com", got[1].Email)
	assert.Equal(t, "garbage@x.com", got[2].Email)
}

func TestParseToken(t *testing.T) {
	t.Parallel()
	wid, ts, ok := ParseToken("host-12-abcd1234@1756100000000")
	require.True(t, ok)
	assert.Equal(t, "host-12-abcd1234", wid)
	assert.Equal(t, int64(1756100000000), ts.UnixMilli())

	for _, bad := range []string{"", "@123", "worker@", "worker@abc", "worker"} {
		_, _, ok := ParseToken(bad)
		assert.False(t, ok, "token %q", bad)
	}
}
