package sheet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/subfleet/internal/domain"
)

// fakeStore is an in-memory CellStore keyed by the exact A1 range string.
type fakeStore struct {
	gets    map[string][][]string
	getErr  error
	updates map[string][][]string
	batches [][]ValueRange
	reads   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{gets: map[string][][]string{}, updates: map[string][][]string{}}
}

func (f *fakeStore) GetRange(_ context.Context, a1 string) ([][]string, error) {
	f.reads++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.gets[a1], nil
}

func (f *fakeStore) UpdateRange(_ context.Context, a1 string, values [][]string) error {
	f.updates[a1] = values
	return nil
}

func (f *fakeStore) BatchUpdate(_ context.Context, data []ValueRange) error {
	f.batches = append(f.batches, data)
	return nil
}

// lastBatch returns the values written for a range in the most recent batch,
// or nil when the range was not touched.
func (f *fakeStore) lastBatch(t *testing.T, a1 string) [][]string {
	t.Helper()
	require.NotEmpty(t, f.batches)
	for _, vr := range f.batches[len(f.batches)-1] {
		if vr.Range == a1 {
			return vr.Values
		}
	}
	return nil
}

func newTestGateway(store CellStore) *Gateway {
	return NewGateway(store, "Accounts", "ProfileMap", time.Minute)
}

func TestListAllRows(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.gets["Accounts!A2:N"] = [][]string{
		{"a@x.com", "pw", "rec@x.com", "TOTP", "Billing", "2026. 9. 1", "1.2.3.4", "hist", "10:30", "w@123", "card-1", "2", "2026. 8. 24 09:00", "2026. 8. 25 10:30"},
		{"", "orphan row without email"},
		{"b@x.com", "", "", "", "Paused", "not a date", "", "", "", "", "", "oops"},
	}
	g := newTestGateway(store)

	rows, err := g.ListAllRows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	r := rows[0]
	assert.Equal(t, 2, r.Index)
	assert.Equal(t, "a@x.com", r.Email)
	assert.Equal(t, domain.StatusBilling, r.Status)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.Local), r.NextBillingDate)
	assert.Equal(t, "10:30", r.ScheduledTime)
	assert.Equal(t, "w@123", r.LockToken)
	assert.Equal(t, 2, r.RetryCount)
	assert.Equal(t, time.Date(2026, 8, 24, 9, 0, 0, 0, time.Local), r.PendingCheckAt)
	assert.Equal(t, time.Date(2026, 8, 25, 10, 30, 0, 0, time.Local), r.PendingRetryAt)

	// Unparsable cells degrade to zero values instead of failing the scan.
	r = rows[1]
	assert.Equal(t, 4, r.Index)
	assert.True(t, r.NextBillingDate.IsZero())
	assert.Zero(t, r.RetryCount)
}

func TestRefetchByEmail(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.gets["Accounts!A2:N"] = [][]string{
		{"a@x.com", "", "", "", "Billing"},
		{"B@X.com", "", "", "", "Paused"},
	}
	g := newTestGateway(store)

	row, err := g.RefetchByEmail(context.Background(), "b@x.com")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 3, row.Index)
	assert.Equal(t, domain.StatusPaused, row.Status)

	row, err = g.RefetchByEmail(context.Background(), "gone@x.com")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestReadWriteLock(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.gets["Accounts!J4:J4"] = [][]string{{"w@123"}}
	g := newTestGateway(store)

	token, err := g.ReadLock(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, "w@123", token)

	token, err = g.ReadLock(context.Background(), 9)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, g.WriteLock(context.Background(), 4, "me@456"))
	assert.Equal(t, [][]string{{"me@456"}}, store.updates["Accounts!J4:J4"])
}

func TestRecordSuccess(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.gets["Accounts!H4:H4"] = [][]string{{"old line"}}
	g := newTestGateway(store)

	next := time.Date(2026, 9, 25, 0, 0, 0, 0, time.Local)
	err := g.RecordSuccess(context.Background(), 4, domain.SuccessRecord{
		NewStatus:       domain.StatusPaused,
		ResultLine:      "new line",
		IP:              "1.2.3.4",
		ProxyID:         "p7",
		NextBillingDate: &next,
		ClearPending:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"Paused"}}, store.lastBatch(t, "Accounts!E4:E4"))
	assert.Equal(t, [][]string{{"1.2.3.4 @p7"}}, store.lastBatch(t, "Accounts!G4:G4"))
	assert.Equal(t, [][]string{{"old line\nnew line"}}, store.lastBatch(t, "Accounts!H4:H4"))
	assert.Equal(t, [][]string{{""}}, store.lastBatch(t, "Accounts!J4:J4"))
	assert.Equal(t, [][]string{{""}}, store.lastBatch(t, "Accounts!L4:L4"))
	assert.Equal(t, [][]string{{"2026. 9. 25"}}, store.lastBatch(t, "Accounts!F4:F4"))
	assert.Equal(t, [][]string{{"", ""}}, store.lastBatch(t, "Accounts!M4:N4"))
}

func TestRecordSuccessMinimal(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	g := newTestGateway(store)

	err := g.RecordSuccess(context.Background(), 2, domain.SuccessRecord{
		NewStatus:  domain.StatusBilling,
		ResultLine: "first line",
		IP:         "1.2.3.4",
	})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"first line"}}, store.lastBatch(t, "Accounts!H2:H2"))
	assert.Equal(t, [][]string{{"1.2.3.4"}}, store.lastBatch(t, "Accounts!G2:G2"))
	assert.Nil(t, store.lastBatch(t, "Accounts!F2:F2"), "billing date untouched when absent")
	assert.Nil(t, store.lastBatch(t, "Accounts!M2:N2"), "pending columns untouched")
}

func TestRecordRetryableFailure(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.gets["Accounts!A4:N4"] = [][]string{
		{"a@x.com", "", "", "", "Billing", "", "", "h1", "", "w@1", "", "1"},
	}
	g := newTestGateway(store)

	count, err := g.RecordRetryableFailure(context.Background(), 4, domain.FailureRecord{ResultLine: "h2", IP: "5.6.7.8"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, [][]string{{"2"}}, store.lastBatch(t, "Accounts!L4:L4"))
	assert.Equal(t, [][]string{{"h1\nh2"}}, store.lastBatch(t, "Accounts!H4:H4"))
	assert.Equal(t, [][]string{{""}}, store.lastBatch(t, "Accounts!J4:J4"))
	assert.Nil(t, store.lastBatch(t, "Accounts!E4:E4"), "status untouched")
}

func TestRecordPermanentFailure(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	g := newTestGateway(store)

	err := g.RecordPermanentFailure(context.Background(), 4, domain.PermanentRecord{
		NewStatus:  domain.StatusLocked,
		ResultLine: "locked out",
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Locked"}}, store.lastBatch(t, "Accounts!E4:E4"))
	assert.Equal(t, [][]string{{""}}, store.lastBatch(t, "Accounts!J4:J4"))
	assert.Nil(t, store.lastBatch(t, "Accounts!L4:L4"), "retry counter untouched")
}

func TestRecordPending(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	g := newTestGateway(store)

	retryAt := time.Date(2026, 8, 25, 11, 0, 0, 0, time.Local)
	checkAt := time.Date(2026, 8, 25, 10, 30, 0, 0, time.Local)

	err := g.RecordPending(context.Background(), 4, domain.PendingRecord{ResultLine: "pending", RetryAt: retryAt})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"2026. 8. 25 11:00"}}, store.lastBatch(t, "Accounts!N4:N4"))
	assert.Nil(t, store.lastBatch(t, "Accounts!M4:M4"), "zero CheckAt keeps the pending clock")

	err = g.RecordPending(context.Background(), 4, domain.PendingRecord{ResultLine: "pending", RetryAt: retryAt, CheckAt: checkAt})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"2026. 8. 25 10:30"}}, store.lastBatch(t, "Accounts!M4:M4"))
}

func TestClearPendingColumns(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	g := newTestGateway(store)

	require.NoError(t, g.ClearPendingColumns(context.Background(), 7))
	assert.Equal(t, [][]string{{"", ""}}, store.updates["Accounts!M7:N7"])
}

func TestResolveProfileID(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.gets["ProfileMap!A2:B"] = [][]string{
		{"a@x.com", "profile-1"},
		{"b@x.com", "profile-2"},
		{"header-ish cell"},
	}
	g := newTestGateway(store)

	id, err := g.ResolveProfileID(context.Background(), "B@X.com")
	require.NoError(t, err)
	assert.Equal(t, "profile-2", id)

	// The whole tab was cached; the second lookup never hits the store.
	reads := store.reads
	id, err = g.ResolveProfileID(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "profile-1", id)
	assert.Equal(t, reads, store.reads)

	_, err = g.ResolveProfileID(context.Background(), "missing@x.com")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
