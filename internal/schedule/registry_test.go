package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/subfleet/internal/domain"
)

func TestAddAndList(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	later := time.Date(2026, 8, 25, 12, 0, 0, 0, time.Local)
	sooner := later.Add(-time.Hour)

	idLater := r.Add("b@x.com", domain.KindResume, later)
	idSooner := r.Add("a@x.com", domain.KindPause, sooner)
	require.NotEqual(t, idLater, idSooner)

	tasks := r.List()
	require.Len(t, tasks, 2)
	assert.Equal(t, "a@x.com", tasks[0].Email, "ordered by run time")
	assert.Equal(t, "b@x.com", tasks[1].Email)
}

func TestUpsertPendingRetry(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	first := time.Date(2026, 8, 25, 11, 0, 0, 0, time.Local)
	second := first.Add(30 * time.Minute)

	r.UpsertPendingRetry("a@x.com", domain.KindPause, first)
	r.UpsertPendingRetry("a@x.com", domain.KindPause, second)
	// A different kind for the same account is a separate entry.
	r.UpsertPendingRetry("a@x.com", domain.KindResume, first)

	tasks := r.List()
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		if task.Kind == domain.KindPause {
			assert.True(t, task.RunAt.Equal(second), "upsert replaces the run time")
		}
	}
}

func TestAddSameInstantDistinctIDs(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.Local)
	r := NewRegistry().WithClock(func() time.Time { return now })

	ids := map[string]bool{}
	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		ids[r.Add(email, domain.KindPause, now)] = true
	}
	assert.Len(t, ids, 3, "same-millisecond adds still get unique ids")
}

func TestAddReplacesSameAccountAndKind(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.Local)
	r := NewRegistry().WithClock(func() time.Time { return now })

	id := r.Add("a@x.com", domain.KindPause, now.Add(time.Hour))
	r.UpsertPendingRetry("a@x.com", domain.KindPause, now.Add(2*time.Hour))

	tasks := r.List()
	require.Len(t, tasks, 1, "add and upsert share one entry per account and kind")
	assert.Equal(t, id, tasks[0].ID)
	assert.True(t, tasks[0].RunAt.Equal(now.Add(2*time.Hour)))

	// And the reverse order reuses the upserted entry too.
	r2 := NewRegistry().WithClock(func() time.Time { return now })
	r2.UpsertPendingRetry("b@x.com", domain.KindResume, now.Add(time.Hour))
	r2.Add("b@x.com", domain.KindResume, now.Add(3*time.Hour))
	tasks2 := r2.List()
	require.Len(t, tasks2, 1)
	assert.True(t, tasks2[0].RunAt.Equal(now.Add(3*time.Hour)))
}

func TestCancel(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	id := r.Add("a@x.com", domain.KindPause, time.Now())

	assert.False(t, r.Cancel("no-such-id"))
	assert.True(t, r.Cancel(id))
	assert.Empty(t, r.List())
}

func TestCancelAll(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Add("a@x.com", domain.KindPause, time.Now())
	r.UpsertPendingRetry("b@x.com", domain.KindResume, time.Now())

	assert.Equal(t, 2, r.CancelAll())
	assert.Empty(t, r.List())
	assert.Equal(t, 0, r.CancelAll())

	// The upsert index was cleared too; a fresh upsert creates a new task.
	r.UpsertPendingRetry("b@x.com", domain.KindResume, time.Now())
	assert.Len(t, r.List(), 1)
}
