// Package usecase contains the scheduling core: due-row selection, result
// classification, the worker loop and the ad-hoc batch processor.
package usecase

import (
	"time"

	"github.com/fairyhunter13/subfleet/internal/domain"
	"github.com/fairyhunter13/subfleet/pkg/datex"
)

// Partition groups the rows due at a given instant. Order within each list
// is sheet snapshot order; no deadline sort.
type Partition struct {
	ResumeDue  []domain.Row
	PauseDue   []domain.Row
	PendingDue []domain.Row
}

// PartitionDue selects the rows due for a transition at now.
//
// Resume: paused rows whose scheduled time is within ResumeLead ahead.
// Pause: billing rows whose scheduled time passed at least PauseLag ago.
// Pending: rows whose payment-pending retry timestamp has arrived and whose
// pending clock is still inside the horizon.
//
// A row carrying either pending timestamp belongs to the pending cadence
// alone: its (necessarily past) scheduled time must not re-select it every
// cycle while the re-attempt clock is still running.
//
// Terminal rows are never selected. Rows with a blank or unparsable
// scheduled time are silently skipped for resume/pause; that is absence of
// scheduling, not an error.
func PartitionDue(rows []domain.Row, now time.Time, tun domain.Tunables) Partition {
	var p Partition
	for _, row := range rows {
		if row.Status.Terminal() {
			continue
		}
		if row.RetryCount >= tun.RetryCap {
			continue
		}

		if !row.PendingCheckAt.IsZero() || !row.PendingRetryAt.IsZero() {
			// A blank retry timestamp with the clock running is a corrupted
			// cell: re-attempt now rather than strand the row. The horizon
			// escalation happens in the worker on the next observation, so a
			// row at the edge of the horizon must still be selected here for
			// that observation to occur.
			if row.PendingRetryAt.IsZero() || !row.PendingRetryAt.After(now) {
				p.PendingDue = append(p.PendingDue, row)
			}
			continue
		}

		scheduled, err := datex.At(now, row.ScheduledTime)
		if err != nil {
			continue
		}
		switch row.Status {
		case domain.StatusPaused:
			if !scheduled.After(now.Add(tun.ResumeLead)) {
				p.ResumeDue = append(p.ResumeDue, row)
			}
		case domain.StatusBilling:
			if !scheduled.After(now.Add(-tun.PauseLag)) {
				p.PauseDue = append(p.PauseDue, row)
			}
		}
	}
	return p
}
