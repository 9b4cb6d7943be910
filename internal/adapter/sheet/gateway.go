package sheet

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/fairyhunter13/subfleet/internal/domain"
	"github.com/fairyhunter13/subfleet/pkg/datex"
)

// Worker tab column layout (the integration contract). A header row is
// assumed; data begins at row 2.
const (
	colEmail          = "A"
	colPassword       = "B"
	colRecoveryEmail  = "C"
	colTOTPSecret     = "D"
	colStatus         = "E"
	colNextBilling    = "F"
	colLastIP         = "G"
	colResultHistory  = "H"
	colScheduledTime  = "I"
	colLockToken      = "J"
	colPaymentCard    = "K"
	colRetryCount     = "L"
	colPendingCheckAt = "M"
	colPendingRetryAt = "N"

	firstDataRow = 2
)

// CellStore is the subset of the values client the gateway needs. Tests
// substitute an in-memory fake.
type CellStore interface {
	GetRange(ctx context.Context, a1 string) ([][]string, error)
	UpdateRange(ctx context.Context, a1 string, values [][]string) error
	BatchUpdate(ctx context.Context, data []ValueRange) error
}

// Gateway implements domain.SheetGateway over a CellStore.
type Gateway struct {
	store      CellStore
	workerTab  string
	mapTab     string
	profileMap *expirable.LRU[string, string]
	now        func() time.Time
}

// NewGateway constructs a Gateway. profileCacheTTL bounds how stale the
// email→profile mapping may get.
func NewGateway(store CellStore, workerTab, mapTab string, profileCacheTTL time.Duration) *Gateway {
	return &Gateway{
		store:      store,
		workerTab:  workerTab,
		mapTab:     mapTab,
		profileMap: expirable.NewLRU[string, string](2048, nil, profileCacheTTL),
		now:        time.Now,
	}
}

// WithClock overrides the gateway clock; used by tests.
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	g.now = now
	return g
}

// ListAllRows returns a snapshot of the worker tab in sheet order.
func (g *Gateway) ListAllRows(ctx context.Context) ([]domain.Row, error) {
	values, err := g.store.GetRange(ctx, fmt.Sprintf("%s!A%d:N", g.workerTab, firstDataRow))
	if err != nil {
		return nil, fmt.Errorf("op=sheet.ListAllRows: %w", err)
	}
	rows := make([]domain.Row, 0, len(values))
	for i, cells := range values {
		row := parseRow(cells, firstDataRow+i)
		if row.Email == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// RefetchByEmail re-reads the tab and returns the current row for email, or
// nil when the row no longer exists. A fresh scan defends against row
// deletions and insertions that shift indices between selection and lock.
func (g *Gateway) RefetchByEmail(ctx context.Context, email string) (*domain.Row, error) {
	rows, err := g.ListAllRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("op=sheet.RefetchByEmail: %w", err)
	}
	for i := range rows {
		if strings.EqualFold(rows[i].Email, email) {
			return &rows[i], nil
		}
	}
	return nil, nil
}

// ReadLock returns the current lock token of a row.
func (g *Gateway) ReadLock(ctx context.Context, rowIndex int) (string, error) {
	values, err := g.store.GetRange(ctx, g.cell(colLockToken, rowIndex))
	if err != nil {
		return "", fmt.Errorf("op=sheet.ReadLock: %w", err)
	}
	if len(values) == 0 || len(values[0]) == 0 {
		return "", nil
	}
	return values[0][0], nil
}

// WriteLock overwrites the lock token of a row.
func (g *Gateway) WriteLock(ctx context.Context, rowIndex int, token string) error {
	if err := g.store.UpdateRange(ctx, g.cell(colLockToken, rowIndex), [][]string{{token}}); err != nil {
		return fmt.Errorf("op=sheet.WriteLock: %w", err)
	}
	return nil
}

// RecordSuccess applies a success outcome in one batched write: status,
// appended history, ip, optional next billing date; clears retryCount and
// the lock token, and the pending columns when requested.
func (g *Gateway) RecordSuccess(ctx context.Context, rowIndex int, rec domain.SuccessRecord) error {
	history, err := g.appendHistory(ctx, rowIndex, rec.ResultLine)
	if err != nil {
		return fmt.Errorf("op=sheet.RecordSuccess: %w", err)
	}
	data := []ValueRange{
		{Range: g.cell(colStatus, rowIndex), Values: [][]string{{string(rec.NewStatus)}}},
		{Range: g.cell(colLastIP, rowIndex), Values: [][]string{{ipCell(rec.IP, rec.ProxyID)}}},
		{Range: g.cell(colResultHistory, rowIndex), Values: [][]string{{history}}},
		{Range: g.cell(colLockToken, rowIndex), Values: [][]string{{""}}},
		{Range: g.cell(colRetryCount, rowIndex), Values: [][]string{{""}}},
	}
	if rec.NextBillingDate != nil {
		data = append(data, ValueRange{Range: g.cell(colNextBilling, rowIndex), Values: [][]string{{datex.FormatDate(*rec.NextBillingDate)}}})
	}
	if rec.ClearPending {
		data = append(data, ValueRange{
			Range:  g.pendingRange(rowIndex),
			Values: [][]string{{"", ""}},
		})
	}
	if err := g.store.BatchUpdate(ctx, data); err != nil {
		return fmt.Errorf("op=sheet.RecordSuccess: %w", err)
	}
	return nil
}

// RecordRetryableFailure appends history, records ip, increments retryCount
// and clears the lock token. Returns the new counter value.
func (g *Gateway) RecordRetryableFailure(ctx context.Context, rowIndex int, rec domain.FailureRecord) (int, error) {
	row, err := g.readRow(ctx, rowIndex)
	if err != nil {
		return 0, fmt.Errorf("op=sheet.RecordRetryableFailure: %w", err)
	}
	newCount := row.RetryCount + 1
	history := joinHistory(row.ResultHistory, rec.ResultLine)
	data := []ValueRange{
		{Range: g.cell(colLastIP, rowIndex), Values: [][]string{{ipCell(rec.IP, rec.ProxyID)}}},
		{Range: g.cell(colResultHistory, rowIndex), Values: [][]string{{history}}},
		{Range: g.cell(colLockToken, rowIndex), Values: [][]string{{""}}},
		{Range: g.cell(colRetryCount, rowIndex), Values: [][]string{{strconv.Itoa(newCount)}}},
	}
	if err := g.store.BatchUpdate(ctx, data); err != nil {
		return 0, fmt.Errorf("op=sheet.RecordRetryableFailure: %w", err)
	}
	return newCount, nil
}

// RecordPermanentFailure sets a terminal status, appends history and clears
// the lock token. retryCount is left untouched.
func (g *Gateway) RecordPermanentFailure(ctx context.Context, rowIndex int, rec domain.PermanentRecord) error {
	history, err := g.appendHistory(ctx, rowIndex, rec.ResultLine)
	if err != nil {
		return fmt.Errorf("op=sheet.RecordPermanentFailure: %w", err)
	}
	data := []ValueRange{
		{Range: g.cell(colStatus, rowIndex), Values: [][]string{{string(rec.NewStatus)}}},
		{Range: g.cell(colLastIP, rowIndex), Values: [][]string{{ipCell(rec.IP, rec.ProxyID)}}},
		{Range: g.cell(colResultHistory, rowIndex), Values: [][]string{{history}}},
		{Range: g.cell(colLockToken, rowIndex), Values: [][]string{{""}}},
	}
	if err := g.store.BatchUpdate(ctx, data); err != nil {
		return fmt.Errorf("op=sheet.RecordPermanentFailure: %w", err)
	}
	return nil
}

// RecordPending writes a payment-pending observation: history, ip, the
// pending timestamps, and releases the lock. A zero CheckAt leaves the
// pendingCheckAt column untouched.
func (g *Gateway) RecordPending(ctx context.Context, rowIndex int, rec domain.PendingRecord) error {
	history, err := g.appendHistory(ctx, rowIndex, rec.ResultLine)
	if err != nil {
		return fmt.Errorf("op=sheet.RecordPending: %w", err)
	}
	data := []ValueRange{
		{Range: g.cell(colLastIP, rowIndex), Values: [][]string{{ipCell(rec.IP, rec.ProxyID)}}},
		{Range: g.cell(colResultHistory, rowIndex), Values: [][]string{{history}}},
		{Range: g.cell(colLockToken, rowIndex), Values: [][]string{{""}}},
		{Range: g.cell(colPendingRetryAt, rowIndex), Values: [][]string{{datex.FormatTimestamp(rec.RetryAt)}}},
	}
	if !rec.CheckAt.IsZero() {
		data = append(data, ValueRange{Range: g.cell(colPendingCheckAt, rowIndex), Values: [][]string{{datex.FormatTimestamp(rec.CheckAt)}}})
	}
	if err := g.store.BatchUpdate(ctx, data); err != nil {
		return fmt.Errorf("op=sheet.RecordPending: %w", err)
	}
	return nil
}

// ClearPendingColumns blanks both pending timestamps.
func (g *Gateway) ClearPendingColumns(ctx context.Context, rowIndex int) error {
	if err := g.store.UpdateRange(ctx, g.pendingRange(rowIndex), [][]string{{"", ""}}); err != nil {
		return fmt.Errorf("op=sheet.ClearPendingColumns: %w", err)
	}
	return nil
}

// ResolveProfileID looks the email up in the mapping tab through a TTL
// cache. Returns domain.ErrNotFound when no mapping exists.
func (g *Gateway) ResolveProfileID(ctx context.Context, email string) (string, error) {
	key := strings.ToLower(email)
	if id, ok := g.profileMap.Get(key); ok {
		return id, nil
	}
	values, err := g.store.GetRange(ctx, fmt.Sprintf("%s!A%d:B", g.mapTab, firstDataRow))
	if err != nil {
		return "", fmt.Errorf("op=sheet.ResolveProfileID: %w", err)
	}
	var found string
	for _, cells := range values {
		if len(cells) < 2 || cells[0] == "" {
			continue
		}
		g.profileMap.Add(strings.ToLower(cells[0]), cells[1])
		if strings.EqualFold(cells[0], email) {
			found = cells[1]
		}
	}
	if found == "" {
		return "", fmt.Errorf("op=sheet.ResolveProfileID email=%s: %w", email, domain.ErrNotFound)
	}
	return found, nil
}

func (g *Gateway) cell(col string, rowIndex int) string {
	return fmt.Sprintf("%s!%s%d:%s%d", g.workerTab, col, rowIndex, col, rowIndex)
}

func (g *Gateway) pendingRange(rowIndex int) string {
	return fmt.Sprintf("%s!%s%d:%s%d", g.workerTab, colPendingCheckAt, rowIndex, colPendingRetryAt, rowIndex)
}

func (g *Gateway) readRow(ctx context.Context, rowIndex int) (domain.Row, error) {
	values, err := g.store.GetRange(ctx, fmt.Sprintf("%s!A%d:N%d", g.workerTab, rowIndex, rowIndex))
	if err != nil {
		return domain.Row{}, err
	}
	if len(values) == 0 {
		return domain.Row{Index: rowIndex}, nil
	}
	return parseRow(values[0], rowIndex), nil
}

func (g *Gateway) appendHistory(ctx context.Context, rowIndex int, line string) (string, error) {
	values, err := g.store.GetRange(ctx, g.cell(colResultHistory, rowIndex))
	if err != nil {
		return "", err
	}
	var current string
	if len(values) > 0 && len(values[0]) > 0 {
		current = values[0][0]
	}
	return joinHistory(current, line), nil
}

// joinHistory appends one line; prior lines are never rewritten.
func joinHistory(current, line string) string {
	if current == "" {
		return line
	}
	return current + "\n" + line
}

func ipCell(ip, proxyID string) string {
	if proxyID == "" {
		return ip
	}
	if ip == "" {
		return "@" + proxyID
	}
	return ip + " @" + proxyID
}

func parseRow(cells []string, index int) domain.Row {
	get := func(i int) string {
		if i < len(cells) {
			return strings.TrimSpace(cells[i])
		}
		return ""
	}
	row := domain.Row{
		Index:         index,
		Email:         get(0),
		Password:      get(1),
		RecoveryEmail: get(2),
		TOTPSecret:    get(3),
		Status:        domain.Status(get(4)),
		LastIP:        get(6),
		ResultHistory: get(7),
		ScheduledTime: get(8),
		LockToken:     get(9),
		PaymentCard:   get(10),
	}
	if s := get(5); s != "" {
		if t, err := datex.ParseDate(s); err == nil {
			row.NextBillingDate = t
		} else {
			slog.Debug("unparsable next billing date", slog.String("email", row.Email), slog.String("value", s))
		}
	}
	if s := get(11); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			row.RetryCount = n
		}
	}
	if s := get(12); s != "" {
		if t, err := datex.ParseTimestamp(s); err == nil {
			row.PendingCheckAt = t
		}
	}
	if s := get(13); s != "" {
		if t, err := datex.ParseTimestamp(s); err == nil {
			row.PendingRetryAt = t
		}
	}
	return row
}
