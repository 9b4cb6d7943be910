package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrLockHeld         = errors.New("lock held")
	ErrSheetUnavailable = errors.New("sheet unavailable")
	ErrInternal         = errors.New("internal error")
)

// Status is the account state as written to the status column.
// The English identifiers are the canonical on-sheet vocabulary.
type Status string

const (
	StatusPaused                  Status = "Paused"
	StatusBilling                 Status = "Billing"
	StatusExpired                 Status = "Expired"
	StatusLocked                  Status = "Locked"
	StatusCaptchaBlocked          Status = "CaptchaBlocked"
	StatusPaymentMethodIssue      Status = "PaymentMethodIssue"
	StatusManualCheckLoop         Status = "ManualCheckLoop"
	StatusManualCheckPaymentDelay Status = "ManualCheckPaymentDelay"
)

// Terminal reports whether the status is sticky: the time filter never
// selects a terminal row again until an operator edits the sheet.
func (s Status) Terminal() bool {
	switch s {
	case StatusExpired, StatusLocked, StatusCaptchaBlocked,
		StatusPaymentMethodIssue, StatusManualCheckLoop, StatusManualCheckPaymentDelay:
		return true
	}
	return false
}

// TransitionKind is the direction of a subscription state change.
type TransitionKind string

const (
	KindPause  TransitionKind = "pause"
	KindResume TransitionKind = "resume"
)

// TargetStatus returns the status a successful transition of this kind
// leaves the row in.
func (k TransitionKind) TargetStatus() Status {
	if k == KindPause {
		return StatusPaused
	}
	return StatusBilling
}

// SourceStatus returns the status a row must be in for this kind to apply.
func (k TransitionKind) SourceStatus() Status {
	if k == KindPause {
		return StatusBilling
	}
	return StatusPaused
}

// Row is one account in the worker tab; the unit of scheduling.
// Index is the 1-based sheet row the values were read from.
type Row struct {
	Index           int
	Email           string
	Password        string
	RecoveryEmail   string
	TOTPSecret      string
	Status          Status
	NextBillingDate time.Time // zero when the cell is blank or unparsable
	LastIP          string
	ResultHistory   string
	ScheduledTime   string // raw HH:MM cell; blank means "never due"
	LockToken       string
	PaymentCard     string
	RetryCount      int
	PendingCheckAt  time.Time
	PendingRetryAt  time.Time
}

// TransitionStatus is the executor's verdict for one attempt.
type TransitionStatus string

const (
	ResultSuccess              TransitionStatus = "success"
	ResultAlreadyInTargetState TransitionStatus = "already_in_target_state"
	ResultSubscriptionExpired  TransitionStatus = "subscription_expired"
	ResultAccountLocked        TransitionStatus = "account_locked"
	ResultRecaptchaDetected    TransitionStatus = "recaptcha_detected"
	ResultPaymentMethodIssue   TransitionStatus = "payment_method_issue"
	ResultPaymentPending       TransitionStatus = "payment_pending"
	ResultImageCaptchaTransient TransitionStatus = "image_captcha_transient"
	ResultGenericFailure       TransitionStatus = "generic_failure"
)

// TransitionResult is the boundary value between the core and the executor.
type TransitionResult struct {
	Success              bool
	Kind                 TransitionKind
	Status               TransitionStatus
	NextBillingDate      *time.Time
	ObservedIP           string
	ObservedProxyID      string
	DetectedLanguage     string
	ErrorMessage         string
	PaymentPendingReason string
	ActualProfileIDUsed  string
}

// Write payloads for the per-outcome batched sheet updates.

// SuccessRecord flips status, appends history, records ip/proxy, and
// optionally advances the billing date. It clears retryCount and the lock
// token, and the pending columns when ClearPending is set.
type SuccessRecord struct {
	NewStatus       Status
	ResultLine      string
	IP              string
	ProxyID         string
	NextBillingDate *time.Time
	ClearPending    bool
}

// FailureRecord appends history and records ip/proxy. Used for retryable
// failures (retryCount increment happens in the gateway).
type FailureRecord struct {
	ResultLine string
	IP         string
	ProxyID    string
}

// PermanentRecord sets a terminal status. retryCount is left untouched.
type PermanentRecord struct {
	NewStatus  Status
	ResultLine string
	IP         string
	ProxyID    string
}

// PendingRecord is the payment-pending observation write. A zero CheckAt
// leaves the pendingCheckAt column as it is.
type PendingRecord struct {
	ResultLine string
	IP         string
	ProxyID    string
	CheckAt    time.Time
	RetryAt    time.Time
}

// SheetGateway (port) is the typed API over the worker and mapping tabs.
// All Record* methods perform a single batched update and clear the lock
// token, so an observer never sees a half-written row.
type SheetGateway interface {
	ListAllRows(ctx Context) ([]Row, error)
	RefetchByEmail(ctx Context, email string) (*Row, error)
	ReadLock(ctx Context, rowIndex int) (string, error)
	WriteLock(ctx Context, rowIndex int, token string) error
	RecordSuccess(ctx Context, rowIndex int, rec SuccessRecord) error
	RecordRetryableFailure(ctx Context, rowIndex int, rec FailureRecord) (int, error)
	RecordPermanentFailure(ctx Context, rowIndex int, rec PermanentRecord) error
	RecordPending(ctx Context, rowIndex int, rec PendingRecord) error
	ClearPendingColumns(ctx Context, rowIndex int) error
	ResolveProfileID(ctx Context, email string) (string, error)
}

// ExecuteOptions tune a single executor invocation.
type ExecuteOptions struct {
	RetryCount int
	DebugMode  bool
	WindowMode string
}

// TransitionExecutor (port) performs the browser-side transition. The core
// treats it as opaque and idempotent with respect to "already in target
// state". profileID may be empty; the executor then runs its own last-ditch
// profile search.
type TransitionExecutor interface {
	Execute(ctx Context, profileID string, row Row, kind TransitionKind, opts ExecuteOptions) (TransitionResult, error)
	// CloseProfile shuts the browser profile down; mandatory on every exit
	// path of a processing step.
	CloseProfile(ctx Context, profileID string) error
}

// Profile is one entry in the live browser-profile registry.
type Profile struct {
	ID     string
	Name   string
	Remark string
}

// ProfileRegistry (port) is the live registry used as resolver fallback.
type ProfileRegistry interface {
	ListProfiles(ctx Context) ([]Profile, error)
}

// Severity of a notification.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notification is the payload pushed to notifier sinks for events that
// need human attention.
type Notification struct {
	Severity Severity
	Title    string
	Message  string
	Email    string
	Kind     TransitionKind
}

// Notifier (port) delivers critical events. Implementations must not block
// the worker on sink outages; delivery is best-effort.
type Notifier interface {
	Notify(ctx Context, n Notification)
}

// Context is an alias to allow decoupling from std context in domain.
// Adapters and usecases should pass context.Context through.
type Context = context.Context
