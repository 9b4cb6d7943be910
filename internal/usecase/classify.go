package usecase

import (
	"github.com/fairyhunter13/subfleet/internal/domain"
)

// OutcomeKind is the core's reaction class for one transition attempt.
type OutcomeKind string

const (
	// OutcomeSuccessNew is a fresh state change.
	OutcomeSuccessNew OutcomeKind = "success_new"
	// OutcomeSuccessAlready means the account was already in the target
	// state; recorded like a success, tagged "already".
	OutcomeSuccessAlready OutcomeKind = "success_already"
	// OutcomeRetryable increments the retry counter and re-runs next cycle.
	OutcomeRetryable OutcomeKind = "retryable"
	// OutcomePermanent sets a terminal status.
	OutcomePermanent OutcomeKind = "permanent"
	// OutcomeImageCaptchaRetry asks for one in-cycle retry after a browser
	// restart.
	OutcomeImageCaptchaRetry OutcomeKind = "image_captcha_retry"
	// OutcomePaymentPending drives the timed pending sub-state-machine.
	OutcomePaymentPending OutcomeKind = "payment_pending"
)

// Outcome pairs the reaction class with the terminal status for permanent
// failures.
type Outcome struct {
	Kind      OutcomeKind
	NewStatus domain.Status // set only for OutcomePermanent
}

// Classify maps an executor result to the core's reaction. Unknown result
// statuses default to retryable.
func Classify(res domain.TransitionResult) Outcome {
	switch res.Status {
	case domain.ResultSuccess:
		return Outcome{Kind: OutcomeSuccessNew}
	case domain.ResultAlreadyInTargetState:
		return Outcome{Kind: OutcomeSuccessAlready}
	case domain.ResultSubscriptionExpired:
		return Outcome{Kind: OutcomePermanent, NewStatus: domain.StatusExpired}
	case domain.ResultAccountLocked:
		return Outcome{Kind: OutcomePermanent, NewStatus: domain.StatusLocked}
	case domain.ResultRecaptchaDetected:
		return Outcome{Kind: OutcomePermanent, NewStatus: domain.StatusCaptchaBlocked}
	case domain.ResultPaymentMethodIssue:
		return Outcome{Kind: OutcomePermanent, NewStatus: domain.StatusPaymentMethodIssue}
	case domain.ResultPaymentPending:
		return Outcome{Kind: OutcomePaymentPending}
	case domain.ResultImageCaptchaTransient:
		return Outcome{Kind: OutcomeImageCaptchaRetry}
	default:
		return Outcome{Kind: OutcomeRetryable}
	}
}
