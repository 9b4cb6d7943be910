package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/subfleet/internal/domain"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status     domain.TransitionStatus
		wantKind   OutcomeKind
		wantStatus domain.Status
	}{
		{domain.ResultSuccess, OutcomeSuccessNew, ""},
		{domain.ResultAlreadyInTargetState, OutcomeSuccessAlready, ""},
		{domain.ResultSubscriptionExpired, OutcomePermanent, domain.StatusExpired},
		{domain.ResultAccountLocked, OutcomePermanent, domain.StatusLocked},
		{domain.ResultRecaptchaDetected, OutcomePermanent, domain.StatusCaptchaBlocked},
		{domain.ResultPaymentMethodIssue, OutcomePermanent, domain.StatusPaymentMethodIssue},
		{domain.ResultPaymentPending, OutcomePaymentPending, ""},
		{domain.ResultImageCaptchaTransient, OutcomeImageCaptchaRetry, ""},
		{domain.ResultGenericFailure, OutcomeRetryable, ""},
		{domain.TransitionStatus("something_new"), OutcomeRetryable, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			got := Classify(domain.TransitionResult{Status: tt.status})
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantStatus, got.NewStatus)
		})
	}
}
