// Package stub provides a deterministic in-process executor so the worker
// and batch commands run without a browser backend.
package stub

import (
	"log/slog"
	"time"

	"github.com/fairyhunter13/subfleet/internal/domain"
)

// Client simulates the browser-side transition: every attempt succeeds and
// resume attempts advance the billing date by one month.
type Client struct{}

// New constructs a stub executor.
func New() *Client { return &Client{} }

// Execute returns a canned success result.
func (c *Client) Execute(_ domain.Context, profileID string, row domain.Row, kind domain.TransitionKind, _ domain.ExecuteOptions) (domain.TransitionResult, error) {
	slog.Debug("stub executor",
		slog.String("email", row.Email),
		slog.String("kind", string(kind)),
		slog.String("profile_id", profileID))
	res := domain.TransitionResult{
		Success:             true,
		Kind:                kind,
		Status:              domain.ResultSuccess,
		ObservedIP:          "127.0.0.1",
		DetectedLanguage:    "en",
		ActualProfileIDUsed: profileID,
	}
	if kind == domain.KindResume {
		base := row.NextBillingDate
		if base.IsZero() {
			base = time.Now()
		}
		next := base.AddDate(0, 1, 0)
		res.NextBillingDate = &next
	}
	return res, nil
}

// CloseProfile is a no-op for the stub.
func (c *Client) CloseProfile(_ domain.Context, _ string) error { return nil }
