// Package executor holds decorators around the browser-side transition
// executor.
package executor

import (
	"github.com/fairyhunter13/subfleet/internal/domain"
)

// GuardFunc runs before the base executor. Returning a non-nil result
// short-circuits the attempt with that result (typically
// AlreadyInTargetState when the pre-check finds nothing to do).
type GuardFunc func(ctx domain.Context, row domain.Row, kind domain.TransitionKind) (*domain.TransitionResult, error)

// Guarded wraps a base executor with an extra pre-check step. It replaces
// the source's "renewal-check extends pause" inheritance with plain
// composition; the guard is a function value, so it tests in isolation.
type Guarded struct {
	Base  domain.TransitionExecutor
	Guard GuardFunc
}

// NewGuarded constructs a Guarded executor. A nil guard passes everything
// through.
func NewGuarded(base domain.TransitionExecutor, guard GuardFunc) *Guarded {
	return &Guarded{Base: base, Guard: guard}
}

// Execute runs the guard, then the base executor unless the guard
// short-circuited.
func (g *Guarded) Execute(ctx domain.Context, profileID string, row domain.Row, kind domain.TransitionKind, opts domain.ExecuteOptions) (domain.TransitionResult, error) {
	if g.Guard != nil {
		res, err := g.Guard(ctx, row, kind)
		if err != nil {
			return domain.TransitionResult{Kind: kind, Status: domain.ResultGenericFailure, ErrorMessage: err.Error()}, nil
		}
		if res != nil {
			return *res, nil
		}
	}
	return g.Base.Execute(ctx, profileID, row, kind, opts)
}

// CloseProfile delegates to the base executor.
func (g *Guarded) CloseProfile(ctx domain.Context, profileID string) error {
	return g.Base.CloseProfile(ctx, profileID)
}
