// Package profile resolves account emails to browser-profile identifiers.
package profile

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/fairyhunter13/subfleet/internal/domain"
)

// Resolver maps email → profile id. Primary path is the cached mapping
// sheet; fallback is a search on the live profile registry by name or
// remark. An empty result is not an error: the executor runs its own
// last-ditch search when given no profile id.
type Resolver struct {
	sheet    domain.SheetGateway
	registry domain.ProfileRegistry
}

// NewResolver constructs a Resolver. registry may be nil, disabling the
// fallback search.
func NewResolver(sheet domain.SheetGateway, registry domain.ProfileRegistry) *Resolver {
	return &Resolver{sheet: sheet, registry: registry}
}

// Resolve returns the profile id for an email, or "" when nothing matched.
func (r *Resolver) Resolve(ctx domain.Context, email string) (string, error) {
	id, err := r.sheet.ResolveProfileID(ctx, email)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	if r.registry == nil {
		return "", nil
	}
	profiles, err := r.registry.ListProfiles(ctx)
	if err != nil {
		slog.Warn("profile registry search failed", slog.String("email", email), slog.Any("error", err))
		return "", nil
	}
	var candidates []domain.Profile
	for _, p := range profiles {
		if strings.EqualFold(p.Name, email) || strings.EqualFold(p.Remark, email) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}
	// First syntactically valid candidate wins; otherwise fall back to the
	// first match unmodified.
	for _, p := range candidates {
		if validProfileID(p.ID) {
			return p.ID, nil
		}
	}
	return candidates[0].ID, nil
}

// validProfileID accepts short alphanumeric registry ids.
func validProfileID(id string) bool {
	if len(id) == 0 || len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
