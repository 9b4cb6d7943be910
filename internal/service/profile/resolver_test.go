package profile

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/subfleet/internal/domain"
)

type fakeSheet struct {
	domain.SheetGateway
	ids map[string]string
	err error
}

func (f *fakeSheet) ResolveProfileID(_ domain.Context, email string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if id, ok := f.ids[email]; ok {
		return id, nil
	}
	return "", fmt.Errorf("email=%s: %w", email, domain.ErrNotFound)
}

type fakeRegistry struct {
	profiles []domain.Profile
	err      error
}

func (f *fakeRegistry) ListProfiles(_ domain.Context) ([]domain.Profile, error) {
	return f.profiles, f.err
}

func TestResolveFromSheet(t *testing.T) {
	t.Parallel()
	r := NewResolver(&fakeSheet{ids: map[string]string{"a@x.com": "profile1"}}, &fakeRegistry{})
	id, err := r.Resolve(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "profile1", id)
}

func TestResolveFallsBackToRegistry(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{profiles: []domain.Profile{
		{ID: "p1", Name: "someone else"},
		{ID: "###", Name: "a@x.com"},
		{ID: "goodID9", Remark: "A@X.COM"},
	}}
	r := NewResolver(&fakeSheet{}, reg)

	id, err := r.Resolve(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "goodID9", id, "first syntactically valid candidate wins")
}

func TestResolveFallsBackToFirstCandidate(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{profiles: []domain.Profile{
		{ID: "id with spaces", Name: "a@x.com"},
	}}
	r := NewResolver(&fakeSheet{}, reg)

	id, err := r.Resolve(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "id with spaces", id)
}

func TestResolveNothingMatched(t *testing.T) {
	t.Parallel()
	r := NewResolver(&fakeSheet{}, &fakeRegistry{})
	id, err := r.Resolve(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Empty(t, id, "no mapping is not an error")
}

func TestResolveNilRegistry(t *testing.T) {
	t.Parallel()
	r := NewResolver(&fakeSheet{}, nil)
	id, err := r.Resolve(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestResolveRegistryOutageIsSoft(t *testing.T) {
	t.Parallel()
	r := NewResolver(&fakeSheet{}, &fakeRegistry{err: errors.New("registry down")})
	id, err := r.Resolve(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestResolveSheetOutagePropagates(t *testing.T) {
	t.Parallel()
	r := NewResolver(&fakeSheet{err: domain.ErrSheetUnavailable}, &fakeRegistry{})
	_, err := r.Resolve(context.Background(), "a@x.com")
	assert.True(t, errors.Is(err, domain.ErrSheetUnavailable))
}
