// Package browser integrates with the local anti-fingerprint browser API.
//
// Only the profile-list endpoint is consumed here; launching and driving
// profiles is the executor's business.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fairyhunter13/subfleet/internal/domain"
)

// Registry is a minimal HTTP client for the browser's local profile API.
type Registry struct {
	baseURL    string
	httpClient *http.Client
}

// NewRegistry constructs a Registry with a default timeout.
func NewRegistry(baseURL string) *Registry {
	return &Registry{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// ListProfiles returns all registered browser profiles.
func (r *Registry) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	u := r.baseURL + "/api/v1/user/list?page_size=1000"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("op=browser.ListProfiles: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=browser.ListProfiles: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("op=browser.ListProfiles: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("op=browser.ListProfiles: %w", err)
	}

	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			List []struct {
				UserID string `json:"user_id"`
				Name   string `json:"name"`
				Remark string `json:"remark"`
			} `json:"list"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("op=browser.ListProfiles: decode: %w", err)
	}
	if payload.Code != 0 {
		return nil, fmt.Errorf("op=browser.ListProfiles: api code %d: %s", payload.Code, payload.Msg)
	}
	out := make([]domain.Profile, 0, len(payload.Data.List))
	for _, p := range payload.Data.List {
		out = append(out, domain.Profile{ID: p.UserID, Name: p.Name, Remark: p.Remark})
	}
	return out, nil
}
