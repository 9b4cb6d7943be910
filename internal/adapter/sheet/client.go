// Package sheet provides the spreadsheet integration: a minimal Google
// Sheets values-API client and the typed row gateway built on top of it.
//
// The client speaks only the three value operations the gateway needs
// (get, update, batch update). Batch updates carry every cell of one
// outcome in a single HTTP call so an observer never sees a half-written
// row.
package sheet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2/google"

	"github.com/fairyhunter13/subfleet/internal/adapter/observability"
	"github.com/fairyhunter13/subfleet/internal/domain"
)

const sheetsScope = "https://www.googleapis.com/auth/spreadsheets"

// ValueRange is one contiguous block of cells in a batch update.
type ValueRange struct {
	Range  string     `json:"range"`
	Values [][]string `json:"values"`
}

// Client is a minimal Google Sheets v4 values client authenticated with a
// service account.
type Client struct {
	baseURL    string
	sheetID    string
	httpClient *http.Client
	maxRetries uint64
}

// NewClient reads the service-account credentials file and constructs an
// authenticated client for the given spreadsheet.
func NewClient(ctx context.Context, baseURL, sheetID, serviceAccountPath string, timeout time.Duration) (*Client, error) {
	b, err := os.ReadFile(serviceAccountPath)
	if err != nil {
		return nil, fmt.Errorf("op=sheet.NewClient: read credentials: %w", err)
	}
	jwtCfg, err := google.JWTConfigFromJSON(b, sheetsScope)
	if err != nil {
		return nil, fmt.Errorf("op=sheet.NewClient: parse credentials: %w", err)
	}
	hc := jwtCfg.Client(ctx)
	hc.Timeout = timeout
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sheetID:    sheetID,
		httpClient: hc,
		maxRetries: 3,
	}, nil
}

// NewClientWithHTTP constructs a client around a caller-supplied transport.
// Used by tests against httptest servers.
func NewClientWithHTTP(baseURL, sheetID string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), sheetID: sheetID, httpClient: hc, maxRetries: 3}
}

// GetRange returns the cell values of an A1 range. Trailing empty cells are
// absent from the returned rows, as the API delivers them.
func (c *Client) GetRange(ctx context.Context, a1 string) ([][]string, error) {
	var out [][]string
	err := c.do(ctx, "get", func(callCtx context.Context) error {
		u := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s", c.baseURL, url.PathEscape(c.sheetID), url.PathEscape(a1))
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		body, err := c.roundTrip(req)
		if err != nil {
			return err
		}
		var payload struct {
			Values [][]any `json:"values"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("decode values: %w", err))
		}
		out = toStrings(payload.Values)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("op=sheet.GetRange range=%s: %w", a1, err)
	}
	return out, nil
}

// UpdateRange overwrites a single A1 range with raw values.
func (c *Client) UpdateRange(ctx context.Context, a1 string, values [][]string) error {
	err := c.do(ctx, "update", func(callCtx context.Context) error {
		u := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s?valueInputOption=RAW", c.baseURL, url.PathEscape(c.sheetID), url.PathEscape(a1))
		body, err := json.Marshal(ValueRange{Range: a1, Values: values})
		if err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(callCtx, http.MethodPut, u, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		_, err = c.roundTrip(req)
		return err
	})
	if err != nil {
		return fmt.Errorf("op=sheet.UpdateRange range=%s: %w", a1, err)
	}
	return nil
}

// BatchUpdate overwrites several ranges in one HTTP call.
func (c *Client) BatchUpdate(ctx context.Context, data []ValueRange) error {
	err := c.do(ctx, "batch_update", func(callCtx context.Context) error {
		u := fmt.Sprintf("%s/v4/spreadsheets/%s/values:batchUpdate", c.baseURL, url.PathEscape(c.sheetID))
		body, err := json.Marshal(struct {
			ValueInputOption string       `json:"valueInputOption"`
			Data             []ValueRange `json:"data"`
		}{ValueInputOption: "RAW", Data: data})
		if err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		_, err = c.roundTrip(req)
		return err
	})
	if err != nil {
		return fmt.Errorf("op=sheet.BatchUpdate: %w", err)
	}
	return nil
}

// Ping verifies the spreadsheet is reachable; used by readiness probes and
// fatal-startup checks.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.GetRange(ctx, "A1:A1")
	return err
}

// do runs fn under exponential backoff. fn returns backoff.Permanent for
// non-retryable conditions.
func (c *Client) do(ctx context.Context, op string, fn func(context.Context) error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	err := backoff.Retry(func() error { return fn(ctx) }, bo)
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.SheetCallsTotal.WithLabelValues(op, status).Inc()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSheetUnavailable, err)
	}
	return nil
}

func (c *Client) roundTrip(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("sheets status %d", resp.StatusCode)
	default:
		return nil, backoff.Permanent(fmt.Errorf("sheets status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}
}

func toStrings(values [][]any) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		out[i] = make([]string, len(row))
		for j, v := range row {
			if v == nil {
				continue
			}
			if s, ok := v.(string); ok {
				out[i][j] = s
			} else {
				out[i][j] = fmt.Sprint(v)
			}
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
