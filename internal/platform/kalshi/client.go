// Package kalshi fetches and normalizes markets from the Kalshi exchange API.
package kalshi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/0xqtpie/pm-indexer/internal/domain"
	"github.com/0xqtpie/pm-indexer/internal/retry"
)

// pageSize is the Kalshi API page size used while paginating.
const pageSize = 200

// Client is the REST client for the Kalshi exchange API. Market data is
// public; no request signing is needed for the read-only endpoints the
// indexer consumes.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      retry.Policy
}

// NewClient creates a new Kalshi REST client.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: retry.DefaultPolicy,
	}
}

// Source identifies this client's upstream marketplace.
func (c *Client) Source() domain.Source {
	return domain.SourceKalshi
}

// Fetch paginates through Kalshi markets matching the requested lifecycle
// status via cursor pagination, normalizes them, and returns at most limit
// records.
func (c *Client) Fetch(ctx context.Context, status domain.FetchStatus, limit int, excludeSports bool) ([]domain.Market, error) {
	var out []domain.Market
	cursor := ""

	for len(out) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, next, err := c.getMarkets(ctx, status, cursor)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			if excludeSports && page[i].IsSports() {
				continue
			}
			out = append(out, page[i].Normalize())
			if len(out) >= limit {
				break
			}
		}

		if next == "" {
			break
		}
		cursor = next
	}

	return out, nil
}

// getMarkets fetches one page, retrying transient failures with backoff.
func (c *Client) getMarkets(ctx context.Context, status domain.FetchStatus, cursor string) ([]KalshiMarket, string, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(pageSize))
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if status != domain.FetchAll {
		params.Set("status", string(status))
	}

	path := "/markets?" + params.Encode()

	var resp struct {
		Markets []KalshiMarket `json:"markets"`
		Cursor  string         `json:"cursor"`
	}

	err := retry.Do(ctx, c.retry, func() error {
		body, err := c.doGet(ctx, path)
		if err != nil {
			return err
		}
		resp.Markets = nil
		if err := json.Unmarshal(body, &resp); err != nil {
			return &domain.SourceError{
				Source:   domain.SourceKalshi,
				Category: domain.SourceErrUnknown,
				Err:      fmt.Errorf("decode markets: %w", err),
			}
		}
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("kalshi: get markets: %w", err)
	}

	return resp.Markets, resp.Cursor, nil
}

// doGet performs a GET request and categorizes failures for observability.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("kalshi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cat := domain.SourceErrNetwork
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			cat = domain.SourceErrTimeout
		}
		return nil, &domain.SourceError{Source: domain.SourceKalshi, Category: cat, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.SourceError{Source: domain.SourceKalshi, Category: domain.SourceErrNetwork, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.SourceError{
			Source:   domain.SourceKalshi,
			Category: domain.CategorizeStatus(resp.StatusCode),
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)),
		}
	}

	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
