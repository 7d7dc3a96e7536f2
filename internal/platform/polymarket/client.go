// Package polymarket fetches and normalizes markets from the Polymarket
// Gamma API.
package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/0xqtpie/pm-indexer/internal/domain"
	"github.com/0xqtpie/pm-indexer/internal/retry"
)

// pageSize is the Gamma API page size used while paginating.
const pageSize = 100

// Client is the REST client for the Polymarket Gamma API, which provides
// market discovery and metadata.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      retry.Policy
}

// NewClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
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
	return domain.SourcePolymarket
}

// Fetch paginates through Gamma markets matching the requested lifecycle
// status, normalizes them, and returns at most limit records. When
// excludeSports is set, sports markets are dropped during normalization.
func (c *Client) Fetch(ctx context.Context, status domain.FetchStatus, limit int, excludeSports bool) ([]domain.Market, error) {
	var out []domain.Market
	offset := 0

	for len(out) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := c.getMarkets(ctx, status, pageSize, offset)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			m := page[i].Normalize()
			if excludeSports && isSports(page[i]) {
				continue
			}
			out = append(out, m)
			if len(out) >= limit {
				break
			}
		}

		if len(page) < pageSize {
			break
		}
		offset += pageSize
	}

	return out, nil
}

// getMarkets fetches one page, retrying transient failures with backoff.
func (c *Client) getMarkets(ctx context.Context, status domain.FetchStatus, limit, offset int) ([]APIMarket, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	switch status {
	case domain.FetchOpen:
		params.Set("active", "true")
		params.Set("closed", "false")
	case domain.FetchClosed, domain.FetchSettled:
		params.Set("closed", "true")
	case domain.FetchAll:
		// no lifecycle filter
	}

	path := "/markets?" + params.Encode()

	var markets []APIMarket
	err := retry.Do(ctx, c.retry, func() error {
		body, err := c.doGet(ctx, path)
		if err != nil {
			return err
		}
		markets = markets[:0]
		if err := json.Unmarshal(body, &markets); err != nil {
			return &domain.SourceError{
				Source:   domain.SourcePolymarket,
				Category: domain.SourceErrUnknown,
				Err:      fmt.Errorf("decode markets: %w", err),
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("polymarket: get markets at offset %d: %w", offset, err)
	}

	// The Gamma API has no settled filter; narrow closed results here.
	if status == domain.FetchSettled {
		settled := markets[:0]
		for _, m := range markets {
			if m.HasResolution() {
				settled = append(settled, m)
			}
		}
		markets = settled
	}

	return markets, nil
}

// doGet performs a GET request and categorizes failures for observability.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.SourceError{
			Source:   domain.SourcePolymarket,
			Category: categorizeTransport(err),
			Err:      err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.SourceError{
			Source:   domain.SourcePolymarket,
			Category: domain.SourceErrNetwork,
			Err:      err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.SourceError{
			Source:   domain.SourcePolymarket,
			Category: domain.CategorizeStatus(resp.StatusCode),
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)),
		}
	}

	return body, nil
}

// categorizeTransport classifies a transport-level error.
func categorizeTransport(err error) domain.SourceErrorCategory {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.SourceErrTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return domain.SourceErrTimeout
	}
	return domain.SourceErrNetwork
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
