// Package qdrant implements domain.VectorIndex against a Qdrant instance
// over its REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/0xqtpie/pm-indexer/internal/domain"
)

const upsertChunk = 128

// Client talks to a single Qdrant collection.
type Client struct {
	baseURL    string
	apiKey     string
	collection string
	vectorSize int
	httpClient *http.Client
}

var _ domain.VectorIndex = (*Client)(nil)

func New(baseURL, apiKey, collection string, vectorSize int) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: collection,
		vectorSize: vectorSize,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// EnsureCollection creates the collection if it does not exist yet.
// Existing collections are left untouched.
func (c *Client) EnsureCollection(ctx context.Context) error {
	var probe struct {
		Status string `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, "/collections/"+c.collection, nil, &probe)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("qdrant: probe collection: %w", err)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     c.vectorSize,
			"distance": "Cosine",
		},
	}
	if err := c.do(ctx, http.MethodPut, "/collections/"+c.collection, body, nil); err != nil {
		return fmt.Errorf("qdrant: create collection: %w", err)
	}
	return nil
}

// Upsert writes points in chunks so a large sync pass does not exceed the
// server's request size limits.
func (c *Client) Upsert(ctx context.Context, points []domain.VectorPoint) error {
	for start := 0; start < len(points); start += upsertChunk {
		end := start + upsertChunk
		if end > len(points) {
			end = len(points)
		}
		chunk := make([]apiPoint, 0, end-start)
		for _, p := range points[start:end] {
			chunk = append(chunk, apiPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
		}
		body := map[string]any{"points": chunk}
		path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
		if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
			return fmt.Errorf("qdrant: upsert points: %w", err)
		}
	}
	return nil
}

// SetPayload overwrites a single point's payload without touching its vector.
func (c *Client) SetPayload(ctx context.Context, id string, payload domain.MarketPayload) error {
	body := map[string]any{
		"payload": payload,
		"points":  []string{id},
	}
	path := fmt.Sprintf("/collections/%s/points/payload?wait=true", c.collection)
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("qdrant: set payload: %w", err)
	}
	return nil
}

func (c *Client) Search(ctx context.Context, vector []float32, filter domain.VectorFilter, limit, offset int) ([]domain.ScoredMarket, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"offset":       offset,
		"with_payload": true,
	}
	if f := buildFilter(filter); f != nil {
		body["filter"] = f
	}
	var resp struct {
		Result []apiScoredPoint `json:"result"`
	}
	path := "/collections/" + c.collection + "/points/search"
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}
	return toScored(resp.Result), nil
}

// Recommend ranks points near the seed points, excluding the seeds
// themselves from the results.
func (c *Client) Recommend(ctx context.Context, seedIDs []string, filter domain.VectorFilter, limit int) ([]domain.ScoredMarket, error) {
	body := map[string]any{
		"positive":     seedIDs,
		"limit":        limit,
		"with_payload": true,
	}
	if f := buildFilter(filter); f != nil {
		body["filter"] = f
	}
	var resp struct {
		Result []apiScoredPoint `json:"result"`
	}
	path := "/collections/" + c.collection + "/points/recommend"
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, fmt.Errorf("qdrant: recommend: %w", err)
	}
	return toScored(resp.Result), nil
}

func buildFilter(f domain.VectorFilter) map[string]any {
	var must []map[string]any
	if f.Source != "" {
		must = append(must, matchClause("source", string(f.Source)))
	}
	if f.Status != "" {
		must = append(must, matchClause("status", string(f.Status)))
	}
	if f.Category != "" {
		must = append(must, matchClause("category", f.Category))
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func matchClause(key, value string) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}

func toScored(points []apiScoredPoint) []domain.ScoredMarket {
	out := make([]domain.ScoredMarket, 0, len(points))
	for _, p := range points {
		out = append(out, domain.ScoredMarket{ID: p.ID, Score: p.Score, Payload: p.Payload})
	}
	return out
}

type apiPoint struct {
	ID      string               `json:"id"`
	Vector  []float32            `json:"vector"`
	Payload domain.MarketPayload `json:"payload"`
}

type apiScoredPoint struct {
	ID      string               `json:"id"`
	Score   float32              `json:"score"`
	Payload domain.MarketPayload `json:"payload"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
