package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// GraphName is the backend name reported by the graph adapter.
const GraphName = "graph"

// DefaultGraphTimeout bounds a single citation-graph request.
const DefaultGraphTimeout = 5 * time.Second

// GraphConfig configures the citation-graph client.
type GraphConfig struct {
	// BaseURL is the graph service endpoint, e.g. "http://localhost:7474".
	BaseURL string

	// Timeout bounds each request. Zero means DefaultGraphTimeout.
	Timeout time.Duration

	// APIKey is sent as a bearer token when set.
	APIKey string
}

// GraphBackend adapts an external citation-graph service over HTTP/JSON.
// The service walks co-citation and reference edges and returns items
// related to the query terms.
type GraphBackend struct {
	client  *http.Client
	baseURL string
	apiKey  string

	mu     sync.RWMutex
	closed bool
}

var _ Adapter = (*GraphBackend)(nil)

// graphSearchRequest is the wire request for /v1/search.
type graphSearchRequest struct {
	Query      string `json:"query"`
	Collection string `json:"collection,omitempty"`
	ItemType   string `json:"item_type,omitempty"`
	After      string `json:"after,omitempty"`
	Before     string `json:"before,omitempty"`
	Limit      int    `json:"limit"`
}

// graphSearchResponse is the wire response from /v1/search.
type graphSearchResponse struct {
	Results []struct {
		ItemID     string  `json:"item_id"`
		Score      float64 `json:"score"`
		Collection string  `json:"collection,omitempty"`
		ItemType   string  `json:"item_type,omitempty"`
	} `json:"results"`
}

// NewGraphBackend creates a graph backend client.
func NewGraphBackend(cfg GraphConfig) (*GraphBackend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("graph base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultGraphTimeout
	}

	return &GraphBackend{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}, nil
}

// Name implements Adapter.
func (g *GraphBackend) Name() string { return GraphName }

// Search implements Adapter.
func (g *GraphBackend) Search(ctx context.Context, text string, filters Filters, limit int) ([]Candidate, error) {
	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		return nil, NewError(ErrUnavailable, GraphName, "client is closed", nil)
	}
	g.mu.RUnlock()

	reqBody := graphSearchRequest{
		Query:      text,
		Collection: filters.Collection,
		ItemType:   filters.ItemType,
		Limit:      limit,
	}
	if !filters.After.IsZero() {
		reqBody.After = filters.After.UTC().Format(time.RFC3339)
	}
	if !filters.Before.IsZero() {
		reqBody.Before = filters.Before.UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, NewError(ErrInternal, GraphName, "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, NewError(ErrInternal, GraphName, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, Classify(GraphName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, g.statusError(resp)
	}

	var result graphSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, NewError(ErrInternal, GraphName, "failed to decode response", err)
	}

	cands := make([]Candidate, 0, len(result.Results))
	for i, r := range result.Results {
		meta := make(map[string]string, 2)
		if r.Collection != "" {
			meta[MetaCollection] = r.Collection
		}
		if r.ItemType != "" {
			meta[MetaItemType] = r.ItemType
		}
		if len(meta) == 0 {
			meta = nil
		}
		cands = append(cands, Candidate{
			ItemID:   r.ItemID,
			Score:    r.Score,
			Backend:  GraphName,
			Rank:     i + 1,
			Metadata: meta,
		})
	}
	return cands, nil
}

// statusError maps a non-200 response onto the backend error taxonomy.
func (g *GraphBackend) statusError(resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("graph service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return NewError(ErrInvalidQuery, GraphName, msg, nil)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return NewError(ErrTimeout, GraphName, msg, nil)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return NewError(ErrUnavailable, GraphName, msg, nil)
	default:
		return NewError(ErrInternal, GraphName, msg, nil)
	}
}

// Ping checks whether the graph service is reachable.
func (g *GraphBackend) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return Classify(GraphName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return NewError(ErrUnavailable, GraphName, fmt.Sprintf("health check returned status %d", resp.StatusCode), nil)
	}
	return nil
}

// Close implements Adapter.
func (g *GraphBackend) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	g.client.CloseIdleConnections()
	return nil
}
