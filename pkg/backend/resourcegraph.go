package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ai4ops/fleet-mcp/pkg/types"
)

const (
	// GraphResource is the token audience for Azure Resource Graph calls.
	GraphResource = "https://management.azure.com"

	graphAPIPath    = "/providers/Microsoft.ResourceGraph/resources?api-version=2022-10-01"
	graphPageSize   = 1000
	graphDefaultCap = 5000
)

// GraphClient executes inventory queries against Azure Resource Graph, one
// request per subscription scope, following $skipToken continuations.
type GraphClient struct {
	tokens      TokenSource
	httpClient  *http.Client
	baseURL     string
	resource    string
	maxAttempts int
	maxRows     int
	concurrency int
	logger      *slog.Logger
}

// GraphOption configures a GraphClient.
type GraphOption func(*GraphClient)

// WithGraphHTTPClient sets a custom HTTP client.
func WithGraphHTTPClient(c *http.Client) GraphOption {
	return func(g *GraphClient) { g.httpClient = c }
}

// WithGraphEndpoint overrides the management endpoint and token audience,
// used by tests and sovereign clouds.
func WithGraphEndpoint(baseURL, resource string) GraphOption {
	return func(g *GraphClient) {
		g.baseURL = baseURL
		g.resource = resource
	}
}

// WithGraphMaxAttempts bounds the retry attempts per request.
func WithGraphMaxAttempts(n int) GraphOption {
	return func(g *GraphClient) { g.maxAttempts = n }
}

// WithGraphMaxRows caps the total rows fetched per scope.
func WithGraphMaxRows(n int) GraphOption {
	return func(g *GraphClient) { g.maxRows = n }
}

// WithGraphConcurrency bounds concurrent per-scope requests.
func WithGraphConcurrency(n int) GraphOption {
	return func(g *GraphClient) { g.concurrency = n }
}

// WithGraphLogger sets a custom logger.
func WithGraphLogger(l *slog.Logger) GraphOption {
	return func(g *GraphClient) { g.logger = l }
}

// NewGraphClient creates a Resource Graph executor.
func NewGraphClient(tokens TokenSource, opts ...GraphOption) *GraphClient {
	g := &GraphClient{
		tokens:      tokens,
		httpClient:  newHTTPClient(),
		baseURL:     GraphResource,
		resource:    GraphResource,
		maxAttempts: defaultMaxAttempts,
		maxRows:     graphDefaultCap,
		concurrency: 5,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type graphRequest struct {
	Query         string            `json:"query"`
	Subscriptions []string          `json:"subscriptions"`
	Options       graphQueryOptions `json:"options"`
}

type graphQueryOptions struct {
	ResultFormat string `json:"resultFormat"`
	Top          int    `json:"$top,omitempty"`
	SkipToken    string `json:"$skipToken,omitempty"`
}

type graphResponse struct {
	Count        int64  `json:"count"`
	TotalRecords int64  `json:"totalRecords"`
	SkipToken    string `json:"$skipToken"`
	Data         []Row  `json:"data"`
}

// Execute runs the query against each subscription scope. Pagination within
// a scope is sequential; scopes fan out concurrently.
func (g *GraphClient) Execute(ctx context.Context, query string, scopes []string, opts Options) []ScopeResult {
	rowCap := opts.MaxRows
	if rowCap <= 0 {
		rowCap = g.maxRows
	}
	return runScopes(ctx, scopes, g.concurrency, func(ctx context.Context, scope string) ([]Row, error) {
		return g.queryScope(ctx, query, scope, rowCap)
	})
}

func (g *GraphClient) queryScope(ctx context.Context, query, scope string, rowCap int) ([]Row, error) {
	var rows []Row
	skipToken := ""
	for {
		top := graphPageSize
		if remaining := rowCap - len(rows); remaining < top {
			top = remaining
		}

		page, err := doWithRetry(ctx, g.maxAttempts, func() (QueryPage, error) {
			return g.fetchPage(ctx, query, scope, skipToken, top)
		})
		if err != nil {
			return nil, err
		}

		rows = append(rows, page.Rows...)
		if page.SkipToken == "" || len(rows) >= rowCap {
			if len(rows) > rowCap {
				rows = rows[:rowCap]
			}
			return rows, nil
		}
		skipToken = page.SkipToken
	}
}

// fetchPage performs one Resource Graph request with bearer auth. A 401/403
// invalidates the cached token and is retried once with a fresh one; a
// second auth failure is fatal for the scope.
func (g *GraphClient) fetchPage(ctx context.Context, query, scope, skipToken string, top int) (QueryPage, error) {
	page, err := g.doRequest(ctx, query, scope, skipToken, top)
	if err == nil || !isAuthError(err) {
		return page, err
	}

	g.logger.Warn("resourcegraph: auth failure, refreshing token", "scope", scope)
	g.tokens.Invalidate(g.resource)

	page, err = g.doRequest(ctx, query, scope, skipToken, top)
	if err != nil && isAuthError(err) {
		return QueryPage{}, &types.AuthError{Scope: scope, Status: http.StatusUnauthorized}
	}
	return page, err
}

func (g *GraphClient) doRequest(ctx context.Context, query, scope, skipToken string, top int) (QueryPage, error) {
	tok, err := g.tokens.Token(ctx, g.resource)
	if err != nil {
		return QueryPage{}, fmt.Errorf("failed to obtain token: %w", err)
	}

	body, err := json.Marshal(graphRequest{
		Query:         query,
		Subscriptions: []string{scope},
		Options: graphQueryOptions{
			ResultFormat: "objectArray",
			Top:          top,
			SkipToken:    skipToken,
		},
	})
	if err != nil {
		return QueryPage{}, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+graphAPIPath, bytes.NewReader(body))
	if err != nil {
		return QueryPage{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok.Value)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return QueryPage{}, &types.TransientError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return QueryPage{}, responseError(scope, resp)
	}

	var gr graphResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return QueryPage{}, fmt.Errorf("failed to decode response: %w", err)
	}

	g.logger.Debug("resourcegraph: page fetched",
		"scope", scope, "rows", len(gr.Data), "total_records", gr.TotalRecords,
		"has_more", gr.SkipToken != "")

	return QueryPage{Rows: gr.Data, SkipToken: gr.SkipToken}, nil
}
