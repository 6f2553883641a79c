package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ai4ops/fleet-mcp/pkg/types"
)

const (
	// LogsResource is the token audience for Log Analytics calls.
	LogsResource = "https://api.loganalytics.io"

	logsDefaultCap = 5000
)

// LogsClient executes KQL queries against Azure Log Analytics workspaces.
// The logs API does not paginate: one request per workspace scope.
type LogsClient struct {
	tokens      TokenSource
	httpClient  *http.Client
	baseURL     string
	resource    string
	maxAttempts int
	maxRows     int
	concurrency int
	logger      *slog.Logger
}

// LogsOption configures a LogsClient.
type LogsOption func(*LogsClient)

// WithLogsHTTPClient sets a custom HTTP client.
func WithLogsHTTPClient(c *http.Client) LogsOption {
	return func(l *LogsClient) { l.httpClient = c }
}

// WithLogsEndpoint overrides the API endpoint and token audience, used by
// tests and sovereign clouds.
func WithLogsEndpoint(baseURL, resource string) LogsOption {
	return func(l *LogsClient) {
		l.baseURL = baseURL
		l.resource = resource
	}
}

// WithLogsMaxAttempts bounds the retry attempts per request.
func WithLogsMaxAttempts(n int) LogsOption {
	return func(l *LogsClient) { l.maxAttempts = n }
}

// WithLogsMaxRows caps the rows returned per workspace.
func WithLogsMaxRows(n int) LogsOption {
	return func(l *LogsClient) { l.maxRows = n }
}

// WithLogsConcurrency bounds concurrent per-workspace requests.
func WithLogsConcurrency(n int) LogsOption {
	return func(l *LogsClient) { l.concurrency = n }
}

// WithLogsLogger sets a custom logger.
func WithLogsLogger(lg *slog.Logger) LogsOption {
	return func(l *LogsClient) { l.logger = lg }
}

// NewLogsClient creates a Log Analytics executor.
func NewLogsClient(tokens TokenSource, opts ...LogsOption) *LogsClient {
	l := &LogsClient{
		tokens:      tokens,
		httpClient:  newHTTPClient(),
		baseURL:     LogsResource,
		resource:    LogsResource,
		maxAttempts: defaultMaxAttempts,
		maxRows:     logsDefaultCap,
		concurrency: 5,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type logsRequest struct {
	Query    string `json:"query"`
	Timespan string `json:"timespan,omitempty"`
}

type logsResponse struct {
	Tables []logsTable `json:"tables"`
}

type logsTable struct {
	Name    string       `json:"name"`
	Columns []logsColumn `json:"columns"`
	Rows    [][]any      `json:"rows"`
}

type logsColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Execute runs the query against each workspace scope.
func (l *LogsClient) Execute(ctx context.Context, query string, scopes []string, opts Options) []ScopeResult {
	rowCap := opts.MaxRows
	if rowCap <= 0 {
		rowCap = l.maxRows
	}
	timespan := timespanToISO8601(opts.Timespan)

	return runScopes(ctx, scopes, l.concurrency, func(ctx context.Context, scope string) ([]Row, error) {
		rows, err := doWithRetry(ctx, l.maxAttempts, func() ([]Row, error) {
			return l.fetchRows(ctx, query, scope, timespan)
		})
		if err != nil {
			return nil, err
		}
		if len(rows) > rowCap {
			rows = rows[:rowCap]
		}
		return rows, nil
	})
}

// fetchRows performs one workspace query with bearer auth and the same
// refresh-once semantics as the Resource Graph executor.
func (l *LogsClient) fetchRows(ctx context.Context, query, scope, timespan string) ([]Row, error) {
	rows, err := l.doRequest(ctx, query, scope, timespan)
	if err == nil || !isAuthError(err) {
		return rows, err
	}

	l.logger.Warn("loganalytics: auth failure, refreshing token", "workspace", scope)
	l.tokens.Invalidate(l.resource)

	rows, err = l.doRequest(ctx, query, scope, timespan)
	if err != nil && isAuthError(err) {
		return nil, &types.AuthError{Scope: scope, Status: http.StatusUnauthorized}
	}
	return rows, err
}

func (l *LogsClient) doRequest(ctx context.Context, query, scope, timespan string) ([]Row, error) {
	tok, err := l.tokens.Token(ctx, l.resource)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain token: %w", err)
	}

	body, err := json.Marshal(logsRequest{Query: query, Timespan: timespan})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/workspaces/%s/query", strings.TrimSuffix(l.baseURL, "/"), scope)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok.Value)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, &types.TransientError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(scope, resp)
	}

	var lr logsResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	rows := flattenTables(lr.Tables)
	l.logger.Debug("loganalytics: query complete", "workspace", scope, "rows", len(rows))
	return rows, nil
}

// flattenTables converts the columnar table response into row maps. All
// tables are concatenated; in practice the API returns one PrimaryResult.
func flattenTables(tables []logsTable) []Row {
	var rows []Row
	for _, table := range tables {
		for _, raw := range table.Rows {
			row := make(Row, len(table.Columns))
			for i, col := range table.Columns {
				if i < len(raw) {
					row[col.Name] = raw[i]
				} else {
					row[col.Name] = nil
				}
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// timespanToISO8601 converts a KQL timespan literal ("30d", "12h", "45m")
// into the ISO-8601 duration the logs API expects. Unrecognized input
// yields an empty timespan, letting the query's own time filter apply.
func timespanToISO8601(ts string) string {
	if len(ts) < 2 {
		return ""
	}
	value, err := strconv.Atoi(ts[:len(ts)-1])
	if err != nil || value <= 0 {
		return ""
	}
	switch ts[len(ts)-1] {
	case 'd':
		return fmt.Sprintf("P%dD", value)
	case 'h':
		return fmt.Sprintf("PT%dH", value)
	case 'm':
		return fmt.Sprintf("PT%dM", value)
	default:
		return ""
	}
}
