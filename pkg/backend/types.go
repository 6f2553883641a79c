package backend

import (
	"context"

	"github.com/ai4ops/fleet-mcp/pkg/auth"
)

// Row is one backend record: column name to scalar value.
type Row map[string]any

// QueryPage is a single page of backend rows plus the continuation token for
// the next page, empty when the result set is exhausted.
type QueryPage struct {
	Rows      []Row
	SkipToken string
}

// ScopeResult holds the outcome for one scope: either its rows or the error
// that exhausted retries. A failed scope never aborts its siblings.
type ScopeResult struct {
	Scope string
	Rows  []Row
	Err   error
}

// Options tune a single query execution.
type Options struct {
	// Timespan is a KQL-style timespan literal such as "30d" or "12h",
	// empty when the query embeds its own time filter.
	Timespan string
	// MaxRows caps the total rows fetched per scope across pages. Zero
	// means the executor default.
	MaxRows int
}

// Executor runs an opaque analytical query against a set of scopes and
// returns one result per scope, in scope order.
type Executor interface {
	Execute(ctx context.Context, query string, scopes []string, opts Options) []ScopeResult
}

// TokenSource supplies bearer tokens per resource audience and supports
// dropping one after an authentication failure.
type TokenSource interface {
	Token(ctx context.Context, resource string) (auth.Token, error)
	Invalidate(resource string)
}
