package tools

import (
	"context"
	"time"

	"github.com/ai4ops/fleet-mcp/pkg/types"
)

// Tool is a named, schema-validated operation invocable by a remote caller.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Run(ctx context.Context, args map[string]any) (*Response, error)
}

// Response is the uniform success envelope: normalized rows (or derived
// records) under data, per-scope failures under errors. Scope errors are
// surfaced alongside best-effort data, never silently dropped.
type Response struct {
	Tool      string             `json:"tool"`
	Timestamp string             `json:"timestamp"`
	Data      any                `json:"data"`
	Errors    []types.ScopeError `json:"errors"`
}

// NewResponse builds a Response stamped with the current time.
func NewResponse(toolName string, data any, errs []types.ScopeError) *Response {
	if errs == nil {
		errs = make([]types.ScopeError, 0)
	}
	return &Response{
		Tool:      toolName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
		Errors:    errs,
	}
}
