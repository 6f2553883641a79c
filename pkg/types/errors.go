package types

import (
	"fmt"
	"time"
)

// Error code constants for agent-facing errors.
const (
	ErrCodeValidation  = "VALIDATION_ERROR"
	ErrCodeTemplate    = "TEMPLATE_ERROR"
	ErrCodeTransient   = "BACKEND_TRANSIENT"
	ErrCodeAuthFailed  = "BACKEND_AUTH_FAILED"
	ErrCodeUnknownTool = "UNKNOWN_TOOL"
	ErrCodeInternal    = "INTERNAL_ERROR"
	ErrCodeTimeout     = "TIMEOUT"
)

// ValidationError reports a caller-supplied argument that failed schema
// validation. Never retried; surfaced immediately.
type ValidationError struct {
	Param  string
	Want   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid argument %q: %s (expected %s)", e.Param, e.Reason, e.Want)
	}
	return fmt.Sprintf("invalid argument %q: expected %s", e.Param, e.Want)
}

// TemplateError indicates a misconfigured tool template. This is a
// programming defect in a ToolSpec, not a caller error.
type TemplateError struct {
	Tool  string
	Cause error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("tool %q template error: %v", e.Tool, e.Cause)
}

func (e *TemplateError) Unwrap() error { return e.Cause }

// TransientError is a retryable backend failure: rate limiting, a 5xx
// response, or a network fault. Exhausted retries demote it to a per-scope
// error.
type TransientError struct {
	Status int
	// RetryAfter is the server-requested delay from a Retry-After header,
	// zero when the header was absent.
	RetryAfter time.Duration
	Cause      error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient backend failure (status %d): %v", e.Status, e.Cause)
	}
	return fmt.Sprintf("transient backend failure: %v", e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// AuthError is a 401/403-class backend response. The executor refreshes the
// cached token and retries once; a second consecutive AuthError is fatal for
// the scope.
type AuthError struct {
	Scope  string
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for scope %q (status %d)", e.Scope, e.Status)
}

// UnknownToolError reports an invocation naming a tool that is not
// registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// ScopeError describes a per-scope failure surfaced alongside data from the
// scopes that succeeded.
type ScopeError struct {
	Scope   string `json:"scope"`
	Message string `json:"message"`
}
