package backend

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ai4ops/fleet-mcp/pkg/types"
)

const (
	defaultRequestTimeout = 90 * time.Second
	maxErrorBody          = 4 << 10
)

// newHTTPClient builds the outbound client used by both executors, with the
// OTel transport so each backend call shows up as a child span.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   defaultRequestTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// responseError maps a non-2xx backend response onto the error taxonomy:
// 429/5xx transient, 401/403 auth, anything else permanent.
func responseError(scope string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &types.TransientError{
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Cause:      fmt.Errorf("backend returned %d: %s", resp.StatusCode, string(body)),
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &types.AuthError{Scope: scope, Status: resp.StatusCode}
	default:
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, string(body))
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// isAuthError reports whether err is a 401/403-class failure.
func isAuthError(err error) bool {
	var ae *types.AuthError
	return errors.As(err, &ae)
}
