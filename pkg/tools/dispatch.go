package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ai4ops/fleet-mcp/pkg/anomaly"
	"github.com/ai4ops/fleet-mcp/pkg/backend"
	"github.com/ai4ops/fleet-mcp/pkg/telemetry"
	"github.com/ai4ops/fleet-mcp/pkg/types"
)

// ErrorEnvelope is the uniform failure shape returned to callers. Nothing
// past the dispatch boundary ever sees a raw error.
type ErrorEnvelope struct {
	Error string `json:"error"`
}

// Dispatcher is the single entry point the transport uses: it looks up the
// tool, runs the validate/render/execute/normalize pipeline under the
// per-invocation timeout, and converts every failure into the uniform
// {"error": ...} envelope.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
	meters   *telemetry.Meters
}

func NewDispatcher(registry *Registry, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		timeout:  timeout,
		logger:   slog.Default(),
	}
}

// SetMeters attaches OTel instruments for domain metrics. Nil meters keep
// dispatch fully functional.
func (d *Dispatcher) SetMeters(m *telemetry.Meters) { d.meters = m }

// Dispatch invokes a tool by name and returns the JSON-encoded response.
// The boolean reports whether the payload is an error envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) (string, bool) {
	tool, ok := d.registry.Get(name)
	if !ok {
		return d.fail(name, &types.UnknownToolError{Name: name})
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := tool.Run(ctx, args)
	if err != nil {
		return d.fail(name, err)
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return d.fail(name, err)
	}

	d.recordDomainMetrics(ctx, name, resp)
	d.logger.Debug("dispatch: tool complete", "tool", name, "duration", time.Since(start), "scope_errors", len(resp.Errors))
	return string(payload), false
}

func (d *Dispatcher) recordDomainMetrics(ctx context.Context, name string, resp *Response) {
	if d.meters == nil {
		return
	}
	toolAttr := telemetry.WithAttrs(attribute.String("gen_ai.tool.name", name))
	if len(resp.Errors) > 0 {
		d.meters.ScopeErrors.Add(ctx, int64(len(resp.Errors)), toolAttr)
	}
	switch data := resp.Data.(type) {
	case []backend.Row:
		d.meters.RowsFetched.Add(ctx, int64(len(data)), toolAttr)
	case []anomaly.Record:
		d.meters.RowsFetched.Add(ctx, int64(len(data)), toolAttr)
		anomalous := 0
		for _, r := range data {
			if r.Classification == anomaly.ClassificationAnomalous {
				anomalous++
			}
		}
		if anomalous > 0 {
			d.meters.Anomalies.Add(ctx, int64(anomalous), toolAttr)
		}
	}
}

func (d *Dispatcher) fail(name string, err error) (string, bool) {
	d.logger.Warn("dispatch: tool failed", "tool", name, "code", ErrorCode(err), "error", err)
	payload, merr := json.Marshal(ErrorEnvelope{Error: err.Error()})
	if merr != nil {
		return `{"error": "internal error"}`, true
	}
	return string(payload), true
}

// ErrorCode maps an error onto the taxonomy code constants, for logs and
// metrics labels.
func ErrorCode(err error) string {
	var (
		ve *types.ValidationError
		te *types.TemplateError
		tr *types.TransientError
		ae *types.AuthError
		ue *types.UnknownToolError
	)
	switch {
	case errors.As(err, &ve):
		return types.ErrCodeValidation
	case errors.As(err, &te):
		return types.ErrCodeTemplate
	case errors.As(err, &tr):
		return types.ErrCodeTransient
	case errors.As(err, &ae):
		return types.ErrCodeAuthFailed
	case errors.As(err, &ue):
		return types.ErrCodeUnknownTool
	case errors.Is(err, context.DeadlineExceeded):
		return types.ErrCodeTimeout
	default:
		return types.ErrCodeInternal
	}
}
