package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/ai4ops/fleet-mcp/pkg/telemetry"
	"github.com/ai4ops/fleet-mcp/pkg/tools"
)

const (
	mcpProtocolVersion = "2025-03-26"
	maxResultAttrLen   = 1024
)

// sensitiveKeys are argument key substrings that should be redacted from span attributes.
var sensitiveKeys = []string{"secret", "token", "key", "password", "credential"}

type Server struct {
	mcpServer  *mcp.Server
	httpServer *http.Server
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	meters     *telemetry.Meters
}

func NewServer(registry *tools.Registry, dispatcher *tools.Dispatcher) *Server {
	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "fleet-mcp",
		Version: "1.0.0",
	}, nil)

	meters, err := telemetry.NewMeters()
	if err != nil {
		slog.Warn("mcp: failed to create OTel meters, metrics will be unavailable", "error", err)
	} else {
		dispatcher.SetMeters(meters)
	}

	s := &Server{
		mcpServer:  mcpServer,
		registry:   registry,
		dispatcher: dispatcher,
		meters:     meters,
	}
	s.registerTools()
	return s
}

// registerTools publishes the catalog to the MCP server. The catalog is
// static: registration happens once at startup.
func (s *Server) registerTools() {
	registered := 0
	for _, t := range s.registry.List() {
		s.mcpServer.AddTool(buildMCPTool(t), s.buildInstrumentedHandler(t.Name()))
		registered++
	}
	slog.Info("mcp: registered tools", "total", registered)
}

func (s *Server) Start(addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("mcp: starting Streamable HTTP server", "addr", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func buildMCPTool(t tools.Tool) *mcp.Tool {
	schema := t.InputSchema()
	schemaJSON, _ := json.Marshal(schema)

	tool := &mcp.Tool{
		Name:        t.Name(),
		Description: t.Description(),
	}

	// Parse the JSON schema into the go-sdk's jsonschema.Schema type
	if err := json.Unmarshal(schemaJSON, &tool.InputSchema); err != nil {
		slog.Warn("mcp: failed to parse input schema", "tool", t.Name(), "error", err)
	}

	return tool
}

// buildInstrumentedHandler creates a ToolHandler that wraps dispatch
// with OTel spans, metrics, and context propagation per GenAI + MCP semantic conventions.
func (s *Server) buildInstrumentedHandler(toolName string) mcp.ToolHandler {
	tracer := otel.Tracer("fleet-mcp")

	return func(ctx context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		// --- Context Propagation: extract traceparent/tracestate from params._meta ---
		meta := request.Params.GetMeta()
		if meta != nil {
			carrier := propagation.MapCarrier{}
			for k, v := range meta {
				if str, ok := v.(string); ok {
					carrier.Set(k, str)
				}
			}
			ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)
		}

		// --- Extract session ID ---
		sessionID := ""
		if request.Session != nil {
			sessionID = request.Session.ID()
		}

		// --- Start span following GenAI + MCP semantic conventions ---
		spanName := fmt.Sprintf("execute_tool %s", toolName)
		ctx, span := tracer.Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		// Set GenAI + MCP span attributes
		span.SetAttributes(
			attribute.String("gen_ai.operation.name", "execute_tool"),
			attribute.String("gen_ai.tool.name", toolName),
			attribute.String("mcp.method.name", "tools/call"),
			attribute.String("mcp.protocol.version", mcpProtocolVersion),
			attribute.String("mcp.session.id", sessionID),
		)

		// --- Unmarshal arguments ---
		var args map[string]any
		if request.Params.Arguments != nil {
			if err := json.Unmarshal(request.Params.Arguments, &args); err != nil {
				s.recordError(ctx, span, toolName, "INVALID_ARGUMENTS", err)
				envelope, _ := json.Marshal(tools.ErrorEnvelope{Error: fmt.Sprintf("failed to parse arguments: %v", err)})
				return errorResult(string(envelope)), nil
			}
		}
		if args == nil {
			args = make(map[string]any)
		}

		// Set sanitized arguments as span attribute
		span.SetAttributes(attribute.String("gen_ai.tool.call.arguments", sanitizeArgs(args)))

		// --- Dispatch with timing ---
		start := time.Now()
		payload, isErr := s.dispatcher.Dispatch(ctx, toolName, args)
		duration := time.Since(start).Seconds()

		if isErr {
			s.recordMetrics(ctx, toolName, "tool_error", duration)
			span.SetStatus(codes.Error, payload)
			span.SetAttributes(attribute.String("error.type", "tool_error"))
			if s.meters != nil {
				s.meters.ErrorsTotal.Add(ctx, 1, telemetry.WithAttrs(
					attribute.String("gen_ai.tool.name", toolName),
				))
			}
			return errorResult(payload), nil
		}

		s.recordMetrics(ctx, toolName, "", duration)
		span.SetStatus(codes.Ok, "")

		// Set truncated result as span attribute
		resultStr := payload
		if len(resultStr) > maxResultAttrLen {
			resultStr = resultStr[:maxResultAttrLen]
		}
		span.SetAttributes(attribute.String("gen_ai.tool.call.result", resultStr))

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: payload}},
		}, nil
	}
}

func errorResult(payload string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: payload}},
		IsError: true,
	}
}

// recordMetrics records GenAI request duration and count metrics.
func (s *Server) recordMetrics(ctx context.Context, toolName, errType string, duration float64) {
	if s.meters == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("gen_ai.tool.name", toolName),
	}
	if errType != "" {
		attrs = append(attrs, attribute.String("error.type", errType))
	}
	s.meters.RequestDuration.Record(ctx, duration, telemetry.WithAttrs(attrs...))
	s.meters.RequestCount.Add(ctx, 1, telemetry.WithAttrs(attrs...))
}

// recordError records error metrics and sets span error status.
func (s *Server) recordError(ctx context.Context, span trace.Span, toolName, errType string, err error) {
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("error.type", errType))
	span.RecordError(err)

	if s.meters == nil {
		return
	}
	s.meters.ErrorsTotal.Add(ctx, 1, telemetry.WithAttrs(
		attribute.String("error.code", errType),
		attribute.String("gen_ai.tool.name", toolName),
	))
}

// sanitizeArgs returns a JSON string of the arguments with sensitive values redacted.
func sanitizeArgs(args map[string]any) string {
	sanitized := make(map[string]any, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			sanitized[k] = "[REDACTED]"
		} else {
			sanitized[k] = v
		}
	}
	b, err := json.Marshal(sanitized)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// isSensitiveKey checks if a key name suggests it contains sensitive data.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
