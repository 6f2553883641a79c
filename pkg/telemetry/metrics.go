package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// WithAttrs returns a metric.MeasurementOption from attribute key-value pairs.
func WithAttrs(attrs ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(attrs...)
}

// InitMeterProvider initializes the OTLP metric exporter when
// OTEL_EXPORTER_OTLP_ENDPOINT is set; otherwise metrics stay on the noop
// provider. Returns a shutdown function that flushes pending metrics.
func InitMeterProvider(ctx context.Context) (func(context.Context) error, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return func(ctx context.Context) error { return nil }, nil
	}

	exporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(mp)

	slog.Info("telemetry: metrics enabled", "endpoint", endpoint)
	return mp.Shutdown, nil
}

// Meters holds pre-created OTel metric instruments for MCP server instrumentation.
type Meters struct {
	// GenAI semantic convention metrics
	RequestDuration metric.Float64Histogram
	RequestCount    metric.Int64Counter

	// Custom domain metrics
	RowsFetched metric.Int64Counter
	ScopeErrors metric.Int64Counter
	Anomalies   metric.Int64Counter
	ErrorsTotal metric.Int64Counter
}

// NewMeters creates all OTel metric instruments for MCP server instrumentation.
func NewMeters() (*Meters, error) {
	meter := otel.Meter(serviceName)

	requestDuration, err := meter.Float64Histogram(
		"gen_ai.server.request.duration",
		metric.WithDescription("Duration of MCP tool call execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	requestCount, err := meter.Int64Counter(
		"gen_ai.server.request.count",
		metric.WithDescription("Number of MCP tool call requests"),
	)
	if err != nil {
		return nil, err
	}

	rowsFetched, err := meter.Int64Counter(
		"fleet.rows.fetched",
		metric.WithDescription("Normalized rows returned to callers"),
	)
	if err != nil {
		return nil, err
	}

	scopeErrors, err := meter.Int64Counter(
		"fleet.scope.errors",
		metric.WithDescription("Per-scope backend failures surfaced in responses"),
	)
	if err != nil {
		return nil, err
	}

	anomalies, err := meter.Int64Counter(
		"fleet.anomalies.detected",
		metric.WithDescription("Samples classified anomalous"),
	)
	if err != nil {
		return nil, err
	}

	errorsTotal, err := meter.Int64Counter(
		"fleet.errors.total",
		metric.WithDescription("Total tool execution errors"),
	)
	if err != nil {
		return nil, err
	}

	return &Meters{
		RequestDuration: requestDuration,
		RequestCount:    requestCount,
		RowsFetched:     rowsFetched,
		ScopeErrors:     scopeErrors,
		Anomalies:       anomalies,
		ErrorsTotal:     errorsTotal,
	}, nil
}
