package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ai4ops/fleet-mcp/pkg/anomaly"
	"github.com/ai4ops/fleet-mcp/pkg/auth"
	"github.com/ai4ops/fleet-mcp/pkg/backend"
	"github.com/ai4ops/fleet-mcp/pkg/config"
	mcpserver "github.com/ai4ops/fleet-mcp/pkg/mcp"
	"github.com/ai4ops/fleet-mcp/pkg/telemetry"
	"github.com/ai4ops/fleet-mcp/pkg/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	config.SetupLogging(cfg.LogLevel)

	slog.Info("starting fleet-mcp server", "port", cfg.Port)

	// Initialize OpenTelemetry tracer and meter provider
	tracerShutdown, err := telemetry.InitTracer(context.Background())
	if err != nil {
		slog.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	meterShutdown, err := telemetry.InitMeterProvider(context.Background())
	if err != nil {
		slog.Error("failed to initialize meter provider", "error", err)
		os.Exit(1)
	}

	// Credential chain: explicit client secret first, managed identity as
	// fallback; cached with coalesced refresh and a pre-expiry margin.
	credentials := auth.NewCachedProvider(
		&auth.ChainedProvider{
			Providers: []auth.TokenProvider{
				&auth.ClientSecretProvider{
					TenantID:     cfg.TenantID,
					ClientID:     cfg.ClientID,
					ClientSecret: cfg.ClientSecret,
				},
				&auth.ManagedIdentityProvider{},
			},
		},
		auth.WithRefreshMargin(cfg.TokenRefreshMargin),
	)

	// Backend executors
	graph := backend.NewGraphClient(credentials,
		backend.WithGraphMaxAttempts(cfg.MaxRetries),
		backend.WithGraphMaxRows(cfg.MaxRows),
		backend.WithGraphConcurrency(cfg.MaxConcurrentScopes),
	)
	logs := backend.NewLogsClient(credentials,
		backend.WithLogsMaxAttempts(cfg.MaxRetries),
		backend.WithLogsMaxRows(cfg.MaxRows),
		backend.WithLogsConcurrency(cfg.MaxConcurrentScopes),
	)

	detector := anomaly.NewDetector(cfg.AnomalyThreshold, cfg.AnomalyMinSamples)

	// Build the static tool catalog and dispatch table
	catalog, err := tools.NewCatalog(cfg, tools.Executors{
		Inventory:             graph,
		Logs:                  logs,
		DefaultSubscriptionID: cfg.DefaultSubscriptionID,
		DefaultWorkspaceID:    cfg.DefaultWorkspaceID,
	}, detector)
	if err != nil {
		slog.Error("failed to build tool catalog", "error", err)
		os.Exit(1)
	}

	registry := tools.NewRegistry()
	for _, t := range catalog {
		registry.Register(t)
	}

	dispatcher := tools.NewDispatcher(registry, cfg.ToolTimeout)

	// Create MCP server
	srv := mcpserver.NewServer(registry, dispatcher)

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Health check endpoints
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	healthMux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	// Start health check server on a separate port
	go func() {
		healthAddr := fmt.Sprintf(":%d", cfg.Port+1)
		slog.Info("health check server listening", "addr", healthAddr)
		if err := http.ListenAndServe(healthAddr, healthMux); err != nil && err != http.ErrServerClosed {
			slog.Error("health server error", "error", err)
		}
	}()

	// Start MCP Streamable HTTP server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("MCP server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("server ready", "port", cfg.Port, "tools", len(catalog))

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	// Flush pending OTel spans and metrics before exit
	if err := tracerShutdown(shutdownCtx); err != nil {
		slog.Error("tracer shutdown error", "error", err)
	}
	if err := meterShutdown(shutdownCtx); err != nil {
		slog.Error("meter shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
