package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	LogLevel string

	// Default scopes used when an invocation does not carry its own.
	DefaultSubscriptionID string
	DefaultWorkspaceID    string

	// Azure AD client-credential settings. Empty values disable the
	// client-secret provider and the chain falls through to managed identity.
	TenantID     string
	ClientID     string
	ClientSecret string

	ToolTimeout         time.Duration
	MaxRetries          int
	MaxRows             int
	MaxConcurrentScopes int
	TokenRefreshMargin  time.Duration
	DefaultTimespan     string

	AnomalyThreshold  float64
	AnomalyMinSamples int
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:                  8080,
		LogLevel:              "info",
		DefaultSubscriptionID: os.Getenv("SUBSCRIPTION_ID"),
		DefaultWorkspaceID:    os.Getenv("WORKSPACE_ID"),
		TenantID:              os.Getenv("AZURE_TENANT_ID"),
		ClientID:              os.Getenv("AZURE_CLIENT_ID"),
		ClientSecret:          os.Getenv("AZURE_CLIENT_SECRET"),
		ToolTimeout:           60 * time.Second,
		MaxRetries:            4,
		MaxRows:               5000,
		MaxConcurrentScopes:   5,
		TokenRefreshMargin:    5 * time.Minute,
		DefaultTimespan:       "30d",
		AnomalyThreshold:      3.0,
		AnomalyMinSamples:     5,
	}

	if p := os.Getenv("PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			cfg.Port = v
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TOOL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ToolTimeout = d
		}
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("MAX_ROWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			cfg.MaxRows = n
		}
	}
	if v := os.Getenv("MAX_CONCURRENT_SCOPES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			if n < 1 {
				n = 1
			} else if n > 20 {
				n = 20
			}
			cfg.MaxConcurrentScopes = n
		}
	}
	if v := os.Getenv("TOKEN_REFRESH_MARGIN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TokenRefreshMargin = d
		}
	}
	if v := os.Getenv("QUERY_TIMESPAN"); v != "" {
		cfg.DefaultTimespan = v
	}
	if v := os.Getenv("ANOMALY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.AnomalyThreshold = f
		}
	}
	if v := os.Getenv("ANOMALY_MIN_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 2 {
			cfg.AnomalyMinSamples = n
		}
	}

	return cfg, nil
}

// SetupLogging initializes the global slog logger with JSON output at the specified level.
func SetupLogging(level string) {
	var slogLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(handler))
}
