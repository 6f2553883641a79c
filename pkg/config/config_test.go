package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.ToolTimeout != 60*time.Second {
		t.Errorf("ToolTimeout = %v, want 60s", cfg.ToolTimeout)
	}
	if cfg.MaxRetries != 4 {
		t.Errorf("MaxRetries = %d, want 4", cfg.MaxRetries)
	}
	if cfg.MaxRows != 5000 {
		t.Errorf("MaxRows = %d, want 5000", cfg.MaxRows)
	}
	if cfg.DefaultTimespan != "30d" {
		t.Errorf("DefaultTimespan = %q, want 30d", cfg.DefaultTimespan)
	}
	if cfg.AnomalyThreshold != 3.0 {
		t.Errorf("AnomalyThreshold = %v, want 3.0", cfg.AnomalyThreshold)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SUBSCRIPTION_ID", "sub-env")
	t.Setenv("WORKSPACE_ID", "ws-env")
	t.Setenv("TOOL_TIMEOUT", "30s")
	t.Setenv("QUERY_TIMESPAN", "7d")
	t.Setenv("ANOMALY_THRESHOLD", "2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.DefaultSubscriptionID != "sub-env" {
		t.Errorf("DefaultSubscriptionID = %q", cfg.DefaultSubscriptionID)
	}
	if cfg.DefaultWorkspaceID != "ws-env" {
		t.Errorf("DefaultWorkspaceID = %q", cfg.DefaultWorkspaceID)
	}
	if cfg.ToolTimeout != 30*time.Second {
		t.Errorf("ToolTimeout = %v, want 30s", cfg.ToolTimeout)
	}
	if cfg.DefaultTimespan != "7d" {
		t.Errorf("DefaultTimespan = %q, want 7d", cfg.DefaultTimespan)
	}
	if cfg.AnomalyThreshold != 2.5 {
		t.Errorf("AnomalyThreshold = %v, want 2.5", cfg.AnomalyThreshold)
	}
}

func TestLoadClampsConcurrency(t *testing.T) {
	tests := []struct {
		env  string
		want int
	}{
		{"0", 1},
		{"7", 7},
		{"100", 20},
	}
	for _, tt := range tests {
		t.Setenv("MAX_CONCURRENT_SCOPES", tt.env)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.MaxConcurrentScopes != tt.want {
			t.Errorf("MAX_CONCURRENT_SCOPES=%s: got %d, want %d", tt.env, cfg.MaxConcurrentScopes, tt.want)
		}
	}
}

func TestLoadIgnoresInvalidValues(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("MAX_RETRIES", "0")
	t.Setenv("ANOMALY_MIN_SAMPLES", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want the 8080 default kept", cfg.Port)
	}
	if cfg.MaxRetries != 4 {
		t.Errorf("MaxRetries = %d, want the default kept for out-of-range input", cfg.MaxRetries)
	}
	if cfg.AnomalyMinSamples != 5 {
		t.Errorf("AnomalyMinSamples = %d, want the default kept", cfg.AnomalyMinSamples)
	}
}
