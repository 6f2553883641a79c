package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4ops/fleet-mcp/pkg/anomaly"
	"github.com/ai4ops/fleet-mcp/pkg/backend"
	"github.com/ai4ops/fleet-mcp/pkg/config"
)

func TestNewCatalog(t *testing.T) {
	cfg := &config.Config{DefaultTimespan: "30d"}
	execs := Executors{
		Inventory:             &fakeExecutor{},
		Logs:                  &fakeExecutor{},
		DefaultSubscriptionID: "sub-a",
		DefaultWorkspaceID:    "ws-a",
	}
	detector := anomaly.NewDetector(3.0, 5)

	catalog, err := NewCatalog(cfg, execs, detector)
	require.NoError(t, err)

	want := []string{
		"resource_graph_query",
		"log_analytics_query",
		"GetServerMetadata",
		"GetSqlMetadata",
		"GetPatchingLevel",
		"GetSqlBpAssessment",
		"GetSwChangesList",
		"GetSwConfig",
		"GetWinBpAssessment",
		"GetAnomalies",
	}
	require.Len(t, catalog, len(want))

	byName := make(map[string]Tool, len(catalog))
	for _, tool := range catalog {
		byName[tool.Name()] = tool
	}
	for _, name := range want {
		tool, ok := byName[name]
		require.True(t, ok, "catalog missing tool %q", name)
		assert.NotEmpty(t, tool.Description(), "tool %q has no description", name)
		assert.Equal(t, "object", tool.InputSchema()["type"], "tool %q schema", name)
	}
}

func TestCatalogSchemas(t *testing.T) {
	cfg := &config.Config{DefaultTimespan: "30d"}
	catalog, err := NewCatalog(cfg, Executors{
		Inventory: &fakeExecutor{},
		Logs:      &fakeExecutor{},
	}, anomaly.NewDetector(3.0, 5))
	require.NoError(t, err)

	byName := make(map[string]Tool, len(catalog))
	for _, tool := range catalog {
		byName[tool.Name()] = tool
	}

	// The raw query tools require the query text.
	for _, name := range []string{"resource_graph_query", "log_analytics_query"} {
		schema := byName[name].InputSchema()
		require.Contains(t, schema, "required", "tool %q", name)
		assert.Contains(t, schema["required"], "query", "tool %q", name)
	}

	// The per-server tools require the server name.
	for _, name := range []string{"GetSwChangesList", "GetSwConfig"} {
		schema := byName[name].InputSchema()
		require.Contains(t, schema, "required", "tool %q", name)
		assert.Contains(t, schema["required"], "server_name", "tool %q", name)
	}

	// Inventory tools take subscription ids, never a workspace.
	props := byName["GetServerMetadata"].InputSchema()["properties"].(map[string]any)
	assert.Contains(t, props, "subscription_ids")
	assert.NotContains(t, props, "workspace_id")

	// Logs tools take a workspace, never subscription ids.
	props = byName["GetAnomalies"].InputSchema()["properties"].(map[string]any)
	assert.Contains(t, props, "workspace_id")
	assert.Contains(t, props, "timespan")
	assert.NotContains(t, props, "subscription_ids")
}

func TestCatalogAnomalyToolEmptyData(t *testing.T) {
	logs := &fakeExecutor{
		respond: func(_ string, scopes []string) []backend.ScopeResult {
			results := make([]backend.ScopeResult, len(scopes))
			for i, s := range scopes {
				results[i] = backend.ScopeResult{Scope: s, Rows: []backend.Row{}}
			}
			return results
		},
	}
	cfg := &config.Config{DefaultTimespan: "30d"}
	catalog, err := NewCatalog(cfg, Executors{
		Inventory:          &fakeExecutor{},
		Logs:               logs,
		DefaultWorkspaceID: "ws-a",
	}, anomaly.NewDetector(3.0, 5))
	require.NoError(t, err)

	var anomalies Tool
	for _, tool := range catalog {
		if tool.Name() == "GetAnomalies" {
			anomalies = tool
		}
	}
	require.NotNil(t, anomalies)

	resp, err := anomalies.Run(context.Background(), map[string]any{})
	require.NoError(t, err)

	records, ok := resp.Data.([]anomaly.Record)
	require.True(t, ok, "data is %T, want []anomaly.Record even when empty", resp.Data)
	assert.Empty(t, records)
}
