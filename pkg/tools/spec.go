package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ai4ops/fleet-mcp/pkg/backend"
	"github.com/ai4ops/fleet-mcp/pkg/normalize"
	"github.com/ai4ops/fleet-mcp/pkg/query"
	"github.com/ai4ops/fleet-mcp/pkg/types"
)

// BackendKind selects which query backend a tool targets.
type BackendKind int

const (
	// BackendInventory is the Resource Graph backend, scoped by
	// subscription ids.
	BackendInventory BackendKind = iota
	// BackendLogs is the Log Analytics backend, scoped by workspace id.
	BackendLogs
)

// ToolSpec declares one tool: its parameter schema, query template, target
// backend, output shape, and optional post-processing. Specs are immutable
// and registered once at process start.
type ToolSpec struct {
	Name        string
	Description string
	Params      []query.Param
	Template    string
	Backend     BackendKind

	// Columns is the declared output column set. Empty means passthrough:
	// the raw query tools, whose shape is the opaque query's projection.
	Columns []string
	// ScopeColumn, when set, tags each row with its originating scope.
	ScopeColumn string
	// TimeColumn, when set, sorts normalized rows ascending by that column.
	TimeColumn string
	// RowCap bounds rows per scope; zero means the executor default.
	RowCap int
	// PassTimespan forwards the validated "timespan" argument to the
	// backend request instead of (or in addition to) template binding.
	PassTimespan bool
	// PostProcess derives the final data payload from the normalized rows
	// (the anomaly tool). Nil means the rows themselves are the payload.
	PostProcess func(rows []backend.Row) (any, error)
}

// Executors bundles the two backend executors and the default scopes used
// when an invocation does not carry its own.
type Executors struct {
	Inventory backend.Executor
	Logs      backend.Executor

	DefaultSubscriptionID string
	DefaultWorkspaceID    string
}

// SpecTool adapts a ToolSpec into a runnable Tool. The Run pipeline is
// validate, resolve scopes, render, execute, normalize, post-process.
type SpecTool struct {
	spec   ToolSpec
	tmpl   *template.Template
	execs  Executors
	schema map[string]any
	logger *slog.Logger
}

// NewSpecTool compiles a ToolSpec. The query template and the generated
// JSON input schema are both compiled here so a misconfigured spec fails at
// startup, not at dispatch time.
func NewSpecTool(spec ToolSpec, execs Executors) (*SpecTool, error) {
	tmpl, err := query.ParseTemplate(spec.Name, spec.Template)
	if err != nil {
		return nil, &types.TemplateError{Tool: spec.Name, Cause: err}
	}

	schema := query.JSONSchema(spec.Params)
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("tool %q: failed to encode input schema: %w", spec.Name, err)
	}
	if _, err := jsonschema.CompileString(spec.Name+".json", string(schemaJSON)); err != nil {
		return nil, fmt.Errorf("tool %q: invalid input schema: %w", spec.Name, err)
	}

	return &SpecTool{
		spec:   spec,
		tmpl:   tmpl,
		execs:  execs,
		schema: schema,
		logger: slog.Default(),
	}, nil
}

func (t *SpecTool) Name() string                { return t.spec.Name }
func (t *SpecTool) Description() string         { return t.spec.Description }
func (t *SpecTool) InputSchema() map[string]any { return t.schema }

func (t *SpecTool) Run(ctx context.Context, args map[string]any) (*Response, error) {
	accepted, err := query.ValidateArgs(t.spec.Params, args)
	if err != nil {
		return nil, err
	}

	scopes, err := t.resolveScopes(accepted)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		// An explicitly empty scope list short-circuits: no backend call.
		return NewResponse(t.spec.Name, []backend.Row{}, nil), nil
	}

	queryText, err := query.Render(t.tmpl, accepted)
	if err != nil {
		return nil, err
	}

	opts := backend.Options{MaxRows: t.spec.RowCap}
	if t.spec.PassTimespan {
		if ts, ok := accepted["timespan"].(string); ok {
			opts.Timespan = ts
		}
	}

	t.logger.Debug("tool: executing query", "tool", t.spec.Name, "scopes", len(scopes))
	results := t.executor().Execute(ctx, queryText, scopes, opts)

	res := normalize.Project(results, t.spec.Columns, t.spec.ScopeColumn)
	if t.spec.TimeColumn != "" {
		normalize.SortByTime(res.Rows, t.spec.TimeColumn)
	}

	data := any(res.Rows)
	if t.spec.PostProcess != nil {
		data, err = t.spec.PostProcess(res.Rows)
		if err != nil {
			return nil, err
		}
	}
	return NewResponse(t.spec.Name, data, res.Errors), nil
}

func (t *SpecTool) executor() backend.Executor {
	if t.spec.Backend == BackendLogs {
		return t.execs.Logs
	}
	return t.execs.Inventory
}

// resolveScopes derives the scope list from the validated arguments. An
// absent scope argument falls back to the configured default scope; when
// neither exists validation fails. An explicitly empty subscription list is
// honored as "no scopes".
func (t *SpecTool) resolveScopes(accepted map[string]any) ([]string, error) {
	if t.spec.Backend == BackendLogs {
		if v, ok := accepted["workspace_id"].(string); ok && v != "" {
			return []string{v}, nil
		}
		if t.execs.DefaultWorkspaceID != "" {
			return []string{t.execs.DefaultWorkspaceID}, nil
		}
		return nil, &types.ValidationError{
			Param:  "workspace_id",
			Want:   "string",
			Reason: "missing and no default workspace configured",
		}
	}

	if v, ok := accepted["subscription_ids"]; ok {
		ids, _ := v.([]string)
		return ids, nil
	}
	if t.execs.DefaultSubscriptionID != "" {
		return []string{t.execs.DefaultSubscriptionID}, nil
	}
	return nil, &types.ValidationError{
		Param:  "subscription_ids",
		Want:   "array of strings",
		Reason: "missing and no default subscription configured",
	}
}
