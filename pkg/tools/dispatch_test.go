package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ai4ops/fleet-mcp/pkg/backend"
	"github.com/ai4ops/fleet-mcp/pkg/query"
	"github.com/ai4ops/fleet-mcp/pkg/types"
)

func newTestDispatcher(t *testing.T, exec *fakeExecutor) *Dispatcher {
	t.Helper()
	registry := NewRegistry()
	tool := newInventoryTool(t, inventorySpec(), Executors{
		Inventory:             exec,
		DefaultSubscriptionID: "sub-default",
	})
	registry.Register(tool)
	return NewDispatcher(registry, 5*time.Second)
}

func TestDispatchSuccess(t *testing.T) {
	exec := &fakeExecutor{}
	d := newTestDispatcher(t, exec)

	payload, isErr := d.Dispatch(context.Background(), "list_servers", map[string]any{})
	if isErr {
		t.Fatalf("dispatch failed: %s", payload)
	}

	var resp struct {
		Tool      string             `json:"tool"`
		Timestamp string             `json:"timestamp"`
		Data      []backend.Row      `json:"data"`
		Errors    []types.ScopeError `json:"errors"`
	}
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		t.Fatalf("payload is not valid JSON: %v\n%s", err, payload)
	}
	if resp.Tool != "list_servers" {
		t.Errorf("tool = %q", resp.Tool)
	}
	if _, err := time.Parse(time.RFC3339, resp.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339", resp.Timestamp)
	}
	if len(resp.Data) != 1 {
		t.Errorf("data has %d rows, want 1", len(resp.Data))
	}
	if resp.Errors == nil || len(resp.Errors) != 0 {
		t.Errorf("errors = %#v, want present and empty", resp.Errors)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	exec := &fakeExecutor{}
	d := newTestDispatcher(t, exec)

	payload, isErr := d.Dispatch(context.Background(), "DoesNotExist", map[string]any{})
	if !isErr {
		t.Fatal("expected error envelope for unknown tool")
	}

	var env ErrorEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\n%s", err, payload)
	}
	if env.Error == "" {
		t.Error("envelope has empty error message")
	}
	if exec.callCount() != 0 {
		t.Error("backend called for an unknown tool")
	}
}

func TestDispatchValidationFailure(t *testing.T) {
	exec := &fakeExecutor{}
	registry := NewRegistry()
	spec := inventorySpec()
	spec.Params = append(spec.Params, query.Param{Name: "server_name", Kind: query.KindString, Required: true})
	registry.Register(newInventoryTool(t, spec, Executors{Inventory: exec, DefaultSubscriptionID: "sub-a"}))
	d := NewDispatcher(registry, 5*time.Second)

	payload, isErr := d.Dispatch(context.Background(), "list_servers", map[string]any{})
	if !isErr {
		t.Fatal("expected error envelope for missing required argument")
	}
	var env ErrorEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v", err)
	}
	if exec.callCount() != 0 {
		t.Error("backend called despite validation failure")
	}
}

func TestDispatchErrorMessageSurvivesQuotes(t *testing.T) {
	d := newTestDispatcher(t, &fakeExecutor{})

	payload, isErr := d.Dispatch(context.Background(), `tool"with'quotes`, nil)
	if !isErr {
		t.Fatal("expected error envelope")
	}
	var env ErrorEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		t.Fatalf("envelope with quoted tool name is not valid JSON: %v\n%s", err, payload)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", &types.ValidationError{Param: "x"}, types.ErrCodeValidation},
		{"template", &types.TemplateError{Tool: "x"}, types.ErrCodeTemplate},
		{"transient", &types.TransientError{Status: 503}, types.ErrCodeTransient},
		{"auth", &types.AuthError{Scope: "s"}, types.ErrCodeAuthFailed},
		{"unknown tool", &types.UnknownToolError{Name: "x"}, types.ErrCodeUnknownTool},
		{"timeout", context.DeadlineExceeded, types.ErrCodeTimeout},
		{"wrapped timeout", errors.Join(errors.New("run"), context.DeadlineExceeded), types.ErrCodeTimeout},
		{"anything else", errors.New("boom"), types.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.want {
				t.Errorf("ErrorCode = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegistryList(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		spec := inventorySpec()
		spec.Name = name
		registry.Register(newInventoryTool(t, spec, Executors{}))
	}

	list := registry.List()
	if len(list) != 3 {
		t.Fatalf("got %d tools, want 3", len(list))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if list[i].Name() != want {
			t.Errorf("list[%d] = %q, want %q", i, list[i].Name(), want)
		}
	}
}
