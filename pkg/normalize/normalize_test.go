package normalize

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ai4ops/fleet-mcp/pkg/backend"
)

func TestProject(t *testing.T) {
	results := []backend.ScopeResult{
		{
			Scope: "sub-a",
			Rows: []backend.Row{
				{"name": "vm-01", "osType": "Linux", "internalId": "x1"},
				{"name": "vm-02", "osType": "Windows"},
			},
		},
		{Scope: "sub-b", Err: errors.New("throttled")},
		{
			Scope: "sub-c",
			Rows:  []backend.Row{{"name": "vm-03"}},
		},
	}

	got := Project(results, []string{"name", "osType", "powerState"}, "subscriptionId")

	want := []backend.Row{
		{"name": "vm-01", "osType": "Linux", "powerState": nil, "subscriptionId": "sub-a"},
		{"name": "vm-02", "osType": "Windows", "powerState": nil, "subscriptionId": "sub-a"},
		{"name": "vm-03", "osType": nil, "powerState": nil, "subscriptionId": "sub-c"},
	}
	if !reflect.DeepEqual(got.Rows, want) {
		t.Errorf("rows = %#v, want %#v", got.Rows, want)
	}

	if len(got.Errors) != 1 {
		t.Fatalf("got %d scope errors, want 1", len(got.Errors))
	}
	if got.Errors[0].Scope != "sub-b" || got.Errors[0].Message != "throttled" {
		t.Errorf("scope error = %+v", got.Errors[0])
	}
}

func TestProjectPassthrough(t *testing.T) {
	results := []backend.ScopeResult{
		{Scope: "sub-a", Rows: []backend.Row{{"anything": 1.0, "goes": true}}},
	}

	got := Project(results, nil, "")
	want := []backend.Row{{"anything": 1.0, "goes": true}}
	if !reflect.DeepEqual(got.Rows, want) {
		t.Errorf("passthrough rows = %#v, want %#v", got.Rows, want)
	}
}

func TestProjectPassthroughWithScopeTag(t *testing.T) {
	row := backend.Row{"count_": 7.0}
	results := []backend.ScopeResult{{Scope: "sub-a", Rows: []backend.Row{row}}}

	got := Project(results, nil, "subscriptionId")
	if got.Rows[0]["subscriptionId"] != "sub-a" {
		t.Errorf("row not tagged with scope: %#v", got.Rows[0])
	}
	if _, tagged := row["subscriptionId"]; tagged {
		t.Error("Project mutated the source row")
	}
}

func TestProjectEmptyResults(t *testing.T) {
	got := Project(nil, []string{"name"}, "")
	if got.Rows == nil || got.Errors == nil {
		t.Error("empty input must yield empty, non-nil slices")
	}
	if len(got.Rows) != 0 || len(got.Errors) != 0 {
		t.Errorf("got %d rows, %d errors, want 0, 0", len(got.Rows), len(got.Errors))
	}
}

func TestProjectIsIdempotent(t *testing.T) {
	results := []backend.ScopeResult{
		{Scope: "sub-a", Rows: []backend.Row{{"name": "vm-01", "extra": "dropped"}}},
	}
	columns := []string{"name", "osType"}

	first := Project(results, columns, "subscriptionId")
	second := Project([]backend.ScopeResult{{Scope: "sub-a", Rows: first.Rows}}, columns, "subscriptionId")
	if !reflect.DeepEqual(first.Rows, second.Rows) {
		t.Errorf("re-projection changed rows: %#v vs %#v", first.Rows, second.Rows)
	}
}

func TestSortByTime(t *testing.T) {
	rows := []backend.Row{
		{"TimeGenerated": "2026-08-03T00:00:00Z", "n": 3.0},
		{"TimeGenerated": "garbage", "n": 99.0},
		{"TimeGenerated": "2026-08-01T00:00:00Z", "n": 1.0},
		{"TimeGenerated": "2026-08-02T00:00:00.500Z", "n": 2.0},
	}

	SortByTime(rows, "TimeGenerated")

	var order []float64
	for _, r := range rows {
		order = append(order, r["n"].(float64))
	}
	want := []float64{1.0, 2.0, 3.0, 99.0}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v (unparseable last)", order, want)
	}
}

func TestSortByTimeStable(t *testing.T) {
	rows := []backend.Row{
		{"TimeGenerated": "2026-08-01T00:00:00Z", "n": 1.0},
		{"TimeGenerated": "2026-08-01T00:00:00Z", "n": 2.0},
		{"TimeGenerated": "2026-08-01T00:00:00Z", "n": 3.0},
	}
	SortByTime(rows, "TimeGenerated")
	for i, r := range rows {
		if r["n"] != float64(i+1) {
			t.Fatalf("equal timestamps reordered: %#v", rows)
		}
	}
}
