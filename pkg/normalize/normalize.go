// Package normalize merges per-scope query results into a single ordered
// row set with a fixed column schema.
package normalize

import (
	"sort"
	"time"

	"github.com/ai4ops/fleet-mcp/pkg/backend"
	"github.com/ai4ops/fleet-mcp/pkg/types"
)

// Result is the normalized outcome of a multi-scope query: the concatenated
// rows of every successful scope plus a descriptor for every failed one.
type Result struct {
	Rows   []backend.Row
	Errors []types.ScopeError
}

// Project concatenates successful scopes in scope order, preserving each
// backend's native row order within a scope, and projects every row onto
// the declared columns: unknown backend columns are dropped and missing
// declared columns are set to an explicit null. An empty column set means
// passthrough (the raw query tools, whose shape is the opaque query's
// projection). When scopeColumn is non-empty each row is tagged with its
// originating scope under that column.
func Project(results []backend.ScopeResult, columns []string, scopeColumn string) Result {
	out := Result{
		Rows:   make([]backend.Row, 0),
		Errors: make([]types.ScopeError, 0),
	}

	for _, sr := range results {
		if sr.Err != nil {
			out.Errors = append(out.Errors, types.ScopeError{Scope: sr.Scope, Message: sr.Err.Error()})
			continue
		}
		for _, row := range sr.Rows {
			out.Rows = append(out.Rows, projectRow(row, columns, scopeColumn, sr.Scope))
		}
	}
	return out
}

func projectRow(row backend.Row, columns []string, scopeColumn, scope string) backend.Row {
	if len(columns) == 0 {
		if scopeColumn == "" {
			return row
		}
		tagged := make(backend.Row, len(row)+1)
		for k, v := range row {
			tagged[k] = v
		}
		tagged[scopeColumn] = scope
		return tagged
	}

	projected := make(backend.Row, len(columns)+1)
	for _, col := range columns {
		if v, ok := row[col]; ok {
			projected[col] = v
		} else {
			projected[col] = nil
		}
	}
	if scopeColumn != "" {
		projected[scopeColumn] = scope
	}
	return projected
}

// SortByTime sorts rows ascending by the named timestamp column. Used only
// by time-series tools; everything else keeps the merge order. The sort is
// stable so rows with equal (or unparseable) timestamps keep their relative
// order, which keeps repeated invocations deterministic.
func SortByTime(rows []backend.Row, column string) {
	sort.SliceStable(rows, func(i, j int) bool {
		ti, iok := rowTime(rows[i], column)
		tj, jok := rowTime(rows[j], column)
		if iok && jok {
			return ti.Before(tj)
		}
		// Unparseable timestamps sort after parseable ones.
		return iok && !jok
	})
}

// RowTime extracts and parses the timestamp column of a row.
func RowTime(row backend.Row, column string) (time.Time, bool) {
	return rowTime(row, column)
}

func rowTime(row backend.Row, column string) (time.Time, bool) {
	v, ok := row[column]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts, true
		}
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Float extracts a numeric column as float64, accepting the JSON number
// types the backends produce.
func Float(row backend.Row, column string) (float64, bool) {
	switch v := row[column].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// String extracts a string column.
func String(row backend.Row, column string) (string, bool) {
	s, ok := row[column].(string)
	return s, ok
}
