package query

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/ai4ops/fleet-mcp/pkg/types"
)

// Kind is the declared type of a tool parameter.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	// KindDuration is a KQL timespan literal such as "30d", "12h", "45m".
	KindDuration
	KindStringArray
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "integer"
	case KindFloat:
		return "number"
	case KindBool:
		return "boolean"
	case KindDuration:
		return "duration"
	case KindStringArray:
		return "array of strings"
	default:
		return "unknown"
	}
}

// Param declares one tool parameter.
type Param struct {
	Name        string
	Description string
	Kind        Kind
	Required    bool
	// Default is applied when an optional parameter is absent. Nil means
	// the parameter is simply omitted from the accepted map.
	Default any
}

var timespanRe = regexp.MustCompile(`^[0-9]+[dhm]$`)

// ValidateArgs checks caller-supplied arguments against the declared
// parameters and returns an accepted, type-coerced argument map. Unknown
// arguments are ignored for forward compatibility. Missing required
// parameters and uncoercible values fail with a ValidationError naming the
// parameter.
func ValidateArgs(params []Param, args map[string]any) (map[string]any, error) {
	accepted := make(map[string]any, len(params))
	for _, p := range params {
		raw, present := args[p.Name]
		if !present || raw == nil {
			if p.Required {
				return nil, &types.ValidationError{Param: p.Name, Want: p.Kind.String(), Reason: "missing required parameter"}
			}
			if p.Default != nil {
				accepted[p.Name] = p.Default
			}
			continue
		}

		coerced, err := coerce(p, raw)
		if err != nil {
			return nil, err
		}
		accepted[p.Name] = coerced
	}
	return accepted, nil
}

func coerce(p Param, raw any) (any, error) {
	fail := func(reason string) (any, error) {
		return nil, &types.ValidationError{Param: p.Name, Want: p.Kind.String(), Reason: reason}
	}

	switch p.Kind {
	case KindString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		}
		return fail(fmt.Sprintf("got %T", raw))

	case KindInt:
		switch v := raw.(type) {
		case float64:
			if v != float64(int64(v)) {
				return fail(fmt.Sprintf("got non-integral number %v", v))
			}
			return int(v), nil
		case int:
			return v, nil
		case string:
			n, err := strconv.Atoi(v)
			if err != nil {
				return fail(fmt.Sprintf("cannot parse %q as integer", v))
			}
			return n, nil
		}
		return fail(fmt.Sprintf("got %T", raw))

	case KindFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fail(fmt.Sprintf("cannot parse %q as number", v))
			}
			return f, nil
		}
		return fail(fmt.Sprintf("got %T", raw))

	case KindBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fail(fmt.Sprintf("cannot parse %q as boolean", v))
			}
			return b, nil
		}
		return fail(fmt.Sprintf("got %T", raw))

	case KindDuration:
		switch v := raw.(type) {
		case string:
			if !timespanRe.MatchString(v) {
				return fail(fmt.Sprintf("%q is not a timespan literal like 30d, 12h, or 45m", v))
			}
			return v, nil
		case float64:
			if v != float64(int64(v)) || v <= 0 {
				return fail(fmt.Sprintf("got %v, want a positive day count or timespan literal", v))
			}
			return fmt.Sprintf("%dd", int64(v)), nil
		case int:
			if v <= 0 {
				return fail(fmt.Sprintf("got %d, want a positive day count or timespan literal", v))
			}
			return fmt.Sprintf("%dd", v), nil
		}
		return fail(fmt.Sprintf("got %T", raw))

	case KindStringArray:
		switch v := raw.(type) {
		case []string:
			return v, nil
		case []any:
			out := make([]string, 0, len(v))
			for i, elem := range v {
				s, ok := elem.(string)
				if !ok {
					return fail(fmt.Sprintf("element %d is %T, arrays must be homogeneous", i, elem))
				}
				out = append(out, s)
			}
			return out, nil
		}
		return fail(fmt.Sprintf("got %T", raw))

	default:
		return fail("unsupported parameter kind")
	}
}

// JSONSchema builds the JSON Schema object advertised for a parameter list,
// in the shape the MCP tool listing expects.
func JSONSchema(params []Param) map[string]any {
	properties := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		prop := map[string]any{"description": p.Description}
		switch p.Kind {
		case KindInt:
			prop["type"] = "integer"
		case KindFloat:
			prop["type"] = "number"
		case KindBool:
			prop["type"] = "boolean"
		case KindStringArray:
			prop["type"] = "array"
			prop["items"] = map[string]any{"type": "string"}
		default:
			prop["type"] = "string"
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
