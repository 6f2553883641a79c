package query

import (
	"strings"
	"text/template"

	"github.com/ai4ops/fleet-mcp/pkg/types"
)

// kqlFuncs are the substitution helpers available to query templates.
// Untrusted values are only ever bound through kqlstr (quoted string
// literal position) or raw (whole-query position of the passthrough
// tools); templates never concatenate caller input into identifier
// positions.
var kqlFuncs = template.FuncMap{
	// kqlstr renders a value as a single-quoted KQL string literal.
	"kqlstr": func(v any) string {
		s, _ := v.(string)
		s = strings.ReplaceAll(s, `\`, `\\`)
		s = strings.ReplaceAll(s, `'`, `\'`)
		s = strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' || r == '\x00' {
				return -1
			}
			return r
		}, s)
		return "'" + s + "'"
	},
	// raw passes a value through unquoted; reserved for the opaque
	// whole-query parameter of the passthrough tools.
	"raw": func(v any) string {
		s, _ := v.(string)
		return s
	},
}

// ParseTemplate compiles a query template. Missing placeholder arguments
// fail at render time rather than producing "<no value>".
func ParseTemplate(name, text string) (*template.Template, error) {
	return template.New(name).Option("missingkey=error").Funcs(kqlFuncs).Parse(text)
}

// Render binds validated arguments into a compiled template and returns the
// final query text. Failure means the ToolSpec's template references an
// argument validation never produces, which is a TemplateError.
func Render(tmpl *template.Template, args map[string]any) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, args); err != nil {
		return "", &types.TemplateError{Tool: tmpl.Name(), Cause: err}
	}
	return sb.String(), nil
}
