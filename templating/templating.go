// Package templating resolves `{{ path }}` references inside step
// parameters against the layered execution context.
package templating

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// wholeExprRE matches a string that is, start to end, a single
// template expression (whitespace inside the braces is ignored; the
// string itself must begin with {{ and end with }}): the case
// where Resolve returns the raw resolved value instead of a string.
var wholeExprRE = regexp.MustCompile(`^\{\{\s*(.+?)\s*\}\}$`)

// exprRE finds every `{{ ... }}` occurrence within a larger string.
var exprRE = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)

// Resolver resolves templates against a fixed context and records
// every path that could not be found.
type Resolver struct {
	Layers          map[string]interface{}
	UnresolvedPaths []string
}

// NewResolver builds a Resolver over the four-layer context produced
// by model.Context.AsLayers.
func NewResolver(layers map[string]interface{}) *Resolver {
	return &Resolver{Layers: layers}
}

// Resolve recursively walks value (maps, slices, strings, and
// passthrough scalars) and returns a new value with every template
// expression resolved. The input is never mutated.
func (r *Resolver) Resolve(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = r.Resolve(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = r.Resolve(val)
		}
		return out
	case string:
		return r.resolveString(v)
	default:
		// Numbers, booleans, nil pass through unchanged.
		return v
	}
}

func (r *Resolver) resolveString(s string) interface{} {
	if m := wholeExprRE.FindStringSubmatch(s); m != nil {
		return r.evalExpr(m[1])
	}
	return exprRE.ReplaceAllStringFunc(s, func(match string) string {
		inner := wholeExprRE.FindStringSubmatch(match)
		if inner == nil {
			return match
		}
		return stringify(r.evalExpr(inner[1]))
	})
}

// evalExpr evaluates one `path` or `path | default: value` expression
// body (already stripped of the surrounding {{ }} and outer whitespace).
func (r *Resolver) evalExpr(expr string) interface{} {
	path := expr
	var hasDefault bool
	var defaultVal interface{}

	if idx := strings.Index(expr, "|"); idx >= 0 {
		path = strings.TrimSpace(expr[:idx])
		filter := strings.TrimSpace(expr[idx+1:])
		const prefix = "default:"
		if strings.HasPrefix(filter, prefix) {
			hasDefault = true
			defaultVal = parseDefaultLiteral(strings.TrimSpace(filter[len(prefix):]))
		}
	}

	val, ok := r.lookup(path)
	if !ok {
		r.UnresolvedPaths = append(r.UnresolvedPaths, path)
		if hasDefault {
			return defaultVal
		}
		return ""
	}
	return val
}

func parseDefaultLiteral(lit string) interface{} {
	if len(lit) >= 2 && (lit[0] == '"' && lit[len(lit)-1] == '"' || lit[0] == '\'' && lit[len(lit)-1] == '\'') {
		return lit[1 : len(lit)-1]
	}
	if n, err := strconv.ParseFloat(lit, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(lit); err == nil {
		return b
	}
	return lit // bareword
}

// lookup walks a dotted path across the layered context. `env.X` falls
// back to the process environment when the env layer was not
// explicitly supplied.
func (r *Resolver) lookup(path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 {
		return nil, false
	}

	if segments[0] == "env" {
		if _, hasEnvLayer := r.Layers["env"]; !hasEnvLayer && len(segments) == 2 {
			if v, ok := os.LookupEnv(segments[1]); ok {
				return v, true
			}
			return nil, false
		}
	}

	var cur interface{} = r.Layers
	for _, seg := range segments {
		next, ok := index(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func index(cur interface{}, seg string) (interface{}, bool) {
	switch c := cur.(type) {
	case map[string]interface{}:
		v, ok := c[seg]
		return v, ok
	case []interface{}:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	default:
		return nil, false
	}
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
