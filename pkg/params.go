package pkg

import (
	"fmt"
	"strings"
	"time"
)

// VariableSelector binds a local name to a selector into the variable pool.
type VariableSelector struct {
	Name     string
	Selector []string
}

// String returns the first string parameter, or "" when absent.
func (n Node) String(key string) string {
	if v, ok := n.Params[key].(string); ok {
		return v
	}
	return ""
}

// Bool reads a boolean parameter.
func (n Node) Bool(key string) bool {
	switch v := n.Params[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	}
	return false
}

// Int reads an integer parameter with a default.
func (n Node) Int(key string, def int) int {
	switch v := n.Params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Duration reads a duration parameter. Numbers are seconds, strings use time.ParseDuration.
func (n Node) Duration(key string, def time.Duration) time.Duration {
	switch v := n.Params[key].(type) {
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Strings reads a list of strings.
func (n Node) Strings(key string) []string {
	switch v := n.Params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// Selector reads a selector parameter, written either as "node.var" or as a list.
func (n Node) Selector(key string) []string {
	return ParseSelector(n.Params[key])
}

// ParseSelector accepts "node.var.path" or ["node", "var", "path"].
func ParseSelector(raw any) []string {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, ".")
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// Variables reads a list of {name, selector} entries.
func (n Node) Variables(key string) ([]VariableSelector, error) {
	raw, ok := n.Params[key]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("param %q must be a list", key)
	}

	vars := make([]VariableSelector, 0, len(items))
	for i, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("param %q[%d] must be a mapping", key, i)
		}
		name, _ := entry["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("param %q[%d] has no name", key, i)
		}
		vars = append(vars, VariableSelector{
			Name:     name,
			Selector: ParseSelector(entry["selector"]),
		})
	}
	return vars, nil
}

// StringMap reads a mapping of string to string (e.g. declared output types).
func (n Node) StringMap(key string) map[string]string {
	raw, ok := n.Params[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprint(v)
	}
	return out
}
