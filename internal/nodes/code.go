package nodes

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"eino_flow/internal/core"
	"eino_flow/pkg"
)

var (
	ErrMissingMainFunction = errors.New("code must define a function named main")
	ErrUnboundParameter    = errors.New("main parameter has no bound variable")
)

var mainSignature = map[string]*regexp.Regexp{
	LanguagePython3:    regexp.MustCompile(`(?m)^\s*(?:async\s+)?def\s+main\s*\(([^)]*)\)`),
	LanguageJavaScript: regexp.MustCompile(`(?m)(?:function\s+main\s*\(([^)]*)\)|(?:const|let|var)\s+main\s*=\s*(?:async\s*)?\(([^)]*)\)\s*=>)`),
}

// OutputTypeMismatchError reports an output whose runtime value does not match
// its declared type.
type OutputTypeMismatchError struct {
	Output   string
	Expected string
	Actual   string
}

func (e *OutputTypeMismatchError) Error() string {
	return fmt.Sprintf("output %q: expected %s, got %s", e.Output, e.Expected, e.Actual)
}

func (e *OutputTypeMismatchError) Category() core.ErrorCategory { return core.CategoryTypeMismatch }

// param is one formal parameter of main.
type param struct {
	name       string
	hasDefault bool
}

// codeNode runs user code through a CodeExecutor and validates its outputs.
type codeNode struct {
	core.Base
	language  string
	code      string
	params    []param
	variadic  bool
	variables []pkg.VariableSelector
	outputs   map[string]string
	executor  CodeExecutor
	timeout   time.Duration
}

func newCodeNode(n pkg.Node, deps Deps) (core.Node, error) {
	if deps.Executor == nil {
		return nil, errors.New("code executor is not configured")
	}
	language := n.String("language")
	if language == "" {
		language = LanguagePython3
	}
	code := n.String("code")

	params, variadic, err := parseMainParams(language, code)
	if err != nil {
		return nil, err
	}
	vars, err := n.Variables("variables")
	if err != nil {
		return nil, err
	}

	bound := make(map[string]bool, len(vars))
	for _, v := range vars {
		bound[v.Name] = true
	}
	for _, p := range params {
		if !p.hasDefault && !bound[p.name] {
			return nil, fmt.Errorf("%w: %s", ErrUnboundParameter, p.name)
		}
	}

	outputs := n.StringMap("outputs")
	for name, typ := range outputs {
		if !validOutputType(typ) {
			return nil, fmt.Errorf("output %q has unknown type %q", name, typ)
		}
	}

	return &codeNode{
		Base:      core.NewBase(n, pkg.KindCode),
		language:  language,
		code:      code,
		params:    params,
		variadic:  variadic,
		variables: vars,
		outputs:   outputs,
		executor:  deps.Executor,
		timeout:   n.Duration("timeout", deps.CodeTimeout),
	}, nil
}

func (c *codeNode) Mode() core.Mode { return core.ModeAsync }

func (c *codeNode) DataDependencies() []string {
	return selectorNodes(c.variables)
}

func (c *codeNode) RunSync(_ context.Context, _ *core.VariablePool, _ *core.RunArgs) *core.NodeRunResult {
	return core.NotImplemented(c, core.ModeSync)
}

func (c *codeNode) RunAsync(ctx context.Context, pool *core.VariablePool, args *core.RunArgs, results chan<- *core.NodeRunResult) {
	if args.UpstreamTerminated() {
		results <- core.Cancelled(c)
		return
	}

	resolved, err := resolveVariables(pool, c.variables, false)
	if err != nil {
		results <- core.Failed(c, core.CategoryNone, err)
		return
	}
	inputs := c.bind(resolved)

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	raw, err := c.executor.Execute(callCtx, c.language, c.code, inputs)
	if err != nil {
		// only the code's own limit is final; a caller deadline stays retryable
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = core.Permanent(core.WithCategory(core.CategoryTimeout,
				fmt.Errorf("code execution exceeded %s: %w", c.timeout, err)))
		}
		res := core.Failed(c, core.CategoryNone, err)
		res.Inputs = inputs
		results <- res
		return
	}

	outputs, err := c.validate(raw)
	if err != nil {
		res := core.Failed(c, core.CategoryNone, err)
		res.Inputs = inputs
		results <- res
		return
	}
	results <- core.Succeeded(c, inputs, outputs)
}

// bind keeps the variables main accepts; a variadic main receives all of them.
func (c *codeNode) bind(resolved map[string]any) map[string]any {
	if c.variadic {
		return resolved
	}
	inputs := make(map[string]any, len(c.params))
	for _, p := range c.params {
		if v, ok := resolved[p.name]; ok {
			inputs[p.name] = v
		}
	}
	return inputs
}

// validate checks every declared output. Undeclared outputs are dropped; with
// no declarations everything passes through.
func (c *codeNode) validate(raw map[string]any) (map[string]any, error) {
	if len(c.outputs) == 0 {
		return raw, nil
	}

	names := make([]string, 0, len(c.outputs))
	for name := range c.outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	outputs := make(map[string]any, len(names))
	for _, name := range names {
		typ := c.outputs[name]
		value, ok := raw[name]
		if !ok {
			return nil, &OutputTypeMismatchError{Output: name, Expected: typ, Actual: "missing"}
		}
		if value != nil && !matchesType(typ, value) {
			return nil, &OutputTypeMismatchError{Output: name, Expected: typ, Actual: typeName(value)}
		}
		outputs[name] = value
	}
	return outputs, nil
}

// parseMainParams extracts the formal parameters of main from its signature.
func parseMainParams(language, code string) ([]param, bool, error) {
	re, ok := mainSignature[language]
	if !ok {
		return nil, false, fmt.Errorf("unsupported language %q", language)
	}
	m := re.FindStringSubmatch(code)
	if m == nil {
		return nil, false, ErrMissingMainFunction
	}
	list := m[1]
	if len(m) > 2 && list == "" {
		list = m[2]
	}
	list = strings.TrimSpace(list)

	// javascript main receives one object; destructured names are the parameters
	if language == LanguageJavaScript {
		if strings.HasPrefix(list, "{") && strings.HasSuffix(list, "}") {
			list = strings.TrimSpace(list[1 : len(list)-1])
		} else if list != "" {
			return nil, true, nil
		}
	}

	var params []param
	variadic := false
	for _, raw := range splitTopLevel(list) {
		raw = strings.TrimSpace(raw)
		switch {
		case raw == "", raw == "*", raw == "/":
			continue
		case strings.HasPrefix(raw, "**"), strings.HasPrefix(raw, "..."):
			variadic = true
			continue
		case strings.HasPrefix(raw, "*"):
			continue
		}

		p := param{}
		if i := strings.Index(raw, "="); i >= 0 {
			p.hasDefault = true
			raw = raw[:i]
		}
		if i := strings.Index(raw, ":"); i >= 0 {
			raw = raw[:i]
		}
		p.name = strings.TrimSpace(raw)
		if p.name != "" {
			params = append(params, p)
		}
	}
	return params, variadic, nil
}

// splitTopLevel splits on commas outside brackets so annotations such as
// dict[str, int] stay whole.
func splitTopLevel(list string) []string {
	var parts []string
	depth, last := 0, 0
	for i, r := range list {
		switch r {
		case '[', '(', '{':
			depth++
		case ']', ')', '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, list[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, list[last:])
}

func validOutputType(typ string) bool {
	switch typ {
	case "string", "integer", "number", "boolean", "object", "array":
		return true
	}
	if elem, ok := arrayElem(typ); ok {
		return elem != "array" && validOutputType(elem)
	}
	return false
}

func arrayElem(typ string) (string, bool) {
	if strings.HasPrefix(typ, "array[") && strings.HasSuffix(typ, "]") {
		return typ[len("array[") : len(typ)-1], true
	}
	return "", false
}

func matchesType(typ string, v any) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number":
		_, ok := toFloat(v)
		return ok
	case "integer":
		f, ok := toFloat(v)
		return ok && f == math.Trunc(f)
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	}

	elem, ok := arrayElem(typ)
	if !ok {
		return false
	}
	items, ok := v.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if !matchesType(elem, item) {
			return false
		}
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", v)
}
