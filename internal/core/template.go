package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// templateVar matches {{#node.var#}} and {{#node.var.nested#}}.
var templateVar = regexp.MustCompile(`\{\{#([A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)+)#\}\}`)

// Segment is one literal or variable piece of a parsed template.
type Segment struct {
	Text     string
	Selector []string
}

// IsVariable reports whether the segment references the pool.
func (s Segment) IsVariable() bool {
	return len(s.Selector) > 0
}

// ParseTemplate splits a template into literal and variable segments.
func ParseTemplate(tpl string) []Segment {
	var segments []Segment
	last := 0
	for _, m := range templateVar.FindAllStringSubmatchIndex(tpl, -1) {
		if m[0] > last {
			segments = append(segments, Segment{Text: tpl[last:m[0]]})
		}
		segments = append(segments, Segment{
			Text:     tpl[m[0]:m[1]],
			Selector: strings.Split(tpl[m[2]:m[3]], "."),
		})
		last = m[1]
	}
	if last < len(tpl) {
		segments = append(segments, Segment{Text: tpl[last:]})
	}
	return segments
}

// TemplateReferences returns the distinct node ids referenced by tpl, in order.
func TemplateReferences(tpl string) []string {
	seen := make(map[string]bool)
	var refs []string
	for _, seg := range ParseTemplate(tpl) {
		if seg.IsVariable() && !seen[seg.Selector[0]] {
			seen[seg.Selector[0]] = true
			refs = append(refs, seg.Selector[0])
		}
	}
	return refs
}

// Resolve substitutes one segment from the pool. Missing variables render empty.
func (p *VariablePool) Resolve(seg Segment) (string, any, bool) {
	if !seg.IsVariable() {
		return seg.Text, nil, false
	}
	v, ok := p.Get(seg.Selector)
	if !ok {
		return "", nil, false
	}
	return Stringify(v), v, true
}

// Render substitutes every reference of tpl and returns the text plus the
// resolved inputs keyed by dotted selector.
func (p *VariablePool) Render(tpl string) (string, map[string]any) {
	var b strings.Builder
	inputs := make(map[string]any)
	for _, seg := range ParseTemplate(tpl) {
		text, v, ok := p.Resolve(seg)
		if ok {
			inputs[strings.Join(seg.Selector, ".")] = v
		}
		b.WriteString(text)
	}
	return b.String(), inputs
}

// Stringify renders a pool value as text: strings verbatim, scalars formatted,
// containers as JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int, int32, int64, uint, uint32, uint64:
		return fmt.Sprint(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	}
	out, err := sonic.MarshalString(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return out
}
