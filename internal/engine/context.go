package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Context is the per-run variable store shared by all steps of one
// execution. It is created fresh for every run and never shared across
// concurrent runs, so it needs no locking. Values are scalars, ordered lists
// (supporting sparse indexed writes padded with nil), row sets from Query
// steps, or time-series point sequences.
type Context struct {
	vars map[string]any
}

// NewContext creates an empty execution context.
func NewContext() *Context {
	return &Context{vars: make(map[string]any)}
}

// Get returns the value bound to name.
func (c *Context) Get(name string) (any, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Set binds name to value, overwriting any previous binding.
func (c *Context) Set(name string, value any) {
	c.vars[name] = value
}

// SetIndexed writes value at index idx of the list bound to name, creating
// the list if absent and padding any gap with nil.
func (c *Context) SetIndexed(name string, idx int, value any) {
	list, _ := c.vars[name].([]any)
	for len(list) <= idx {
		list = append(list, nil)
	}
	list[idx] = value
	c.vars[name] = list
}

// Resolve looks up a variable reference, which may be a plain name or an
// indexed reference of the form name[k].
func (c *Context) Resolve(ref string) (any, bool) {
	base, idx, indexed := ParseIndexedVar(ref)
	if !indexed {
		v, ok := c.vars[ref]
		return v, ok
	}
	list, ok := c.vars[base].([]any)
	if !ok || idx < 0 || idx >= len(list) {
		return nil, false
	}
	return list[idx], true
}

// Assign stores a step result under the step's result variable, handling
// the indexed form name[k].
func (c *Context) Assign(resultVar string, value any) {
	base, idx, indexed := ParseIndexedVar(resultVar)
	if indexed {
		c.SetIndexed(base, idx, value)
		return
	}
	c.Set(resultVar, value)
}

// Snapshot returns the variable map handed to expression engines. The map is
// the live store; engines must not mutate it.
func (c *Context) Snapshot() map[string]any {
	return c.vars
}

// ParseIndexedVar splits a reference of the form name[k] into its base name
// and index. Returns indexed=false for plain names or malformed references.
func ParseIndexedVar(ref string) (base string, idx int, indexed bool) {
	open := strings.IndexByte(ref, '[')
	if open <= 0 || !strings.HasSuffix(ref, "]") {
		return ref, 0, false
	}
	n, err := strconv.Atoi(ref[open+1 : len(ref)-1])
	if err != nil || n < 0 {
		return ref, 0, false
	}
	return ref[:open], n, true
}

// Stringify renders a value in its textual form, used for literal placeholder
// substitution and the final workflow result.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}
