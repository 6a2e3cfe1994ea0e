package render

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind discriminates the Value union.
type Kind int

// Value kinds.
const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindMap
)

// Value is a typed template variable: string, number, bool or a nested map.
// It replaces an open dynamic type so rendering stays type-safe while the
// variable set remains flexible.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	m    map[string]Value
}

// String creates a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number creates a numeric Value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool creates a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Map creates a nested map Value.
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// Render returns the display form of the value. Numbers drop a trailing
// ".0"; maps render as "k=v" pairs in key order.
func (v Value) Render() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v.m[k].Render()))
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// Lookup resolves a dotted path into nested maps.
func (v Value) Lookup(path string) (Value, bool) {
	cur := v
	for _, part := range strings.Split(path, ".") {
		if cur.kind != KindMap {
			return Value{}, false
		}
		next, ok := cur.m[part]
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// Vars is a named variable set passed to the renderer.
type Vars map[string]Value

// Lookup resolves a dotted path, descending into map values.
func (vs Vars) Lookup(path string) (Value, bool) {
	head, rest, nested := strings.Cut(path, ".")
	v, ok := vs[head]
	if !ok {
		return Value{}, false
	}
	if !nested {
		return v, true
	}
	return v.Lookup(rest)
}

// FromStrings converts a plain string map (e.g. event metadata) into Vars.
func FromStrings(m map[string]string) Vars {
	vars := make(Vars, len(m))
	for k, v := range m {
		vars[k] = String(v)
	}
	return vars
}
