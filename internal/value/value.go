// Package value defines the dynamic payload type shared by task input, step
// input, and agent results. The orchestrator core never assumes a concrete
// schema for these payloads; it only walks, merges, and pattern-substitutes
// them generically, the way the teacher runtime treats tool call arguments
// and results as opaque `any` JSON values.
package value

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Value is a dynamic sum type: nil, bool, float64, string, []Value, or
// map[string]Value. It is the canonical in-memory representation for every
// untyped payload the orchestrator passes between planner, executor, and
// agents. Construct one with FromAny and recover native Go values with ToGo.
type Value struct {
	raw any
}

// Nil is the absent/zero Value.
var Nil = Value{}

// FromAny wraps an arbitrary Go value (typically produced by json.Unmarshal
// into `any`, or hand-built maps/slices) into a Value, recursively
// normalizing nested maps and slices.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Nil
	case Value:
		return t
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, vv := range t {
			m[k] = FromAny(vv)
		}
		return Value{raw: m}
	case map[string]Value:
		return Value{raw: t}
	case []any:
		s := make([]Value, len(t))
		for i, vv := range t {
			s[i] = FromAny(vv)
		}
		return Value{raw: s}
	case []Value:
		return Value{raw: t}
	case int:
		return Value{raw: float64(t)}
	case int64:
		return Value{raw: float64(t)}
	default:
		return Value{raw: t}
	}
}

// Object constructs a map-valued Value from a plain Go map.
func Object(m map[string]any) Value { return FromAny(m) }

// IsNil reports whether the value is the absent sentinel.
func (v Value) IsNil() bool { return v.raw == nil }

// Raw returns the underlying Go value (nil, bool, float64, string,
// []Value, or map[string]Value) for callers that need to type-switch
// directly.
func (v Value) Raw() any { return v.raw }

// IsMap reports whether the value holds a map.
func (v Value) IsMap() bool {
	_, ok := v.raw.(map[string]Value)
	return ok
}

// Map returns the underlying map and true, or nil and false if the value is
// not a map.
func (v Value) Map() (map[string]Value, bool) {
	m, ok := v.raw.(map[string]Value)
	return m, ok
}

// Slice returns the underlying slice and true, or nil and false if the
// value is not a list.
func (v Value) Slice() ([]Value, bool) {
	s, ok := v.raw.([]Value)
	return s, ok
}

// String returns the underlying string and true, or "" and false.
func (v Value) String() (string, bool) {
	s, ok := v.raw.(string)
	return s, ok
}

// Float returns the underlying number and true, or 0 and false.
func (v Value) Float() (float64, bool) {
	f, ok := v.raw.(float64)
	return f, ok
}

// Bool returns the underlying bool and true, or false and false.
func (v Value) Bool() (bool, bool) {
	b, ok := v.raw.(bool)
	return b, ok
}

// Get resolves a dotted path ("a.b.c") against a map-valued Value, returning
// the absent Value and false when any segment is missing or the path
// traverses a non-map. Numeric segments index into lists.
func (v Value) Get(path string) (Value, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch t := cur.raw.(type) {
		case map[string]Value:
			next, ok := t[seg]
			if !ok {
				return Nil, false
			}
			cur = next
		case []Value:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(t) {
				return Nil, false
			}
			cur = t[idx]
		default:
			return Nil, false
		}
	}
	return cur, true
}

// WithSet returns a new map Value with path set to val, creating
// intermediate maps as needed. The receiver is not mutated (Values are
// treated as immutable by convention; callers that need in-place mutation
// should rebuild via ToGo/Object).
func (v Value) WithSet(path string, val Value) Value {
	segs := strings.Split(path, ".")
	return setPath(v, segs, val)
}

func setPath(v Value, segs []string, val Value) Value {
	m, ok := v.Map()
	if !ok {
		m = map[string]Value{}
	} else {
		nm := make(map[string]Value, len(m))
		for k, vv := range m {
			nm[k] = vv
		}
		m = nm
	}
	if len(segs) == 1 {
		m[segs[0]] = val
		return Value{raw: m}
	}
	child := m[segs[0]]
	m[segs[0]] = setPath(child, segs[1:], val)
	return Value{raw: m}
}

// Merge returns a new map Value with other's entries overwriting the
// receiver's entries at the top level (used by the Executor's dependency
// result merge, §4.3.2 of the spec: "dependency map keys overwrite"). If
// either side is not a map, other wins outright.
func Merge(base, other Value) Value {
	bm, bok := base.Map()
	om, ook := other.Map()
	if !bok || !ook {
		return other
	}
	out := make(map[string]Value, len(bm)+len(om))
	for k, v := range bm {
		out[k] = v
	}
	for k, v := range om {
		out[k] = v
	}
	return Value{raw: out}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch t := v.raw.(type) {
	case nil:
		return []byte("null"), nil
	case map[string]Value:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			b.Write(kb)
			b.WriteByte(':')
			vb, err := t[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			b.Write(vb)
		}
		b.WriteByte('}')
		return []byte(b.String()), nil
	case []Value:
		var b strings.Builder
		b.WriteByte('[')
		for i, vv := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			vb, err := vv.MarshalJSON()
			if err != nil {
				return nil, err
			}
			b.Write(vb)
		}
		b.WriteByte(']')
		return []byte(b.String()), nil
	default:
		return json.Marshal(t)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// ToGo recursively converts a Value back into plain Go types (map[string]any,
// []any, and scalars) for handing to code outside this package (templates,
// agent interfaces, JSON schema validators).
func (v Value) ToGo() any {
	switch t := v.raw.(type) {
	case map[string]Value:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = vv.ToGo()
		}
		return m
	case []Value:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = vv.ToGo()
		}
		return s
	default:
		return t
	}
}

// String representation for debugging/logging only; never used for
// user-facing error messages (see internal/errs).
func (v Value) GoString() string { return fmt.Sprintf("value.Value(%#v)", v.raw) }
