package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindMap
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	default:
		return "null"
	}
}

// Value is one node of a span's free-form metadata tree.
// The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	m    Metadata
	list []Value
}

// Metadata is the key/value map stored on every span.
type Metadata map[string]Value

func Null() Value                { return Value{} }
func String(s string) Value      { return Value{kind: KindString, str: s} }
func Number(n float64) Value     { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Map(m Metadata) Value       { return Value{kind: KindMap, m: m} }
func List(values ...Value) Value { return Value{kind: KindList, list: values} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) Str() (string, bool) {
	return v.str, v.kind == KindString
}

func (v Value) Num() (float64, bool) {
	return v.num, v.kind == KindNumber
}

func (v Value) Boolean() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) Map() (Metadata, bool) {
	return v.m, v.kind == KindMap
}

func (v Value) List() ([]Value, bool) {
	return v.list, v.kind == KindList
}

// IsEmpty reports null, the empty string and empty containers.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return strings.TrimSpace(v.str) == ""
	case KindMap:
		return len(v.m) == 0
	case KindList:
		return len(v.list) == 0
	default:
		return false
	}
}

func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindMap:
		return v.m.Equal(o.m)
	default:
		return slices.EqualFunc(v.list, o.list, Value.Equal)
	}
}

func (v Value) Clone() Value {
	switch v.kind {
	case KindMap:
		return Map(v.m.Clone())
	case KindList:
		out := make([]Value, len(v.list))
		for i := range v.list {
			out[i] = v.list[i].Clone()
		}
		return List(out...)
	default:
		return v
	}
}

// ContainsString reports whether s occurs as a string value anywhere in v.
func (v Value) ContainsString(s string) bool {
	switch v.kind {
	case KindString:
		return v.str == s
	case KindMap:
		return v.m.ContainsString(s)
	case KindList:
		for _, item := range v.list {
			if item.ContainsString(s) {
				return true
			}
		}
	}
	return false
}

// ReplaceString returns a copy of v with every string value equal to old
// replaced by repl, and the number of replacements.
func (v Value) ReplaceString(old, repl string) (Value, int) {
	switch v.kind {
	case KindString:
		if v.str == old {
			return String(repl), 1
		}
		return v, 0
	case KindMap:
		m, n := v.m.ReplaceString(old, repl)
		return Map(m), n
	case KindList:
		out := make([]Value, len(v.list))
		total := 0
		for i, item := range v.list {
			var n int
			out[i], n = item.ReplaceString(old, repl)
			total += n
		}
		return List(out...), total
	default:
		return v, 0
	}
}

// Interface converts v to plain Go values (string, float64, bool, map, slice, nil).
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Interface()
		}
		return out
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// FromInterface converts decoded JSON style values into a Value.
func FromInterface(in any) (Value, error) {
	switch t := in.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	case map[string]any:
		m := make(Metadata, len(t))
		for k, item := range t {
			v, err := FromInterface(item)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = v
		}
		return Map(m), nil
	case []any:
		out := make([]Value, len(t))
		for i, item := range t {
			v, err := FromInterface(item)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = v
		}
		return List(out...), nil
	case []string:
		out := make([]Value, len(t))
		for i, item := range t {
			out[i] = String(item)
		}
		return List(out...), nil
	default:
		return Value{}, fmt.Errorf("unsupported metadata value %T", in)
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := FromInterface(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// GetString returns the string stored under key, or "".
func (m Metadata) GetString(key string) string {
	s, _ := m[key].Str()
	return s
}

func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

func (m Metadata) Equal(o Metadata) bool {
	return maps.EqualFunc(m, o, Value.Equal)
}

func (m Metadata) ContainsString(s string) bool {
	for _, v := range m {
		if v.ContainsString(s) {
			return true
		}
	}
	return false
}

// ReplaceString rewrites string values (never keys) equal to old.
func (m Metadata) ReplaceString(old, repl string) (Metadata, int) {
	if m == nil {
		return nil, 0
	}
	out := make(Metadata, len(m))
	total := 0
	for k, v := range m {
		var n int
		out[k], n = v.ReplaceString(old, repl)
		total += n
	}
	return out, total
}

// Keys returns the keys in sorted order.
func (m Metadata) Keys() []string {
	return slices.Sorted(maps.Keys(m))
}

// MetadataFromMap converts a decoded JSON object into Metadata.
func MetadataFromMap(in map[string]any) (Metadata, error) {
	v, err := FromInterface(in)
	if err != nil {
		return nil, err
	}
	m, _ := v.Map()
	return m, nil
}

// MarshalMetadata encodes m as a JSON object; nil encodes as {}.
func MarshalMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// UnmarshalMetadata decodes a JSON object; empty input yields an empty map.
func UnmarshalMetadata(data []byte) (Metadata, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Metadata{}, nil
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = Metadata{}
	}
	return m, nil
}
