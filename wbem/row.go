package wbem

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Field is one key/value pair produced by Convert.
type Field struct {
	Key   string
	Value any
}

// Row is an insertion-ordered mapping from property key to value.
// A nil value means the property was absent or null.
type Row struct {
	keys   []string
	values map[string]any
}

// NewRow returns an empty row with room for n fields.
func NewRow(n int) *Row {
	return &Row{
		keys:   make([]string, 0, n),
		values: make(map[string]any, n),
	}
}

// Set stores value under key. A new key is appended to the key order; an
// existing key keeps its position.
func (r *Row) Set(key string, value any) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Add stores every field in order.
func (r *Row) Add(fields ...Field) {
	for _, f := range fields {
		r.Set(f.Key, f.Value)
	}
}

// Get returns the value stored under key.
func (r *Row) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Value returns the value stored under key, or nil.
func (r *Row) Value(key string) any {
	return r.values[key]
}

// Lookup finds key ignoring case and returns the stored key and value.
func (r *Row) Lookup(key string) (string, any, bool) {
	if v, ok := r.values[key]; ok {
		return key, v, true
	}
	for _, k := range r.keys {
		if strings.EqualFold(k, key) {
			return k, r.values[k], true
		}
	}
	return "", nil, false
}

// Keys returns the keys in insertion order.
func (r *Row) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r *Row) Len() int {
	return len(r.keys)
}

// Range calls fn for each field in order until fn returns false.
func (r *Row) Range(fn func(key string, value any) bool) {
	for _, k := range r.keys {
		if !fn(k, r.values[k]) {
			return
		}
	}
}

// Map returns the fields as an unordered map.
func (r *Row) Map() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the row as a JSON object in key order.
func (r *Row) MarshalJSON() ([]byte, error) {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	stream.WriteObjectStart()
	for i, k := range r.keys {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(k)
		stream.WriteVal(r.values[k])
	}
	stream.WriteObjectEnd()

	if stream.Error != nil {
		return nil, stream.Error
	}
	return append([]byte(nil), stream.Buffer()...), nil
}
