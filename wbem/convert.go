package wbem

import (
	"reflect"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/smnsjas/go-wmicore/wmierr"
)

const (
	// EmbeddedObjectLabel stands in for an embedded object whose
	// sub-properties were not requested.
	EmbeddedObjectLabel = "CIM_OBJECT"

	// UnsupportedLabel stands in for a value of an unknown CIM type.
	UnsupportedLabel = "Unsupported type"

	// PathProperty is always converted as a reference, whatever its type.
	PathProperty = "__PATH"
)

// Object is a readable CIM object: a result row, a method's output
// parameters, or an embedded object inside another property.
type Object interface {
	// Names lists the object's property names in server order.
	Names() ([]string, error)
	// Get reads one property.
	Get(name string) (any, CIMType, error)
}

// PropertyRequest names a property to read and, for embedded objects, the
// sub-properties to expand.
type PropertyRequest struct {
	Name string
	Sub  []string
}

// Property reads req.Name from obj and converts it. A failed read yields a
// single nil field.
func Property(obj Object, req PropertyRequest) ([]Field, error) {
	value, t, err := obj.Get(req.Name)
	if err != nil {
		return []Field{{Key: req.Name}}, nil
	}
	return Convert(req, value, t)
}

// Convert maps a payload of type t to row fields keyed by req.Name, or by
// req.Name + "." + sub for expanded embedded objects. The __PATH property
// is returned as a namespace-relative path whatever its type.
func Convert(req PropertyRequest, value any, t CIMType) ([]Field, error) {
	if value == nil {
		return []Field{{Key: req.Name}}, nil
	}

	if strings.EqualFold(req.Name, PathProperty) {
		if s, ok := value.(string); ok {
			return []Field{{Key: req.Name, Value: StripReference(s)}}, nil
		}
		return []Field{{Key: req.Name}}, nil
	}

	if t.IsArray() {
		return convertArray(req, value, t.Elem())
	}

	if t == CIMObject {
		if len(req.Sub) == 0 {
			return []Field{{Key: req.Name, Value: EmbeddedObjectLabel}}, nil
		}
		return convertObject(req, value)
	}

	v, err := scalar(value, t)
	if err != nil {
		return nil, wmierr.Format("Convert", "property %s: %v", req.Name, err)
	}
	return []Field{{Key: req.Name, Value: v}}, nil
}

func convertObject(req PropertyRequest, value any) ([]Field, error) {
	fields := make([]Field, 0, len(req.Sub))

	obj, ok := value.(Object)
	if !ok {
		for _, sub := range req.Sub {
			fields = append(fields, Field{Key: req.Name + "." + sub})
		}
		return fields, nil
	}

	index, err := namesOf(obj)
	if err != nil {
		return nil, err
	}

	for _, sub := range req.Sub {
		name, ok := index.Resolve(sub)
		if !ok {
			fields = append(fields, Field{Key: req.Name + "." + sub})
			continue
		}
		v, err := subValue(obj, name)
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Key: req.Name + "." + name, Value: v})
	}
	return fields, nil
}

func convertArray(req PropertyRequest, value any, elem CIMType) ([]Field, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, wmierr.Format("Convert", "property %s: value of type %T is not an array", req.Name, value)
	}
	n := rv.Len()

	if elem == CIMObject {
		if len(req.Sub) == 0 {
			return []Field{{Key: req.Name, Value: []any{EmbeddedObjectLabel}}}, nil
		}
		return convertObjectArray(req, rv)
	}

	out := make([]any, n)
	for i := 0; i < n; i++ {
		item := rv.Index(i).Interface()
		if item == nil || !known(elem) {
			out[i] = item
			continue
		}
		v, err := scalar(item, elem)
		if err != nil {
			return nil, wmierr.Format("Convert", "property %s[%d]: %v", req.Name, i, err)
		}
		out[i] = v
	}
	return []Field{{Key: req.Name, Value: out}}, nil
}

func convertObjectArray(req PropertyRequest, rv reflect.Value) ([]Field, error) {
	keys := make([]string, len(req.Sub))
	columns := make([][]any, len(req.Sub))
	for j, sub := range req.Sub {
		keys[j] = req.Name + "." + sub
		columns[j] = []any{}
	}
	resolved := make([]bool, len(req.Sub))

	for i := 0; i < rv.Len(); i++ {
		obj, ok := rv.Index(i).Interface().(Object)
		if !ok {
			continue
		}
		index, err := namesOf(obj)
		if err != nil {
			return nil, err
		}
		for j, sub := range req.Sub {
			name, ok := index.Resolve(sub)
			if !ok {
				columns[j] = append(columns[j], nil)
				continue
			}
			if !resolved[j] {
				keys[j] = req.Name + "." + name
				resolved[j] = true
			}
			v, err := subValue(obj, name)
			if err != nil {
				return nil, err
			}
			columns[j] = append(columns[j], v)
		}
	}

	fields := make([]Field, len(req.Sub))
	for j := range req.Sub {
		fields[j] = Field{Key: keys[j], Value: columns[j]}
	}
	return fields, nil
}

func subValue(obj Object, name string) (any, error) {
	fields, err := Property(obj, PropertyRequest{Name: name})
	if err != nil {
		return nil, err
	}
	return fields[0].Value, nil
}

// Names lists obj's property names, retrying once on failure.
func Names(obj Object) ([]string, error) {
	names, err := obj.Names()
	if err != nil {
		names, err = obj.Names()
	}
	return names, err
}

func namesOf(obj Object) (*NameIndex, error) {
	names, err := Names(obj)
	if err != nil {
		return nil, err
	}
	return NewNameIndex(names), nil
}

// NameIndex resolves property names case-insensitively to their real case.
type NameIndex struct {
	names []string
	byKey map[string]string
}

// NewNameIndex indexes names. When two names fold to the same key the first
// one wins.
func NewNameIndex(names []string) *NameIndex {
	fold := cases.Fold()
	idx := &NameIndex{
		names: names,
		byKey: make(map[string]string, len(names)),
	}
	for _, n := range names {
		k := fold.String(n)
		if _, ok := idx.byKey[k]; !ok {
			idx.byKey[k] = n
		}
	}
	return idx
}

// Resolve returns the real-cased name matching name.
func (idx *NameIndex) Resolve(name string) (string, bool) {
	n, ok := idx.byKey[cases.Fold().String(name)]
	return n, ok
}

// Names returns the indexed names in their original order.
func (idx *NameIndex) Names() []string {
	out := make([]string, len(idx.names))
	copy(out, idx.names)
	return out
}

func scalar(value any, t CIMType) (any, error) {
	switch t {
	case CIMEmpty:
		return nil, nil
	case CIMBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case CIMSint8:
		if i, ok := toInt64(value); ok {
			return int8(i), nil
		}
	case CIMUint8:
		if i, ok := toInt64(value); ok {
			return uint8(i), nil
		}
	case CIMSint16:
		if i, ok := toInt64(value); ok {
			return int16(i), nil
		}
	case CIMUint16, CIMChar16:
		if i, ok := toInt64(value); ok {
			return uint16(i), nil
		}
	case CIMSint32:
		if i, ok := toInt64(value); ok {
			return int32(i), nil
		}
	case CIMUint32:
		if i, ok := toInt64(value); ok {
			return uint32(i), nil
		}
	case CIMSint64, CIMUint64:
		switch v := value.(type) {
		case string:
			return v, nil
		case uint64:
			return strconv.FormatUint(v, 10), nil
		}
		if i, ok := toInt64(value); ok {
			if t == CIMUint64 {
				return strconv.FormatUint(uint64(i), 10), nil
			}
			return strconv.FormatInt(i, 10), nil
		}
	case CIMReal32:
		if f, ok := toFloat64(value); ok {
			return float32(f), nil
		}
	case CIMReal64:
		if f, ok := toFloat64(value); ok {
			return f, nil
		}
	case CIMString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case CIMReference:
		if s, ok := value.(string); ok {
			return StripReference(s), nil
		}
	case CIMDateTime:
		if s, ok := value.(string); ok {
			return ParseDateTime(s)
		}
	default:
		return UnsupportedLabel, nil
	}
	return nil, wmierr.Format("Convert", "value of type %T does not match %s", value, t)
}

func known(t CIMType) bool {
	switch t {
	case CIMEmpty, CIMBoolean, CIMSint8, CIMUint8, CIMSint16, CIMUint16, CIMChar16,
		CIMSint32, CIMUint32, CIMSint64, CIMUint64, CIMReal32, CIMReal64,
		CIMString, CIMReference, CIMDateTime:
		return true
	default:
		return false
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}
