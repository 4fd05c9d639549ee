package session

import (
	"github.com/smnsjas/go-wmicore/native"
	"github.com/smnsjas/go-wmicore/wbem"
	"github.com/smnsjas/go-wmicore/wql"
)

// tracker collects the embedded object handles read while converting one
// object so they can be released together afterwards.
type tracker struct {
	s     *Session
	owned []native.Handle
}

func (s *Session) track() *tracker {
	return &tracker{s: s}
}

// object wraps h without taking ownership of it.
func (t *tracker) object(h native.Handle) *object {
	return &object{t: t, h: h}
}

func (t *tracker) release() {
	for _, h := range t.owned {
		t.s.release(h)
	}
	t.owned = nil
}

// wrap replaces native handles in a payload with readable objects.
func (t *tracker) wrap(payload any) any {
	switch v := payload.(type) {
	case native.Handle:
		if v == native.NullHandle {
			return nil
		}
		t.owned = append(t.owned, v)
		return t.object(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = t.wrap(item)
		}
		return out
	default:
		return payload
	}
}

// object adapts a native object to wbem.Object.
type object struct {
	t *tracker
	h native.Handle
}

func (o *object) Names() ([]string, error) {
	names, code := o.t.s.native.GetNames(o.h)
	if code.Failed() {
		return nil, protocolError("GetNames", code, "failed to list property names")
	}
	return names, nil
}

func (o *object) Get(name string) (any, wbem.CIMType, error) {
	payload, t, code := o.t.s.native.Get(o.h, name)
	if code.Failed() {
		return nil, 0, protocolError("Get", code, "failed to read property "+name)
	}
	return o.t.wrap(payload), wbem.CIMType(t), nil
}

// requests resolves the properties a query asks for against the names an
// object exposes. An empty selection means every exposed property, in wire
// order. A selected name the object lacks is kept as written.
func requests(names []string, q *wql.Query) []wbem.PropertyRequest {
	selected := q.SelectedProperties()
	if len(selected) == 0 {
		reqs := make([]wbem.PropertyRequest, len(names))
		for i, n := range names {
			reqs[i] = wbem.PropertyRequest{Name: n}
		}
		return reqs
	}

	index := wbem.NewNameIndex(names)
	reqs := make([]wbem.PropertyRequest, 0, len(selected))
	for _, p := range selected {
		name, ok := index.Resolve(p)
		if !ok {
			name = p
		}
		reqs = append(reqs, wbem.PropertyRequest{Name: name, Sub: q.SubPropertiesOf(p)})
	}
	return reqs
}

// readRow converts the requested properties of obj into a row.
func readRow(obj wbem.Object, reqs []wbem.PropertyRequest) (*wbem.Row, error) {
	row := wbem.NewRow(len(reqs))
	for _, req := range reqs {
		fields, err := wbem.Property(obj, req)
		if err != nil {
			return nil, err
		}
		row.Add(fields...)
	}
	return row, nil
}
