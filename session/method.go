package session

import (
	"context"
	"maps"
	"math"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/smnsjas/go-wmicore/native"
	"github.com/smnsjas/go-wmicore/wbem"
	"github.com/smnsjas/go-wmicore/wmierr"
)

// GetObject returns the class or instance at path. The caller owns the
// returned handle and must Release it through the session's library.
func (s *Session) GetObject(path string) (native.Handle, error) {
	const op = "GetObject"
	if path == "" {
		return native.NullHandle, wmierr.InvalidArgument(op, "object path must not be empty")
	}
	leave, err := s.enter(op)
	if err != nil {
		return native.NullHandle, err
	}
	defer leave()
	return s.getObject(op, path)
}

// GetMethod returns the input signature of a method of class, or
// NullHandle when the method takes no inputs.
func (s *Session) GetMethod(class native.Handle, method string) (native.Handle, error) {
	const op = "GetMethod"
	if class == native.NullHandle {
		return native.NullHandle, wmierr.InvalidArgument(op, "class must not be null")
	}
	if method == "" {
		return native.NullHandle, wmierr.InvalidArgument(op, "method name must not be empty")
	}
	leave, err := s.enter(op)
	if err != nil {
		return native.NullHandle, err
	}
	defer leave()
	return s.getMethod(op, class, method)
}

// SpawnInstance creates a new instance of class.
func (s *Session) SpawnInstance(class native.Handle) (native.Handle, error) {
	const op = "SpawnInstance"
	if class == native.NullHandle {
		return native.NullHandle, wmierr.InvalidArgument(op, "class must not be null")
	}
	leave, err := s.enter(op)
	if err != nil {
		return native.NullHandle, err
	}
	defer leave()
	return s.spawnInstance(op, class)
}

// PutProperty sets a property of obj. value must be nil, a string, an int
// that fits in 32 bits, an int32, or a native.Handle.
func (s *Session) PutProperty(obj native.Handle, name string, value any) error {
	const op = "Put"
	if obj == native.NullHandle {
		return wmierr.InvalidArgument(op, "object must not be null")
	}
	if name == "" {
		return wmierr.InvalidArgument(op, "property name must not be empty")
	}
	v, err := variantValue(op, name, value)
	if err != nil {
		return err
	}
	leave, err := s.enter(op)
	if err != nil {
		return err
	}
	defer leave()
	return s.putProperty(op, obj, name, v)
}

// ExecMethodRaw invokes method on the object at path with the given input
// instance, which may be NullHandle. It returns the output parameters, or
// NullHandle when the method has none.
func (s *Session) ExecMethodRaw(path, method string, in native.Handle) (native.Handle, error) {
	const op = "ExecMethod"
	if path == "" {
		return native.NullHandle, wmierr.InvalidArgument(op, "object path must not be empty")
	}
	if method == "" {
		return native.NullHandle, wmierr.InvalidArgument(op, "method name must not be empty")
	}
	leave, err := s.enter(op)
	if err != nil {
		return native.NullHandle, err
	}
	defer leave()
	return s.execMethod(op, path, method, in)
}

// ExecuteMethod invokes method of class on the object at path and returns
// every output parameter as a row, in server order.
//
// Input values must be nil, strings, ints that fit in 32 bits, int32s, or
// native handles. Every intermediate object is released before returning.
func (s *Session) ExecuteMethod(ctx context.Context, path, class, method string, inputs map[string]any) (row *wbem.Row, err error) {
	const op = "ExecMethod"

	if path == "" || class == "" || method == "" {
		return nil, wmierr.InvalidArgument(op, "object path, class and method must not be empty")
	}
	values := make(map[string]any, len(inputs))
	for name, value := range inputs {
		v, err := variantValue(op, name, value)
		if err != nil {
			return nil, err
		}
		values[name] = v
	}

	_, span := s.startSpan(ctx, "wmi.ExecMethod",
		attribute.String("wmi.class", class),
		attribute.String("wmi.method", method),
	)
	defer func() { endSpan(span, err) }()

	leave, err := s.enter(op)
	if err != nil {
		return nil, err
	}
	defer leave()

	classObj, err := s.getObject(op, class)
	if err != nil {
		return nil, err
	}
	signature, err := s.getMethod(op, classObj, method)
	s.release(classObj)
	if err != nil {
		return nil, err
	}

	in := native.NullHandle
	if signature != native.NullHandle {
		in, err = s.spawnInstance(op, signature)
		s.release(signature)
		if err != nil {
			return nil, err
		}
		defer s.release(in)
	} else if len(values) > 0 {
		return nil, wmierr.InvalidArgument(op, "method %s takes no inputs", method)
	}

	for _, name := range slices.Sorted(maps.Keys(values)) {
		if err := s.putProperty(op, in, name, values[name]); err != nil {
			return nil, err
		}
	}

	out, err := s.execMethod(op, path, method, in)
	if err != nil {
		return nil, err
	}
	if out == native.NullHandle {
		return wbem.NewRow(0), nil
	}
	defer s.release(out)

	t := s.track()
	defer t.release()
	obj := t.object(out)

	names, err := wbem.Names(obj)
	if err != nil {
		return nil, err
	}
	reqs := make([]wbem.PropertyRequest, len(names))
	for i, n := range names {
		reqs[i] = wbem.PropertyRequest{Name: n}
	}
	row, err = readRow(obj, reqs)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("method executed", "class", class, "method", method, "outputs", row.Len())
	return row, nil
}

func (s *Session) getObject(op, path string) (native.Handle, error) {
	var obj native.Handle
	code := s.native.Invoke(s.services, native.ServicesGetObject,
		native.BSTR(path), native.Int32(0), native.In(native.NullHandle),
		native.Out{Handle: &obj}, native.In(native.NullHandle))
	if code.Failed() {
		s.release(obj)
		return native.NullHandle, protocolError(op, code, "failed to get object "+path)
	}
	return obj, nil
}

func (s *Session) getMethod(op string, class native.Handle, method string) (native.Handle, error) {
	var in native.Handle
	code := s.native.Invoke(class, native.ObjectGetMethod,
		native.WString(method), native.Int32(0),
		native.Out{Handle: &in}, native.In(native.NullHandle))
	if code.Failed() {
		s.release(in)
		return native.NullHandle, protocolError(op, code, "failed to get method "+method)
	}
	return in, nil
}

func (s *Session) spawnInstance(op string, class native.Handle) (native.Handle, error) {
	var inst native.Handle
	code := s.native.Invoke(class, native.ObjectSpawnInstance,
		native.Int32(0), native.Out{Handle: &inst})
	if code.Failed() {
		s.release(inst)
		return native.NullHandle, protocolError(op, code, "failed to spawn instance")
	}
	return inst, nil
}

func (s *Session) putProperty(op string, obj native.Handle, name string, value any) error {
	v, err := s.native.NewVariant(value)
	if err != nil {
		return wmierr.Wrap(wmierr.KindInvalidArgument, op, err)
	}
	defer s.native.FreeVariant(v)

	code := s.native.Invoke(obj, native.ObjectPut,
		native.WString(name), native.Int32(0), native.VariantRef(v), native.Int32(0))
	if code.Failed() {
		return protocolError(op, code, "failed to set property "+name)
	}
	return nil
}

func (s *Session) execMethod(op, path, method string, in native.Handle) (native.Handle, error) {
	var out native.Handle
	code := s.native.Invoke(s.services, native.ServicesExecMethod,
		native.BSTR(path), native.BSTR(method), native.Int32(0),
		native.In(native.NullHandle), native.In(in),
		native.Out{Handle: &out}, native.In(native.NullHandle))
	if code.Failed() {
		s.release(out)
		return native.NullHandle, protocolError(op, code, "failed to execute method "+method)
	}
	return out, nil
}

// variantValue checks a method input and narrows ints to 32 bits.
func variantValue(op, name string, value any) (any, error) {
	switch v := value.(type) {
	case nil, string, int32, native.Handle:
		return v, nil
	case int:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, wmierr.InvalidArgument(op, "input %s: %d does not fit in 32 bits", name, v)
		}
		return int32(v), nil
	default:
		return nil, wmierr.InvalidArgument(op, "input %s: unsupported type %T", name, value)
	}
}
