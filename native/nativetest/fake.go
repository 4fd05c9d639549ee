// Package nativetest provides an in-memory native.Native for tests.
//
// A Fake serves objects, cursors and method calls from plain Go values and
// records every handle it hands out so tests can assert that each one is
// released exactly once and in which order.
package nativetest

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/smnsjas/go-wmicore/native"
	"github.com/smnsjas/go-wmicore/objects"
	"github.com/smnsjas/go-wmicore/status"
	"github.com/smnsjas/go-wmicore/wbem"
)

// Handle kinds reported by Kind and ReleasedKinds.
const (
	KindLocator  = "locator"
	KindContext  = "context"
	KindServices = "services"
	KindCursor   = "cursor"
	KindObject   = "object"
)

// Value is a property payload and its CIM type. A payload of type *Object,
// or a []any holding *Object elements, is handed out as embedded object
// handles.
type Value struct {
	Payload any
	Type    wbem.CIMType
}

// Object is a fake CIM object.
type Object struct {
	// Names lists the properties in server order.
	Names []string
	// Values holds payloads by exact name.
	Values map[string]Value
	// NamesFailures is the number of GetNames calls that fail before one
	// succeeds.
	NamesFailures int
	// GetFailures makes Get fail for the named properties.
	GetFailures map[string]status.Code
	// Methods maps a method name to its input signature. A nil signature
	// means the method takes no inputs.
	Methods map[string]*Object
}

// NewObject builds an object from alternating name/value pairs.
func NewObject(pairs ...any) *Object {
	o := &Object{Values: make(map[string]Value)}
	for i := 0; i+1 < len(pairs); i += 2 {
		name := pairs[i].(string)
		o.Set(name, pairs[i+1].(Value))
	}
	return o
}

// Set adds or replaces a property, keeping name order.
func (o *Object) Set(name string, v Value) {
	if o.Values == nil {
		o.Values = make(map[string]Value)
	}
	if _, ok := o.Values[name]; !ok {
		o.Names = append(o.Names, name)
	}
	o.Values[name] = v
}

func (o *Object) clone() *Object {
	c := &Object{
		Names:   slices.Clone(o.Names),
		Values:  make(map[string]Value, len(o.Values)),
		Methods: o.Methods,
	}
	for k, v := range o.Values {
		c.Values[k] = v
	}
	return c
}

// Step is one Next result of a cursor.
type Step struct {
	// Object is produced with the step; nil produces no object.
	Object *Object
	// Status is returned with the step.
	Status status.Code
	// Wait, when set, blocks Next until it is closed.
	Wait <-chan struct{}
}

// Query is the server side of one query text.
type Query struct {
	// Status fails ExecQuery when it is a failure code.
	Status status.Code
	// Steps are returned by successive Next calls. After the last step Next
	// returns no object and status.False.
	Steps []Step
}

// Rows builds a query that yields objs and then ends.
func Rows(objs ...*Object) *Query {
	q := &Query{}
	for _, o := range objs {
		q.Steps = append(q.Steps, Step{Object: o})
	}
	return q
}

// MethodFunc serves ExecMethod. in is nil when the method takes no inputs.
type MethodFunc func(path, method string, in *Object) (*Object, status.Code)

// ConnectCall records one ConnectServer call.
type ConnectCall struct {
	Resource string
	User     string
	Password string
	Context  native.Handle
}

// ExecCall records one ExecQuery call.
type ExecCall struct {
	Language string
	Query    string
	Flags    int32
}

// InvokeCall records one Invoke call.
type InvokeCall struct {
	Index native.CallIndex
	Name  string
}

type entry struct {
	kind   string
	obj    *Object
	cursor *cursor
}

type cursor struct {
	steps []Step
	pos   int
}

// Fake is an in-memory native.Native. Configure it before use; its
// recorders are safe to read while it is in use.
type Fake struct {
	// Failure knobs. A zero value succeeds.
	InitStatus    status.Code
	LocatorStatus status.Code
	ContextStatus status.Code
	SetValueCode  status.Code
	ConnectStatus status.Code
	BlanketStatus status.Code
	IdentityErr   error

	// Queries maps exact query text to its server side. Unknown text fails
	// ExecQuery with status.InvalidQuery.
	Queries map[string]*Query
	// Classes maps an object path to the class GetObject returns.
	Classes map[string]*Object
	// Method serves ExecMethod.
	Method MethodFunc
	// ThreadFunc identifies the calling thread; defaults to 1.
	ThreadFunc func() uint32
	// ConnectWait blocks ConnectServer for a resource until its channel is
	// closed. The call is recorded before it blocks.
	ConnectWait map[string]<-chan struct{}

	mu         sync.Mutex
	next       native.Handle
	live       map[native.Handle]*entry
	variants   map[native.Handle]any
	identities map[native.Handle]objects.AuthIdentity
	released   []native.Handle
	relKinds   []string
	inits      int
	uninits    int
	connects   []ConnectCall
	execs      []ExecCall
	invokes    []InvokeCall
	blankets   []native.Handle
	contextVal map[string]any
	lastIn     *Object
}

var _ native.Native = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		Queries: make(map[string]*Query),
		Classes: make(map[string]*Object),
	}
}

func (f *Fake) alloc(e *entry) native.Handle {
	if f.live == nil {
		f.live = make(map[native.Handle]*entry)
	}
	f.next += 8
	h := f.next + 0x1000
	f.live[h] = e
	return h
}

func (f *Fake) lookup(h native.Handle) *entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[h]
}

func (f *Fake) ThreadID() uint32 {
	if f.ThreadFunc != nil {
		return f.ThreadFunc()
	}
	return 1
}

func (f *Fake) Initialize() status.Code {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return f.InitStatus
}

func (f *Fake) Uninitialize() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uninits++
}

func (f *Fake) CreateLocator() (native.Handle, status.Code) {
	if f.LocatorStatus.Failed() {
		return native.NullHandle, f.LocatorStatus
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alloc(&entry{kind: KindLocator}), status.OK
}

func (f *Fake) CreateContext() (native.Handle, status.Code) {
	if f.ContextStatus.Failed() {
		return native.NullHandle, f.ContextStatus
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alloc(&entry{kind: KindContext}), status.OK
}

func (f *Fake) ConnectServer(locator native.Handle, resource, user string, password []byte, ctx native.Handle) (native.Handle, status.Code) {
	f.mu.Lock()
	f.connects = append(f.connects, ConnectCall{
		Resource: resource,
		User:     user,
		Password: string(password),
		Context:  ctx,
	})
	f.mu.Unlock()
	if wait := f.ConnectWait[resource]; wait != nil {
		<-wait
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if e := f.live[locator]; e == nil || e.kind != KindLocator {
		return native.NullHandle, status.InvalidArg
	}
	if f.ConnectStatus.Failed() {
		return native.NullHandle, f.ConnectStatus
	}
	return f.alloc(&entry{kind: KindServices}), status.OK
}

func (f *Fake) NewIdentity(id *objects.AuthIdentity) (native.Handle, error) {
	if f.IdentityErr != nil {
		return native.NullHandle, f.IdentityErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.identities == nil {
		f.identities = make(map[native.Handle]objects.AuthIdentity)
	}
	f.next += 8
	h := f.next + 0x1000
	f.identities[h] = objects.AuthIdentity{
		User:     id.User,
		Domain:   id.Domain,
		Password: slices.Clone(id.Password),
		Flags:    id.Flags,
	}
	return h, nil
}

func (f *Fake) FreeIdentity(h native.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.identities, h)
}

func (f *Fake) SetProxyBlanket(proxy native.Handle, identity native.Handle) status.Code {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blankets = append(f.blankets, identity)
	if f.live[proxy] == nil {
		return status.InvalidArg
	}
	return f.BlanketStatus
}

func (f *Fake) ExecQuery(services native.Handle, language, query string, flags int32) (native.Handle, status.Code) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, ExecCall{Language: language, Query: query, Flags: flags})
	if e := f.live[services]; e == nil || e.kind != KindServices {
		return native.NullHandle, status.InvalidArg
	}
	q, ok := f.Queries[query]
	if !ok {
		return native.NullHandle, status.InvalidQuery
	}
	if q.Status.Failed() {
		return native.NullHandle, q.Status
	}
	return f.alloc(&entry{kind: KindCursor, cursor: &cursor{steps: q.Steps}}), status.OK
}

func (f *Fake) Next(h native.Handle, timeout time.Duration) (native.Handle, status.Code) {
	f.mu.Lock()
	e := f.live[h]
	if e == nil || e.cursor == nil {
		f.mu.Unlock()
		return native.NullHandle, status.InvalidArg
	}
	c := e.cursor
	if c.pos >= len(c.steps) {
		f.mu.Unlock()
		return native.NullHandle, status.False
	}
	step := c.steps[c.pos]
	c.pos++
	f.mu.Unlock()

	if step.Wait != nil {
		select {
		case <-step.Wait:
		case <-time.After(timeout):
			return native.NullHandle, status.TimedOut
		}
	}

	if step.Object == nil {
		return native.NullHandle, step.Status
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alloc(&entry{kind: KindObject, obj: step.Object}), step.Status
}

func (f *Fake) GetNames(h native.Handle) ([]string, status.Code) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.live[h]
	if e == nil || e.obj == nil {
		return nil, status.InvalidArg
	}
	if e.obj.NamesFailures > 0 {
		e.obj.NamesFailures--
		return nil, status.CallFailed
	}
	return slices.Clone(e.obj.Names), status.OK
}

func (f *Fake) Get(h native.Handle, name string) (any, uint32, status.Code) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.live[h]
	if e == nil || e.obj == nil {
		return nil, 0, status.InvalidArg
	}
	if code, ok := e.obj.GetFailures[name]; ok {
		return nil, 0, code
	}
	v, ok := e.obj.Values[name]
	if !ok {
		return nil, 0, status.NotFound
	}
	return f.payload(v.Payload), uint32(v.Type), status.OK
}

// payload hands embedded objects out as new handles.
func (f *Fake) payload(p any) any {
	switch v := p.(type) {
	case *Object:
		if v == nil {
			return nil
		}
		return f.alloc(&entry{kind: KindObject, obj: v})
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = f.payload(item)
		}
		return out
	default:
		return p
	}
}

func (f *Fake) NewVariant(value any) (native.Handle, error) {
	switch value.(type) {
	case nil, string, int32, int, bool, native.Handle:
	default:
		return native.NullHandle, fmt.Errorf("nativetest: unsupported variant value %T", value)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.variants == nil {
		f.variants = make(map[native.Handle]any)
	}
	f.next += 8
	h := f.next + 0x1000
	f.variants[h] = value
	return h, nil
}

func (f *Fake) FreeVariant(h native.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.variants, h)
}

func (f *Fake) Invoke(this native.Handle, index native.CallIndex, args ...native.Arg) status.Code {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := InvokeCall{Index: index}
	if len(args) > 0 {
		switch a := args[0].(type) {
		case native.BSTR:
			call.Name = string(a)
		case native.WString:
			call.Name = string(a)
		}
	}
	f.invokes = append(f.invokes, call)

	e := f.live[this]
	if e == nil {
		return status.InvalidArg
	}

	switch index {
	case native.ContextSetValue:
		name, _ := args[0].(native.WString)
		ref, _ := args[2].(native.VariantRef)
		if f.contextVal == nil {
			f.contextVal = make(map[string]any)
		}
		f.contextVal[string(name)] = f.variants[native.Handle(ref)]
		return f.SetValueCode

	case native.ServicesGetObject:
		path, _ := args[0].(native.BSTR)
		out, _ := args[3].(native.Out)
		class, ok := f.Classes[string(path)]
		if !ok {
			return status.NotFound
		}
		*out.Handle = f.alloc(&entry{kind: KindObject, obj: class})
		return status.OK

	case native.ObjectGetMethod:
		name, _ := args[0].(native.WString)
		in, _ := args[2].(native.Out)
		sig, ok := e.obj.Methods[string(name)]
		if !ok {
			return status.NotFound
		}
		if sig != nil {
			*in.Handle = f.alloc(&entry{kind: KindObject, obj: sig})
		}
		return status.OK

	case native.ObjectSpawnInstance:
		out, _ := args[1].(native.Out)
		*out.Handle = f.alloc(&entry{kind: KindObject, obj: e.obj.clone()})
		return status.OK

	case native.ObjectPut:
		name, _ := args[0].(native.WString)
		ref, _ := args[2].(native.VariantRef)
		v, ok := f.variants[native.Handle(ref)]
		if !ok {
			return status.InvalidArg
		}
		if _, ok := e.obj.Values[string(name)]; !ok {
			return status.NotFound
		}
		t := e.obj.Values[string(name)].Type
		e.obj.Set(string(name), Value{Payload: v, Type: t})
		return status.OK

	case native.ServicesExecMethod:
		path, _ := args[0].(native.BSTR)
		method, _ := args[1].(native.BSTR)
		inH, _ := args[4].(native.In)
		out, _ := args[5].(native.Out)
		var in *Object
		if ie := f.live[native.Handle(inH)]; ie != nil {
			in = ie.obj
		}
		f.lastIn = in
		if f.Method == nil {
			return status.NotFound
		}
		result, code := f.Method(string(path), string(method), in)
		if code.Failed() {
			return code
		}
		if result != nil {
			*out.Handle = f.alloc(&entry{kind: KindObject, obj: result})
		}
		return code
	}
	return status.CallFailed
}

func (f *Fake) Release(h native.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.live[h]
	if !ok {
		return fmt.Errorf("nativetest: release of unknown handle %#x", uintptr(h))
	}
	delete(f.live, h)
	f.released = append(f.released, h)
	f.relKinds = append(f.relKinds, e.kind)
	return nil
}

// Live returns the number of handles not yet released.
func (f *Fake) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// LiveKinds returns the kinds of unreleased handles, sorted.
func (f *Fake) LiveKinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]string, 0, len(f.live))
	for _, e := range f.live {
		kinds = append(kinds, e.kind)
	}
	slices.Sort(kinds)
	return kinds
}

// Kind reports the kind of a live handle.
func (f *Fake) Kind(h native.Handle) string {
	if e := f.lookup(h); e != nil {
		return e.kind
	}
	return ""
}

// ReleasedKinds returns the kinds of released handles in release order.
func (f *Fake) ReleasedKinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.relKinds)
}

// Variants returns the number of variants not yet freed.
func (f *Fake) Variants() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.variants)
}

// Identities returns the number of identities not yet freed.
func (f *Fake) Identities() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.identities)
}

// Inits returns how many times Initialize ran.
func (f *Fake) Inits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inits
}

// Uninits returns how many times Uninitialize ran.
func (f *Fake) Uninits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uninits
}

// Connects returns the recorded ConnectServer calls.
func (f *Fake) Connects() []ConnectCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.connects)
}

// Execs returns the recorded ExecQuery calls.
func (f *Fake) Execs() []ExecCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.execs)
}

// Invokes returns the recorded Invoke calls.
func (f *Fake) Invokes() []InvokeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.invokes)
}

// Blankets returns the identity passed to each SetProxyBlanket call.
func (f *Fake) Blankets() []native.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.blankets)
}

// ContextValue returns a value set on a context through SetValue.
func (f *Fake) ContextValue(name string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.contextVal[name]
	return v, ok
}

// LastInput returns the input instance passed to the last ExecMethod.
func (f *Fake) LastInput() *Object {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastIn
}

// IdentityFor returns the recorded identity for h.
func (f *Fake) IdentityFor(h native.Handle) (objects.AuthIdentity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.identities[h]
	return id, ok
}
