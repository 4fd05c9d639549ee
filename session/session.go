package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/smnsjas/go-wmicore/native"
	"github.com/smnsjas/go-wmicore/objects"
	"github.com/smnsjas/go-wmicore/status"
	"github.com/smnsjas/go-wmicore/timeout"
	"github.com/smnsjas/go-wmicore/wmierr"
)

// providerArchitecture is the context value that selects 64-bit providers.
const providerArchitecture = "__ProviderArchitecture"

// State represents the lifecycle state of a Session.
type State int

const (
	// StateCreated is the state while Connect is running.
	StateCreated State = iota
	// StateConnected indicates the session accepts calls.
	StateConnected
	// StateClosed indicates the session released its handles.
	StateClosed
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Session is a connection to one management resource.
// It is safe for concurrent use.
type Session struct {
	mu sync.RWMutex

	id         uuid.UUID
	state      State
	resource   string
	hostname   string
	username   string
	credential *objects.Credential

	apt    *native.Apartment
	native native.Native

	// Owned handles, released once by Close.
	locator  native.Handle
	context  native.Handle
	services native.Handle
	identity native.Handle

	logger *slog.Logger
	tracer trace.Tracer
	clock  timeout.Clock

	// Set when the session is shared through a Registry.
	registry *Registry
	key      string
}

// Connect opens a session to resource, written as \\host\namespace or as a
// bare namespace for the local machine.
func Connect(ctx context.Context, resource string, opts ...Option) (*Session, error) {
	return connect(ctx, resource, newConfig(opts))
}

func connect(ctx context.Context, resource string, cfg *config) (s *Session, err error) {
	const op = "Connect"

	if resource == "" {
		return nil, wmierr.InvalidArgument(op, "resource must not be empty")
	}
	if cfg.hasCredentials() && IsLocal(resource) {
		return nil, wmierr.InvalidArgument(op, "a local resource must be accessed without credentials")
	}
	if err := ctx.Err(); err != nil {
		return nil, &wmierr.Error{Kind: wmierr.KindTimeout, Op: op, Message: "connect cancelled", Err: err}
	}

	apt, err := cfg.resolveApartment()
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	s = &Session{
		id:       id,
		state:    StateCreated,
		resource: resource,
		hostname: Hostname(resource),
		username: cfg.user,
		apt:      apt,
		native:   apt.Native(),
		logger:   cfg.logger.With("session_id", id.String(), "resource", resource),
		tracer:   cfg.tracer,
		clock:    cfg.clock,
	}

	if cfg.hasCredentials() {
		cred, err := objects.NewCredential(cfg.user, secretOrNil(cfg))
		clear(cfg.secret)
		if err != nil {
			return nil, wmierr.Wrap(wmierr.KindInvalidArgument, op, err)
		}
		s.credential = cred
	}

	_, span := s.startSpan(ctx, "wmi.Connect")
	defer func() { endSpan(span, err) }()

	if err := s.open(); err != nil {
		s.logger.Debug("connect failed", "error", err)
		if s.credential != nil {
			s.credential.Clear()
		}
		return nil, err
	}

	s.state = StateConnected
	s.logger.Debug("session connected", "hostname", s.hostname, "username", s.username)
	return s, nil
}

func secretOrNil(cfg *config) []byte {
	if !cfg.hasSecret {
		return nil
	}
	return cfg.secret
}

// open acquires the native handles. On failure every handle acquired so far
// is released in reverse order.
func (s *Session) open() error {
	const op = "Connect"

	leave, err := s.apt.Enter()
	if err != nil {
		return err
	}
	defer leave()

	var acquired []native.Handle
	fail := func(err error) error {
		for i := len(acquired) - 1; i >= 0; i-- {
			s.release(acquired[i])
		}
		return err
	}

	locator, code := s.native.CreateLocator()
	if code.Failed() {
		return protocolError(op, code, "failed to create locator")
	}
	acquired = append(acquired, locator)

	callCtx, err := s.newContext()
	if err != nil {
		return fail(err)
	}
	acquired = append(acquired, callCtx)

	var secret []byte
	if s.credential != nil {
		secret, err = s.credential.Secret()
		if err != nil {
			return fail(wmierr.Wrap(wmierr.KindInvalidArgument, op, err))
		}
		defer clear(secret)
	}

	services, code := s.native.ConnectServer(locator, s.resource, s.username, secret, callCtx)
	if code.Failed() {
		return fail(protocolError(op, code, "failed to connect to "+s.resource))
	}
	acquired = append(acquired, services)

	identity := native.NullHandle
	if s.username != "" {
		identity, err = s.newIdentity()
		if err != nil {
			return fail(err)
		}
	}

	if code := s.native.SetProxyBlanket(services, identity); code.Failed() {
		if identity != native.NullHandle {
			s.native.FreeIdentity(identity)
		}
		return fail(protocolError(op, code, "could not set proxy blanket"))
	}

	s.locator = locator
	s.context = callCtx
	s.services = services
	s.identity = identity
	return nil
}

// newContext creates the call context that pins 64-bit providers.
func (s *Session) newContext() (native.Handle, error) {
	const op = "Connect"

	h, code := s.native.CreateContext()
	if code.Failed() {
		return native.NullHandle, protocolError(op, code, "failed to create call context")
	}

	v, err := s.native.NewVariant(int32(64))
	if err != nil {
		s.release(h)
		return native.NullHandle, wmierr.Wrap(wmierr.KindProtocol, op, err)
	}
	defer s.native.FreeVariant(v)

	code = s.native.Invoke(h, native.ContextSetValue,
		native.WString(providerArchitecture), native.Int32(0), native.VariantRef(v))
	if code.Failed() {
		s.release(h)
		return native.NullHandle, protocolError(op, code, "failed to set "+providerArchitecture)
	}
	return h, nil
}

func (s *Session) newIdentity() (native.Handle, error) {
	const op = "Connect"

	id, err := s.credential.Identity()
	if err != nil {
		return native.NullHandle, wmierr.Wrap(wmierr.KindInvalidArgument, op, err)
	}
	defer id.Clear()

	h, err := s.native.NewIdentity(id)
	if err != nil {
		return native.NullHandle, wmierr.Wrap(wmierr.KindProtocol, op, err)
	}
	return h, nil
}

// Close releases the session. A session obtained from a Registry is only
// torn down when its last user closes it. Closing a closed session fails
// with an invalid state error.
func (s *Session) Close() error {
	if s.registry != nil {
		return s.registry.release(s)
	}
	return s.teardown()
}

func (s *Session) teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return wmierr.InvalidState("Close", "session is already closed")
	}
	s.state = StateClosed

	leave, err := s.apt.Enter()
	if err != nil {
		s.logger.Warn("releasing handles on an uninitialized thread", "error", err)
	} else {
		defer leave()
	}

	s.release(s.context)
	s.release(s.services)
	s.release(s.locator)
	if s.identity != native.NullHandle {
		s.native.FreeIdentity(s.identity)
	}
	s.context, s.services, s.locator, s.identity = 0, 0, 0, 0

	if s.credential != nil {
		s.credential.Clear()
	}

	s.logger.Debug("session closed")
	return nil
}

// release drops a handle, logging failures.
func (s *Session) release(h native.Handle) {
	if h == native.NullHandle {
		return
	}
	if err := s.native.Release(h); err != nil {
		s.logger.Debug("release failed", "handle", uintptr(h), "error", err)
	}
}

// enter takes the read side of the lock and pins the calling thread.
// The returned func undoes both.
func (s *Session) enter(op string) (func(), error) {
	s.mu.RLock()
	if s.state != StateConnected {
		s.mu.RUnlock()
		return nil, wmierr.InvalidState(op, "session is closed")
	}
	leave, err := s.apt.Enter()
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	return func() {
		leave()
		s.mu.RUnlock()
	}, nil
}

// ID returns the session identifier used in logs and traces.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Resource returns the resource the session is connected to.
func (s *Session) Resource() string {
	return s.resource
}

// Hostname returns the host part of the resource, or "" when local.
func (s *Session) Hostname() string {
	return s.hostname
}

// Username returns the user the session connected as, or "".
func (s *Session) Username() string {
	return s.username
}

// Password returns a copy of the secret the session connected with, or nil.
// The caller should clear it when done.
func (s *Session) Password() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.credential == nil || s.state == StateClosed {
		return nil, nil
	}
	return s.credential.Secret()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Closed reports whether the session was closed.
func (s *Session) Closed() bool {
	return s.State() == StateClosed
}

func (s *Session) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("wmi.session_id", s.id.String()),
		attribute.String("wmi.resource", s.resource),
	)
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// protocolError builds a protocol error carrying the translated status.
func protocolError(op string, code status.Code, what string) error {
	return wmierr.Protocol(op, uint32(code), what+": "+status.Message(uint32(code)))
}
