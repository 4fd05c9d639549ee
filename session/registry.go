package session

import (
	"context"
	"errors"
	"slices"
	"sync"

	"golang.org/x/text/cases"

	"github.com/smnsjas/go-wmicore/wmierr"
)

// registryEntry is one shared session. While the first Acquire connects,
// session is nil and ready is open; ready is closed once the connect ends.
type registryEntry struct {
	session *Session
	users   int
	ready   chan struct{}
	err     error
}

// Registry shares one Session per resource and counts its users.
// Resources are compared case-insensitively. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	opts    []Option
	entries map[string]*registryEntry
}

// NewRegistry returns an empty Registry. opts apply to every session it
// creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		opts:    opts,
		entries: make(map[string]*registryEntry),
	}
}

func registryKey(resource string) string {
	return cases.Fold().String(resource)
}

// Acquire returns the session for resource, connecting it on first use.
// Each successful Acquire must be paired with one Close on the returned
// session. opts only apply when a new session is created.
//
// Only Acquires of a resource that is still connecting wait for it; they
// share the outcome of that connect.
func (r *Registry) Acquire(ctx context.Context, resource string, opts ...Option) (*Session, error) {
	key := registryKey(resource)

	r.mu.Lock()
	if e, ok := r.entries[key]; ok {
		e.users++
		r.mu.Unlock()
		return r.wait(ctx, e)
	}
	e := &registryEntry{users: 1, ready: make(chan struct{})}
	r.entries[key] = e
	r.mu.Unlock()

	all := append(slices.Clone(r.opts), opts...)
	s, err := connect(ctx, resource, newConfig(all))

	r.mu.Lock()
	defer r.mu.Unlock()
	defer close(e.ready)
	if err != nil {
		e.err = err
		delete(r.entries, key)
		return nil, err
	}
	s.registry = r
	s.key = key
	e.session = s
	return s, nil
}

// wait blocks until e has connected. A caller that gives up drops its use.
func (r *Registry) wait(ctx context.Context, e *registryEntry) (*Session, error) {
	select {
	case <-e.ready:
		if e.err != nil {
			return nil, e.err
		}
		return e.session, nil
	case <-ctx.Done():
		r.abandon(e)
		return nil, &wmierr.Error{Kind: wmierr.KindTimeout, Op: "Acquire", Message: "acquire cancelled", Err: ctx.Err()}
	}
}

// abandon drops one use of e and tears the session down when that was the
// last one.
func (r *Registry) abandon(e *registryEntry) {
	r.mu.Lock()
	e.users--
	s := e.session
	last := e.users == 0 && s != nil && r.entries[s.key] == e
	if last {
		delete(r.entries, s.key)
	}
	r.mu.Unlock()

	if !last {
		return
	}
	if err := s.teardown(); err != nil {
		s.logger.Warn("teardown of abandoned session failed", "error", err)
	}
}

// Users returns the number of users of the session for resource.
func (r *Registry) Users(resource string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[registryKey(resource)]; ok {
		return e.users
	}
	return 0
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CloseAll tears down every session regardless of its users. Sessions still
// connecting are left to their callers.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.entries))
	for key, e := range r.entries {
		if e.session == nil {
			continue
		}
		sessions = append(sessions, e.session)
		delete(r.entries, key)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.teardown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) release(s *Session) error {
	r.mu.Lock()
	e, ok := r.entries[s.key]
	if !ok || e.session != s {
		r.mu.Unlock()
		return wmierr.InvalidState("Close", "session is already closed")
	}
	e.users--
	if users := e.users; users > 0 {
		r.mu.Unlock()
		s.logger.Debug("session released", "users", users)
		return nil
	}
	delete(r.entries, s.key)
	r.mu.Unlock()

	return s.teardown()
}
