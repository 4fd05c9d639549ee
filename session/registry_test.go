package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smnsjas/go-wmicore/native/nativetest"
	"github.com/smnsjas/go-wmicore/status"
	"github.com/smnsjas/go-wmicore/wmierr"
)

func TestRegistrySharesSessions(t *testing.T) {
	fake := nativetest.New()
	r := NewRegistry(WithNative(fake))
	ctx := context.Background()

	a, err := r.Acquire(ctx, `\\Server01\ROOT\cimv2`)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	b, err := r.Acquire(ctx, remote)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if a != b {
		t.Fatal("expected resources differing only in case to share a session")
	}
	if got := len(fake.Connects()); got != 1 {
		t.Errorf("expected 1 connect, got %d", got)
	}
	if r.Users(remote) != 2 || r.Len() != 1 {
		t.Errorf("expected 2 users of 1 session, got %d of %d", r.Users(remote), r.Len())
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if a.Closed() {
		t.Error("expected session to stay open while in use")
	}
	if r.Users(remote) != 1 {
		t.Errorf("expected 1 user, got %d", r.Users(remote))
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !b.Closed() || r.Len() != 0 || fake.Live() != 0 {
		t.Errorf("expected teardown after last close: closed=%v len=%d live=%d", b.Closed(), r.Len(), fake.Live())
	}

	if err := b.Close(); !errors.Is(err, wmierr.ErrInvalidState) {
		t.Errorf("expected invalid state, got %v", err)
	}

	c, err := r.Acquire(ctx, remote)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer c.Close()
	if c == a || c.ID() == a.ID() {
		t.Error("expected a fresh session after teardown")
	}
	if got := len(fake.Connects()); got != 2 {
		t.Errorf("expected 2 connects, got %d", got)
	}
}

func TestRegistryConcurrentAcquire(t *testing.T) {
	fake := nativetest.New()
	r := NewRegistry(WithNative(fake))

	const workers = 16
	sessions := make([]*Session, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := r.Acquire(context.Background(), remote)
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			sessions[i] = s
		}()
	}
	wg.Wait()

	if got := len(fake.Connects()); got != 1 {
		t.Fatalf("expected 1 connect, got %d", got)
	}
	if r.Users(remote) != workers {
		t.Errorf("expected %d users, got %d", workers, r.Users(remote))
	}

	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sessions[i].Close(); err != nil {
				t.Errorf("Close failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if r.Len() != 0 || fake.Live() != 0 {
		t.Errorf("expected everything released, got len=%d live=%d", r.Len(), fake.Live())
	}
}

func TestRegistryFailedAcquireNotCached(t *testing.T) {
	fake := nativetest.New()
	fake.ConnectStatus = status.AccessDenied
	r := NewRegistry(WithNative(fake))

	if _, err := r.Acquire(context.Background(), remote); !errors.Is(err, wmierr.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("expected no cached session, got %d", r.Len())
	}

	fake.ConnectStatus = status.OK
	s, err := r.Acquire(context.Background(), remote)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer s.Close()
	if r.Users(remote) != 1 {
		t.Errorf("expected 1 user, got %d", r.Users(remote))
	}
}

func TestRegistryCloseAll(t *testing.T) {
	fake := nativetest.New()
	r := NewRegistry(WithNative(fake))
	ctx := context.Background()

	var acquired []*Session
	for _, res := range []string{remote, `\\server02\root\cimv2`, remote} {
		s, err := r.Acquire(ctx, res)
		if err != nil {
			t.Fatalf("Acquire(%q) failed: %v", res, err)
		}
		acquired = append(acquired, s)
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", r.Len())
	}

	if err := r.CloseAll(); err != nil {
		t.Fatalf("CloseAll failed: %v", err)
	}
	if r.Len() != 0 || fake.Live() != 0 {
		t.Errorf("expected everything released, got len=%d live=%d", r.Len(), fake.Live())
	}
	for _, s := range acquired {
		if !s.Closed() {
			t.Errorf("session %s still open", s.ID())
		}
	}
	if err := acquired[0].Close(); !errors.Is(err, wmierr.ErrInvalidState) {
		t.Errorf("expected invalid state after CloseAll, got %v", err)
	}
}

func TestRegistryAcquireOptions(t *testing.T) {
	fake := nativetest.New()
	r := NewRegistry(WithNative(fake))

	s, err := r.Acquire(context.Background(), remote, WithCredentials("admin", []byte("pw")))
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer s.Close()
	if s.Username() != "admin" {
		t.Errorf("expected per-call credentials, got %q", s.Username())
	}

	again, err := r.Acquire(context.Background(), remote, WithCredentials("other", nil))
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer again.Close()
	if again.Username() != "admin" {
		t.Errorf("expected cached session to keep its credentials, got %q", again.Username())
	}
}

// waitConnects polls until fake has recorded n connects.
func waitConnects(t *testing.T, fake *nativetest.Fake, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for len(fake.Connects()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connects, got %d", n, len(fake.Connects()))
		}
		time.Sleep(time.Millisecond)
	}
}

// waitUsers polls until resource has n users, pending ones included.
func waitUsers(t *testing.T, r *Registry, resource string, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for r.Users(resource) < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d users, got %d", n, r.Users(resource))
		}
		time.Sleep(time.Millisecond)
	}
}

type acquired struct {
	s   *Session
	err error
}

func TestRegistrySlowConnectBlocksOnlyItsResource(t *testing.T) {
	const slow = `\\server02\root\cimv2`
	unblock := make(chan struct{})
	fake := nativetest.New()
	fake.ConnectWait = map[string]<-chan struct{}{slow: unblock}
	r := NewRegistry(WithNative(fake))
	ctx := context.Background()

	open, err := r.Acquire(ctx, remote)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	pending := make(chan acquired, 2)
	for range 2 {
		go func() {
			s, err := r.Acquire(ctx, slow)
			pending <- acquired{s, err}
		}()
	}
	waitConnects(t, fake, 2)
	waitUsers(t, r, slow, 2)

	others := make(chan acquired, 2)
	go func() {
		for _, res := range []string{remote, `\\server03\root\cimv2`} {
			s, err := r.Acquire(ctx, res)
			others <- acquired{s, err}
		}
	}()
	for range 2 {
		select {
		case got := <-others:
			if got.err != nil {
				t.Fatalf("Acquire failed: %v", got.err)
			}
			defer got.s.Close()
		case <-time.After(5 * time.Second):
			t.Fatal("Acquire of another resource waited for a pending connect")
		}
	}
	defer open.Close()

	select {
	case <-pending:
		t.Fatal("Acquire returned before its connect finished")
	default:
	}

	close(unblock)
	a, b := <-pending, <-pending
	if a.err != nil || b.err != nil {
		t.Fatalf("Acquire failed: %v, %v", a.err, b.err)
	}
	if a.s != b.s {
		t.Error("expected waiters to share the pending session")
	}
	if got := len(fake.Connects()); got != 3 {
		t.Errorf("expected 3 connects, got %d", got)
	}
	if r.Users(slow) != 2 {
		t.Errorf("expected 2 users, got %d", r.Users(slow))
	}
	a.s.Close()
	b.s.Close()
	if r.Users(slow) != 0 {
		t.Errorf("expected no users, got %d", r.Users(slow))
	}
}

func TestRegistryPendingConnectFailure(t *testing.T) {
	unblock := make(chan struct{})
	fake := nativetest.New()
	fake.ConnectStatus = status.AccessDenied
	fake.ConnectWait = map[string]<-chan struct{}{remote: unblock}
	r := NewRegistry(WithNative(fake))

	pending := make(chan acquired, 3)
	for range 3 {
		go func() {
			s, err := r.Acquire(context.Background(), remote)
			pending <- acquired{s, err}
		}()
	}
	waitUsers(t, r, remote, 3)
	close(unblock)

	for range 3 {
		if got := <-pending; !errors.Is(got.err, wmierr.ErrProtocol) {
			t.Errorf("expected protocol error, got %v", got.err)
		}
	}
	if got := len(fake.Connects()); got != 1 {
		t.Errorf("expected waiters to share 1 connect, got %d", got)
	}
	if r.Len() != 0 || fake.Live() != 0 {
		t.Errorf("expected nothing cached, got len=%d live=%d", r.Len(), fake.Live())
	}
}

func TestRegistryAcquireCancelledWhileConnecting(t *testing.T) {
	unblock := make(chan struct{})
	fake := nativetest.New()
	fake.ConnectWait = map[string]<-chan struct{}{remote: unblock}
	r := NewRegistry(WithNative(fake))

	first := make(chan acquired, 1)
	go func() {
		s, err := r.Acquire(context.Background(), remote)
		first <- acquired{s, err}
	}()
	waitConnects(t, fake, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Acquire(ctx, remote); !errors.Is(err, wmierr.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if r.Users(remote) != 1 {
		t.Errorf("expected the cancelled caller to drop its use, got %d users", r.Users(remote))
	}

	close(unblock)
	got := <-first
	if got.err != nil {
		t.Fatalf("Acquire failed: %v", got.err)
	}
	if err := got.s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !got.s.Closed() || r.Len() != 0 || fake.Live() != 0 {
		t.Errorf("expected teardown: closed=%v len=%d live=%d", got.s.Closed(), r.Len(), fake.Live())
	}
}
