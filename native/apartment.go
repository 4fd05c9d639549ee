package native

import (
	"runtime"
	"sync"

	"github.com/smnsjas/go-wmicore/status"
	"github.com/smnsjas/go-wmicore/wmierr"
)

type threadState struct {
	initialized bool
	err         error
}

// Apartment tracks per-thread protocol initialization for one Native.
// It is safe for concurrent use.
type Apartment struct {
	native Native

	mu      sync.Mutex
	threads map[uint32]*threadState
}

// NewApartment returns an Apartment for n.
func NewApartment(n Native) *Apartment {
	return &Apartment{
		native:  n,
		threads: make(map[uint32]*threadState),
	}
}

// Native returns the library the apartment initializes.
func (a *Apartment) Native() Native {
	return a.native
}

// Enter pins the calling goroutine to its OS thread and initializes that
// thread on first use. The returned func unpins and must be called when the
// protocol work is done.
//
// A thread whose library was already initialized in an incompatible mode
// fails with an IllegalState error on this and every later Enter.
func (a *Apartment) Enter() (func(), error) {
	runtime.LockOSThread()
	if err := a.ensure(); err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}
	return runtime.UnlockOSThread, nil
}

func (a *Apartment) ensure() error {
	id := a.native.ThreadID()

	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.threads[id]
	if st == nil {
		st = &threadState{}
		a.threads[id] = st
	}
	if st.err != nil {
		return st.err
	}
	if st.initialized {
		return nil
	}

	code := a.native.Initialize()
	switch {
	case code == status.ChangedMode:
		st.err = wmierr.IllegalState("Initialize", uint32(code),
			"calling thread was initialized with an incompatible threading model")
		return st.err
	case code.Failed():
		return wmierr.Protocol("Initialize", uint32(code), status.Message(uint32(code)))
	}
	st.initialized = true
	return nil
}

// Initialized reports whether the calling thread is initialized. The
// caller should be pinned to its thread for the answer to stay meaningful.
func (a *Apartment) Initialized() bool {
	id := a.native.ThreadID()
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.threads[id]
	return st != nil && st.initialized
}

// Uninitialize releases the calling thread's protocol state if Enter
// initialized it. The caller should be pinned to its thread.
func (a *Apartment) Uninitialize() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	id := a.native.ThreadID()
	a.mu.Lock()
	st := a.threads[id]
	if st == nil || !st.initialized {
		a.mu.Unlock()
		return
	}
	delete(a.threads, id)
	a.mu.Unlock()

	a.native.Uninitialize()
}
