package node

import (
	"sync"
	"time"
)

// FutureState is the settlement state of a Future.
type FutureState uint8

const (
	FuturePending FutureState = iota
	FutureResolved
	FutureRejected
)

// Future is an asynchronous value consumed by components.
//
// The first call to Resolve or Reject wins; later calls are ignored.
// Subscribers run exactly once, on the settling goroutine, after the state
// is visible to Result.
type Future struct {
	mu    sync.Mutex
	state FutureState
	value any
	err   error
	subs  []func()
}

// NewFuture returns an unsettled Future.
func NewFuture() *Future {
	return &Future{}
}

// Resolved returns a Future already resolved with v.
func Resolved(v any) *Future {
	return &Future{state: FutureResolved, value: v}
}

// Rejected returns a Future already rejected with err.
func Rejected(err error) *Future {
	return &Future{state: FutureRejected, err: err}
}

// After returns a Future that resolves with v once d has elapsed.
func After(d time.Duration, v any) *Future {
	f := NewFuture()
	time.AfterFunc(d, func() { f.Resolve(v) })
	return f
}

// Resolve settles the Future with a value. It reports whether this call settled it.
func (f *Future) Resolve(v any) bool {
	return f.settle(FutureResolved, v, nil)
}

// Reject settles the Future with an error. It reports whether this call settled it.
func (f *Future) Reject(err error) bool {
	return f.settle(FutureRejected, nil, err)
}

func (f *Future) settle(state FutureState, v any, err error) bool {
	f.mu.Lock()
	if f.state != FuturePending {
		f.mu.Unlock()
		return false
	}
	f.state = state
	f.value = v
	f.err = err
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
	return true
}

// State returns the current state.
func (f *Future) State() FutureState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Result returns the settled value or error. settled is false while pending.
func (f *Future) Result() (v any, err error, settled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err, f.state != FuturePending
}

// Subscribe registers fn to run when the Future settles. If it has already
// settled fn runs immediately.
func (f *Future) Subscribe(fn func()) {
	f.mu.Lock()
	if f.state == FuturePending {
		f.subs = append(f.subs, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn()
}
