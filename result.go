package hxstream

import (
	"time"

	"github.com/pthm/hxstream/lib/node"
)

// Ready is the result of a component whose subtree is known.
//
//	return hxstream.Ready(hxstream.Text("hello"))
func Ready(n Node) Result {
	return node.Ready(n)
}

// Pending is the result of a component waiting on f. The component is
// called again once f settles; until then the nearest Suspense shows its
// fallback, or the shell waits if there is none.
func Pending(f *Future) Result {
	return node.Pending(f)
}

// Failed is the result of a component that cannot render. Inside a
// Suspense the boundary falls back to client rendering with the error's
// digest; outside one the shell fails.
func Failed(err error) Result {
	return node.Failed(err)
}

// NewFuture returns an unsettled future. Resolve or Reject it from any
// goroutine.
func NewFuture() *Future {
	return node.NewFuture()
}

// Resolved returns a future already resolved with v.
func Resolved(v any) *Future {
	return node.Resolved(v)
}

// Rejected returns a future already rejected with err.
func Rejected(err error) *Future {
	return node.Rejected(err)
}

// After returns a future that resolves with v once d has passed.
func After(d time.Duration, v any) *Future {
	return node.After(d, v)
}

// Use returns a component that renders the value of f once it resolves,
// and fails with its error if it is rejected.
//
//	hxstream.Use(user, func(v any) hxstream.Node {
//	    return hxstream.Text(v.(User).Name)
//	})
func Use(f *Future, render func(v any) Node) ComponentFunc {
	return node.Use(f, render)
}
