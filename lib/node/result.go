package node

import "context"

// Result is the tagged outcome of invoking a Component.
//
// Exactly one of the three states holds:
//   - Ready: the component produced a subtree (possibly nil)
//   - Pending: the component needs an unsettled Future
//   - Failed: the component errored
type Result struct {
	node Node
	wait *Future
	err  error
}

// Ready returns a result carrying the rendered subtree.
func Ready(n Node) Result {
	return Result{node: n}
}

// Pending returns a result that suspends until f settles.
func Pending(f *Future) Result {
	return Result{wait: f}
}

// Failed returns an error result.
func Failed(err error) Result {
	return Result{err: err}
}

// Node returns the subtree of a Ready result.
func (r Result) Node() Node {
	return r.node
}

// Wait returns the Future of a Pending result, or nil.
func (r Result) Wait() *Future {
	return r.wait
}

// Err returns the error of a Failed result, or nil.
func (r Result) Err() error {
	return r.err
}

// IsPending reports whether the result suspends.
func (r Result) IsPending() bool {
	return r.wait != nil
}

// Use returns a Component that renders the value of f once it resolves.
//
//	node.Use(user, func(v any) node.Node {
//	    return node.Text(v.(User).Name)
//	})
func Use(f *Future, render func(v any) Node) Component {
	return func(context.Context) Result {
		return useResult(f, render)
	}
}

func useResult(f *Future, render func(v any) Node) Result {
	v, err, settled := f.Result()
	if !settled {
		return Pending(f)
	}
	if err != nil {
		return Failed(err)
	}
	return Ready(render(v))
}
