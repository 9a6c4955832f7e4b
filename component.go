package hxstream

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Component exposes a tree as a templ.Component. Rendering it waits for
// every component in the tree and writes the finished markup in one piece,
// so it can be embedded in templ layouts or used for static generation.
//
//	templ Layout() {
//	    <main>
//	        @hxstream.Component(feed)
//	    </main>
//	}
//
// Boundaries that fail are written in their client-rendered form, which
// hydration picks up. Use Stream when the response can be flushed
// progressively.
func Component(tree Node, opts ...Option) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return Render(ctx, w, tree, opts...)
	})
}

// Page is like Component but builds a fresh tree for every render, for
// trees that hold per-request futures.
func Page(build func(ctx context.Context) Node, opts ...Option) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return Render(ctx, w, build(ctx), opts...)
	})
}
