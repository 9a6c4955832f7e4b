package hxstream

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/pthm/hxstream/lib/render"
	"github.com/pthm/hxstream/lib/resource"
)

// Stream renders tree to w progressively. The shell is written as soon as
// everything outside pending Suspense boundaries is ready; each boundary
// follows in its own chunk when its data arrives. Writers with a Flush
// method (http.ResponseWriter) are flushed after every chunk.
//
// Cancelling ctx stops waiting: pending boundaries are handed to the client
// to render. If the shell itself fails nothing is written and the error
// wraps ErrShellFailed, so the caller can still send an error page.
//
//	err := hxstream.Stream(r.Context(), w, page(), hxstream.WithNonce(nonce))
func Stream(ctx context.Context, w io.Writer, tree Node, opts ...Option) error {
	req, err := NewRequest(ctx, tree, opts...)
	if err != nil {
		return err
	}
	return shellError(req, req.Run(ctx, w))
}

// Render renders tree to w in a single write once every component has
// finished, with every boundary inlined. Use it for static generation and
// crawlers; use Stream for browsers.
func Render(ctx context.Context, w io.Writer, tree Node, opts ...Option) error {
	req, err := NewRequest(ctx, tree, opts...)
	if err != nil {
		return err
	}
	return shellError(req, req.Prerender(ctx, w))
}

// Respond streams tree as an HTML response to r.
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//	    if err := hxstream.Respond(w, r, page()); hxstream.IsShellError(err) {
//	        http.Error(w, "Internal error", http.StatusInternalServerError)
//	    }
//	}
func Respond(w http.ResponseWriter, r *http.Request, tree Node, opts ...Option) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	return Stream(r.Context(), w, tree, opts...)
}

func shellError(req *Request, err error) error {
	if err != nil && req.Status() == render.StatusFailed {
		return fmt.Errorf("%w: %w", ErrShellFailed, err)
	}
	return err
}

// Preload hints from inside a component that href will be needed soon.
// props.As names the destination ("style", "script", "font", "image").
// It works the same during a server render and on a hydration root, and
// does nothing anywhere else.
//
//	func Hero(ctx context.Context) hxstream.Result {
//	    hxstream.Preload(ctx, "/hero.avif", hxstream.Props{As: "image", FetchPriority: "high"})
//	    return hxstream.Ready(heroImage())
//	}
func Preload(ctx context.Context, href string, props Props) {
	resource.Preload(ctx, href, props)
}

// Preinit starts loading and executing a stylesheet or script from inside
// a component. props.As must be "style" or "script".
func Preinit(ctx context.Context, href string, props Props) {
	resource.Preinit(ctx, href, props)
}
