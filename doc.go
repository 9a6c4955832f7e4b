// Package hxstream streams server-rendered HTML with Suspense boundaries,
// hoists the stylesheets, scripts and head elements the page needs, and
// hydrates the result on the client without redoing the server's work.
//
// # Core Concepts
//
// A page is a tree of nodes: Text, elements built with El, Fragment,
// Suspense and ComponentFunc. Components return a Result: Ready with a
// subtree, Pending on a Future that is not settled yet, or Failed.
//
//	func page(posts *hxstream.Future) hxstream.Node {
//	    return hxstream.El("html", nil,
//	        hxstream.El("head", nil),
//	        hxstream.El("body", nil,
//	            hxstream.El("h1", nil, hxstream.Text("Posts")),
//	            hxstream.Suspense{
//	                Fallback: hxstream.Text("Loading..."),
//	                Content:  hxstream.Use(posts, postList),
//	            },
//	        ),
//	    )
//	}
//
// Any templ.Component can sit in a tree as a leaf (Leaf), and any tree can
// be rendered from templ (Component).
//
// # Streaming
//
// Stream writes the shell, everything outside pending boundaries, as soon
// as it is ready, with each pending boundary showing its fallback. When a
// boundary's data arrives its content is sent in a hidden container
// followed by a small instruction that swaps it into place. Boundaries that
// fail are handed to the client to render, carrying a digest of the error
// rather than its message.
//
//	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
//	    hxstream.Respond(w, r, page(loadPosts(r.Context())))
//	})
//
// Render waits for everything instead and writes one complete document.
//
// A Registry maps http.ServeMux patterns to PageFuncs and turns failures
// that happen before the shell into status codes; Handler does the same
// for a single page. Both gzip by default, flushing every chunk through.
//
// # Resources
//
// <link rel="stylesheet" precedence="...">, <script async src> and
// <style href precedence> elements anywhere in the tree are resources: they
// are written once per document, stylesheets grouped by precedence, into
// <head>. A stylesheet first seen inside a late boundary is sent with the
// instruction that reveals it, and the boundary stays hidden until the
// stylesheet has loaded. <title>, <meta> and plain <link> elements are
// hoisted into <head> as well. Components can also ask for resources
// imperatively with Preload and Preinit.
//
// # Hydration
//
// The lib/hydrate package adopts the streamed markup for the same tree on
// the client: it attaches event listeners to the existing nodes, matches
// resources to the elements already in <head>, and hydrates each boundary
// as the runtime (lib/client) reveals it. Markup that does not match is
// replaced by a client render of the smallest enclosing boundary and
// reported as a recoverable error. TestResult.Hydrate runs the whole round
// trip in tests.
//
// # Resume Tokens
//
// A request can hand out a token listing the resources and runtime code it
// already sent. A later stream into the same document passes it to
// WithResumeToken and skips them. Tokens are signed with the WithSecret
// key, or encrypted when sensitive, so clients cannot forge them.
//
// # Design Rationale
//
// The system favors explicitness over magic:
//   - Explicit data dependencies (futures, not hidden fetches)
//   - Explicit loading states (Suspense fallbacks)
//   - Explicit error surfaces (digests to the client, errors to OnError)
//
// A render never blocks on a slow component unless nothing can be shown
// without it.
package hxstream
