// Package render streams a node tree to HTML.
//
// A Request walks the tree into segments: ordered byte buffers with holes
// for subtrees that are still waiting on a Future. Suspense regions whose
// content is not ready become boundaries that show their fallback first and
// are completed out of band later, through patch instructions that the
// client runtime applies. Stylesheets, scripts and preloads found while
// rendering are deduplicated in a resource.Registry and written into <head>
// in precedence order.
//
// A Request is driven from a single goroutine: Work renders everything that
// is ready, Flush writes everything that can be written. Futures may settle
// on any goroutine; settling only queues the affected task and wakes Run.
package render

import (
	"log/slog"

	"github.com/pthm/hxstream/lib/encoding"
)

// DefaultProgressiveChunkSize is the size above which a completed boundary
// is streamed out of band even when it is ready in time for its parent.
const DefaultProgressiveChunkSize = 12800

// Options configures a Request.
type Options struct {
	// OnError is called for every error caught while rendering. It returns
	// the digest sent to the client; an empty digest is replaced by one
	// derived from Encoder.
	OnError func(err error) string

	// OnShellReady is called once the shell can be flushed.
	OnShellReady func()

	// OnShellError is called when an error prevents the shell from rendering.
	OnShellError func(err error)

	// OnAllReady is called once every task has finished.
	OnAllReady func()

	// IdentifierPrefix is prepended to every generated element id.
	IdentifierPrefix string

	// Nonce is set on every inline script.
	Nonce string

	// BootstrapScripts and BootstrapModules are loaded after the shell.
	BootstrapScripts []string
	BootstrapModules []string

	// ExternalRuntimeSrc switches instructions to <template> elements and
	// loads the runtime from this URL.
	ExternalRuntimeSrc string

	// Development forwards error messages and stacks to the client.
	Development bool

	// ProgressiveChunkSize overrides DefaultProgressiveChunkSize. Negative
	// disables outlining.
	ProgressiveChunkSize int

	// Logger receives render diagnostics. Nil uses slog.Default().
	Logger *slog.Logger

	// Encoder derives error digests and resumable state tokens. Nil uses an
	// encoder keyed with random bytes.
	Encoder *encoding.Encoder

	// Resume seeds the request with the state of an earlier stream to the
	// same document.
	Resume *ResumableState
}
