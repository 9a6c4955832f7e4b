package hxstream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pthm/hxstream/lib/render"
)

// Request is an alias for render.Request, for callers that drive a render
// themselves or need its resume token afterwards.
type Request = render.Request

// Option configures a render.
type Option func(*options)

type options struct {
	render          render.Options
	secret          []byte
	resumeToken     string
	resumeSensitive bool
}

// WithOnError sets the function that reports render errors. It returns the
// digest sent to the client in place of the message; an empty string falls
// back to a digest derived from the secret.
func WithOnError(fn func(err error) string) Option {
	return func(o *options) {
		o.render.OnError = fn
	}
}

// WithOnShellReady is called once the shell can be written. Status codes
// and headers must be decided before it returns.
func WithOnShellReady(fn func()) Option {
	return func(o *options) {
		o.render.OnShellReady = fn
	}
}

// WithOnShellError is called when an error outside every Suspense makes
// the shell impossible to render.
func WithOnShellError(fn func(err error)) Option {
	return func(o *options) {
		o.render.OnShellError = fn
	}
}

// WithOnAllReady is called once every component has finished.
func WithOnAllReady(fn func()) Option {
	return func(o *options) {
		o.render.OnAllReady = fn
	}
}

// WithNonce sets the CSP nonce placed on every inline script.
func WithNonce(nonce string) Option {
	return func(o *options) {
		o.render.Nonce = nonce
	}
}

// WithIdentifierPrefix prefixes every generated id, so several streams can
// share one document.
func WithIdentifierPrefix(prefix string) Option {
	return func(o *options) {
		o.render.IdentifierPrefix = prefix
	}
}

// WithBootstrapScripts loads classic scripts once the shell is written.
func WithBootstrapScripts(srcs ...string) Option {
	return func(o *options) {
		o.render.BootstrapScripts = append(o.render.BootstrapScripts, srcs...)
	}
}

// WithBootstrapModules loads module scripts once the shell is written.
func WithBootstrapModules(srcs ...string) Option {
	return func(o *options) {
		o.render.BootstrapModules = append(o.render.BootstrapModules, srcs...)
	}
}

// WithExternalRuntime sends instructions as inert <template> elements and
// loads the runtime that applies them from src, for pages whose CSP
// forbids inline scripts.
func WithExternalRuntime(src string) Option {
	return func(o *options) {
		o.render.ExternalRuntimeSrc = src
	}
}

// WithDevelopment forwards error messages and stacks to the client. Never
// enable it in production.
func WithDevelopment() Option {
	return func(o *options) {
		o.render.Development = true
	}
}

// WithProgressiveChunkSize sets the size above which a ready boundary is
// still streamed out of band. Negative disables outlining.
func WithProgressiveChunkSize(n int) Option {
	return func(o *options) {
		o.render.ProgressiveChunkSize = n
	}
}

// WithLogger sets the logger for render diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.render.Logger = logger
	}
}

// WithSecret sets the secret that signs resume tokens and derives error
// digests. Without one a random secret is used, so digests differ between
// processes.
func WithSecret(key []byte) Option {
	return func(o *options) {
		o.secret = key
	}
}

// WithEncoder uses enc for resume tokens and digests. It takes precedence
// over WithSecret.
func WithEncoder(enc *Encoder) Option {
	return func(o *options) {
		o.render.Encoder = enc
	}
}

// WithResumeToken continues a document streamed earlier: resources and
// runtime code the token lists are not sent again. The token must come from
// a request using the same secret.
func WithResumeToken(token string, sensitive bool) Option {
	return func(o *options) {
		o.resumeToken = token
		o.resumeSensitive = sensitive
	}
}

// NewRequest prepares tree for rendering with opts. It fails only when the
// options are unusable, for instance a resume token that does not verify.
func NewRequest(ctx context.Context, tree Node, opts ...Option) (*Request, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	ro := o.render
	if ro.Encoder == nil && o.secret != nil {
		enc, err := NewEncoder(o.secret)
		if err != nil {
			return nil, fmt.Errorf("hxstream: encoder: %w", err)
		}
		ro.Encoder = enc
	}
	if o.resumeToken != "" {
		if ro.Encoder == nil {
			return nil, fmt.Errorf("%w: resuming needs WithSecret or WithEncoder", ErrInvalidToken)
		}
		rs, err := DecodeResumeToken(ro.Encoder, o.resumeToken, o.resumeSensitive)
		if err != nil {
			return nil, err
		}
		ro.Resume = rs
	}
	return render.NewRequest(ctx, tree, ro), nil
}
