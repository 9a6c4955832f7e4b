package hxstream

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/klauspost/compress/gzhttp"
	"github.com/klauspost/compress/gzip"
)

// PageFunc builds the tree for one request. Return ErrNotFound for a 404.
// Data that can arrive later belongs in futures under a Suspense, not in
// PageFunc itself, so the shell is not held back.
type PageFunc func(r *http.Request) (Node, error)

// Registry routes requests to pages and streams them.
//
//	reg := hxstream.NewRegistry(hxstream.WithSecret(secret))
//	reg.Add("GET /{$}", home)
//	reg.Add("GET /posts/{id}", post)
//	http.ListenAndServe(":8080", reg.Handler())
type Registry struct {
	mu    sync.RWMutex
	mux   *http.ServeMux
	opts  []Option
	pages map[string]PageFunc

	// OnError is called when a page fails before anything was written:
	// its PageFunc returned an error or its shell failed. Errors after
	// the shell are reported to the client as client-rendered boundaries.
	OnError func(http.ResponseWriter, *http.Request, error)

	// Compress gzips responses for clients that accept it. Every chunk is
	// flushed through the compressor. Defaults to true.
	Compress bool
}

// NewRegistry creates a registry whose pages render with opts.
func NewRegistry(opts ...Option) *Registry {
	reg := &Registry{
		mux:      http.NewServeMux(),
		opts:     opts,
		pages:    make(map[string]PageFunc),
		Compress: true,
	}

	// Default error handler
	reg.OnError = func(w http.ResponseWriter, r *http.Request, err error) {
		if IsNotFound(err) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		if IsTokenError(err) {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}

	return reg
}

// Add registers page under an http.ServeMux pattern. Extra options apply
// to this page only, after the registry's. Panics on a duplicate pattern.
func (reg *Registry) Add(pattern string, page PageFunc, opts ...Option) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, exists := reg.pages[pattern]; exists {
		panic(fmt.Sprintf("hxstream: duplicate page pattern %q", pattern))
	}
	reg.pages[pattern] = page

	all := make([]Option, 0, len(reg.opts)+len(opts))
	all = append(all, reg.opts...)
	all = append(all, opts...)
	reg.mux.HandleFunc(pattern, reg.serve(page, all))
}

// Patterns returns the registered patterns.
func (reg *Registry) Patterns() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]string, 0, len(reg.pages))
	for p := range reg.pages {
		out = append(out, p)
	}
	return out
}

func (reg *Registry) serve(page PageFunc, opts []Option) http.HandlerFunc {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.render.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		tree, err := page(r)
		if err != nil {
			reg.OnError(w, r, err)
			return
		}
		err = Respond(w, r, tree, opts...)
		switch {
		case err == nil:
		case IsShellError(err), IsTokenError(err):
			reg.OnError(w, r, err)
		default:
			// The response is already streaming; the status is gone.
			logger.Warn("stream ended early", "path", r.URL.Path, "error", err)
		}
	}
}

// Handler returns the HTTP handler serving every registered page.
func (reg *Registry) Handler() http.Handler {
	return reg.compress(reg.mux)
}

// Handler streams page for every request, with the registry defaults:
// gzip on and the default OnError.
//
//	http.Handle("GET /{$}", hxstream.Handler(home, hxstream.WithNonce(nonce)))
func Handler(page PageFunc, opts ...Option) http.Handler {
	reg := NewRegistry(opts...)
	return reg.compress(reg.serve(page, opts))
}

func (reg *Registry) compress(h http.Handler) http.Handler {
	if !reg.Compress {
		return h
	}
	wrap, err := gzhttp.NewWrapper(gzhttp.MinSize(1), gzhttp.CompressionLevel(gzip.BestSpeed))
	if err != nil {
		panic(fmt.Sprintf("hxstream: gzip wrapper: %v", err))
	}
	return wrap(h)
}
