// Package hydrate attaches a node tree to server-rendered markup in a live
// document.
//
// Hydration walks the tree and the existing DOM side by side. Matching nodes
// are adopted and receive their event listeners; nothing is re-created.
// Resource elements (precedence stylesheets, async scripts, preloads) never
// occupy a position in the content stream: they are looked up in <head> or
// the enclosing shadow root and adopted, or inserted when missing.
//
// Suspense boundaries hydrate independently. A completed boundary hydrates
// with its parent, a pending one once the client runtime reveals it, and one
// the server gave up on is rendered from scratch and reported through
// OnRecoverableError. A mismatch inside a boundary client-renders only that
// boundary; a mismatch outside every boundary client-renders the container.
//
// A Root is driven like a server request: futures settling in the background
// queue work, and Work (or Run) applies it with the document locked.
package hydrate

import (
	"context"
	"log/slog"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/net/html"

	"github.com/pthm/hxstream/lib/client"
	"github.com/pthm/hxstream/lib/dom"
	"github.com/pthm/hxstream/lib/node"
	"github.com/pthm/hxstream/lib/resource"
)

// ErrMismatch is wrapped by every hydration mismatch.
var ErrMismatch = pkgerrors.New("hydrate: server markup does not match")

// ErrUnmounted is returned by Render after Unmount.
var ErrUnmounted = pkgerrors.New("hydrate: root is unmounted")

// ErrResourceLoad is wrapped by the report of a boundary whose stylesheets
// failed to load before it could be revealed.
var ErrResourceLoad = pkgerrors.New("hydrate: stylesheet failed to load")

// RecoverableError describes content the client rendered itself instead of
// adopting what the server sent.
type RecoverableError struct {
	Message string
	Digest  string
	Err     error
}

func (e RecoverableError) Error() string {
	if e.Digest != "" {
		return e.Message + " (digest " + e.Digest + ")"
	}
	return e.Message
}

func (e RecoverableError) Unwrap() error { return e.Err }

const (
	mismatchMessage = "Hydration failed because the server rendered HTML didn't match the client. " +
		"The tree was regenerated on the client."
	serverErrorMessage = "The server could not finish this Suspense boundary, likely due to an error " +
		"during server rendering. Switched to client rendering."
	resourceLoadMessage = "A stylesheet this Suspense boundary depends on failed to load. " +
		"Switched to client rendering."
)

// Options configures a Root.
type Options struct {
	Logger *slog.Logger

	// Runtime is the instruction runtime streaming into the same document.
	// Pending boundaries hydrate when it reveals them. Without a runtime they
	// stay dehydrated.
	Runtime *client.Runtime

	// Clock and Deadlines drive the stylesheet gate of transition renders.
	Clock     client.Clock
	Deadlines client.Deadlines

	// OnRecoverableError is called once per mismatch and once per boundary
	// that falls back to client rendering.
	OnRecoverableError func(RecoverableError)
}

// RenderOption modifies a single Render call.
type RenderOption func(*renderConfig)

type renderConfig struct {
	transition bool
}

// WithTransition marks a render as a transition: its commit waits for the
// new stylesheets it references. A later render supersedes it.
func WithTransition() RenderOption {
	return func(c *renderConfig) { c.transition = true }
}

// Root is a tree attached to a container in a document.
type Root struct {
	doc       *dom.Document
	container *html.Node
	opts      Options
	logger    *slog.Logger
	ctx       context.Context
	lock      sync.Locker

	qmu   sync.Mutex
	queue []func()
	wake  chan struct{}

	tree       node.Node
	generation int
	unmounted  bool
	hydrated   bool
	gate       *client.Gate
	pending    map[*html.Node]*boundary
	claimed    map[*html.Node]bool
	hoisted    []*html.Node
}

func newRoot(doc *dom.Document, container *html.Node, opts Options) *Root {
	if opts.Clock == nil {
		opts.Clock = client.RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = doc.Logger()
	}
	if container == nil {
		container = doc.Root
	}
	r := &Root{
		doc:       doc,
		container: container,
		opts:      opts,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		pending:   make(map[*html.Node]*boundary),
		claimed:   make(map[*html.Node]bool),
	}
	r.ctx = resource.WithDispatcher(context.Background(), r)
	if opts.Runtime != nil {
		r.lock = opts.Runtime.Locker()
		opts.Runtime.Observe(r.onChange)
	} else {
		r.lock = &sync.Mutex{}
	}
	return r
}

// HydrateRoot adopts the server markup inside container for tree. A nil
// container means the whole document. Mismatches are recovered from by
// client rendering and reported; the returned error is reserved for trees
// that cannot be rendered at all.
func HydrateRoot(doc *dom.Document, container *html.Node, tree node.Node, opts Options) (*Root, error) {
	r := newRoot(doc, container, opts)
	r.lock.Lock()
	defer r.lock.Unlock()
	r.tree = tree
	if err := r.hydrate(r.generation); err != nil {
		return r, err
	}
	return r, nil
}

// CreateRoot returns an empty root that renders into container.
func CreateRoot(doc *dom.Document, container *html.Node, opts Options) *Root {
	return newRoot(doc, container, opts)
}

// Document returns the document the root renders into.
func (r *Root) Document() *dom.Document { return r.doc }

// Hydrated reports whether the initial hydration committed without falling
// back to client rendering the container.
func (r *Root) Hydrated() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.hydrated
}

// Dehydrated returns the number of boundaries still waiting for the server.
func (r *Root) Dehydrated() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.pending)
}

// Render replaces the container content with tree, rendered on the client.
func (r *Root) Render(tree node.Node, opts ...RenderOption) error {
	var cfg renderConfig
	for _, o := range opts {
		o(&cfg)
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.unmounted {
		return ErrUnmounted
	}
	r.tree = tree
	r.generation++
	r.pending = make(map[*html.Node]*boundary)
	return r.render(r.generation, tree, cfg)
}

// Unmount removes the content nodes of the root. Resource elements and
// their registry records stay in the document.
func (r *Root) Unmount() {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.unmounted {
		return
	}
	r.unmounted = true
	r.generation++
	if r.gate != nil {
		r.gate.Cancel()
		r.gate = nil
	}
	r.pending = make(map[*html.Node]*boundary)
	r.clearContent()
	for _, n := range r.hoisted {
		dom.Detach(n)
	}
	r.hoisted = nil
}

// Work applies every queued retry. It returns once the queue is empty.
func (r *Root) Work() {
	r.lock.Lock()
	defer r.lock.Unlock()
	for {
		r.qmu.Lock()
		if len(r.queue) == 0 {
			r.qmu.Unlock()
			return
		}
		fn := r.queue[0]
		r.queue = r.queue[1:]
		r.qmu.Unlock()
		fn()
	}
}

// Run calls Work whenever retries are queued, until ctx is done.
func (r *Root) Run(ctx context.Context) error {
	for {
		r.Work()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.wake:
		}
	}
}

func (r *Root) enqueue(fn func()) {
	r.qmu.Lock()
	r.queue = append(r.queue, fn)
	r.qmu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// retryOn queues fn for when f settles, unless the root moved on to another
// render in the meantime.
func (r *Root) retryOn(f *node.Future, gen int, fn func()) {
	f.Subscribe(func() {
		r.enqueue(func() {
			if r.unmounted || r.generation != gen {
				return
			}
			fn()
		})
	})
}

func (r *Root) report(e RecoverableError) {
	r.logger.Warn("recoverable hydration error", "message", e.Message, "digest", e.Digest, "error", e.Err)
	if r.opts.OnRecoverableError != nil {
		r.opts.OnRecoverableError(e)
	}
}

// target is the element whose children are the root's content.
func (r *Root) target() *html.Node {
	switch {
	case r.container.Type == html.DocumentNode, dom.IsElement(r.container, "html"):
		if body := r.doc.Body(); body != nil {
			return body
		}
		body := dom.Element("body")
		r.doc.Head().Parent.AppendChild(body)
		return body
	}
	return r.container
}

// clearContent removes every child of the target except resource elements.
func (r *Root) clearContent() {
	t := r.target()
	for c := t.FirstChild; c != nil; {
		next := c.NextSibling
		if !isResourceNode(c) {
			t.RemoveChild(c)
		}
		c = next
	}
}

// onChange runs with the runtime locked.
func (r *Root) onChange(c client.Change) {
	b := r.pending[c.Marker]
	if b == nil || r.unmounted {
		return
	}
	delete(r.pending, c.Marker)
	switch c.Kind {
	case client.ChangeRevealed:
		r.hydrateBoundary(b)
	case client.ChangeClientRendered:
		r.serverFallback(b)
	}
}

// Preload implements resource.Dispatcher for components rendered on the
// client.
func (r *Root) Preload(href string, props resource.Props) {
	kind := resource.PreloadKind(props)
	r.ensureResource(nil, resource.Decl{Kind: kind, Href: href, Props: props})
}

// Preinit implements resource.Dispatcher.
func (r *Root) Preinit(href string, props resource.Props) {
	kind := resource.PreinitKind(props)
	r.ensureResource(nil, resource.Decl{Kind: kind, Href: href, Props: props})
}
