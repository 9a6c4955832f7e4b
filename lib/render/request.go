package render

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	pkgerrors "github.com/pkg/errors"

	"github.com/pthm/hxstream/lib/encoding"
	"github.com/pthm/hxstream/lib/node"
	"github.com/pthm/hxstream/lib/patch"
	"github.com/pthm/hxstream/lib/resource"
)

var (
	// ErrAborted is the reason recorded for tasks cut off by Abort.
	ErrAborted = pkgerrors.New("render: aborted")

	// ErrClosed is returned by Flush after the stream has ended.
	ErrClosed = pkgerrors.New("render: stream closed")
)

// Status is the lifecycle state of a Request.
type Status uint8

const (
	StatusOpen Status = iota
	StatusClosed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", s)
	}
}

type boundaryStatus uint8

const (
	boundaryPending boundaryStatus = iota
	boundaryCompleted
	boundaryClientRendered
)

type boundary struct {
	id            string
	status        boundaryStatus
	rootSegmentID int
	pendingTasks  int
	parentFlushed bool
	inlined       bool
	byteSize      int

	// content is the root segment of the boundary's content.
	content           *segment
	completedSegments []*segment
	hoist             *hoistState
	fallbackTasks     map[*task]struct{}

	digest  string
	message string
	stack   string
}

// hoistState collects what a subtree contributes to <head>.
type hoistState struct {
	resources  []*resource.Record
	seen       map[*resource.Record]bool
	hoistables []hoistable
}

type hoistable struct {
	rank   int
	markup string
}

const (
	rankCharset = iota
	rankViewport
	rankOther
)

func newHoistState() *hoistState {
	return &hoistState{seen: make(map[*resource.Record]bool)}
}

func (h *hoistState) addResource(rec *resource.Record) {
	if h.seen[rec] {
		return
	}
	h.seen[rec] = true
	h.resources = append(h.resources, rec)
}

func (h *hoistState) merge(o *hoistState) {
	for _, rec := range o.resources {
		h.addResource(rec)
	}
	h.hoistables = append(h.hoistables, o.hoistables...)
	o.hoistables = nil
}

type scope struct {
	res resource.Scope
}

type task struct {
	node       node.Node
	segment    *segment
	boundary   *boundary
	hoist      *hoistState
	fallbackOf *boundary
	scope      scope
	done       bool
}

// Request renders one tree to one stream.
type Request struct {
	opts   Options
	id     string
	ctx    context.Context
	logger *slog.Logger
	reg    *resource.Registry
	enc    *encoding.Encoder
	patch  patch.Encoder
	script *patch.ScriptEncoder

	mu     sync.Mutex
	pinged []*task
	wake   chan struct{}

	status Status
	fatal  error

	queue        []*task
	abortable    map[*task]struct{}
	root         *segment
	rootFlushed  bool
	pendingRoot  int
	allPending   int
	nextSegment  int
	nextBoundary int

	clientRendered []*boundary
	completed      []*boundary
	partial        []*boundary

	shell     shellState
	hoist     *hoistState
	preloads  []*resource.Record
	scripts   []*resource.Record
	fonts     []*resource.Record
	emitted   map[resource.Key]bool
	hinted    map[resource.Key]bool
	recCursor int

	// precedences records the groups whose position the client knows.
	precedences map[string]bool
}

// shellState tracks the document-level elements, which the flusher writes
// itself so that head content can be assembled in order.
type shellState struct {
	sawHTML   bool
	sawHead   bool
	sawBody   bool
	htmlAttrs []node.Attr
	headAttrs []node.Attr
	head      *segment
}

// NewRequest prepares tree for rendering. Nothing is rendered until Work.
func NewRequest(ctx context.Context, tree node.Node, opts Options) *Request {
	if opts.ProgressiveChunkSize == 0 {
		opts.ProgressiveChunkSize = DefaultProgressiveChunkSize
	}
	id := ulid.Make().String()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("render_id", id)

	enc := opts.Encoder
	if enc == nil {
		key := make([]byte, 32)
		_, _ = rand.Read(key)
		enc, _ = encoding.NewEncoder(key)
	}

	r := &Request{
		opts:      opts,
		id:        id,
		logger:    logger,
		enc:       enc,
		wake:      make(chan struct{}, 1),
		abortable: make(map[*task]struct{}),
		hoist:     newHoistState(),
		emitted:   make(map[resource.Key]bool),
		hinted:    make(map[resource.Key]bool),

		precedences: make(map[string]bool),
	}
	r.reg = resource.New(resource.Config{Logger: logger})

	var sent []string
	if rs := opts.Resume; rs != nil {
		r.resume(rs)
		sent = rs.Runtime
	}
	if opts.ExternalRuntimeSrc != "" {
		r.patch = patch.TemplateEncoder{}
	} else {
		r.script = patch.NewScriptEncoder(opts.Nonce, sent...)
		r.patch = r.script
	}

	r.ctx = resource.WithDispatcher(ctx, r)
	r.root = newSegment(nil)
	r.shell.head = newSegment(nil)
	r.pendingRoot = 1
	r.allPending = 1
	r.queue = append(r.queue, &task{node: tree, segment: r.root, hoist: r.hoist})
	return r
}

// ID returns the render id attached to every log record of the request.
func (r *Request) ID() string { return r.id }

// Registry returns the resource registry of the request.
func (r *Request) Registry() *resource.Registry { return r.reg }

// Status returns the lifecycle state of the request.
func (r *Request) Status() Status { return r.status }

// Err returns the error that failed the shell, if any.
func (r *Request) Err() error { return r.fatal }

// Done reports whether nothing more will be written.
func (r *Request) Done() bool { return r.status != StatusOpen }

// ping queues t for another attempt. Safe from any goroutine.
func (r *Request) ping(t *task) {
	r.mu.Lock()
	r.pinged = append(r.pinged, t)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Work renders every task that is ready.
func (r *Request) Work() {
	for r.status == StatusOpen {
		r.mu.Lock()
		r.queue = append(r.queue, r.pinged...)
		r.pinged = nil
		r.mu.Unlock()
		if len(r.queue) == 0 {
			return
		}
		t := r.queue[0]
		r.queue = r.queue[1:]
		r.retryTask(t)
	}
}

// Run drives the request to completion, writing each flush to w. Writers
// that implement http.Flusher style Flush() are flushed after every chunk.
// Cancelling ctx aborts the request.
func (r *Request) Run(ctx context.Context, w io.Writer) error {
	for {
		r.Work()
		if err := r.Flush(w); err != nil {
			return err
		}
		if f, ok := w.(interface{ Flush() }); ok {
			f.Flush()
		}
		if r.Done() {
			return nil
		}
		select {
		case <-r.wake:
		case <-ctx.Done():
			r.Abort(ctx.Err())
			r.Work()
			err := r.Flush(w)
			if err == nil {
				err = r.fatal
			}
			return err
		}
	}
}

// Prerender waits for every task to finish before writing anything, so the
// document goes out as one chunk with every ready boundary inlined.
// Cancelling ctx aborts whatever is still pending and writes the rest.
func (r *Request) Prerender(ctx context.Context, w io.Writer) error {
	for {
		r.Work()
		if r.status != StatusOpen || r.allPending == 0 {
			break
		}
		select {
		case <-r.wake:
		case <-ctx.Done():
			r.Abort(ctx.Err())
			r.Work()
		}
	}
	return r.Flush(w)
}

// Abort stops waiting on pending work. Pending boundaries fall back to
// client rendering; if the shell is still pending the request fails.
func (r *Request) Abort(reason error) {
	if r.status != StatusOpen {
		return
	}
	if reason == nil {
		reason = ErrAborted
	} else if !pkgerrors.Is(reason, ErrAborted) {
		reason = pkgerrors.Wrap(ErrAborted, reason.Error())
	}
	r.logger.Warn("aborting render", "reason", reason, "pending", r.allPending)

	tasks := make([]*task, 0, len(r.abortable))
	for t := range r.abortable {
		tasks = append(tasks, t)
	}
	for _, t := range tasks {
		if t.done {
			continue
		}
		t.segment.status = segmentAborted
		r.erroredTask(t, reason)
	}
	r.mu.Lock()
	r.pinged = nil
	r.mu.Unlock()
	r.queue = nil
}

// digest reports err and returns the digest sent to the client.
func (r *Request) digest(err error) string {
	r.logger.Error("render error", "error", err)
	if r.opts.OnError != nil {
		if d := r.opts.OnError(err); d != "" {
			return d
		}
	}
	return r.enc.Digest(err.Error())
}

func (r *Request) prefixed(kind string, n int) string {
	return fmt.Sprintf("%s%s:%d", r.opts.IdentifierPrefix, kind, n)
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

func errorStack(err error) string {
	var st stackTracer
	if pkgerrors.As(err, &st) {
		return fmt.Sprintf("%+v", st.StackTrace())
	}
	return ""
}
