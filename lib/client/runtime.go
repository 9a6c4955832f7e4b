// Package client applies a stream's patch instructions to a live document.
//
// It is the Go counterpart of the inline browser runtime: segments are
// moved into their placeholders, boundaries swap fallback for content, and
// reveals that depend on stylesheets wait until those sheets have loaded.
// Load and error events are delivered through dom.Document.Dispatch.
package client

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/net/html"

	"github.com/pthm/hxstream/lib/dom"
	"github.com/pthm/hxstream/lib/patch"
	"github.com/pthm/hxstream/lib/resource"
)

// ErrUnknownTarget is returned when an instruction names an id that is not
// in the document.
var ErrUnknownTarget = pkgerrors.New("client: unknown target")

// Options configures a Runtime.
type Options struct {
	Logger *slog.Logger
	Clock  Clock

	// SoftTimeout reports a reveal that is still waiting on resources.
	SoftTimeout time.Duration
	// HardTimeout forces a waiting reveal. Negative disables it.
	HardTimeout time.Duration

	// OnSlowReveal is called at the soft deadline.
	OnSlowReveal func(boundaryID string, pending []string)
}

// ChangeKind says what an applied instruction did.
type ChangeKind uint8

const (
	ChangeSegment ChangeKind = iota + 1
	ChangeRevealed
	ChangeClientRendered
)

// Change is reported to observers after the document was mutated.
type Change struct {
	Kind       ChangeKind
	BoundaryID string
	// Marker is the boundary's start comment.
	Marker *html.Node
	Digest string
}

// Runtime applies instructions to one document. Its methods may be called
// from any goroutine; they are serialized internally.
type Runtime struct {
	doc    *dom.Document
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	gates     map[string]*Gate
	observers []func(Change)
}

// New returns a runtime for doc.
func New(doc *dom.Document, opts Options) *Runtime {
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = doc.Logger()
	}
	return &Runtime{
		doc:    doc,
		opts:   opts,
		logger: logger,
		gates:  make(map[string]*Gate),
	}
}

// Document returns the document the runtime mutates.
func (r *Runtime) Document() *dom.Document { return r.doc }

// Observe registers fn for every change. Observers run with the runtime
// locked and must not call back into it.
func (r *Runtime) Observe(fn func(Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Locker returns the lock serializing access to the document. Callers that
// mutate the same document hold it while doing so.
func (r *Runtime) Locker() sync.Locker { return &r.mu }

// Dispatch delivers a resource event to n, serialized with instructions.
func (r *Runtime) Dispatch(n *html.Node, typ string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Dispatch(n, typ)
}

// Apply executes one instruction.
func (r *Runtime) Apply(m patch.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apply(m)
}

func (r *Runtime) apply(m patch.Message) error {
	switch m.Op {
	case patch.OpCompleteSegment:
		return r.completeSegment(m.SegmentID, m.PlaceholderID)
	case patch.OpCompleteBoundary:
		if len(m.Styles) == 0 {
			return r.reveal(m.BoundaryID, m.SegmentID)
		}
		return r.revealWithStyles(m)
	case patch.OpClientRender:
		return r.clientRender(m.BoundaryID, m.Digest, m.Message, m.Stack)
	default:
		return pkgerrors.Errorf("client: unknown op %v", m.Op)
	}
}

// ApplyDocument adopts the resources already in the document, then runs
// and removes every instruction it contains, in document order.
func (r *Runtime) ApplyDocument() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hoistStrayResources()

	type instruction struct {
		node *html.Node
		msgs []patch.Message
	}
	var list []instruction
	dom.Walk(r.doc.Root, func(n *html.Node) bool {
		switch {
		case dom.IsElement(n, "script"):
			if _, ok := dom.Attr(n, "src"); ok {
				return false
			}
			msgs, err := patch.DecodeScript(dom.TextContent(n))
			if err != nil {
				r.logger.Warn("skipping malformed instruction", "error", err)
				return false
			}
			list = append(list, instruction{node: n, msgs: msgs})
			return false
		case dom.IsElement(n, "template"):
			m, ok, err := patch.DecodeTemplate(func(k string) (string, bool) { return dom.Attr(n, k) })
			if err != nil {
				r.logger.Warn("skipping malformed instruction", "error", err)
				return false
			}
			if ok {
				list = append(list, instruction{node: n, msgs: []patch.Message{m}})
				return false
			}
		}
		return true
	})

	var errs []error
	for _, in := range list {
		dom.Detach(in.node)
		for _, m := range in.msgs {
			if err := r.apply(m); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Abandon discards a reveal still waiting on resources. Resources it
// started loading stay registered. It reports whether a gate was waiting.
func (r *Runtime) Abandon(boundaryID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.gates[boundaryID]
	if g == nil {
		return false
	}
	g.Cancel()
	delete(r.gates, boundaryID)
	r.logger.Debug("reveal abandoned", "boundary", boundaryID)
	return true
}

// Waiting returns the boundaries whose reveal is gated on resources.
func (r *Runtime) Waiting() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.gates))
	for id := range r.gates {
		out = append(out, id)
	}
	return sortStrings(out)
}

func (r *Runtime) notify(c Change) {
	for _, fn := range r.observers {
		fn(c)
	}
}

func (r *Runtime) completeSegment(sid, pid string) error {
	seg, ph := r.doc.ByID(sid), r.doc.ByID(pid)
	if seg == nil || ph == nil {
		return pkgerrors.Wrapf(ErrUnknownTarget, "segment %s into %s", sid, pid)
	}
	dom.Detach(seg)
	parent := ph.Parent
	for seg.FirstChild != nil {
		c := seg.FirstChild
		seg.RemoveChild(c)
		parent.InsertBefore(c, ph)
	}
	parent.RemoveChild(ph)
	r.notify(Change{Kind: ChangeSegment})
	return nil
}

func (r *Runtime) reveal(bid, sid string) error {
	delete(r.gates, bid)
	tmpl, content := r.doc.ByID(bid), r.doc.ByID(sid)
	if tmpl == nil || content == nil {
		return pkgerrors.Wrapf(ErrUnknownTarget, "boundary %s with %s", bid, sid)
	}
	marker := tmpl.PrevSibling
	if !dom.IsComment(marker, "$?") {
		r.logger.Debug("boundary no longer pending", "boundary", bid)
		return nil
	}
	dom.Detach(content)

	parent := tmpl.Parent
	var end *html.Node
	depth := 0
	for x := tmpl; x != nil; {
		next := x.NextSibling
		parent.RemoveChild(x)
		if next != nil && next.Type == html.CommentNode {
			if next.Data == "/$" {
				if depth == 0 {
					end = next
					break
				}
				depth--
			} else if next.Data == "$" || next.Data == "$?" || next.Data == "$!" {
				depth++
			}
		}
		x = next
	}
	for content.FirstChild != nil {
		c := content.FirstChild
		content.RemoveChild(c)
		parent.InsertBefore(c, end)
	}
	marker.Data = "$"
	r.logger.Debug("boundary revealed", "boundary", bid)
	r.notify(Change{Kind: ChangeRevealed, BoundaryID: bid, Marker: marker})
	return nil
}

func (r *Runtime) clientRender(bid, digest, msg, stack string) error {
	if g := r.gates[bid]; g != nil {
		g.Cancel()
		delete(r.gates, bid)
	}
	tmpl := r.doc.ByID(bid)
	if tmpl == nil {
		return pkgerrors.Wrapf(ErrUnknownTarget, "boundary %s", bid)
	}
	marker := tmpl.PrevSibling
	if marker == nil || marker.Type != html.CommentNode {
		return pkgerrors.Wrapf(ErrUnknownTarget, "boundary %s has no marker", bid)
	}
	marker.Data = "$!"
	if digest != "" {
		dom.SetAttr(tmpl, "data-dgst", digest)
	}
	if msg != "" {
		dom.SetAttr(tmpl, "data-msg", msg)
	}
	if stack != "" {
		dom.SetAttr(tmpl, "data-stck", stack)
	}
	r.logger.Debug("boundary client rendered", "boundary", bid, "digest", digest)
	r.notify(Change{Kind: ChangeClientRendered, BoundaryID: bid, Marker: marker, Digest: digest})
	return nil
}

func (r *Runtime) revealWithStyles(m patch.Message) error {
	reg := r.doc.Registry()
	head := r.doc.Head()
	waits := make([]Wait, 0, len(m.Styles))
	for _, s := range m.Styles {
		waits = append(waits, Wait{Registry: reg, Record: r.stylesheet(reg, head, s)})
	}

	bid, sid := m.BoundaryID, m.SegmentID
	if old := r.gates[bid]; old != nil {
		old.Cancel()
	}
	g := NewGate(GateConfig{
		Waits:     waits,
		Clock:     r.opts.Clock,
		Deadlines: Deadlines{Soft: r.opts.SoftTimeout, Hard: r.opts.HardTimeout},
		Locker:    &r.mu,
		OnSlow: func(pending []string) {
			r.logger.Warn("boundary reveal waiting on resources", "boundary", bid, "pending", pending)
			if r.opts.OnSlowReveal != nil {
				r.opts.OnSlowReveal(bid, pending)
			}
		},
		OnOpen: func(res GateResult) {
			delete(r.gates, bid)
			var err error
			switch {
			case len(res.Failed) > 0:
				r.logger.Warn("boundary resources failed", "boundary", bid, "failed", res.Failed)
				err = r.clientRender(bid, patch.ResourceLoadDigest, "", "")
			case res.Forced:
				r.logger.Warn("forcing boundary reveal", "boundary", bid)
				err = r.reveal(bid, sid)
			default:
				err = r.reveal(bid, sid)
			}
			if err != nil {
				r.logger.Warn("gated reveal failed", "boundary", bid, "error", err)
			}
		},
	})
	if !g.Done() {
		r.gates[bid] = g
	}
	return nil
}

// stylesheet finds or inserts the <link> for s and returns its record.
func (r *Runtime) stylesheet(reg *resource.Registry, head *html.Node, s patch.Style) *resource.Record {
	if rec := reg.Lookup(resource.KindStylesheet, s.Href); rec != nil && reg.Handle(rec) != nil {
		return rec
	}

	sel := `link[rel="stylesheet"][href="` + dom.EscapeSelectorValue(s.Href) + `"]`
	if n := r.doc.Query(head, sel); n != nil {
		prec, _ := dom.Attr(n, "data-precedence")
		return reg.Adopt(resource.KindStylesheet, s.Href, resource.Props{Precedence: prec}, n, true)
	}

	prec := s.Precedence
	if prec == "" {
		prec = "default"
	}
	props := resource.Props{Precedence: prec}
	attrs := []html.Attribute{
		{Key: "rel", Val: "stylesheet"},
		{Key: "href", Val: s.Href},
		{Key: "data-precedence", Val: prec},
	}
	keys := make([]string, 0, len(s.Attrs))
	for k := range s.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, html.Attribute{Key: k, Val: s.Attrs[k]})
		switch k {
		case "crossorigin":
			props.CrossOrigin = s.Attrs[k]
		case "integrity":
			props.Integrity = s.Attrs[k]
		case "media":
			props.Media = s.Attrs[k]
		}
	}
	link := dom.Element("link", attrs...)
	InsertByPrecedence(r.doc, head, link, prec)
	return Track(r.doc, reg, resource.KindStylesheet, s.Href, props, link)
}

// Track registers a freshly inserted resource node and marks it loading
// until a load or error event is dispatched to it.
func Track(doc *dom.Document, reg *resource.Registry, kind resource.Kind, href string, props resource.Props, n *html.Node) *resource.Record {
	rec, _ := reg.Declare(kind, href, props, resource.OriginRendered)
	reg.SetHandle(rec, n)
	reg.MarkLoading(rec)
	doc.AddEventListener(n, "load", func(dom.Event) { reg.MarkLoaded(rec) })
	doc.AddEventListener(n, "error", func(dom.Event) { reg.MarkErrored(rec) })
	return rec
}

// InsertByPrecedence inserts n into scope after the last element of its
// precedence group, or after every precedence element when the group is
// new.
func InsertByPrecedence(doc *dom.Document, scope, n *html.Node, precedence string) {
	var lastSame, lastAny *html.Node
	for c := scope.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c == n {
			continue
		}
		p, ok := dom.Attr(c, "data-precedence")
		if !ok {
			continue
		}
		lastAny = c
		if p == precedence {
			lastSame = c
		}
	}
	after := lastSame
	if after == nil {
		after = lastAny
	}
	var ref *html.Node
	if after != nil {
		ref = after.NextSibling
	} else if dom.IsShadowRoot(scope) {
		ref = scope.FirstChild
	}
	dom.InsertBefore(scope, n, ref)
}

// hoistStrayResources moves precedence resources written into the body by
// late flushes into <head>, and adopts every stylesheet already present.
func (r *Runtime) hoistStrayResources() {
	head := r.doc.Head()
	reg := r.doc.Registry()
	for _, n := range r.doc.QueryAll(nil, `link[rel="stylesheet"][data-precedence], style[data-precedence]`) {
		if dom.ScopeOf(n) != nil {
			continue
		}
		prec, _ := dom.Attr(n, "data-precedence")
		if n.Parent != head {
			InsertByPrecedence(r.doc, head, n, prec)
		}
		if dom.IsElement(n, "link") {
			href, _ := dom.Attr(n, "href")
			reg.Adopt(resource.KindStylesheet, href, resource.Props{Precedence: prec}, n, true)
			continue
		}
		hrefs, _ := dom.Attr(n, "data-href")
		for _, href := range strings.Fields(hrefs) {
			reg.Adopt(resource.KindStyle, href, resource.Props{Precedence: prec}, n, true)
		}
	}
}

func sortStrings(s []string) []string {
	sort.Strings(s)
	return s
}
