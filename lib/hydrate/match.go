package hydrate

import (
	"bytes"
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/net/html"

	"github.com/pthm/hxstream/lib/dom"
	"github.com/pthm/hxstream/lib/node"
	"github.com/pthm/hxstream/lib/patch"
	"github.com/pthm/hxstream/lib/resource"
)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "param": true,
	"source": true, "track": true, "wbr": true,
}

// opaqueElements have children the parser does not expose as nodes.
var opaqueElements = map[string]bool{"script": true, "style": true, "noscript": true, "textarea": true}

// suspended reports that a component is waiting on f.
type suspended struct {
	f *node.Future
}

func (s *suspended) Error() string { return "hydrate: waiting on pending data" }

func mismatchf(format string, args ...any) error {
	return pkgerrors.Wrapf(ErrMismatch, format, args...)
}

type binding struct {
	n     *html.Node
	event string
	fn    func()
}

type hoist struct {
	shadow *html.Node
	tag    string
	el     *node.Element
}

// boundary is a Suspense region delimited by its marker comments.
type boundary struct {
	start    *html.Node
	end      *html.Node
	content  node.Node
	fallback node.Node
	scope    scope
	gen      int
}

// pass is one attempt at hydrating a range of the document. Its effects are
// collected and applied by commit, so a pass that suspends or mismatches
// leaves no listeners behind.
type pass struct {
	r          *Root
	gen        int
	bindings   []binding
	hoists     []hoist
	boundaries []*boundary
}

func (p *pass) commit() {
	for _, b := range p.bindings {
		fn := b.fn
		p.r.doc.AddEventListener(b.n, b.event, func(dom.Event) { fn() })
	}
	for _, h := range p.hoists {
		p.r.ensureHoistable(h.shadow, h.tag, h.el)
	}
	for _, b := range p.boundaries {
		switch b.start.Data {
		case "$":
			p.r.hydrateBoundary(b)
		case "$?":
			p.r.pending[b.start] = b
		case "$!":
			p.r.serverFallback(b)
		}
	}
}

// cursor walks the siblings of a range. end, when set, is the exclusive
// stop node.
type cursor struct {
	parent *html.Node
	next   *html.Node
	end    *html.Node
}

func childCursor(n *html.Node) *cursor {
	return &cursor{parent: n, next: n.FirstChild}
}

// take returns the next node that is either wanted or not foreign.
func (c *cursor) take(want func(*html.Node) bool) *html.Node {
	for c.next != nil && c.next != c.end {
		n := c.next
		c.next = n.NextSibling
		if want(n) || !foreign(n) {
			return n
		}
	}
	return nil
}

// rest returns the first remaining node that is not foreign.
func (c *cursor) rest() *html.Node {
	for n := c.next; n != nil && n != c.end; n = n.NextSibling {
		if !foreign(n) {
			return n
		}
	}
	return nil
}

// foreign reports whether n is not part of the hydrated content: text
// separators, stream plumbing, and elements injected into the document by
// other scripts.
func foreign(n *html.Node) bool {
	switch n.Type {
	case html.DoctypeNode:
		return true
	case html.CommentNode:
		return !isBoundaryComment(n)
	case html.ElementNode:
		switch n.Data {
		case "script", "link", "style", "meta", "title", "head":
			return true
		case "template":
			return !dom.IsShadowRoot(n)
		case "div":
			_, hidden := dom.Attr(n, "hidden")
			id, _ := dom.Attr(n, "id")
			return hidden && strings.Contains(id, "S:")
		}
	}
	return false
}

func isBoundaryComment(n *html.Node) bool {
	if n == nil || n.Type != html.CommentNode {
		return false
	}
	switch n.Data {
	case "$", "$?", "$!", "/$":
		return true
	}
	return false
}

func isBoundaryStart(n *html.Node) bool {
	return isBoundaryComment(n) && n.Data != "/$"
}

// boundaryEnd returns the comment closing the boundary opened by start.
func boundaryEnd(start *html.Node) *html.Node {
	depth := 0
	for n := start.NextSibling; n != nil; n = n.NextSibling {
		if !isBoundaryComment(n) {
			continue
		}
		if n.Data != "/$" {
			depth++
			continue
		}
		if depth == 0 {
			return n
		}
		depth--
	}
	return nil
}

func describe(n *html.Node) string {
	switch {
	case n == nil:
		return "end of content"
	case n.Type == html.TextNode:
		return fmt.Sprintf("text %q", n.Data)
	case n.Type == html.ElementNode:
		return "<" + n.Data + ">"
	case n.Type == html.CommentNode:
		return fmt.Sprintf("comment %q", n.Data)
	}
	return "node"
}

func (p *pass) node(c *cursor, n node.Node, sc scope) error {
	switch n := n.(type) {
	case nil:
		return nil
	case node.Text:
		if n == "" {
			return nil
		}
		isText := func(x *html.Node) bool { return x.Type == html.TextNode }
		got := c.take(isText)
		if got == nil || got.Type != html.TextNode || got.Data != string(n) {
			return mismatchf("expected text %q, found %s", string(n), describe(got))
		}
		return nil
	case node.Fragment:
		for _, child := range n {
			if err := p.node(c, child, sc); err != nil {
				return err
			}
		}
		return nil
	case *node.Element:
		if n == nil {
			return nil
		}
		return p.element(c, n, sc)
	case node.Suspense:
		return p.suspense(c, n, sc)
	case *node.Suspense:
		if n == nil {
			return nil
		}
		return p.suspense(c, *n, sc)
	case node.Component:
		res := p.r.invoke(n)
		if res.IsPending() {
			return &suspended{f: res.Wait()}
		}
		if err := res.Err(); err != nil {
			return err
		}
		return p.node(c, res.Node(), sc)
	case node.Templ:
		return p.templ(c, n)
	}
	return pkgerrors.Errorf("hydrate: unsupported node %T", n)
}

func (p *pass) element(c *cursor, el *node.Element, sc scope) error {
	tag := strings.ToLower(el.Tag)
	if tag == "head" {
		return p.head(el.Children)
	}
	class, decl := resource.Classify(tag, el, textOf(el.Children), sc.res)
	switch class {
	case resource.ClassResource:
		p.r.ensureResource(sc.shadow, decl)
		return nil
	case resource.ClassHoistable:
		p.hoists = append(p.hoists, hoist{shadow: sc.shadow, tag: tag, el: el})
		return nil
	}

	got := c.take(func(x *html.Node) bool { return dom.IsElement(x, tag) })
	if !dom.IsElement(got, tag) {
		return mismatchf("expected <%s>, found %s", tag, describe(got))
	}
	for event, fn := range el.Listeners {
		p.bindings = append(p.bindings, binding{n: got, event: event, fn: fn})
	}
	if voidElements[tag] || opaqueElements[tag] {
		return nil
	}

	csc := childScope(sc, tag, got)
	cc := childCursor(got)
	for _, child := range el.Children {
		if err := p.node(cc, child, csc); err != nil {
			return err
		}
	}
	if extra := cc.rest(); extra != nil {
		return mismatchf("unexpected %s in <%s>", describe(extra), tag)
	}
	return nil
}

// head adopts the children of a <head> element. They are matched by
// identity rather than position.
func (p *pass) head(children []node.Node) error {
	els, err := p.r.headElements(children, nil)
	if err != nil {
		return err
	}
	for _, el := range els {
		tag := strings.ToLower(el.Tag)
		if class, decl := resource.Classify(tag, el, textOf(el.Children), resource.Scope{}); class == resource.ClassResource {
			p.r.ensureResource(nil, decl)
			continue
		}
		p.hoists = append(p.hoists, hoist{tag: tag, el: el})
	}
	return nil
}

func (p *pass) suspense(c *cursor, s node.Suspense, sc scope) error {
	start := c.take(isBoundaryStart)
	if !isBoundaryStart(start) {
		return mismatchf("expected boundary, found %s", describe(start))
	}
	end := boundaryEnd(start)
	if end == nil {
		return mismatchf("unterminated boundary")
	}
	c.next = end.NextSibling
	p.boundaries = append(p.boundaries, &boundary{
		start:    start,
		end:      end,
		content:  s.Content,
		fallback: s.Fallback,
		scope:    sc,
		gen:      p.gen,
	})
	return nil
}

func (p *pass) templ(c *cursor, t node.Templ) error {
	want, err := p.r.templNodes(t, c.parent)
	if err != nil {
		return err
	}
	for _, w := range want {
		if w.Type == html.CommentNode {
			continue
		}
		got := c.take(func(x *html.Node) bool { return sameShape(x, w) })
		if !sameShape(got, w) {
			return mismatchf("templ markup differs at %s", describe(got))
		}
	}
	return nil
}

func sameShape(a, b *html.Node) bool {
	if a == nil || b == nil || a.Type != b.Type || a.Data != b.Data {
		return false
	}
	if a.Type != html.ElementNode {
		return true
	}
	x, y := a.FirstChild, b.FirstChild
	for x != nil && y != nil {
		if !sameShape(x, y) {
			return false
		}
		x, y = x.NextSibling, y.NextSibling
	}
	return x == nil && y == nil
}

func (r *Root) invoke(c node.Component) (res node.Result) {
	defer func() {
		if p := recover(); p != nil {
			if err, ok := p.(error); ok {
				res = node.Failed(pkgerrors.WithStack(err))
				return
			}
			res = node.Failed(pkgerrors.Errorf("component panicked: %v", p))
		}
	}()
	return c(r.ctx)
}

// headElements flattens head children into elements, resolving components.
func (r *Root) headElements(children []node.Node, out []*node.Element) ([]*node.Element, error) {
	for _, child := range children {
		switch n := child.(type) {
		case *node.Element:
			if n != nil {
				out = append(out, n)
			}
		case node.Fragment:
			var err error
			if out, err = r.headElements(n, out); err != nil {
				return nil, err
			}
		case node.Component:
			res := r.invoke(n)
			if res.IsPending() {
				return nil, &suspended{f: res.Wait()}
			}
			if err := res.Err(); err != nil {
				return nil, err
			}
			var err error
			if out, err = r.headElements([]node.Node{res.Node()}, out); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// templNodes renders a templ leaf and parses it in the context of parent.
func (r *Root) templNodes(t node.Templ, parent *html.Node) ([]*html.Node, error) {
	var buf bytes.Buffer
	if err := t.Component.Render(r.ctx, &buf); err != nil {
		return nil, pkgerrors.Wrap(err, "render templ component")
	}
	ctx := parent
	if ctx == nil || ctx.Type != html.ElementNode {
		ctx = dom.Element("div")
	}
	return html.ParseFragment(&buf, ctx)
}

// hydrate runs the initial hydration of the whole tree.
func (r *Root) hydrate(gen int) error {
	parent := r.container
	if !isDocumentTree(r.tree) && (parent.Type == html.DocumentNode || dom.IsElement(parent, "html")) {
		parent = r.target()
	}
	p := &pass{r: r, gen: gen}
	c := childCursor(parent)
	err := p.node(c, r.tree, scope{})
	if err == nil {
		if extra := c.rest(); extra != nil {
			err = mismatchf("unexpected %s", describe(extra))
		}
	}

	var s *suspended
	switch {
	case err == nil:
		p.commit()
		r.hydrated = true
		r.logger.Debug("hydrated", "dehydrated", len(r.pending))
		return nil
	case pkgerrors.As(err, &s):
		r.logger.Debug("hydration waiting on data")
		r.retryOn(s.f, gen, func() {
			if err := r.hydrate(gen); err != nil {
				r.logger.Error("client render failed", "error", err)
			}
		})
		return nil
	case pkgerrors.Is(err, ErrMismatch):
		r.report(RecoverableError{Message: mismatchMessage, Err: err})
	default:
		r.report(RecoverableError{Message: err.Error(), Err: err})
	}
	return r.render(gen, r.tree, renderConfig{})
}

func isDocumentTree(n node.Node) bool {
	el, ok := n.(*node.Element)
	return ok && el != nil && strings.EqualFold(el.Tag, "html")
}

// hydrateBoundary adopts the server content of a revealed boundary.
func (r *Root) hydrateBoundary(b *boundary) {
	if b.start.Parent == nil {
		return
	}
	p := &pass{r: r, gen: b.gen}
	c := &cursor{parent: b.start.Parent, next: b.start.NextSibling, end: b.end}
	err := p.node(c, b.content, b.scope)
	if err == nil {
		if extra := c.rest(); extra != nil {
			err = mismatchf("unexpected %s in boundary", describe(extra))
		}
	}

	var s *suspended
	switch {
	case err == nil:
		p.commit()
	case pkgerrors.As(err, &s):
		r.retryOn(s.f, b.gen, func() { r.hydrateBoundary(b) })
	case pkgerrors.Is(err, ErrMismatch):
		r.report(RecoverableError{Message: mismatchMessage, Err: err})
		r.fillBoundary(b)
	default:
		r.report(RecoverableError{Message: err.Error(), Err: err})
		r.fillBoundary(b)
	}
}

// serverFallback client-renders a boundary the server gave up on.
func (r *Root) serverFallback(b *boundary) {
	e := RecoverableError{Message: serverErrorMessage}
	if tmpl := b.start.NextSibling; dom.IsElement(tmpl, "template") {
		e.Digest, _ = dom.Attr(tmpl, "data-dgst")
		if msg, ok := dom.Attr(tmpl, "data-msg"); ok && msg != "" {
			e.Message = msg
		}
	}
	if e.Digest == patch.ResourceLoadDigest {
		e.Message = resourceLoadMessage
		e.Err = ErrResourceLoad
	}
	r.report(e)
	r.fillBoundary(b)
}
