package hydrate

import (
	"strings"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/net/html"

	"github.com/pthm/hxstream/lib/client"
	"github.com/pthm/hxstream/lib/dom"
	"github.com/pthm/hxstream/lib/node"
	"github.com/pthm/hxstream/lib/resource"
)

// builder renders a tree into detached nodes. Like a pass, its listeners,
// hoistables and retries only take effect on commit.
type builder struct {
	r        *Root
	gen      int
	bindings []binding
	hoists   []hoist
	waits    []client.Wait
	deferred []func()
}

func (bl *builder) child() *builder {
	return &builder{r: bl.r, gen: bl.gen}
}

func (bl *builder) merge(o *builder) {
	bl.bindings = append(bl.bindings, o.bindings...)
	bl.hoists = append(bl.hoists, o.hoists...)
	bl.waits = append(bl.waits, o.waits...)
	bl.deferred = append(bl.deferred, o.deferred...)
}

func (bl *builder) commit() {
	for _, b := range bl.bindings {
		fn := b.fn
		bl.r.doc.AddEventListener(b.n, b.event, func(dom.Event) { fn() })
	}
	for _, h := range bl.hoists {
		bl.r.ensureHoistable(h.shadow, h.tag, h.el)
	}
	for _, fn := range bl.deferred {
		fn()
	}
}

func (bl *builder) build(n node.Node, sc scope) ([]*html.Node, error) {
	switch n := n.(type) {
	case nil:
		return nil, nil
	case node.Text:
		if n == "" {
			return nil, nil
		}
		return []*html.Node{dom.Text(string(n))}, nil
	case node.Fragment:
		return bl.children(n, sc)
	case *node.Element:
		if n == nil {
			return nil, nil
		}
		return bl.element(n, sc)
	case node.Suspense:
		return bl.suspense(n, sc)
	case *node.Suspense:
		if n == nil {
			return nil, nil
		}
		return bl.suspense(*n, sc)
	case node.Component:
		res := bl.r.invoke(n)
		if res.IsPending() {
			return nil, &suspended{f: res.Wait()}
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return bl.build(res.Node(), sc)
	case node.Templ:
		return bl.r.templNodes(n, nil)
	}
	return nil, pkgerrors.Errorf("hydrate: unsupported node %T", n)
}

func (bl *builder) children(children []node.Node, sc scope) ([]*html.Node, error) {
	var out []*html.Node
	for _, c := range children {
		nodes, err := bl.build(c, sc)
		if err != nil {
			return nil, err
		}
		out = append(out, nodes...)
	}
	return out, nil
}

func (bl *builder) element(el *node.Element, sc scope) ([]*html.Node, error) {
	tag := strings.ToLower(el.Tag)
	switch tag {
	case "html", "body":
		return bl.children(el.Children, sc)
	case "head":
		return nil, bl.head(el.Children)
	}

	class, decl := resource.Classify(tag, el, textOf(el.Children), sc.res)
	switch class {
	case resource.ClassResource:
		bl.resource(sc.shadow, decl)
		return nil, nil
	case resource.ClassHoistable:
		bl.hoists = append(bl.hoists, hoist{shadow: sc.shadow, tag: tag, el: el})
		return nil, nil
	}

	n := dom.Element(tag, htmlAttrs(el.Attrs)...)
	for event, fn := range el.Listeners {
		bl.bindings = append(bl.bindings, binding{n: n, event: event, fn: fn})
	}
	if voidElements[tag] {
		return []*html.Node{n}, nil
	}
	kids, err := bl.children(el.Children, childScope(sc, tag, n))
	if err != nil {
		return nil, err
	}
	for _, k := range kids {
		n.AppendChild(k)
	}
	return []*html.Node{n}, nil
}

func (bl *builder) resource(shadow *html.Node, decl resource.Decl) {
	if rec := bl.r.ensureResource(shadow, decl); rec != nil {
		if !decl.Kind.Precedented() {
			shadow = nil
		}
		bl.waits = append(bl.waits, client.Wait{Registry: bl.r.doc.ScopeRegistry(shadow), Record: rec})
	}
}

func (bl *builder) head(children []node.Node) error {
	els, err := bl.r.headElements(children, nil)
	if err != nil {
		return err
	}
	for _, el := range els {
		tag := strings.ToLower(el.Tag)
		if class, decl := resource.Classify(tag, el, textOf(el.Children), resource.Scope{}); class == resource.ClassResource {
			bl.resource(nil, decl)
			continue
		}
		bl.hoists = append(bl.hoists, hoist{tag: tag, el: el})
	}
	return nil
}

func (bl *builder) suspense(s node.Suspense, sc scope) ([]*html.Node, error) {
	b := &boundary{
		start:    dom.Comment("$"),
		end:      dom.Comment("/$"),
		content:  s.Content,
		fallback: s.Fallback,
		scope:    sc,
		gen:      bl.gen,
	}
	nodes, err := bl.fill(b)
	if err != nil {
		return nil, err
	}
	out := make([]*html.Node, 0, len(nodes)+2)
	out = append(out, b.start)
	out = append(out, nodes...)
	return append(out, b.end), nil
}

// fill renders the content of b, or its fallback while the content is
// pending or failed. Only a failing fallback is returned as an error.
func (bl *builder) fill(b *boundary) ([]*html.Node, error) {
	inner := bl.child()
	nodes, err := inner.build(b.content, b.scope)
	if err == nil {
		bl.merge(inner)
		return nodes, nil
	}

	var s *suspended
	if pkgerrors.As(err, &s) {
		f := s.f
		bl.deferred = append(bl.deferred, func() {
			bl.r.retryOn(f, b.gen, func() { bl.r.fillBoundary(b) })
		})
	} else {
		bl.r.logger.Error("boundary failed on the client", "error", err)
	}
	fb := bl.child()
	nodes, err = fb.build(b.fallback, b.scope)
	if err != nil {
		return nil, err
	}
	bl.merge(fb)
	return nodes, nil
}

// fillBoundary replaces whatever sits between the markers of b with a
// client render of its content.
func (r *Root) fillBoundary(b *boundary) {
	parent := b.start.Parent
	if parent == nil || b.end.Parent != parent {
		return
	}
	for n := b.start.NextSibling; n != nil && n != b.end; {
		next := n.NextSibling
		parent.RemoveChild(n)
		n = next
	}
	b.start.Data = "$"

	bl := &builder{r: r, gen: b.gen}
	nodes, err := bl.fill(b)
	if err != nil {
		r.logger.Error("boundary fallback failed", "error", err)
		return
	}
	for _, n := range nodes {
		parent.InsertBefore(n, b.end)
	}
	bl.commit()
}

// render client-renders tree into the target, replacing its content. A
// transition waits for the stylesheets it introduced before committing.
func (r *Root) render(gen int, tree node.Node, cfg renderConfig) error {
	if r.gate != nil {
		r.gate.Cancel()
		r.gate = nil
	}
	bl := &builder{r: r, gen: gen}
	nodes, err := bl.build(tree, scope{})
	var s *suspended
	if pkgerrors.As(err, &s) {
		r.retryOn(s.f, gen, func() {
			if err := r.render(gen, tree, cfg); err != nil {
				r.logger.Error("client render failed", "error", err)
			}
		})
		return nil
	}
	if err != nil {
		return err
	}

	commit := func() {
		r.clearContent()
		t := r.target()
		for _, n := range nodes {
			t.AppendChild(n)
		}
		bl.commit()
		r.logger.Debug("committed client render", "nodes", len(nodes))
	}
	if !cfg.transition || len(bl.waits) == 0 {
		commit()
		return nil
	}

	g := client.NewGate(client.GateConfig{
		Waits:     bl.waits,
		Clock:     r.opts.Clock,
		Deadlines: r.opts.Deadlines,
		Locker:    r.lock,
		OnOpen: func(res client.GateResult) {
			r.gate = nil
			if r.unmounted || r.generation != gen {
				return
			}
			if len(res.Failed) > 0 || res.Forced {
				r.logger.Warn("committing transition without every stylesheet", "failed", res.Failed, "forced", res.Forced)
			}
			commit()
		},
	})
	if !g.Done() {
		r.gate = g
	}
	return nil
}
