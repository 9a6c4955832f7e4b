package hydrate

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/pthm/hxstream/lib/client"
	"github.com/pthm/hxstream/lib/dom"
	"github.com/pthm/hxstream/lib/node"
	"github.com/pthm/hxstream/lib/resource"
)

// scope is the insertion context of a node: the classification flags and
// the shadow root that owns its resources (nil for the document).
type scope struct {
	res    resource.Scope
	shadow *html.Node
}

func childScope(sc scope, tag string, n *html.Node) scope {
	switch {
	case tag == "svg":
		sc.res.InSVG = true
	case tag == "noscript":
		sc.res.InNoscript = true
	case dom.IsShadowRoot(n):
		sc.shadow = n
	}
	return sc
}

// ensureResource adopts the document's element for decl, or inserts a new
// one. Stylesheets and inline styles belong to the shadow scope; everything
// else is document scoped. The record is returned when it is a stylesheet
// that has not finished loading.
func (r *Root) ensureResource(shadow *html.Node, decl resource.Decl) *resource.Record {
	if !decl.Kind.Precedented() {
		shadow = nil
	}
	reg := r.doc.ScopeRegistry(shadow)
	container := shadow
	if container == nil {
		container = r.doc.Head()
	}

	rec, _ := reg.Declare(decl.Kind, decl.Href, decl.Props, resource.OriginRendered)
	if reg.Handle(rec) == nil {
		if n := r.findResource(shadow, decl); n != nil {
			r.logger.Debug("adopted resource", "key", rec.Key.String())
			if prec, ok := dom.Attr(n, "data-precedence"); ok && shadow == nil && n.Parent != container {
				client.InsertByPrecedence(r.doc, container, n, prec)
			}
			reg.Adopt(decl.Kind, decl.Href, decl.Props, n, true)
		} else {
			r.insertResource(reg, container, rec)
		}
	}
	if rec.Kind == resource.KindStylesheet && !reg.State(rec).Settled() {
		return rec
	}
	return nil
}

func (r *Root) insertResource(reg *resource.Registry, container *html.Node, rec *resource.Record) {
	tag, attrs := resource.Markup(rec)
	n := dom.Element(tag, htmlAttrs(attrs)...)
	r.logger.Debug("inserted resource", "key", rec.Key.String())
	switch rec.Kind {
	case resource.KindStylesheet:
		client.InsertByPrecedence(r.doc, container, n, rec.Props.Precedence)
		client.Track(r.doc, reg, rec.Kind, rec.Href, rec.Props, n)
	case resource.KindStyle:
		n.AppendChild(dom.Text(rec.Props.Content))
		client.InsertByPrecedence(r.doc, container, n, rec.Props.Precedence)
		reg.Adopt(rec.Kind, rec.Href, rec.Props, n, true)
	default:
		container.AppendChild(n)
		client.Track(r.doc, reg, rec.Kind, rec.Href, rec.Props, n)
	}
}

// findResource returns the element already representing decl in the given
// scope.
func (r *Root) findResource(shadow *html.Node, decl resource.Decl) *html.Node {
	href := dom.EscapeSelectorValue(decl.Href)
	var sel string
	switch decl.Kind {
	case resource.KindStylesheet:
		sel = `link[rel="stylesheet"][href="` + href + `"]`
	case resource.KindStyle:
		sel = `style[data-href~="` + href + `"]`
	case resource.KindScript:
		sel = `script[src="` + href + `"]`
	default:
		sel = `link[rel="preload"][href="` + href + `"], link[rel="modulepreload"][href="` + href + `"]`
	}
	for _, n := range r.doc.QueryAll(shadow, sel) {
		if dom.ScopeOf(n) == shadow {
			return n
		}
	}
	return nil
}

// ensureHoistable claims a matching unclaimed element in the scope, or
// appends a new one. Hoisted elements are owned by the root.
func (r *Root) ensureHoistable(shadow *html.Node, tag string, el *node.Element) *html.Node {
	text := textOf(el.Children)
	for _, n := range r.doc.QueryAll(shadow, tag) {
		if r.claimed[n] || dom.ScopeOf(n) != shadow || !sameHoistable(n, el, text) {
			continue
		}
		r.claimed[n] = true
		r.hoisted = append(r.hoisted, n)
		return n
	}

	n := dom.Element(tag, htmlAttrs(el.Attrs)...)
	if text != "" {
		n.AppendChild(dom.Text(text))
	}
	container := shadow
	if container == nil {
		container = r.doc.Head()
	}
	container.AppendChild(n)
	r.claimed[n] = true
	r.hoisted = append(r.hoisted, n)
	return n
}

func sameHoistable(n *html.Node, el *node.Element, text string) bool {
	for _, a := range el.Attrs {
		v, ok := dom.Attr(n, strings.ToLower(a.Key))
		if !ok || v != a.Value {
			return false
		}
	}
	return dom.TextContent(n) == text
}

// isResourceNode reports whether n is a resource element that outlives the
// content around it.
func isResourceNode(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.Data {
	case "link":
		rel, _ := dom.Attr(n, "rel")
		_, prec := dom.Attr(n, "data-precedence")
		return (rel == "stylesheet" && prec) || rel == "preload" || rel == "modulepreload"
	case "style":
		_, ok := dom.Attr(n, "data-precedence")
		return ok
	case "script":
		_, async := dom.Attr(n, "async")
		_, src := dom.Attr(n, "src")
		return async && src
	}
	return false
}

func htmlAttrs(attrs []node.Attr) []html.Attribute {
	out := make([]html.Attribute, 0, len(attrs))
	for _, a := range attrs {
		if a.Key == "" {
			continue
		}
		out = append(out, html.Attribute{Key: strings.ToLower(a.Key), Val: a.Value})
	}
	return out
}

func textOf(children []node.Node) string {
	var b strings.Builder
	for _, c := range children {
		if t, ok := c.(node.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}
