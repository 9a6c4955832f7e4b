// Package dom is the live document the client runtime and hydration work
// on: an x/net/html tree plus event listeners and per-scope resource
// registries.
package dom

import (
	"bytes"
	"io"
	"log/slog"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/pthm/hxstream/lib/resource"
)

// Event is delivered to listeners by Dispatch.
type Event struct {
	Type   string
	Target *html.Node
}

// Document wraps a parsed HTML tree.
type Document struct {
	Root *html.Node

	logger    *slog.Logger
	listeners map[*html.Node]map[string][]func(Event)
	registry  *resource.Registry
	scopes    map[*html.Node]*resource.Registry
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return New(root, nil), nil
}

// ParseString parses s as an HTML document.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// New wraps an existing tree. A nil logger uses slog.Default().
func New(root *html.Node, logger *slog.Logger) *Document {
	if logger == nil {
		logger = slog.Default()
	}
	return &Document{
		Root:      root,
		logger:    logger,
		listeners: make(map[*html.Node]map[string][]func(Event)),
		registry:  resource.New(resource.Config{Logger: logger}),
		scopes:    make(map[*html.Node]*resource.Registry),
	}
}

// Logger returns the document logger.
func (d *Document) Logger() *slog.Logger { return d.logger }

// Registry returns the document-scoped resource registry.
func (d *Document) Registry() *resource.Registry { return d.registry }

// ScopeRegistry returns the registry for the resource scope rooted at
// scope: the document registry for nil or the document root, otherwise one
// registry per shadow root.
func (d *Document) ScopeRegistry(scope *html.Node) *resource.Registry {
	if scope == nil || scope == d.Root {
		return d.registry
	}
	reg := d.scopes[scope]
	if reg == nil {
		reg = resource.New(resource.Config{Logger: d.logger})
		d.scopes[scope] = reg
	}
	return reg
}

// Head returns the <head> element, creating one if the document lacks it.
func (d *Document) Head() *html.Node {
	if n := d.first(atom.Head); n != nil {
		return n
	}
	head := Element("head")
	if h := d.first(atom.Html); h != nil {
		h.InsertBefore(head, h.FirstChild)
	} else {
		d.Root.AppendChild(head)
	}
	return head
}

// Body returns the <body> element, or nil.
func (d *Document) Body() *html.Node {
	return d.first(atom.Body)
}

func (d *Document) first(a atom.Atom) *html.Node {
	var found *html.Node
	Walk(d.Root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.Type == html.ElementNode && n.DataAtom == a {
			found = n
			return false
		}
		return true
	})
	return found
}

// ByID returns the first element with the given id.
func (d *Document) ByID(id string) *html.Node {
	var found *html.Node
	Walk(d.Root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.Type == html.ElementNode {
			if v, ok := Attr(n, "id"); ok && v == id {
				found = n
				return false
			}
		}
		return true
	})
	return found
}

// Query returns the first element under root matching selector, or nil if
// nothing matches or the selector is invalid.
func (d *Document) Query(root *html.Node, selector string) *html.Node {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		d.logger.Warn("invalid selector", "selector", selector, "error", err)
		return nil
	}
	if root == nil {
		root = d.Root
	}
	return sel.MatchFirst(root)
}

// QueryAll returns every element under root matching selector.
func (d *Document) QueryAll(root *html.Node, selector string) []*html.Node {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		d.logger.Warn("invalid selector", "selector", selector, "error", err)
		return nil
	}
	if root == nil {
		root = d.Root
	}
	return sel.MatchAll(root)
}

// AddEventListener registers fn for events of type typ on n.
func (d *Document) AddEventListener(n *html.Node, typ string, fn func(Event)) {
	m := d.listeners[n]
	if m == nil {
		m = make(map[string][]func(Event))
		d.listeners[n] = m
	}
	m[typ] = append(m[typ], fn)
}

// RemoveEventListeners drops every listener of type typ on n.
func (d *Document) RemoveEventListeners(n *html.Node, typ string) {
	if m := d.listeners[n]; m != nil {
		delete(m, typ)
	}
}

// HasListener reports whether n has a listener for typ.
func (d *Document) HasListener(n *html.Node, typ string) bool {
	return len(d.listeners[n][typ]) > 0
}

// Dispatch delivers an event of type typ to the listeners of n. It reports
// whether any listener ran.
func (d *Document) Dispatch(n *html.Node, typ string) bool {
	fns := append([]func(Event){}, d.listeners[n][typ]...)
	for _, fn := range fns {
		fn(Event{Type: typ, Target: n})
	}
	return len(fns) > 0
}

// Render serializes the whole document.
func (d *Document) Render() string {
	return Render(d.Root)
}

// Render serializes n.
func Render(n *html.Node) string {
	var buf bytes.Buffer
	_ = html.Render(&buf, n)
	return buf.String()
}

// RenderChildren serializes the children of n.
func RenderChildren(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&buf, c)
	}
	return buf.String()
}

// Walk visits n and its descendants in document order. Returning false
// from fn skips the children of the visited node.
func Walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		Walk(c, fn)
		c = next
	}
}
