package dom

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Attr returns the value of attribute key on n.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets attribute key on n.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes attribute key from n.
func RemoveAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

// Element creates a detached element.
func Element(tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Lookup([]byte(tag)),
		Data:     tag,
		Attr:     attrs,
	}
}

// Text creates a detached text node.
func Text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// Comment creates a detached comment node.
func Comment(s string) *html.Node {
	return &html.Node{Type: html.CommentNode, Data: s}
}

// IsElement reports whether n is an element with the given tag.
func IsElement(n *html.Node, tag string) bool {
	return n != nil && n.Type == html.ElementNode && n.Data == tag
}

// IsComment reports whether n is a comment with the given data.
func IsComment(n *html.Node, data string) bool {
	return n != nil && n.Type == html.CommentNode && n.Data == data
}

// Detach removes n from its parent, if any.
func Detach(n *html.Node) {
	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// InsertBefore inserts n into parent before ref, detaching it first. A nil
// ref appends.
func InsertBefore(parent, n, ref *html.Node) {
	Detach(n)
	parent.InsertBefore(n, ref)
}

// RemoveChildren detaches every child of n.
func RemoveChildren(n *html.Node) {
	for n.FirstChild != nil {
		n.RemoveChild(n.FirstChild)
	}
}

// TextContent concatenates the text descendants of n.
func TextContent(n *html.Node) string {
	var b strings.Builder
	Walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

// ShadowRoot returns the declarative shadow root template of host, or nil.
func ShadowRoot(host *html.Node) *html.Node {
	for c := host.FirstChild; c != nil; c = c.NextSibling {
		if IsShadowRoot(c) {
			return c
		}
	}
	return nil
}

// IsShadowRoot reports whether n is a declarative shadow root template.
func IsShadowRoot(n *html.Node) bool {
	if !IsElement(n, "template") {
		return false
	}
	_, ok := Attr(n, "shadowrootmode")
	return ok
}

// ScopeOf returns the shadow root containing n, or nil for the document.
func ScopeOf(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if IsShadowRoot(p) {
			return p
		}
	}
	return nil
}

var selectorEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\A `, "\r", `\D `)

// EscapeSelectorValue escapes s for use inside a double-quoted CSS
// attribute selector value.
func EscapeSelectorValue(s string) string {
	return selectorEscaper.Replace(s)
}

// Wrap returns the classification view of n.
func (d *Document) Wrap(n *html.Node) *Node {
	return &Node{doc: d, n: n}
}

// Node adapts an element to resource.Element.
type Node struct {
	doc *Document
	n   *html.Node
}

// Attr implements resource.Element. Keys are matched case-insensitively
// since the parser lowercases attribute names.
func (e *Node) Attr(key string) (string, bool) {
	return Attr(e.n, strings.ToLower(key))
}

// HasListener implements resource.Element.
func (e *Node) HasListener(event string) bool {
	return e.doc.HasListener(e.n, event)
}
