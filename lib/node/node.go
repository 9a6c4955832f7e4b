// Package node defines the declarative tree rendered by hxstream.
//
// A tree is built from a handful of concrete node kinds:
//
//	node.El("html", nil,
//	    node.El("body", nil,
//	        node.Suspense{
//	            Fallback: node.Text("loading..."),
//	            Content:  node.Use(profile, renderProfile),
//	        },
//	    ),
//	)
//
// Components never block. A Component returns a tagged Result: Ready with the
// subtree to render, Pending with the Future it is waiting on, or Failed.
// Pending work is retried by the renderer once the Future settles.
package node

import (
	"context"
	"fmt"
	"sort"

	"github.com/a-h/templ"
)

// Node is any value that can appear in a tree.
type Node interface {
	isNode()
}

// Text is a plain text leaf. Empty text renders nothing.
type Text string

// Attr is a single element attribute. A boolean attribute has an empty Value.
type Attr struct {
	Key   string
	Value string
}

// Element is a host element such as <div> or <link>.
//
// Attributes keep their declared order. Listeners are client-side event
// handlers; on the server their presence changes how some elements are
// classified (an async script with a load listener is not a resource).
type Element struct {
	Tag       string
	Attrs     []Attr
	Children  []Node
	Listeners map[string]func()
}

// Fragment groups siblings without a wrapper element.
type Fragment []Node

// Suspense is a deferred region. While Content is pending the Fallback is
// shown in its place.
type Suspense struct {
	Fallback Node
	Content  Node
}

// Component produces a subtree lazily. It may be invoked more than once:
// every time a Future it reported as pending settles, it is called again.
type Component func(ctx context.Context) Result

// Templ embeds a templ component as an opaque markup leaf.
type Templ struct {
	Component templ.Component
}

func (Text) isNode()      {}
func (*Element) isNode()  {}
func (Fragment) isNode()  {}
func (Suspense) isNode()  {}
func (Component) isNode() {}
func (Templ) isNode()     {}

// El builds an element.
func El(tag string, attrs []Attr, children ...Node) *Element {
	return &Element{Tag: tag, Attrs: attrs, Children: children}
}

// A builds an attribute list from alternating keys and values.
// A trailing key without a value becomes a boolean attribute.
func A(kv ...string) []Attr {
	attrs := make([]Attr, 0, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		a := Attr{Key: kv[i]}
		if i+1 < len(kv) {
			a.Value = kv[i+1]
		}
		attrs = append(attrs, a)
	}
	return attrs
}

// FromTempl converts a templ.Attributes map into a sorted attribute list.
// true booleans become boolean attributes, false and nil values are dropped.
func FromTempl(m templ.Attributes) []Attr {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]Attr, 0, len(keys))
	for _, k := range keys {
		switch v := m[k].(type) {
		case nil:
		case bool:
			if v {
				attrs = append(attrs, Attr{Key: k})
			}
		case string:
			attrs = append(attrs, Attr{Key: k, Value: v})
		default:
			attrs = append(attrs, Attr{Key: k, Value: fmt.Sprint(v)})
		}
	}
	return attrs
}

// On registers a client-side listener and returns the element for chaining.
func (e *Element) On(event string, fn func()) *Element {
	if e.Listeners == nil {
		e.Listeners = make(map[string]func())
	}
	e.Listeners[event] = fn
	return e
}

// Attr returns the value of the named attribute.
func (e *Element) Attr(key string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// HasListener reports whether a listener is registered for event.
func (e *Element) HasListener(event string) bool {
	_, ok := e.Listeners[event]
	return ok
}
