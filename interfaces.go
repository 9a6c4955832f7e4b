package hxstream

import (
	"github.com/a-h/templ"

	"github.com/pthm/hxstream/lib/node"
	"github.com/pthm/hxstream/lib/resource"
)

// Node is anything that can appear in a render tree: Text, *Element,
// Fragment, Suspense, ComponentFunc or Templ.
type Node = node.Node

// Text is escaped character data. Adjacent text nodes stay separate nodes
// after hydration.
type Text = node.Text

// Element is a tag with attributes, children and client event listeners.
type Element = node.Element

// Attr is one attribute. An empty Value renders as a boolean attribute.
type Attr = node.Attr

// Fragment is a list of siblings without a wrapper element.
type Fragment = node.Fragment

// Suspense is a region that shows Fallback while Content waits on data.
// On the server the fallback is streamed first and the content replaces it
// out of band; on the client the boundary hydrates independently.
//
//	hxstream.Suspense{
//	    Fallback: hxstream.Text("Loading..."),
//	    Content:  hxstream.Use(comments, commentList),
//	}
type Suspense = node.Suspense

// ComponentFunc computes a subtree. It returns Ready, Pending or Failed and
// may be called again once the future it is pending on settles, so it must
// not have side effects beyond declaring resources.
//
//	func Profile(user *hxstream.Future) hxstream.ComponentFunc {
//	    return func(ctx context.Context) hxstream.Result {
//	        v, err, ok := user.Result()
//	        if !ok {
//	            return hxstream.Pending(user)
//	        }
//	        if err != nil {
//	            return hxstream.Failed(err)
//	        }
//	        return hxstream.Ready(profileCard(v.(User)))
//	    }
//	}
type ComponentFunc = node.Component

// Templ embeds a templ.Component as an opaque leaf.
type Templ = node.Templ

// Future is an asynchronous value a component can wait on.
type Future = node.Future

// Result is the outcome of a ComponentFunc.
type Result = node.Result

// Props are the resource attributes accepted by Preload and Preinit.
type Props = resource.Props

// Dispatcher receives imperative resource declarations. The server render
// and the hydration root both implement it and install themselves in the
// context passed to components.
type Dispatcher = resource.Dispatcher

// El builds an element.
func El(tag string, attrs []Attr, children ...Node) *Element {
	return node.El(tag, attrs, children...)
}

// A builds an attribute list from key/value pairs. A trailing key without a
// value is a boolean attribute.
func A(kv ...string) []Attr {
	return node.A(kv...)
}

// Attrs converts templ attributes into an attribute list.
func Attrs(m templ.Attributes) []Attr {
	return node.FromTempl(m)
}

// Leaf wraps a templ component so it can be placed in a tree.
func Leaf(c templ.Component) Templ {
	return Templ{Component: c}
}
