// Package treefile describes node trees in YAML.
//
// A document is one node. A node is either a bare string (text) or a
// mapping with exactly one of these keys:
//
//	text: hello                  # text leaf
//	tag: div                     # element, with optional attrs and children
//	fragment: [...]              # siblings without a wrapper
//	suspense: {fallback: ..., content: ...}
//	markup: "<b>raw</b>"         # opaque markup leaf
//	error: boom                  # a component that fails
//
// Any node may carry a delay, which wraps it in a component that stays
// pending for that long:
//
//	tag: html
//	children:
//	  - tag: body
//	    children:
//	      - suspense:
//	          fallback: loading...
//	          content:
//	            delay: 200ms
//	            tag: p
//	            children: [done]
//
// Attributes keep their YAML order. A true value renders a boolean
// attribute; false omits it.
package treefile

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/a-h/templ"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/pthm/hxstream/lib/node"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = pkgerrors.New("treefile: invalid node")

// Node is one node of a tree file.
type Node struct {
	Text     *string       `yaml:"text,omitempty"`
	Tag      string        `yaml:"tag,omitempty"`
	Attrs    Attrs         `yaml:"attrs,omitempty"`
	Children []*Node       `yaml:"children,omitempty"`
	Fragment []*Node       `yaml:"fragment,omitempty"`
	Suspense *Suspense     `yaml:"suspense,omitempty"`
	Markup   *string       `yaml:"markup,omitempty"`
	Error    string        `yaml:"error,omitempty"`
	Delay    time.Duration `yaml:"delay,omitempty"`

	line int
}

// Suspense is a deferred region.
type Suspense struct {
	Fallback *Node `yaml:"fallback,omitempty"`
	Content  *Node `yaml:"content,omitempty"`
}

// UnmarshalYAML accepts a bare scalar as a text node and records the source
// line for error messages.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		s := value.Value
		*n = Node{Text: &s, line: value.Line}
		return nil
	}
	type plain Node
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*n = Node(p)
	n.line = value.Line
	return nil
}

// Attrs is an ordered attribute list.
type Attrs []node.Attr

// UnmarshalYAML decodes a mapping while keeping its key order.
func (a *Attrs) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return pkgerrors.Wrapf(ErrInvalid, "line %d: attrs must be a mapping", value.Line)
	}
	out := make(Attrs, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		k, v := value.Content[i], value.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return pkgerrors.Wrapf(ErrInvalid, "line %d: attribute %q must be a scalar", v.Line, k.Value)
		}
		if v.ShortTag() == "!!bool" {
			var b bool
			if err := v.Decode(&b); err != nil {
				return err
			}
			if b {
				out = append(out, node.Attr{Key: k.Value})
			}
			continue
		}
		out = append(out, node.Attr{Key: k.Value, Value: v.Value})
	}
	*a = out
	return nil
}

// Parse decodes a tree file.
func Parse(b []byte) (*Node, error) {
	var n Node
	if err := yaml.Unmarshal(b, &n); err != nil {
		return nil, pkgerrors.Wrap(err, "treefile: decode")
	}
	if err := n.validate(); err != nil {
		return nil, err
	}
	return &n, nil
}

// Decode reads and decodes a tree file.
func Decode(r io.Reader) (*Node, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "treefile: read")
	}
	return Parse(b)
}

// Load decodes the tree file at path.
func Load(path string) (*Node, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "treefile: read")
	}
	return Parse(b)
}

func (n *Node) validate() error {
	if n == nil {
		return nil
	}
	kinds := 0
	for _, set := range []bool{n.Text != nil, n.Tag != "", n.Fragment != nil, n.Suspense != nil, n.Markup != nil, n.Error != ""} {
		if set {
			kinds++
		}
	}
	switch {
	case kinds == 0:
		return pkgerrors.Wrapf(ErrInvalid, "line %d: node needs one of text, tag, fragment, suspense, markup or error", n.line)
	case kinds > 1:
		return pkgerrors.Wrapf(ErrInvalid, "line %d: node mixes several kinds", n.line)
	case n.Delay < 0:
		return pkgerrors.Wrapf(ErrInvalid, "line %d: negative delay", n.line)
	case n.Tag == "" && (n.Attrs != nil || n.Children != nil):
		return pkgerrors.Wrapf(ErrInvalid, "line %d: attrs and children need a tag", n.line)
	}
	for _, list := range [][]*Node{n.Children, n.Fragment} {
		for _, c := range list {
			if err := c.validate(); err != nil {
				return err
			}
		}
	}
	if s := n.Suspense; s != nil {
		if err := s.Fallback.validate(); err != nil {
			return err
		}
		if err := s.Content.validate(); err != nil {
			return err
		}
	}
	return nil
}

// Build converts the description into a node tree. Delay timers start when
// Build is called, so build once per render.
func (n *Node) Build() node.Node {
	if n == nil {
		return nil
	}
	built := n.build()
	if n.Delay <= 0 && n.Error == "" {
		return built
	}

	var f *node.Future
	if n.Delay > 0 {
		f = node.After(n.Delay, nil)
	}
	msg := n.Error
	return node.Component(func(context.Context) node.Result {
		if f != nil {
			if _, _, settled := f.Result(); !settled {
				return node.Pending(f)
			}
		}
		if msg != "" {
			return node.Failed(pkgerrors.New(msg))
		}
		return node.Ready(built)
	})
}

func (n *Node) build() node.Node {
	switch {
	case n.Text != nil:
		return node.Text(*n.Text)
	case n.Markup != nil:
		return node.Templ{Component: templ.Raw(*n.Markup)}
	case n.Fragment != nil:
		return buildAll(n.Fragment)
	case n.Suspense != nil:
		return node.Suspense{
			Fallback: n.Suspense.Fallback.Build(),
			Content:  n.Suspense.Content.Build(),
		}
	case n.Tag != "":
		return node.El(n.Tag, []node.Attr(n.Attrs), buildAll(n.Children)...)
	}
	return nil
}

func buildAll(list []*Node) node.Fragment {
	out := make(node.Fragment, 0, len(list))
	for _, c := range list {
		out = append(out, c.Build())
	}
	return out
}
