package render

import (
	"bytes"
	"strings"

	"github.com/a-h/templ"

	"github.com/pthm/hxstream/lib/node"
)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "param": true,
	"source": true, "track": true, "wbr": true,
}

// rawTextElements hold unescaped text.
var rawTextElements = map[string]bool{"script": true, "style": true}

func validAttrName(name string) bool {
	if name == "" {
		return false
	}
	return !strings.ContainsAny(name, " \t\n\f\r\"'>/=<")
}

func writeStartTag(b *bytes.Buffer, tag string, attrs []node.Attr) {
	b.WriteByte('<')
	b.WriteString(tag)
	writeAttrs(b, attrs)
	b.WriteByte('>')
}

func writeAttrs(b *bytes.Buffer, attrs []node.Attr) {
	for _, a := range attrs {
		if !validAttrName(a.Key) {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteString(`="`)
		b.WriteString(templ.EscapeString(a.Value))
		b.WriteByte('"')
	}
}

func startTag(tag string, attrs []node.Attr) string {
	var b bytes.Buffer
	writeStartTag(&b, tag, attrs)
	return b.String()
}

func endTag(tag string) string {
	return "</" + tag + ">"
}

// rawText escapes only what would end a raw text element early.
func rawText(tag, s string) string {
	return strings.ReplaceAll(s, "</"+tag, `<\/`+tag)
}

// textContent concatenates the text leaves of children.
func textContent(children []node.Node) string {
	var b strings.Builder
	var walk func(n node.Node)
	walk = func(n node.Node) {
		switch n := n.(type) {
		case node.Text:
			b.WriteString(string(n))
		case node.Fragment:
			for _, c := range n {
				walk(c)
			}
		case *node.Element:
			for _, c := range n.Children {
				walk(c)
			}
		}
	}
	for _, c := range children {
		walk(c)
	}
	return b.String()
}

// elementMarkup renders a hoistable element with text-only children.
func elementMarkup(tag string, el *node.Element) string {
	var b bytes.Buffer
	writeStartTag(&b, tag, el.Attrs)
	if voidElements[tag] {
		return b.String()
	}
	b.WriteString(templ.EscapeString(textContent(el.Children)))
	b.WriteString(endTag(tag))
	return b.String()
}
