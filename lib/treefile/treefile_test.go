package treefile

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/hxstream/lib/client"
	"github.com/pthm/hxstream/lib/dom"
	"github.com/pthm/hxstream/lib/node"
	"github.com/pthm/hxstream/lib/render"
)

func renderAll(t *testing.T, n node.Node) string {
	t.Helper()
	r := render.NewRequest(context.Background(), n, render.Options{OnError: func(error) string { return "dg" }})
	var buf bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx, &buf))
	return buf.String()
}

func TestParseElements(t *testing.T) {
	tree, err := Parse([]byte(`
tag: div
attrs:
  id: main
  hidden: true
  draggable: false
  tabindex: 1
children:
  - hello
  - tag: b
    children: [world]
`))
	require.NoError(t, err)

	el, ok := tree.Build().(*node.Element)
	require.True(t, ok)
	assert.Equal(t, []node.Attr{{Key: "id", Value: "main"}, {Key: "hidden"}, {Key: "tabindex", Value: "1"}}, el.Attrs)
	assert.Equal(t, `<div id="main" hidden="" tabindex="1">hello<b>world</b></div>`, renderAll(t, el))
}

func TestParseSuspenseWithDelay(t *testing.T) {
	tree, err := Parse([]byte(`
suspense:
  fallback: loading
  content:
    delay: 5ms
    tag: p
    children: [done]
`))
	require.NoError(t, err)

	out := renderAll(t, tree.Build())
	assert.True(t, strings.HasPrefix(out, `<!--$?--><template id="B:0"></template>loading<!--/$-->`), out)
	assert.Contains(t, out, `<div hidden="" id="S:0"><template id="P:1"></template></div>`)
	assert.Contains(t, out, `<div hidden="" id="S:1"><p>done</p></div>`)
	assert.Contains(t, out, `$RS("S:1","P:1")`)

	d, err := dom.ParseString(out)
	require.NoError(t, err)
	require.NoError(t, client.New(d, client.Options{}).ApplyDocument())
	assert.Equal(t, `<!--$--><p>done</p><!--/$-->`, dom.RenderChildren(d.Body()))
}

func TestParseErrorNode(t *testing.T) {
	tree, err := Parse([]byte(`
suspense:
  fallback: sorry
  content:
    error: boom
`))
	require.NoError(t, err)

	out := renderAll(t, tree.Build())
	assert.Equal(t, `<!--$!--><template data-dgst="dg"></template>sorry<!--/$-->`, out)
}

func TestParseMarkupAndFragment(t *testing.T) {
	tree, err := Parse([]byte(`
fragment:
  - a
  - b
  - markup: "<em>x</em>"
`))
	require.NoError(t, err)

	assert.Equal(t, "a<!-- -->b<em>x</em>", renderAll(t, tree.Build()))
}

func TestParseRejectsInvalidNodes(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{name: "empty mapping", src: "delay: 1s\n", want: "line 1: node needs one of"},
		{name: "mixed kinds", src: "tag: p\ntext: x\n", want: "mixes several kinds"},
		{name: "nested", src: "tag: p\nchildren:\n  - tag: b\n    text: x\n", want: "line 3"},
		{name: "attrs without tag", src: "text: x\nattrs: {id: a}\n", want: "need a tag"},
		{name: "attr list", src: "tag: p\nattrs: [a]\n", want: "attrs must be a mapping"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecodeReader(t *testing.T) {
	tree, err := Decode(strings.NewReader("text: hi\n"))
	require.NoError(t, err)
	assert.Equal(t, node.Text("hi"), tree.Build())
}
