package client

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/pthm/hxstream/lib/dom"
	"github.com/pthm/hxstream/lib/node"
	"github.com/pthm/hxstream/lib/patch"
	"github.com/pthm/hxstream/lib/render"
	"github.com/pthm/hxstream/lib/resource"
)

// stream renders tree, resolving futures in order between flushes, and
// returns the concatenated output.
func stream(t *testing.T, tree node.Node, opts render.Options, settle ...func()) string {
	t.Helper()
	r := render.NewRequest(context.Background(), tree, opts)
	var buf bytes.Buffer
	r.Work()
	require.NoError(t, r.Flush(&buf))
	for _, fn := range settle {
		fn()
		r.Work()
		require.NoError(t, r.Flush(&buf))
	}
	require.True(t, r.Done())
	return buf.String()
}

func parse(t *testing.T, s string) *dom.Document {
	t.Helper()
	d, err := dom.ParseString(s)
	require.NoError(t, err)
	return d
}

// visibleText returns the body text a user would see.
func visibleText(d *dom.Document) string {
	var b strings.Builder
	dom.Walk(d.Body(), func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "template", "script", "style":
				return false
			case "div":
				if _, hidden := dom.Attr(n, "hidden"); hidden {
					return false
				}
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		return true
	})
	return b.String()
}

func sheet(href, prec string) node.Node {
	return node.El("link", node.A("rel", "stylesheet", "href", href, "precedence", prec))
}

func page(body ...node.Node) node.Node {
	return node.El("html", nil, node.El("head", nil), node.El("body", nil, body...))
}

func TestRevealWaitsForStylesheet(t *testing.T) {
	f := node.NewFuture()
	tree := page(node.Suspense{
		Fallback: node.Text("loading"),
		Content: node.Use(f, func(v any) node.Node {
			return node.Fragment{sheet("foo", "default"), node.El("div", nil, node.Text(v.(string)))}
		}),
	})
	out := stream(t, tree, render.Options{}, func() { f.Resolve("hello") })

	d := parse(t, out)
	rt := New(d, Options{Clock: NewFakeClock(time.Unix(0, 0))})
	require.NoError(t, rt.ApplyDocument())

	link := d.Query(d.Head(), `link[rel="stylesheet"][href="foo"]`)
	require.NotNil(t, link, d.Render())
	assert.Equal(t, "loading", visibleText(d))
	assert.Equal(t, []string{"B:0"}, rt.Waiting())

	rt.Dispatch(link, "load")
	assert.Equal(t, "hello", visibleText(d))
	assert.Empty(t, rt.Waiting())
	assert.Contains(t, d.Render(), "<!--$--><div>hello</div><!--/$-->")
}

func TestErroredStylesheetClientRenders(t *testing.T) {
	f := node.NewFuture()
	tree := page(node.Suspense{
		Fallback: node.Text("loading"),
		Content: node.Use(f, func(any) node.Node {
			return node.Fragment{sheet("bad", "default"), node.Text("content")}
		}),
	})
	out := stream(t, tree, render.Options{}, func() { f.Resolve(nil) })

	d := parse(t, out)
	rt := New(d, Options{Clock: NewFakeClock(time.Unix(0, 0))})
	var changes []Change
	rt.Observe(func(c Change) { changes = append(changes, c) })
	require.NoError(t, rt.ApplyDocument())

	link := d.Query(d.Head(), `link[href="bad"]`)
	require.NotNil(t, link)
	rt.Dispatch(link, "error")

	assert.Equal(t, "loading", visibleText(d))
	tmpl := d.ByID("B:0")
	require.NotNil(t, tmpl)
	dgst, _ := dom.Attr(tmpl, "data-dgst")
	assert.Equal(t, patch.ResourceLoadDigest, dgst)
	assert.True(t, dom.IsComment(tmpl.PrevSibling, "$!"))
	require.NotEmpty(t, changes)
	assert.Equal(t, ChangeClientRendered, changes[len(changes)-1].Kind)
}

func TestHardDeadlineForcesReveal(t *testing.T) {
	f := node.NewFuture()
	tree := page(node.Suspense{
		Fallback: node.Text("loading"),
		Content: node.Use(f, func(any) node.Node {
			return node.Fragment{sheet("slow", "default"), node.Text("content")}
		}),
	})
	out := stream(t, tree, render.Options{}, func() { f.Resolve(nil) })

	clock := NewFakeClock(time.Unix(0, 0))
	var slow []string
	d := parse(t, out)
	rt := New(d, Options{
		Clock:        clock,
		HardTimeout:  10 * time.Second,
		OnSlowReveal: func(id string, pending []string) { slow = append(slow, id+":"+strings.Join(pending, ",")) },
	})
	require.NoError(t, rt.ApplyDocument())

	clock.Advance(5 * time.Second)
	assert.Equal(t, []string{"B:0:slow"}, slow)
	assert.Equal(t, "loading", visibleText(d))

	clock.Advance(5 * time.Second)
	assert.Equal(t, "content", visibleText(d))

	// The sheet is still loading; it stays registered.
	rec := d.Registry().Lookup(resource.KindStylesheet, "slow")
	require.NotNil(t, rec)
	assert.Equal(t, resource.StateLoading, d.Registry().State(rec))
}

func TestAbandonDiscardsReveal(t *testing.T) {
	f := node.NewFuture()
	tree := page(node.Suspense{
		Fallback: node.Text("loading"),
		Content: node.Use(f, func(any) node.Node {
			return node.Fragment{sheet("foo", "default"), node.Text("content")}
		}),
	})
	out := stream(t, tree, render.Options{}, func() { f.Resolve(nil) })

	d := parse(t, out)
	rt := New(d, Options{Clock: NewFakeClock(time.Unix(0, 0))})
	require.NoError(t, rt.ApplyDocument())

	assert.True(t, rt.Abandon("B:0"))
	assert.False(t, rt.Abandon("B:0"))
	link := d.Query(d.Head(), `link[href="foo"]`)
	rt.Dispatch(link, "load")

	assert.Equal(t, "loading", visibleText(d))
	rec := d.Registry().Lookup(resource.KindStylesheet, "foo")
	assert.Equal(t, resource.StateLoaded, d.Registry().State(rec))
}

func TestPreambleStylesheetIsAdopted(t *testing.T) {
	f := node.NewFuture()
	tree := page(sheet("base", "default"), node.Suspense{
		Fallback: node.Text("loading"),
		Content: node.Use(f, func(any) node.Node {
			return node.Fragment{sheet("base", "default"), node.Text("content")}
		}),
	})
	out := stream(t, tree, render.Options{}, func() { f.Resolve(nil) })

	d := parse(t, out)
	rt := New(d, Options{Clock: NewFakeClock(time.Unix(0, 0))})
	require.NoError(t, rt.ApplyDocument())

	assert.Equal(t, "content", visibleText(d))
	assert.Len(t, d.QueryAll(nil, `link[href="base"]`), 1)
}

func TestStylesheetsInsertedByPrecedence(t *testing.T) {
	f := node.NewFuture()
	tree := page(sheet("a", "low"), sheet("b", "high"), node.Suspense{
		Fallback: node.Text("..."),
		Content: node.Use(f, func(any) node.Node {
			return node.Fragment{sheet("c", "low"), node.Text("x")}
		}),
	})
	out := stream(t, tree, render.Options{}, func() { f.Resolve(nil) })

	d := parse(t, out)
	rt := New(d, Options{Clock: NewFakeClock(time.Unix(0, 0))})
	require.NoError(t, rt.ApplyDocument())

	var order []string
	for _, n := range d.QueryAll(d.Head(), `link[rel="stylesheet"]`) {
		href, _ := dom.Attr(n, "href")
		order = append(order, href)
	}
	assert.Equal(t, []string{"a", "c", "b"}, order)
}

func TestResolveOrderConverges(t *testing.T) {
	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 0, 2}, {2, 0, 1}}

	for _, order := range orders {
		fs := []*node.Future{node.NewFuture(), node.NewFuture(), node.NewFuture()}
		item := func(i int) node.Node {
			return node.Suspense{
				Fallback: node.Text("_"),
				Content: node.Use(fs[i], func(v any) node.Node {
					return node.El("span", nil, node.Text(v.(string)))
				}),
			}
		}
		tree := page(node.El("p", nil, item(0), item(1), item(2)))

		var settle []func()
		for _, i := range order {
			i := i
			settle = append(settle, func() { fs[i].Resolve(string(rune('a' + i))) })
		}
		d := parse(t, stream(t, tree, render.Options{}, settle...))
		require.NoError(t, New(d, Options{}).ApplyDocument())
		assert.Equal(t, "abc", visibleText(d), "order %v", order)
	}
}

func TestNestedHolesConverge(t *testing.T) {
	outer, inner := node.NewFuture(), node.NewFuture()
	tree := page(node.Suspense{
		Fallback: node.Text("..."),
		Content: node.Fragment{
			node.Text("a"),
			node.Use(outer, func(any) node.Node {
				return node.Fragment{node.Text("b"), node.Use(inner, func(any) node.Node { return node.Text("c") })}
			}),
		},
	})
	out := stream(t, tree, render.Options{}, func() { outer.Resolve(nil) }, func() { inner.Resolve(nil) })

	d := parse(t, out)
	require.NoError(t, New(d, Options{}).ApplyDocument())
	assert.Equal(t, "abc", visibleText(d))
}

func TestExternalRuntimeTemplates(t *testing.T) {
	f := node.NewFuture()
	tree := page(node.Suspense{Fallback: node.Text("..."), Content: node.Use(f, func(any) node.Node { return node.Text("done") })})
	out := stream(t, tree, render.Options{ExternalRuntimeSrc: "/rt.js"}, func() { f.Resolve(nil) })

	d := parse(t, out)
	require.NoError(t, New(d, Options{}).ApplyDocument())
	assert.Equal(t, "done", visibleText(d))
	assert.Empty(t, d.QueryAll(nil, "template[data-rci]"))
}

func TestApplyUnknownTarget(t *testing.T) {
	d := parse(t, `<p></p>`)
	err := New(d, Options{}).Apply(patch.Message{Op: patch.OpCompleteSegment, SegmentID: "S:9", PlaceholderID: "P:9"})
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestLateClientRenderInstruction(t *testing.T) {
	f := node.NewFuture()
	tree := page(node.Suspense{Fallback: node.Text("fallback"), Content: node.Use(f, func(any) node.Node { return node.Text("x") })})
	out := stream(t, tree, render.Options{OnError: func(error) string { return "d1" }}, func() { f.Reject(assert.AnError) })

	d := parse(t, out)
	require.NoError(t, New(d, Options{}).ApplyDocument())
	assert.Equal(t, "fallback", visibleText(d))
	tmpl := d.ByID("B:0")
	dgst, _ := dom.Attr(tmpl, "data-dgst")
	assert.Equal(t, "d1", dgst)
}

func TestGateOpensImmediatelyWhenSettled(t *testing.T) {
	reg := resource.New(resource.Config{})
	rec, _ := reg.Declare(resource.KindStylesheet, "a", resource.Props{Precedence: "p"}, resource.OriginRendered)
	reg.MarkLoaded(rec)

	var got *GateResult
	g := NewGate(GateConfig{Waits: []Wait{{Registry: reg, Record: rec}}, OnOpen: func(r GateResult) { got = &r }})
	require.NotNil(t, got)
	assert.True(t, g.Done())
	assert.False(t, got.Forced)
}

func TestGateCancel(t *testing.T) {
	reg := resource.New(resource.Config{})
	rec, _ := reg.Declare(resource.KindStylesheet, "a", resource.Props{Precedence: "p"}, resource.OriginRendered)
	clock := NewFakeClock(time.Unix(0, 0))

	opened := false
	g := NewGate(GateConfig{Waits: []Wait{{Registry: reg, Record: rec}}, Clock: clock, OnOpen: func(GateResult) { opened = true }})
	assert.Equal(t, []string{"a"}, g.Pending())
	g.Cancel()
	reg.MarkLoaded(rec)
	clock.Advance(time.Minute)
	assert.False(t, opened)
}
