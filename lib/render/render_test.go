package render

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/hxstream/lib/encoding"
	"github.com/pthm/hxstream/lib/node"
)

func el(tag string, children ...node.Node) *node.Element {
	return node.El(tag, nil, children...)
}

func text(v any) node.Node {
	return node.Text(v.(string))
}

// drain runs Work and Flush once and returns the chunk.
func drain(t *testing.T, r *Request) string {
	t.Helper()
	r.Work()
	var buf bytes.Buffer
	require.NoError(t, r.Flush(&buf))
	return buf.String()
}

func TestRenderStaticTree(t *testing.T) {
	r := NewRequest(context.Background(), el("div", node.Text("a"), node.Text("b")), Options{})
	out := drain(t, r)

	assert.Equal(t, "<div>a<!-- -->b</div>", out)
	assert.True(t, r.Done())
}

func TestRenderEscapesTextAndAttributes(t *testing.T) {
	tree := node.El("a", node.A("href", `/x?a=1&b="2"`), node.Text("<b>&</b>"))
	out := drain(t, NewRequest(context.Background(), tree, Options{}))

	assert.Equal(t, `<a href="/x?a=1&amp;b=&#34;2&#34;">&lt;b&gt;&amp;&lt;/b&gt;</a>`, out)

	out = drain(t, NewRequest(context.Background(), el("p", node.Text(`say "hi" & 'bye'`)), Options{}))
	assert.Equal(t, `<p>say &#34;hi&#34; &amp; &#39;bye&#39;</p>`, out)
}

func TestTextSeparators(t *testing.T) {
	tests := []struct {
		name string
		tree node.Node
		want string
	}{
		{
			name: "adjacent text",
			tree: node.Fragment{node.Text("a"), node.Text("b")},
			want: "a<!-- -->b",
		},
		{
			name: "element between",
			tree: node.Fragment{node.Text("a"), el("br"), node.Text("b")},
			want: "a<br>b",
		},
		{
			name: "component leaf",
			tree: node.Fragment{node.Text("a"), node.Component(func(context.Context) node.Result {
				return node.Ready(node.Text("b"))
			})},
			want: "a<!-- -->b",
		},
		{
			name: "boundary edges",
			tree: node.Fragment{node.Text("a"), node.Suspense{Content: node.Text("b")}, node.Text("c")},
			want: "a<!--$-->b<!--/$-->c",
		},
		{
			name: "empty text",
			tree: node.Fragment{node.Text("a"), node.Text(""), node.Text("b")},
			want: "a<!-- -->b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := drain(t, NewRequest(context.Background(), tt.tree, Options{}))
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestSeparatorAcrossResolvedHole(t *testing.T) {
	f := node.NewFuture()
	tree := node.Fragment{node.Text("a"), node.Use(f, text), node.Text("c")}
	r := NewRequest(context.Background(), tree, Options{})

	assert.Empty(t, drain(t, r), "shell must wait for root holes")

	f.Resolve("b")
	assert.Equal(t, "a<!-- -->b<!-- -->c", drain(t, r))
}

func TestSuspenseStreamsFallbackThenContent(t *testing.T) {
	f := node.NewFuture()
	tree := el("div", node.Suspense{
		Fallback: node.Text("loading"),
		Content:  node.Use(f, text),
	})
	r := NewRequest(context.Background(), tree, Options{})

	shell := drain(t, r)
	assert.Equal(t,
		`<div><!--$?--><template id="B:0"></template>loading<!--/$--></div>`+
			`<div hidden="" id="S:0"><template id="P:1"></template></div>`,
		shell)
	assert.False(t, r.Done())

	f.Resolve("hi")
	rest := drain(t, r)
	assert.Contains(t, rest, `<div hidden="" id="S:1">hi<!-- --></div>`)
	assert.Contains(t, rest, `$RS("S:1","P:1")`)
	assert.Contains(t, rest, `$RC("B:0","S:0")`)
	assert.Less(t, strings.Index(rest, "$RS("), strings.Index(rest, `$RC("B:0"`))
	assert.True(t, r.Done())
}

func TestStreamedTextKeepsSeparators(t *testing.T) {
	f := node.NewFuture()
	tree := node.Suspense{
		Fallback: node.Text("..."),
		Content:  node.Fragment{node.Text("a"), node.Use(f, text), node.Text("c")},
	}
	r := NewRequest(context.Background(), tree, Options{})

	shell := drain(t, r)
	assert.Contains(t, shell, `<div hidden="" id="S:0">a<template id="P:1"></template>c</div>`)

	f.Resolve("b")
	rest := drain(t, r)
	assert.Contains(t, rest, `<div hidden="" id="S:1"><!-- -->b<!-- --></div>`)
	assert.Contains(t, rest, `$RS("S:1","P:1")`)
}

func TestStreamedElementGetsNoSeparators(t *testing.T) {
	f := node.NewFuture()
	tree := node.Suspense{
		Fallback: node.Text("..."),
		Content: node.Fragment{node.Text("a"), node.Use(f, func(v any) node.Node {
			return el("b", node.Text(v.(string)))
		}), node.Text("c")},
	}
	r := NewRequest(context.Background(), tree, Options{})
	drain(t, r)

	f.Resolve("bold")
	assert.Contains(t, drain(t, r), `<div hidden="" id="S:1"><b>bold</b></div>`)
}

func TestRuntimeDefinedOncePerStream(t *testing.T) {
	f1, f2 := node.NewFuture(), node.NewFuture()
	tree := node.Fragment{
		node.Suspense{Fallback: node.Text("1"), Content: node.Use(f1, text)},
		node.Suspense{Fallback: node.Text("2"), Content: node.Use(f2, text)},
	}
	r := NewRequest(context.Background(), tree, Options{})
	drain(t, r)

	f1.Resolve("a")
	first := drain(t, r)
	f2.Resolve("b")
	second := drain(t, r)

	assert.Contains(t, first, "$RC=")
	assert.NotContains(t, second, "$RC=")
	assert.Contains(t, second, `$RC("B:1","S:`)
}

func TestSuspenseReadyInlines(t *testing.T) {
	tree := el("main", node.Suspense{Fallback: node.Text("..."), Content: el("p", node.Text("done"))})
	out := drain(t, NewRequest(context.Background(), tree, Options{}))

	assert.Equal(t, "<main><!--$--><p>done</p><!--/$--></main>", out)
}

func TestProgressiveChunkSizeOutlines(t *testing.T) {
	tree := node.Suspense{Fallback: node.Text("..."), Content: node.Text("hello world")}
	out := drain(t, NewRequest(context.Background(), tree, Options{ProgressiveChunkSize: 5}))

	assert.True(t, strings.HasPrefix(out, `<!--$?--><template id="B:0"></template><!--/$-->`), out)
	assert.Contains(t, out, `<div hidden="" id="S:0">hello world</div>`)
	assert.Contains(t, out, `$RC("B:0","S:0")`)
}

func TestBoundaryErrorClientRenders(t *testing.T) {
	boom := errors.New("boom")
	tree := node.Suspense{
		Fallback: node.Text("fallback"),
		Content: node.Component(func(context.Context) node.Result {
			return node.Failed(boom)
		}),
	}

	t.Run("production", func(t *testing.T) {
		var reported error
		out := drain(t, NewRequest(context.Background(), tree, Options{
			OnError: func(err error) string { reported = err; return "dg1" },
		}))
		assert.Equal(t, `<!--$!--><template data-dgst="dg1"></template>fallback<!--/$-->`, out)
		assert.ErrorIs(t, reported, boom)
	})

	t.Run("development", func(t *testing.T) {
		out := drain(t, NewRequest(context.Background(), tree, Options{
			OnError:     func(error) string { return "dg1" },
			Development: true,
		}))
		assert.Contains(t, out, `data-msg="boom"`)
	})

	t.Run("default digest", func(t *testing.T) {
		enc, err := encoding.NewEncoder([]byte("k"))
		require.NoError(t, err)
		out := drain(t, NewRequest(context.Background(), tree, Options{Encoder: enc}))
		assert.Contains(t, out, `data-dgst="`+enc.Digest("boom")+`"`)
	})
}

func TestLateBoundaryErrorEmitsInstruction(t *testing.T) {
	f := node.NewFuture()
	tree := node.Suspense{Fallback: node.Text("..."), Content: node.Use(f, text)}
	r := NewRequest(context.Background(), tree, Options{OnError: func(error) string { return "late" }})
	drain(t, r)

	f.Reject(errors.New("nope"))
	out := drain(t, r)
	assert.Contains(t, out, `$RX("B:0","late")`)
	assert.True(t, r.Done())
}

func TestPanicInComponentIsCaught(t *testing.T) {
	tree := node.Suspense{
		Fallback: node.Text("fallback"),
		Content: node.Component(func(context.Context) node.Result {
			panic("kaboom")
		}),
	}
	out := drain(t, NewRequest(context.Background(), tree, Options{
		Development: true,
		OnError:     func(error) string { return "d" },
	}))
	assert.Contains(t, out, `data-msg="component panicked: kaboom"`)
	assert.Contains(t, out, "data-stck=")
}

func TestShellError(t *testing.T) {
	var shellErr error
	tree := el("div", node.Component(func(context.Context) node.Result {
		return node.Failed(errors.New("no shell"))
	}))
	r := NewRequest(context.Background(), tree, Options{
		OnShellError: func(err error) { shellErr = err },
	})
	r.Work()

	var buf bytes.Buffer
	err := r.Flush(&buf)
	require.Error(t, err)
	assert.EqualError(t, shellErr, "no shell")
	assert.Empty(t, buf.String())
	assert.Equal(t, StatusFailed, r.Status())
}

func TestLifecycleCallbacks(t *testing.T) {
	f := node.NewFuture()
	var events []string
	tree := node.Suspense{Fallback: node.Text("..."), Content: node.Use(f, text)}
	r := NewRequest(context.Background(), tree, Options{
		OnShellReady: func() { events = append(events, "shell") },
		OnAllReady:   func() { events = append(events, "all") },
	})
	drain(t, r)
	assert.Equal(t, []string{"shell"}, events)

	f.Resolve("x")
	drain(t, r)
	assert.Equal(t, []string{"shell", "all"}, events)
}

func TestDocumentShell(t *testing.T) {
	tree := el("html",
		el("head", node.El("meta", node.A("charset", "utf-8"))),
		el("body", el("title", node.Text("T")), el("p", node.Text("x"))),
	)
	out := drain(t, NewRequest(context.Background(), tree, Options{}))

	assert.Equal(t,
		`<!DOCTYPE html><html><head><meta charset="utf-8"><title>T</title></head><body><p>x</p></body></html>`,
		out)
}

func TestHoistableSuppressedInSVG(t *testing.T) {
	tree := node.El("svg", nil, el("title", node.Text("icon")))
	out := drain(t, NewRequest(context.Background(), tree, Options{}))

	assert.Equal(t, "<svg><title>icon</title></svg>", out)
}

func TestStylesheetsHoistedOnce(t *testing.T) {
	sheet := func(href, prec string) node.Node {
		return node.El("link", node.A("rel", "stylesheet", "href", href, "precedence", prec))
	}
	tree := el("html", el("body",
		sheet("b", "high"),
		sheet("a", "low"),
		sheet("b", "high"),
		node.Suspense{Content: sheet("c", "low")},
		el("p", node.Text("x")),
	))
	out := drain(t, NewRequest(context.Background(), tree, Options{}))

	assert.Equal(t, 1, strings.Count(out, `href="b"`))
	assert.Equal(t,
		`<!DOCTYPE html><html><head>`+
			`<link rel="stylesheet" href="b" data-precedence="high">`+
			`<link rel="stylesheet" href="a" data-precedence="low">`+
			`<link rel="stylesheet" href="c" data-precedence="low">`+
			`</head><body><!--$--><!--/$--><p>x</p></body></html>`,
		out)
}

func TestInlineStylesGroupByPrecedence(t *testing.T) {
	style := func(href, css string) node.Node {
		return node.El("style", node.A("href", href, "precedence", "p"), node.Text(css))
	}
	tree := node.Fragment{style("one", "a{}"), style("two", "b{}"), el("p")}
	out := drain(t, NewRequest(context.Background(), tree, Options{}))

	assert.Equal(t, `<style data-precedence="p" data-href="one two">a{}b{}</style><p></p>`, out)
}

func TestLateStylesheetGatesReveal(t *testing.T) {
	f := node.NewFuture()
	tree := el("html", el("head"), el("body", node.Suspense{
		Fallback: node.Text("..."),
		Content: node.Use(f, func(v any) node.Node {
			return node.Fragment{
				node.El("link", node.A("rel", "stylesheet", "href", "foo", "precedence", "p")),
				node.Text(v.(string)),
			}
		}),
	}))
	r := NewRequest(context.Background(), tree, Options{})
	shell := drain(t, r)
	assert.True(t, strings.HasPrefix(shell, "<!DOCTYPE html><html><head></head><body><!--$?-->"), shell)

	f.Resolve("hello")
	out := drain(t, r)
	hint := strings.Index(out, `<link rel="preload" href="foo" as="style">`)
	reveal := strings.Index(out, `$RR("B:0","S:0",[["foo","p"]])`)
	require.GreaterOrEqual(t, hint, 0, out)
	require.Greater(t, reveal, hint, out)
	assert.True(t, strings.HasSuffix(out, "</body></html>"))
}

func TestFlushedStylesheetReferencedByHref(t *testing.T) {
	sheet := node.El("link", node.A("rel", "stylesheet", "href", "foo", "precedence", "p"))
	f := node.NewFuture()
	tree := node.Fragment{
		sheet,
		node.Suspense{Fallback: node.Text("..."), Content: node.Use(f, func(any) node.Node {
			return node.Fragment{sheet, node.Text("x")}
		})},
	}
	r := NewRequest(context.Background(), tree, Options{})
	drain(t, r)

	f.Resolve(nil)
	out := drain(t, r)
	assert.Contains(t, out, `[["foo"]]`)
	assert.NotContains(t, out, `rel="preload"`)
}

func TestPreinitAndPreload(t *testing.T) {
	tree := node.Fragment{
		node.Component(func(ctx context.Context) node.Result {
			preinitStyle(ctx, "theme.css")
			preloadFont(ctx, "font.woff2")
			return node.Ready(el("p"))
		}),
	}
	out := drain(t, NewRequest(context.Background(), tree, Options{}))

	font := strings.Index(out, `<link rel="preload" href="font.woff2" as="font" crossorigin="">`)
	sheet := strings.Index(out, `<link rel="stylesheet" href="theme.css" data-precedence="default">`)
	require.GreaterOrEqual(t, font, 0, out)
	require.Greater(t, sheet, font, out)
	assert.True(t, strings.HasSuffix(out, "<p></p>"))
}

func TestBootstrapScripts(t *testing.T) {
	tree := el("html", el("body", el("p")))
	out := drain(t, NewRequest(context.Background(), tree, Options{
		BootstrapScripts: []string{"/main.js"},
		Nonce:            "n1",
	}))

	assert.Contains(t, out, `<link rel="preload" href="/main.js" as="script" fetchpriority="low">`)
	assert.Contains(t, out, `<p></p><script src="/main.js" async="" nonce="n1"></script></body></html>`)
}

func TestIdentifierPrefix(t *testing.T) {
	f := node.NewFuture()
	tree := node.Suspense{Fallback: node.Text("..."), Content: node.Use(f, text)}
	out := drain(t, NewRequest(context.Background(), tree, Options{IdentifierPrefix: "app-"}))

	assert.Contains(t, out, `<template id="app-B:0">`)
}

func TestExternalRuntimeUsesTemplates(t *testing.T) {
	f := node.NewFuture()
	tree := node.Suspense{Fallback: node.Text("..."), Content: node.Use(f, text)}
	r := NewRequest(context.Background(), tree, Options{ExternalRuntimeSrc: "/rt.js"})
	shell := drain(t, r)
	assert.True(t, strings.HasPrefix(shell, `<script src="/rt.js" async=""></script>`), shell)

	f.Resolve("x")
	out := drain(t, r)
	assert.Contains(t, out, `data-rci=""`)
	assert.NotContains(t, out, "<script")
}

func TestAbortClientRendersPendingBoundaries(t *testing.T) {
	tree := node.Suspense{Fallback: node.Text("..."), Content: node.Use(node.NewFuture(), text)}
	r := NewRequest(context.Background(), tree, Options{OnError: func(error) string { return "gone" }})
	drain(t, r)

	r.Abort(errors.New("timeout"))
	out := drain(t, r)
	assert.Contains(t, out, `$RX("B:0","gone")`)
	assert.True(t, r.Done())
}

func TestAbortBeforeShellFails(t *testing.T) {
	r := NewRequest(context.Background(), node.Use(node.NewFuture(), text), Options{})
	r.Work()
	r.Abort(nil)

	err := r.Flush(&bytes.Buffer{})
	assert.ErrorIs(t, err, ErrAborted)
}

func TestRunCompletes(t *testing.T) {
	tree := node.Suspense{Fallback: node.Text("..."), Content: node.Use(node.After(5*time.Millisecond, "late"), text)}
	r := NewRequest(context.Background(), tree, Options{})

	var buf bytes.Buffer
	require.NoError(t, r.Run(context.Background(), &buf))
	assert.Contains(t, buf.String(), `$RC("B:0","S:0")`)
	assert.Contains(t, buf.String(), "late")
}

func TestPrerenderInlinesLateBoundaries(t *testing.T) {
	tree := el("main", node.Suspense{Fallback: node.Text("..."), Content: node.Use(node.After(5*time.Millisecond, "late"), text)})
	r := NewRequest(context.Background(), tree, Options{})

	var buf bytes.Buffer
	require.NoError(t, r.Prerender(context.Background(), &buf))
	assert.Equal(t, "<main><!--$-->late<!--/$--></main>", buf.String())
	assert.True(t, r.Done())
}

func TestPrerenderAbortsOnCancel(t *testing.T) {
	tree := node.Suspense{Fallback: node.Text("..."), Content: node.Use(node.NewFuture(), text)}
	r := NewRequest(context.Background(), tree, Options{OnError: func(error) string { return "x" }})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	var buf bytes.Buffer
	require.NoError(t, r.Prerender(ctx, &buf))
	assert.True(t, strings.HasPrefix(buf.String(), `<!--$!--><template data-dgst="x"></template>...<!--/$-->`), buf.String())
}

func TestRunAbortsOnCancel(t *testing.T) {
	tree := node.Suspense{Fallback: node.Text("..."), Content: node.Use(node.NewFuture(), text)}
	r := NewRequest(context.Background(), tree, Options{OnError: func(error) string { return "x" }})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	var buf bytes.Buffer
	require.NoError(t, r.Run(ctx, &buf))
	assert.Contains(t, buf.String(), `$RX("B:0","x")`)
}

func TestResolveOrderDoesNotChangeOutput(t *testing.T) {
	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}}
	var first map[string]bool

	for _, order := range orders {
		fs := []*node.Future{node.NewFuture(), node.NewFuture(), node.NewFuture()}
		tree := node.Fragment{
			node.Suspense{Fallback: node.Text("0"), Content: node.Use(fs[0], text)},
			node.Suspense{Fallback: node.Text("1"), Content: node.Use(fs[1], text)},
			node.Suspense{Fallback: node.Text("2"), Content: node.Use(fs[2], text)},
		}
		r := NewRequest(context.Background(), tree, Options{})
		shell := drain(t, r)
		assert.Contains(t, shell, `<!--$?--><template id="B:2"></template>2<!--/$-->`)

		got := map[string]bool{}
		for _, i := range order {
			fs[i].Resolve("v")
			out := drain(t, r)
			for _, id := range []string{"B:0", "B:1", "B:2"} {
				if strings.Contains(out, `$RC("`+id+`"`) {
					got[id] = true
				}
			}
		}
		assert.True(t, r.Done())
		if first == nil {
			first = got
		}
		assert.Equal(t, first, got)
		assert.Len(t, got, 3)
	}
}

func TestResumeSkipsCommittedResources(t *testing.T) {
	enc, err := encoding.NewEncoder([]byte("resume"))
	require.NoError(t, err)
	sheet := node.El("link", node.A("rel", "stylesheet", "href", "foo", "precedence", "p"))

	first := NewRequest(context.Background(), node.Fragment{sheet, el("p")}, Options{Encoder: enc})
	assert.Contains(t, drain(t, first), `href="foo"`)
	token, err := first.ResumeToken(false)
	require.NoError(t, err)

	rs, err := DecodeResumeToken(enc, token, false)
	require.NoError(t, err)
	second := NewRequest(context.Background(), node.Fragment{sheet, el("p")}, Options{Encoder: enc, Resume: rs})
	assert.Equal(t, "<p></p>", drain(t, second))
}

func TestTemplLeaf(t *testing.T) {
	c := templComponent(`<em>raw</em>`)
	out := drain(t, NewRequest(context.Background(), node.Fragment{node.Text("a"), node.Templ{Component: c}}, Options{}))

	assert.Equal(t, "a<em>raw</em>", out)
}
