package hxstream

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func lateSuspense(d time.Duration, value string) Node {
	return Suspense{
		Fallback: Text("loading"),
		Content:  Use(After(d, value), func(v any) Node { return Text(v.(string)) }),
	}
}

func TestStreamFlushesShellFirst(t *testing.T) {
	var buf bytes.Buffer
	err := Stream(context.Background(), &buf, El("main", nil, lateSuspense(5*time.Millisecond, "late")))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, `<main><!--$?--><template id="B:0"></template>loading<!--/$--></main>`) {
		t.Errorf("Stream() should start with the fallback shell: %s", out)
	}
	if !strings.Contains(out, `$RC("B:0","S:0")`) {
		t.Errorf("Stream() should reveal the boundary: %s", out)
	}
}

func TestRenderWaitsForEverything(t *testing.T) {
	var buf bytes.Buffer
	err := Render(context.Background(), &buf, El("main", nil, lateSuspense(5*time.Millisecond, "late")))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	want := "<main><!--$-->late<!--/$--></main>"
	if got := buf.String(); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestStreamShellFailure(t *testing.T) {
	boom := errors.New("boom")
	var reported error
	tree := El("div", nil, ComponentFunc(func(context.Context) Result {
		return Failed(boom)
	}))

	var buf bytes.Buffer
	err := Stream(context.Background(), &buf, tree, WithOnShellError(func(err error) { reported = err }))
	if !IsShellError(err) {
		t.Fatalf("Stream() error = %v, want shell error", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Stream() error = %v, should wrap %v", err, boom)
	}
	if !errors.Is(reported, boom) {
		t.Errorf("OnShellError got %v, want %v", reported, boom)
	}
	if buf.Len() != 0 {
		t.Errorf("Stream() wrote %q before failing", buf.String())
	}
}

func TestBoundaryErrorUsesDigest(t *testing.T) {
	tree := Suspense{
		Fallback: Text("fallback"),
		Content: ComponentFunc(func(context.Context) Result {
			return Failed(errors.New("secret detail"))
		}),
	}

	var buf bytes.Buffer
	err := Render(context.Background(), &buf, tree, WithOnError(func(error) string { return "E42" }))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	want := `<!--$!--><template data-dgst="E42"></template>fallback<!--/$-->`
	if got := buf.String(); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestRespondSetsHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	if err := Respond(rec, req, El("p", nil, Text("hi"))); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if !rec.Flushed {
		t.Error("Respond() should flush the response")
	}
	if rec.Body.String() != "<p>hi</p>" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "<p>hi</p>")
	}
}

func TestPreloadFromComponent(t *testing.T) {
	tree := ComponentFunc(func(ctx context.Context) Result {
		Preload(ctx, "font.woff2", Props{As: "font"})
		Preinit(ctx, "theme.css", Props{As: "style"})
		return Ready(El("p", nil))
	})

	var buf bytes.Buffer
	if err := Render(context.Background(), &buf, tree); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		`<link rel="preload" href="font.woff2" as="font" crossorigin="">`,
		`<link rel="stylesheet" href="theme.css" data-precedence="default">`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() = %s, missing %s", out, want)
		}
	}
}

func TestPreloadOutsideRenderIsNoop(t *testing.T) {
	// Must not panic without a dispatcher in the context
	Preload(context.Background(), "x.js", Props{As: "script"})
	Preinit(context.Background(), "x.css", Props{As: "style"})
}
