package hxstream

import (
	"bytes"
	"context"
	"strings"

	"github.com/pthm/hxstream/lib/client"
	"github.com/pthm/hxstream/lib/dom"
	"github.com/pthm/hxstream/lib/hydrate"
)

// TestResult holds the output of rendering a tree for testing.
//
// Provides convenience methods for asserting on the markup, the individual
// chunks of a stream, and on what hydration makes of the output.
type TestResult struct {
	HTML     string
	Chunks   []string
	RenderID string

	req *Request
}

// RecoverableError is an alias for hydrate.RecoverableError.
type RecoverableError = hydrate.RecoverableError

// TestRender renders tree to completion, like Render, and returns testable
// output. Chunks holds the single write.
//
//	result, err := hxstream.TestRender(page())
//	if !result.HTMLContains("<h1>Hello</h1>") {
//	    t.Fatal("missing heading")
//	}
func TestRender(tree Node, opts ...Option) (*TestResult, error) {
	return TestRenderWithContext(context.Background(), tree, opts...)
}

// TestRenderWithContext renders tree with a custom context. Cancelling ctx
// aborts whatever is still pending.
func TestRenderWithContext(ctx context.Context, tree Node, opts ...Option) (*TestResult, error) {
	req, err := NewRequest(ctx, tree, opts...)
	if err != nil {
		return nil, err
	}
	rec := &chunkRecorder{}
	if err := shellError(req, req.Prerender(ctx, rec)); err != nil {
		return nil, err
	}
	rec.Flush()
	return rec.result(req), nil
}

// TestStream streams tree, like Stream, recording every flushed chunk.
//
//	result, err := hxstream.TestStream(page())
//	if !strings.Contains(result.Chunks[0], "Loading") {
//	    t.Fatal("shell should show the fallback")
//	}
func TestStream(tree Node, opts ...Option) (*TestResult, error) {
	return TestStreamWithContext(context.Background(), tree, opts...)
}

// TestStreamWithContext streams tree with a custom context.
func TestStreamWithContext(ctx context.Context, tree Node, opts ...Option) (*TestResult, error) {
	req, err := NewRequest(ctx, tree, opts...)
	if err != nil {
		return nil, err
	}
	rec := &chunkRecorder{}
	if err := shellError(req, req.Run(ctx, rec)); err != nil {
		return nil, err
	}
	return rec.result(req), nil
}

// chunkRecorder splits what it is written at every Flush.
type chunkRecorder struct {
	all    bytes.Buffer
	cur    bytes.Buffer
	chunks []string
}

func (c *chunkRecorder) Write(p []byte) (int, error) {
	c.all.Write(p)
	return c.cur.Write(p)
}

func (c *chunkRecorder) Flush() {
	if c.cur.Len() == 0 {
		return
	}
	c.chunks = append(c.chunks, c.cur.String())
	c.cur.Reset()
}

func (c *chunkRecorder) result(req *Request) *TestResult {
	return &TestResult{
		HTML:     c.all.String(),
		Chunks:   c.chunks,
		RenderID: req.ID(),
		req:      req,
	}
}

// HTMLContains checks if the output contains substr.
func (r *TestResult) HTMLContains(substr string) bool {
	return strings.Contains(r.HTML, substr)
}

// HTMLContainsAll checks if the output contains all substrings.
func (r *TestResult) HTMLContainsAll(substrs ...string) bool {
	for _, s := range substrs {
		if !strings.Contains(r.HTML, s) {
			return false
		}
	}
	return true
}

// HTMLContainsAny checks if the output contains any of the substrings.
func (r *TestResult) HTMLContainsAny(substrs ...string) bool {
	for _, s := range substrs {
		if strings.Contains(r.HTML, s) {
			return true
		}
	}
	return false
}

// ShellContains checks if the first chunk contains substr.
func (r *TestResult) ShellContains(substr string) bool {
	return len(r.Chunks) > 0 && strings.Contains(r.Chunks[0], substr)
}

// ChunkIndex returns the index of the first chunk containing substr, or -1.
func (r *TestResult) ChunkIndex(substr string) int {
	for i, c := range r.Chunks {
		if strings.Contains(c, substr) {
			return i
		}
	}
	return -1
}

// ResumeToken returns the token a later stream into the same document
// passes to WithResumeToken.
func (r *TestResult) ResumeToken(sensitive bool) (string, error) {
	return r.req.ResumeToken(sensitive)
}

// TestHydration is the state of a browser that received a TestResult and
// hydrated it.
type TestHydration struct {
	Doc     *dom.Document
	Runtime *client.Runtime
	Root    *hydrate.Root
	Errors  []RecoverableError
}

// Hydrate loads the output into a document, runs every streamed
// instruction, and hydrates tree against it. Stylesheets revealed by
// instructions stay loading until a test dispatches their load event.
//
//	h, err := result.Hydrate(page())
//	if len(h.Errors) > 0 {
//	    t.Fatalf("hydration mismatch: %v", h.Errors)
//	}
//	h.Click("button")
func (r *TestResult) Hydrate(tree Node) (*TestHydration, error) {
	doc, err := dom.ParseString(r.HTML)
	if err != nil {
		return nil, err
	}
	h := &TestHydration{Doc: doc}
	h.Runtime = client.New(doc, client.Options{})
	h.Root, err = hydrate.HydrateRoot(doc, nil, tree, hydrate.Options{
		Runtime: h.Runtime,
		OnRecoverableError: func(e RecoverableError) {
			h.Errors = append(h.Errors, e)
		},
	})
	if err != nil {
		return nil, err
	}
	if err := h.Runtime.ApplyDocument(); err != nil {
		return nil, err
	}
	return h, nil
}

// Click dispatches a click on the first element matching selector and
// reports whether a listener was there to receive it. Listeners may render
// into the root.
func (h *TestHydration) Click(selector string) bool {
	n := h.Doc.Query(nil, selector)
	if n == nil {
		return false
	}
	return h.Doc.Dispatch(n, "click")
}

// Load dispatches the load event on the stylesheet link with href.
func (h *TestHydration) Load(href string) bool {
	n := h.Doc.Query(nil, `link[href="`+dom.EscapeSelectorValue(href)+`"]`)
	if n == nil {
		return false
	}
	return h.Runtime.Dispatch(n, "load")
}

// BodyHTML returns the markup inside <body>.
func (h *TestHydration) BodyHTML() string {
	if body := h.Doc.Body(); body != nil {
		return dom.RenderChildren(body)
	}
	return dom.RenderChildren(h.Doc.Root)
}
