package hxstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func staticPage(text string) PageFunc {
	return func(*http.Request) (Node, error) {
		return El("html", nil, El("head", nil), El("body", nil, El("p", nil, Text(text)))), nil
	}
}

func TestRegistryServesPage(t *testing.T) {
	reg := NewRegistry()
	reg.Compress = false
	reg.Add("GET /hello", staticPage("hello"))

	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	want := "<!DOCTYPE html><html><head></head><body><p>hello</p></body></html>"
	if rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}
}

func TestRegistryCompresses(t *testing.T) {
	reg := NewRegistry()
	reg.Add("GET /hello", staticPage(strings.Repeat("hello ", 100)))

	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)

	if ce := rec.Header().Get("Content-Encoding"); ce != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", ce)
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !strings.Contains(string(body), "<p>hello hello") {
		t.Errorf("decompressed body = %q", body)
	}
}

func TestRegistryErrors(t *testing.T) {
	tests := []struct {
		name   string
		page   PageFunc
		status int
	}{
		{
			name:   "not found",
			page:   func(*http.Request) (Node, error) { return nil, ErrNotFound },
			status: http.StatusNotFound,
		},
		{
			name:   "page error",
			page:   func(*http.Request) (Node, error) { return nil, errors.New("db down") },
			status: http.StatusInternalServerError,
		},
		{
			name: "shell error",
			page: func(*http.Request) (Node, error) {
				return ComponentFunc(func(context.Context) Result { return Failed(errors.New("boom")) }), nil
			},
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			reg.Compress = false
			reg.Add("GET /p", tt.page)

			rec := httptest.NewRecorder()
			reg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/p", nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestRegistryCustomOnError(t *testing.T) {
	reg := NewRegistry()
	reg.Compress = false
	var got error
	reg.OnError = func(w http.ResponseWriter, r *http.Request, err error) {
		got = err
		w.WriteHeader(http.StatusTeapot)
	}
	reg.Add("GET /p", func(*http.Request) (Node, error) { return nil, ErrNotFound })

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/p", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if !IsNotFound(got) {
		t.Errorf("OnError got %v, want %v", got, ErrNotFound)
	}
}

func TestRegistryDuplicatePatternPanics(t *testing.T) {
	reg := NewRegistry()
	reg.Add("GET /p", staticPage("a"))

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate pattern")
		}
	}()
	reg.Add("GET /p", staticPage("b"))
}

func TestRegistryPageOptions(t *testing.T) {
	reg := NewRegistry(WithBootstrapScripts("/app.js"))
	reg.Compress = false
	reg.Add("GET /p", staticPage("x"), WithNonce("n1"))

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/p", nil))
	if !strings.Contains(rec.Body.String(), `<script src="/app.js" async="" nonce="n1"></script>`) {
		t.Errorf("body = %s, want bootstrap script with nonce", rec.Body.String())
	}
	if len(reg.Patterns()) != 1 {
		t.Errorf("Patterns() = %v, want one pattern", reg.Patterns())
	}
}

func TestHandler(t *testing.T) {
	h := Handler(staticPage("single"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "<p>single</p>") {
		t.Errorf("body = %q", rec.Body.String())
	}

	missing := Handler(func(*http.Request) (Node, error) { return nil, ErrNotFound })
	rec = httptest.NewRecorder()
	missing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
