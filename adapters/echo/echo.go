// Package hxstreamecho serves hxstream pages from the Echo framework.
//
// Stream a tree from any handler:
//
//	e.GET("/", func(c echo.Context) error {
//	    return hxstreamecho.Stream(c, page())
//	})
//
// Or turn a page function into a handler and serve the external runtime:
//
//	e.GET("/posts", hxstreamecho.Page(postsPage, hxstream.WithNonce(nonce)))
//	hxstreamecho.MountRuntime(e, "/_hxstream/runtime.js")
package hxstreamecho

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pthm/hxstream"
	"github.com/pthm/hxstream/lib/patch"
)

// Stream writes tree to the Echo response, flushing each chunk as it is
// produced. A failure before the shell was written becomes an
// *echo.HTTPError so Echo's error handler can still render an error page.
func Stream(c echo.Context, tree hxstream.Node, opts ...hxstream.Option) error {
	return httpError(hxstream.Respond(c.Response(), c.Request(), tree, opts...))
}

// Render writes tree once every boundary has resolved.
func Render(c echo.Context, tree hxstream.Node, opts ...hxstream.Option) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	return httpError(hxstream.Render(c.Request().Context(), c.Response(), tree, opts...))
}

// Page adapts a page function into an Echo handler.
func Page(page hxstream.PageFunc, opts ...hxstream.Option) echo.HandlerFunc {
	return func(c echo.Context) error {
		tree, err := page(c.Request())
		if err != nil {
			return httpError(err)
		}
		return Stream(c, tree, opts...)
	}
}

// MountRuntime serves the instruction runtime at path, for pages rendered
// with hxstream.WithExternalRuntime(path).
func MountRuntime(e *echo.Echo, path string) *echo.Route {
	return e.GET(path, func(c echo.Context) error {
		return c.Blob(http.StatusOK, echo.MIMEApplicationJavaScriptCharsetUTF8, []byte(patch.ExternalRuntimeSource()))
	})
}

// httpError maps hxstream errors onto status codes. Errors after the shell
// was written pass through unchanged: the status line is already out.
func httpError(err error) error {
	switch {
	case err == nil:
		return nil
	case hxstream.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound).SetInternal(err)
	case hxstream.IsTokenError(err):
		return echo.NewHTTPError(http.StatusBadRequest).SetInternal(err)
	case hxstream.IsShellError(err):
		return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
	}
	return err
}
