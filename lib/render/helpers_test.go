package render

import (
	"context"
	"io"

	"github.com/a-h/templ"

	"github.com/pthm/hxstream/lib/resource"
)

func templComponent(markup string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, markup)
		return err
	})
}

func preinitStyle(ctx context.Context, href string) {
	resource.Preinit(ctx, href, resource.Props{As: "style"})
}

func preloadFont(ctx context.Context, href string) {
	resource.Preload(ctx, href, resource.Props{As: "font"})
}
