package resource

import "context"

// Dispatcher receives imperative resource hints issued while rendering.
// The server request and the client root both implement it.
type Dispatcher interface {
	Preload(href string, props Props)
	Preinit(href string, props Props)
}

type dispatcherKey struct{}

// WithDispatcher returns a context carrying d.
func WithDispatcher(ctx context.Context, d Dispatcher) context.Context {
	return context.WithValue(ctx, dispatcherKey{}, d)
}

// DispatcherFrom returns the dispatcher carried by ctx.
func DispatcherFrom(ctx context.Context) (Dispatcher, bool) {
	d, ok := ctx.Value(dispatcherKey{}).(Dispatcher)
	return d, ok
}

// Preload hints that href will be needed soon. props.As names the
// destination ("style", "script", "font", "image", ...). Outside a render it
// is a no-op.
func Preload(ctx context.Context, href string, props Props) {
	if href == "" || props.As == "" {
		return
	}
	if d, ok := DispatcherFrom(ctx); ok {
		d.Preload(href, props)
	}
}

// Preinit starts loading href immediately. props.As must be "style" or
// "script"; styles without a precedence join the "default" group.
func Preinit(ctx context.Context, href string, props Props) {
	if href == "" || (props.As != "style" && props.As != "script") {
		return
	}
	if props.As == "style" && props.Precedence == "" {
		props.Precedence = "default"
	}
	if d, ok := DispatcherFrom(ctx); ok {
		d.Preinit(href, props)
	}
}

// PreinitKind returns the kind a preinit with props is registered under.
func PreinitKind(props Props) Kind {
	if props.As == "style" {
		return KindStylesheet
	}
	return KindScript
}
