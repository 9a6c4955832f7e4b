package render

import (
	"bytes"
	"strings"

	"github.com/pthm/hxstream/lib/node"
	"github.com/pthm/hxstream/lib/resource"
)

func (r *Request) queueResource(h *hoistState, rec *resource.Record) {
	switch rec.Kind {
	case resource.KindStylesheet, resource.KindStyle:
		if h == nil {
			h = r.hoist
		}
		h.addResource(rec)
	case resource.KindScript:
		r.scripts = append(r.scripts, rec)
	case resource.KindFont:
		r.fonts = append(r.fonts, rec)
	default:
		r.preloads = append(r.preloads, rec)
	}
}

// Preload implements resource.Dispatcher.
func (r *Request) Preload(href string, props resource.Props) {
	if props.Rel == "" {
		props.Rel = "preload"
	}
	rec, _ := r.reg.Declare(resource.PreloadKind(props), href, props, resource.OriginPreload)
	r.queueResource(nil, rec)
}

// Preinit implements resource.Dispatcher. Preinitialized stylesheets are
// committed with the shell, or at the next flush once the shell is out.
func (r *Request) Preinit(href string, props resource.Props) {
	rec, _ := r.reg.Declare(resource.PreinitKind(props), href, props, resource.OriginPreinit)
	r.queueResource(r.hoist, rec)
}

// writeQueue writes and drains a queue of non-precedence resources.
func (r *Request) writeQueue(w *writer, q *[]*resource.Record) {
	for _, rec := range *q {
		if r.emitted[rec.Key] || r.supersededPreload(rec) {
			continue
		}
		r.emitted[rec.Key] = true
		r.writeRecord(w, rec)
	}
	*q = nil
}

// supersededPreload reports whether a preload is redundant because the
// resource it hints at has already been written.
func (r *Request) supersededPreload(rec *resource.Record) bool {
	if rec.Kind != resource.KindPreload {
		return false
	}
	switch rec.Props.As {
	case "style":
		k := resource.Key{Kind: resource.KindStylesheet, Href: rec.Href}
		return r.emitted[k] || r.hinted[k]
	case "script":
		k := resource.Key{Kind: resource.KindScript, Href: rec.Href}
		return r.emitted[k] || r.hinted[k]
	}
	return false
}

func (r *Request) writeRecord(w *writer, rec *resource.Record) {
	tag, attrs := resource.Markup(rec)
	if rec.Kind == resource.KindScript && rec.Props.Nonce == "" {
		attrs = r.nonced(attrs)
	}
	var b bytes.Buffer
	writeStartTag(&b, tag, attrs)
	switch tag {
	case "script":
		b.WriteString("</script>")
	case "style":
		b.WriteString(rawText("style", rec.Props.Content))
		b.WriteString("</style>")
	}
	w.markup(b.String())
}

// writePrecedences writes the precedence resources of h in group order.
// Inline styles of one group share a single <style> element. With shell
// set, groups with nothing to write yet get an empty placeholder so the
// client knows their position.
func (r *Request) writePrecedences(w *writer, h *hoistState, shell bool) {
	for _, g := range r.reg.Groups() {
		var (
			hrefs []string
			css   strings.Builder
			wrote bool
		)
		for _, rec := range g.Records {
			if !h.seen[rec] {
				continue
			}
			if r.emitted[rec.Key] {
				wrote = true
				continue
			}
			r.emitted[rec.Key] = true
			wrote = true
			if rec.Kind == resource.KindStyle {
				hrefs = append(hrefs, rec.Href)
				css.WriteString(rec.Props.Content)
				continue
			}
			r.writeRecord(w, rec)
		}
		if len(hrefs) > 0 {
			w.markup(startTag("style", node.A("data-precedence", g.Precedence, "data-href", strings.Join(hrefs, " "))) +
				rawText("style", css.String()) + "</style>")
		}
		if shell && !wrote && !r.precedences[g.Precedence] {
			w.markup(startTag("style", node.A("data-precedence", g.Precedence, "data-href", "")) + "</style>")
		}
		if wrote || shell {
			r.precedences[g.Precedence] = true
		}
	}
}

// writeHints writes a preload for every stylesheet declared since the last
// call that is not committed yet.
func (r *Request) writeHints(w *writer) {
	recs := r.reg.Records()
	for _, rec := range recs[r.recCursor:] {
		if rec.Kind != resource.KindStylesheet || r.emitted[rec.Key] || r.hinted[rec.Key] {
			continue
		}
		r.hinted[rec.Key] = true
		w.markup(startTag("link", resource.PreloadHint(rec)))
	}
	r.recCursor = len(recs)
}
