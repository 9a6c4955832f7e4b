package render

import (
	"io"
	"sort"

	"github.com/pthm/hxstream/lib/node"
	"github.com/pthm/hxstream/lib/patch"
	"github.com/pthm/hxstream/lib/resource"
)

// Flush writes everything that is ready as one chunk. It writes nothing
// until the shell is ready, and returns the shell error once the request
// has failed.
func (r *Request) Flush(w io.Writer) error {
	switch r.status {
	case StatusFailed:
		return r.fatal
	case StatusClosed:
		return nil
	}

	out := &writer{}
	if !r.rootFlushed {
		if r.pendingRoot > 0 {
			return nil
		}
		r.flushShell(out)
	}

	r.flushLateResources(out)

	for _, b := range r.clientRendered {
		out.prev = emitMarkup
		if err := r.patch.Encode(out, patch.Message{
			Op:         patch.OpClientRender,
			BoundaryID: b.id,
			Digest:     b.digest,
			Message:    b.message,
			Stack:      b.stack,
		}); err != nil {
			return err
		}
	}
	r.clientRendered = nil

	for _, b := range r.completed {
		if err := r.flushCompletedBoundary(out, b); err != nil {
			return err
		}
	}
	r.completed = nil

	for _, b := range r.partial {
		if err := r.flushPartialBoundary(out, b); err != nil {
			return err
		}
	}
	r.partial = nil

	if r.allPending == 0 {
		if r.shell.sawBody {
			out.markup("</body>")
		}
		if r.shell.sawHTML {
			out.markup("</html>")
		}
		r.status = StatusClosed
		r.logger.Debug("stream closed")
	}

	if out.buf.Len() == 0 {
		return nil
	}
	_, err := w.Write(out.buf.Bytes())
	return err
}

func (r *Request) flushShell(out *writer) {
	r.gatherInline(r.shell.head, r.hoist)
	r.gatherInline(r.root, r.hoist)

	if r.shell.sawHTML {
		out.markup("<!DOCTYPE html>")
		out.markup(startTag("html", r.shell.htmlAttrs))
	}

	head := &writer{}
	sort.SliceStable(r.hoist.hoistables, func(i, j int) bool {
		return r.hoist.hoistables[i].rank < r.hoist.hoistables[j].rank
	})
	rest := r.hoist.hoistables
	for len(rest) > 0 && rest[0].rank < rankOther {
		head.markup(rest[0].markup)
		rest = rest[1:]
	}
	if src := r.opts.ExternalRuntimeSrc; src != "" {
		head.markup(startTag("script", r.nonced(node.A("src", src, "async"))) + "</script>")
	}
	r.writeQueue(head, &r.fonts)
	r.writePrecedences(head, r.hoist, true)
	for _, src := range r.opts.BootstrapScripts {
		head.markup(startTag("link", node.A("rel", "preload", "href", src, "as", "script", "fetchpriority", "low")))
	}
	for _, src := range r.opts.BootstrapModules {
		head.markup(startTag("link", node.A("rel", "modulepreload", "href", src, "fetchpriority", "low")))
	}
	r.writeQueue(head, &r.scripts)
	r.writeQueue(head, &r.preloads)
	r.writeHints(head)
	for _, h := range rest {
		head.markup(h.markup)
	}
	r.hoist.hoistables = nil
	r.flushSubtree(head, r.shell.head)

	if r.shell.sawHTML || r.shell.sawHead {
		out.markup(startTag("head", r.shell.headAttrs))
		out.buf.Write(head.buf.Bytes())
		out.markup("</head>")
	} else if head.buf.Len() > 0 {
		out.buf.Write(head.buf.Bytes())
		out.prev = emitMarkup
	}

	r.flushSegment(out, r.root)

	for _, src := range r.opts.BootstrapScripts {
		out.markup(startTag("script", r.nonced(node.A("src", src, "async"))) + "</script>")
	}
	for _, src := range r.opts.BootstrapModules {
		out.markup(startTag("script", r.nonced(node.A("type", "module", "src", src, "async"))) + "</script>")
	}
	r.rootFlushed = true
	r.logger.Debug("shell flushed", "bytes", out.buf.Len())
}

// flushLateResources writes resources discovered since the last flush into
// the body. The client runtime moves precedence resources into <head>.
func (r *Request) flushLateResources(out *writer) {
	r.writePrecedences(out, r.hoist, false)
	r.writeQueue(out, &r.fonts)
	r.writeQueue(out, &r.scripts)
	r.writeQueue(out, &r.preloads)
	r.writeHints(out)
	for _, h := range r.hoist.hoistables {
		out.markup(h.markup)
	}
	r.hoist.hoistables = nil
}

func (r *Request) nonced(attrs []node.Attr) []node.Attr {
	if r.opts.Nonce != "" {
		attrs = append(attrs, node.Attr{Key: "nonce", Value: r.opts.Nonce})
	}
	return attrs
}

// flushSegment writes seg, wrapping boundary slots in their markers.
func (r *Request) flushSegment(out *writer, seg *segment) {
	b := seg.boundary
	if b == nil {
		r.flushSubtree(out, seg)
		return
	}
	b.parentFlushed = true

	switch {
	case b.status == boundaryClientRendered:
		attrs := node.A("data-dgst", b.digest)
		if b.message != "" {
			attrs = append(attrs, node.Attr{Key: "data-msg", Value: b.message})
		}
		if b.stack != "" {
			attrs = append(attrs, node.Attr{Key: "data-stck", Value: b.stack})
		}
		out.markup("<!--$!-->" + startTag("template", attrs) + "</template>")
		r.flushSubtree(out, seg)
		out.markup("<!--/$-->")

	case b.status == boundaryPending || !r.inlinable(b):
		b.id = r.prefixed("B", r.nextBoundary)
		r.nextBoundary++
		b.rootSegmentID = r.nextSegment
		r.nextSegment++
		if b.status == boundaryCompleted {
			r.completed = append(r.completed, b)
		} else if len(b.completedSegments) > 0 {
			r.partial = append(r.partial, b)
		}
		out.markup("<!--$?-->" + startTag("template", node.A("id", b.id)) + "</template>")
		r.flushSubtree(out, seg)
		out.markup("<!--/$-->")

	default:
		b.inlined = true
		b.completedSegments = nil
		out.markup("<!--$-->")
		r.flushSubtree(out, b.content)
		out.markup("<!--/$-->")
	}
}

func (r *Request) flushSubtree(out *writer, seg *segment) {
	seg.parentFlushed = true
	for _, p := range seg.parts {
		c := p.child
		if c == nil {
			out.data(p)
			continue
		}
		c.parentFlushed = true
		if c.boundary == nil && c.status == segmentPending {
			c.id = r.nextSegment
			r.nextSegment++
			out.markup(startTag("template", node.A("id", r.prefixed("P", c.id))) + "</template>")
			continue
		}
		r.flushSegment(out, c)
	}
	seg.status = segmentFlushed
}

func (r *Request) flushCompletedBoundary(out *writer, b *boundary) error {
	for _, seg := range b.completedSegments {
		if err := r.flushPartiallyCompletedSegment(out, b, seg); err != nil {
			return err
		}
	}
	b.completedSegments = nil

	r.gatherInline(b.content, b.hoist)
	styles := r.boundaryStyles(out, b)
	for _, h := range b.hoist.hoistables {
		out.markup(h.markup)
	}
	b.hoist.hoistables = nil

	out.prev = emitMarkup
	r.logger.Debug("boundary revealed", "boundary", b.id, "styles", len(styles))
	return r.patch.Encode(out, patch.Message{
		Op:         patch.OpCompleteBoundary,
		BoundaryID: b.id,
		SegmentID:  r.prefixed("S", b.rootSegmentID),
		Styles:     styles,
	})
}

func (r *Request) flushPartialBoundary(out *writer, b *boundary) error {
	if b.status == boundaryClientRendered {
		return nil
	}
	for _, seg := range b.completedSegments {
		if err := r.flushPartiallyCompletedSegment(out, b, seg); err != nil {
			return err
		}
	}
	b.completedSegments = nil
	return nil
}

func (r *Request) flushPartiallyCompletedSegment(out *writer, b *boundary, seg *segment) error {
	if seg.status == segmentFlushed {
		return nil
	}
	id := seg.id
	if seg == b.content {
		id = b.rootSegmentID
	}
	out.markup(startTag("div", node.A("hidden", "", "id", r.prefixed("S", id))))
	out.prev = emitNone
	if seg == b.content {
		r.flushSubtree(out, seg)
		out.markup("</div>")
		return nil
	}
	// The segment lands between its parent's nodes, so text at either edge
	// needs a separator from text around the placeholder.
	if seg.afterText {
		out.prev = emitText
	}
	r.flushSubtree(out, seg)
	if out.prev == emitText {
		out.buf.WriteString(textSeparator)
	}
	out.markup("</div>")
	return r.patch.Encode(out, patch.Message{
		Op:            patch.OpCompleteSegment,
		SegmentID:     r.prefixed("S", id),
		PlaceholderID: r.prefixed("P", id),
	})
}

// inlinable reports whether a completed boundary is small enough to be
// written in place.
func (r *Request) inlinable(b *boundary) bool {
	limit := r.opts.ProgressiveChunkSize
	if limit < 0 {
		return true
	}
	if b.byteSize < 0 {
		b.byteSize = b.content.size()
	}
	return b.byteSize <= limit
}

// gatherInline folds the hoisted state of every boundary that will be
// written inline within seg into h.
func (r *Request) gatherInline(seg *segment, h *hoistState) {
	for _, p := range seg.parts {
		c := p.child
		if c == nil {
			continue
		}
		if b := c.boundary; b != nil {
			if b.parentFlushed && !b.inlined {
				continue
			}
			if b.parentFlushed || (b.status == boundaryCompleted && r.inlinable(b)) {
				h.merge(b.hoist)
				r.gatherInline(b.content, h)
			} else {
				r.gatherInline(c, h)
			}
			continue
		}
		if c.status != segmentPending {
			r.gatherInline(c, h)
		}
	}
}

// boundaryStyles writes the inline styles a boundary depends on and
// returns the stylesheets its reveal must wait for.
func (r *Request) boundaryStyles(out *writer, b *boundary) []patch.Style {
	var styles []patch.Style
	for _, rec := range b.hoist.resources {
		switch rec.Kind {
		case resource.KindStylesheet:
			if r.emitted[rec.Key] {
				styles = append(styles, patch.Style{Href: rec.Href})
				continue
			}
			r.emitted[rec.Key] = true
			styles = append(styles, patch.Style{
				Href:       rec.Href,
				Precedence: rec.Props.Precedence,
				Attrs:      extraAttrs(rec),
			})
		case resource.KindStyle:
			if r.emitted[rec.Key] {
				continue
			}
			r.emitted[rec.Key] = true
			r.writeRecord(out, rec)
		}
	}
	return styles
}

func extraAttrs(rec *resource.Record) map[string]string {
	_, attrs := resource.Markup(rec)
	var m map[string]string
	for _, a := range attrs {
		switch a.Key {
		case "rel", "href", "data-precedence":
			continue
		}
		if m == nil {
			m = make(map[string]string)
		}
		m[a.Key] = a.Value
	}
	return m
}
