package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/a-h/templ"
	pkgerrors "github.com/pkg/errors"

	"github.com/pthm/hxstream/lib/node"
	"github.com/pthm/hxstream/lib/resource"
)

func (r *Request) retryTask(t *task) {
	if t.done || t.segment.status != segmentPending {
		return
	}
	delete(r.abortable, t)

	n := t.node
	if c, ok := n.(node.Component); ok {
		res := r.invoke(t, c)
		if f := res.Wait(); f != nil {
			r.suspend(t, f)
			return
		}
		if err := res.Err(); err != nil {
			t.segment.status = segmentErrored
			r.erroredTask(t, err)
			return
		}
		n = res.Node()
	}

	if err := r.renderNode(t, n); err != nil {
		t.segment.status = segmentErrored
		r.erroredTask(t, err)
		return
	}
	t.segment.status = segmentCompleted
	r.finishedTask(t)
}

// suspend parks t until f settles.
func (r *Request) suspend(t *task, f *node.Future) {
	r.abortable[t] = struct{}{}
	f.Subscribe(func() { r.ping(t) })
}

func (r *Request) invoke(t *task, c node.Component) (res node.Result) {
	defer func() {
		if p := recover(); p != nil {
			if err, ok := p.(error); ok {
				res = node.Failed(pkgerrors.WithStack(err))
				return
			}
			res = node.Failed(pkgerrors.Errorf("component panicked: %v", p))
		}
	}()
	return c(r.ctx)
}

func (r *Request) renderNode(t *task, n node.Node) error {
	switch n := n.(type) {
	case nil:
		return nil
	case node.Text:
		if n != "" {
			t.segment.emitString(emitText, templ.EscapeString(string(n)))
		}
		return nil
	case node.Fragment:
		for _, c := range n {
			if err := r.renderNode(t, c); err != nil {
				return err
			}
		}
		return nil
	case *node.Element:
		if n == nil {
			return nil
		}
		return r.renderElement(t, n)
	case node.Suspense:
		r.renderSuspense(t, n)
		return nil
	case *node.Suspense:
		if n == nil {
			return nil
		}
		r.renderSuspense(t, *n)
		return nil
	case node.Component:
		res := r.invoke(t, n)
		if f := res.Wait(); f != nil {
			r.spawn(t, n, f)
			return nil
		}
		if err := res.Err(); err != nil {
			return err
		}
		return r.renderNode(t, res.Node())
	case node.Templ:
		if n.Component == nil {
			return nil
		}
		var buf bytes.Buffer
		if err := n.Component.Render(r.ctx, &buf); err != nil {
			return pkgerrors.Wrap(err, "render templ component")
		}
		t.segment.emit(emitMarkup, buf.Bytes())
		return nil
	default:
		return fmt.Errorf("render: unsupported node %T", n)
	}
}

// spawn leaves a hole for n at the current position of t's segment and
// renders n into it once f settles.
func (r *Request) spawn(t *task, n node.Node, f *node.Future) {
	seg := newSegment(nil)
	seg.afterText = t.segment.endsWithText()
	t.segment.addChild(seg)
	nt := r.newTask(t, n, seg)
	r.suspend(nt, f)
}

// newTask creates a task blocking the same boundary as parent.
func (r *Request) newTask(parent *task, n node.Node, seg *segment) *task {
	nt := &task{
		node:       n,
		segment:    seg,
		boundary:   parent.boundary,
		hoist:      parent.hoist,
		fallbackOf: parent.fallbackOf,
		scope:      parent.scope,
	}
	r.track(nt)
	return nt
}

func (r *Request) track(t *task) {
	if t.boundary == nil {
		r.pendingRoot++
	} else {
		t.boundary.pendingTasks++
	}
	if t.fallbackOf != nil {
		t.fallbackOf.fallbackTasks[t] = struct{}{}
	}
	r.allPending++
}

func (r *Request) renderSuspense(t *task, s node.Suspense) {
	b := &boundary{
		rootSegmentID: -1,
		byteSize:      -1,
		hoist:         newHoistState(),
		fallbackTasks: make(map[*task]struct{}),
	}
	slot := newSegment(b)
	t.segment.addChild(slot)

	content := newSegment(nil)
	content.parentFlushed = true
	b.content = content
	ct := &task{node: s.Content, segment: content, boundary: b, hoist: b.hoist, scope: t.scope}
	r.track(ct)

	if err := r.renderNode(ct, s.Content); err != nil {
		content.status = segmentErrored
		r.erroredTask(ct, err)
	} else {
		content.status = segmentCompleted
		r.finishedTask(ct)
	}

	if b.status == boundaryCompleted {
		slot.status = segmentCompleted
		return
	}

	ft := &task{node: s.Fallback, segment: slot, boundary: t.boundary, hoist: t.hoist, fallbackOf: b, scope: t.scope}
	r.track(ft)
	r.queue = append(r.queue, ft)
}

func (r *Request) renderElement(t *task, el *node.Element) error {
	tag := strings.ToLower(el.Tag)

	switch tag {
	case "html":
		if t.segment == r.root && !r.shell.sawHTML {
			r.shell.sawHTML = true
			r.shell.htmlAttrs = el.Attrs
			return r.renderChildren(t, el.Children)
		}
	case "head":
		if !r.shell.sawHead && !r.rootFlushed {
			r.shell.sawHead = true
			r.shell.headAttrs = el.Attrs
			head := *t
			head.segment = r.shell.head
			return r.renderChildren(&head, el.Children)
		}
	case "body":
		if !r.shell.sawBody && t.boundary == nil {
			r.shell.sawBody = true
			t.segment.emitString(emitMarkup, startTag(tag, el.Attrs))
			return r.renderChildren(t, el.Children)
		}
	}

	var text string
	if tag == "style" {
		text = textContent(el.Children)
	}
	class, decl := resource.Classify(tag, el, text, t.scope.res)
	switch class {
	case resource.ClassResource:
		rec, _ := r.reg.Declare(decl.Kind, decl.Href, decl.Props, resource.OriginRendered)
		r.queueResource(t.hoist, rec)
		return nil
	case resource.ClassHoistable:
		h := hoistable{rank: rankOther, markup: elementMarkup(tag, el)}
		if tag == "meta" {
			if _, ok := el.Attr("charset"); ok {
				h.rank = rankCharset
			} else if name, _ := el.Attr("name"); name == "viewport" {
				h.rank = rankViewport
			}
		}
		t.hoist.hoistables = append(t.hoist.hoistables, h)
		return nil
	}

	t.segment.emitString(emitMarkup, startTag(tag, el.Attrs))
	if voidElements[tag] {
		return nil
	}
	if rawTextElements[tag] {
		t.segment.emitString(emitMarkup, rawText(tag, textContent(el.Children)))
		t.segment.emitString(emitMarkup, endTag(tag))
		return nil
	}

	child := *t
	switch tag {
	case "svg":
		child.scope.res.InSVG = true
	case "noscript":
		child.scope.res.InNoscript = true
	}
	if err := r.renderChildren(&child, el.Children); err != nil {
		return err
	}
	t.segment.emitString(emitMarkup, endTag(tag))
	return nil
}

func (r *Request) renderChildren(t *task, children []node.Node) error {
	for _, c := range children {
		if err := r.renderNode(t, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *Request) finishedTask(t *task) {
	t.done = true
	delete(r.abortable, t)
	if t.fallbackOf != nil {
		delete(t.fallbackOf.fallbackTasks, t)
	}

	if b := t.boundary; b == nil {
		r.pendingRoot--
		if r.pendingRoot == 0 && r.fatal == nil {
			r.logger.Debug("shell ready")
			if r.opts.OnShellReady != nil {
				r.opts.OnShellReady()
			}
		}
	} else {
		b.pendingTasks--
		seg := t.segment
		switch {
		case b.status == boundaryClientRendered:
		case b.pendingTasks == 0:
			if b.status == boundaryPending {
				b.status = boundaryCompleted
				if seg.parentFlushed && seg.status == segmentCompleted {
					b.completedSegments = append(b.completedSegments, seg)
				}
				if b.parentFlushed {
					r.completed = append(r.completed, b)
				}
				r.abortFallback(b)
			}
		case seg.parentFlushed && seg.status == segmentCompleted:
			b.completedSegments = append(b.completedSegments, seg)
			if b.parentFlushed && len(b.completedSegments) == 1 {
				r.partial = append(r.partial, b)
			}
		}
	}

	r.allPending--
	if r.allPending == 0 {
		r.logger.Debug("all ready")
		if r.opts.OnAllReady != nil {
			r.opts.OnAllReady()
		}
	}
}

func (r *Request) erroredTask(t *task, err error) {
	t.done = true
	delete(r.abortable, t)
	if t.fallbackOf != nil {
		delete(t.fallbackOf.fallbackTasks, t)
	}

	if b := t.boundary; b == nil {
		digest := r.digest(err)
		r.fatalError(err, digest)
	} else {
		b.pendingTasks--
		if b.status != boundaryClientRendered {
			r.clientRender(b, err)
		}
	}

	r.allPending--
	if r.allPending == 0 && r.status == StatusOpen {
		if r.opts.OnAllReady != nil {
			r.opts.OnAllReady()
		}
	}
}

func (r *Request) clientRender(b *boundary, err error) {
	b.status = boundaryClientRendered
	b.digest = r.digest(err)
	if r.opts.Development {
		b.message = err.Error()
		b.stack = errorStack(err)
	}
	b.completedSegments = nil
	if b.parentFlushed {
		r.clientRendered = append(r.clientRendered, b)
	}
}

func (r *Request) fatalError(err error, digest string) {
	if r.status != StatusOpen {
		return
	}
	r.logger.Error("shell failed", "error", err, "digest", digest)
	r.fatal = err
	r.status = StatusFailed
	if !r.rootFlushed && r.opts.OnShellError != nil {
		r.opts.OnShellError(err)
	}
}

// abortFallback finishes the outstanding fallback tasks of a boundary whose
// content completed first; their output is never shown.
func (r *Request) abortFallback(b *boundary) {
	for t := range b.fallbackTasks {
		t.segment.status = segmentAborted
		r.finishedTask(t)
	}
}
