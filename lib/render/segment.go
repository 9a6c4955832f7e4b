package render

import "bytes"

// textSeparator keeps adjacent text leaves apart in the parsed document.
const textSeparator = "<!-- -->"

// emitKind classifies what a piece of output starts or ends with.
type emitKind uint8

const (
	emitNone emitKind = iota
	emitText
	emitMarkup
)

type segmentStatus uint8

const (
	segmentPending segmentStatus = iota
	segmentCompleted
	segmentFlushed
	segmentAborted
	segmentErrored
)

// part is either a run of bytes or a child segment.
type part struct {
	data  []byte
	first emitKind
	last  emitKind
	child *segment
}

// segment is an ordered buffer with holes. A segment with a non-nil boundary
// is the slot of a Suspense region: it holds the fallback, and flushes as
// the boundary's markers plus either fallback or content.
type segment struct {
	id            int
	status        segmentStatus
	parts         []part
	boundary      *boundary
	parentFlushed bool
	// afterText is set on a hole that directly follows text in its parent.
	afterText     bool
}

func newSegment(b *boundary) *segment {
	return &segment{id: -1, boundary: b}
}

func (s *segment) emit(kind emitKind, b []byte) {
	if len(b) == 0 {
		return
	}
	n := len(s.parts)
	if n == 0 || s.parts[n-1].child != nil {
		s.parts = append(s.parts, part{first: kind})
		n++
	}
	p := &s.parts[n-1]
	if kind == emitText && p.last == emitText {
		p.data = append(p.data, textSeparator...)
	}
	p.data = append(p.data, b...)
	p.last = kind
}

func (s *segment) emitString(kind emitKind, str string) {
	s.emit(kind, []byte(str))
}

// endsWithText reports whether the next emission would touch text.
func (s *segment) endsWithText() bool {
	n := len(s.parts)
	if n == 0 {
		return s.afterText
	}
	p := s.parts[n-1]
	return p.child == nil && p.last == emitText
}

func (s *segment) addChild(c *segment) {
	s.parts = append(s.parts, part{child: c})
}

// size returns the number of bytes the segment contributes inline.
func (s *segment) size() int {
	n := 0
	for _, p := range s.parts {
		if p.child != nil {
			n += p.child.size()
			continue
		}
		n += len(p.data)
	}
	return n
}

// writer accumulates one flush. prev tracks the last emission so that text
// meeting text across segment joins gets a separator.
type writer struct {
	buf  bytes.Buffer
	prev emitKind
}

func (w *writer) markup(s string) {
	w.buf.WriteString(s)
	w.prev = emitMarkup
}

func (w *writer) data(p part) {
	if len(p.data) == 0 {
		return
	}
	if w.prev == emitText && p.first == emitText {
		w.buf.WriteString(textSeparator)
	}
	w.buf.Write(p.data)
	w.prev = p.last
}

// Write lets patch encoders and resource writers append directly.
func (w *writer) Write(b []byte) (int, error) {
	w.prev = emitMarkup
	return w.buf.Write(b)
}
