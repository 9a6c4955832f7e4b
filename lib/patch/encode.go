package patch

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/a-h/templ"
	json "github.com/goccy/go-json"
)

// Encoder writes the wire form of patch messages.
type Encoder interface {
	Encode(w io.Writer, m Message) error
}

// ScriptEncoder encodes messages as inline <script> calls. It is stateful:
// each runtime function is defined once per stream.
type ScriptEncoder struct {
	nonce string
	sent  map[string]bool
}

// NewScriptEncoder returns an encoder whose scripts carry nonce. sent lists
// runtime functions the client already has, e.g. from a resumed stream.
func NewScriptEncoder(nonce string, sent ...string) *ScriptEncoder {
	e := &ScriptEncoder{nonce: nonce, sent: make(map[string]bool)}
	for _, fn := range sent {
		if _, ok := runtimeSource[fn]; ok {
			e.sent[fn] = true
		}
	}
	return e
}

// Sent returns the runtime functions already written, sorted.
func (e *ScriptEncoder) Sent() []string {
	out := make([]string, 0, len(e.sent))
	for fn := range e.sent {
		out = append(out, fn)
	}
	sort.Strings(out)
	return out
}

// Encode writes m as a <script> element.
func (e *ScriptEncoder) Encode(w io.Writer, m Message) error {
	name, args, err := call(m)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString("<script")
	if e.nonce != "" {
		buf.WriteString(` nonce="`)
		buf.WriteString(templ.EscapeString(e.nonce))
		buf.WriteString(`"`)
	}
	buf.WriteString(">")
	for _, fn := range dependencies(name) {
		if !e.sent[fn] {
			e.sent[fn] = true
			buf.WriteString(runtimeSource[fn])
		}
	}
	buf.WriteString(name)
	buf.WriteString("(")
	buf.Write(args)
	buf.WriteString(")</script>")

	_, err = w.Write(buf.Bytes())
	return err
}

// dependencies lists the runtime functions fn needs, itself last.
func dependencies(fn string) []string {
	if fn == fnStyles {
		return []string{fnReveal, fnClient, fnStyles}
	}
	return []string{fn}
}

// call returns the runtime function and its JSON-encoded argument list
// (without the surrounding brackets).
func call(m Message) (string, []byte, error) {
	var (
		name string
		args []any
	)
	switch m.Op {
	case OpCompleteSegment:
		name, args = fnSegment, []any{m.SegmentID, m.PlaceholderID}
	case OpCompleteBoundary:
		if len(m.Styles) == 0 {
			name, args = fnReveal, []any{m.BoundaryID, m.SegmentID}
		} else {
			name, args = fnStyles, []any{m.BoundaryID, m.SegmentID, stylesJSON(m.Styles)}
		}
	case OpClientRender:
		name, args = fnClient, []any{m.BoundaryID, m.Digest}
		if m.Message != "" || m.Stack != "" {
			args = append(args, m.Message, m.Stack)
		}
	default:
		return "", nil, fmt.Errorf("patch: unknown op %v", m.Op)
	}

	data, err := json.Marshal(args)
	if err != nil {
		return "", nil, err
	}
	return name, data[1 : len(data)-1], nil
}

func stylesJSON(styles []Style) [][]any {
	out := make([][]any, len(styles))
	for i, s := range styles {
		switch {
		case s.Precedence == "" && len(s.Attrs) == 0:
			out[i] = []any{s.Href}
		case len(s.Attrs) == 0:
			out[i] = []any{s.Href, s.Precedence}
		default:
			out[i] = []any{s.Href, s.Precedence, s.Attrs}
		}
	}
	return out
}

// TemplateEncoder encodes messages as inert <template> elements consumed by
// ExternalRuntimeSource.
type TemplateEncoder struct{}

// Encode writes m as a <template> element.
func (TemplateEncoder) Encode(w io.Writer, m Message) error {
	var buf bytes.Buffer
	attr := func(k, v string) {
		buf.WriteString(" ")
		buf.WriteString(k)
		buf.WriteString(`="`)
		buf.WriteString(templ.EscapeString(v))
		buf.WriteString(`"`)
	}

	buf.WriteString("<template")
	switch m.Op {
	case OpCompleteSegment:
		attr("data-rsi", "")
		attr("data-sid", m.SegmentID)
		attr("data-pid", m.PlaceholderID)
	case OpCompleteBoundary:
		if len(m.Styles) == 0 {
			attr("data-rci", "")
		} else {
			data, err := json.Marshal(stylesJSON(m.Styles))
			if err != nil {
				return err
			}
			attr("data-rri", "")
			attr("data-sty", string(data))
		}
		attr("data-bid", m.BoundaryID)
		attr("data-sid", m.SegmentID)
	case OpClientRender:
		attr("data-rxi", "")
		attr("data-bid", m.BoundaryID)
		attr("data-dgst", m.Digest)
		if m.Message != "" {
			attr("data-msg", m.Message)
		}
		if m.Stack != "" {
			attr("data-stck", m.Stack)
		}
	default:
		return fmt.Errorf("patch: unknown op %v", m.Op)
	}
	buf.WriteString("></template>")

	_, err := w.Write(buf.Bytes())
	return err
}
