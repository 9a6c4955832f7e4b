package patch

import (
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// ErrMalformed is returned when instruction markup cannot be decoded.
var ErrMalformed = errors.New("patch: malformed instruction")

// DecodeScript parses the text of an inline instruction script written by
// ScriptEncoder. Scripts that carry no instruction decode to nil.
func DecodeScript(src string) ([]Message, error) {
	for _, def := range runtimeSource {
		src = strings.ReplaceAll(src, def, "")
	}

	var msgs []Message
	for i := 0; i < len(src); {
		c := src[i]
		if c == ';' || c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			i++
			continue
		}
		if !strings.HasPrefix(src[i:], "$R") || i+4 > len(src) || src[i+3] != '(' {
			return nil, fmt.Errorf("%w: unexpected %q", ErrMalformed, clip(src[i:]))
		}
		name := src[i : i+3]
		end, err := closingParen(src, i+3)
		if err != nil {
			return nil, err
		}
		m, err := decodeCall(name, src[i+4:end])
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
		i = end + 1
	}
	return msgs, nil
}

// closingParen returns the index of the parenthesis closing the one at
// open, skipping JSON strings.
func closingParen(src string, open int) (int, error) {
	depth := 0
	inString := false
	for i := open; i < len(src); i++ {
		c := src[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: unterminated call", ErrMalformed)
}

func decodeCall(name, args string) (Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte("["+args+"]"), &raw); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	str := func(i int) string {
		if i >= len(raw) {
			return ""
		}
		var s string
		_ = json.Unmarshal(raw[i], &s)
		return s
	}

	switch name {
	case fnSegment:
		return Message{Op: OpCompleteSegment, SegmentID: str(0), PlaceholderID: str(1)}, nil
	case fnReveal:
		return Message{Op: OpCompleteBoundary, BoundaryID: str(0), SegmentID: str(1)}, nil
	case fnStyles:
		if len(raw) < 3 {
			return Message{}, fmt.Errorf("%w: %s without styles", ErrMalformed, name)
		}
		styles, err := decodeStyles(raw[2])
		if err != nil {
			return Message{}, err
		}
		return Message{Op: OpCompleteBoundary, BoundaryID: str(0), SegmentID: str(1), Styles: styles}, nil
	case fnClient:
		return Message{Op: OpClientRender, BoundaryID: str(0), Digest: str(1), Message: str(2), Stack: str(3)}, nil
	}
	return Message{}, fmt.Errorf("%w: unknown function %s", ErrMalformed, name)
}

func decodeStyles(data []byte) ([]Style, error) {
	var entries [][]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: styles: %v", ErrMalformed, err)
	}
	styles := make([]Style, 0, len(entries))
	for _, e := range entries {
		if len(e) == 0 {
			return nil, fmt.Errorf("%w: empty style entry", ErrMalformed)
		}
		var s Style
		if err := json.Unmarshal(e[0], &s.Href); err != nil {
			return nil, fmt.Errorf("%w: style href: %v", ErrMalformed, err)
		}
		if len(e) > 1 {
			_ = json.Unmarshal(e[1], &s.Precedence)
		}
		if len(e) > 2 {
			_ = json.Unmarshal(e[2], &s.Attrs)
		}
		styles = append(styles, s)
	}
	return styles, nil
}

// DecodeTemplate reads an instruction from the attributes of a <template>
// written by TemplateEncoder. ok is false for other templates.
func DecodeTemplate(attr func(key string) (string, bool)) (m Message, ok bool, err error) {
	get := func(k string) string {
		v, _ := attr(k)
		return v
	}
	has := func(k string) bool {
		_, ok := attr(k)
		return ok
	}

	switch {
	case has("data-rsi"):
		return Message{Op: OpCompleteSegment, SegmentID: get("data-sid"), PlaceholderID: get("data-pid")}, true, nil
	case has("data-rci"):
		return Message{Op: OpCompleteBoundary, BoundaryID: get("data-bid"), SegmentID: get("data-sid")}, true, nil
	case has("data-rri"):
		styles, err := decodeStyles([]byte(get("data-sty")))
		if err != nil {
			return Message{}, true, err
		}
		return Message{Op: OpCompleteBoundary, BoundaryID: get("data-bid"), SegmentID: get("data-sid"), Styles: styles}, true, nil
	case has("data-rxi"):
		return Message{
			Op:         OpClientRender,
			BoundaryID: get("data-bid"),
			Digest:     get("data-dgst"),
			Message:    get("data-msg"),
			Stack:      get("data-stck"),
		}, true, nil
	}
	return Message{}, false, nil
}

func clip(s string) string {
	if len(s) > 24 {
		return s[:24] + "..."
	}
	return s
}
