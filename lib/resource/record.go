// Package resource implements the registry of hoistable resources.
//
// A resource is identified by its Key, the pair (Kind, href). The first
// declaration of a key fixes its Props; later declarations with conflicting
// props are reported as Diagnostics and otherwise ignored. Records are never
// removed: once a stylesheet is known to a document it stays known for the
// registry's lifetime.
package resource

import "fmt"

// Kind classifies a resource.
type Kind uint8

const (
	KindStylesheet Kind = iota + 1
	KindStyle
	KindScript
	KindPreload
	KindFont
)

func (k Kind) String() string {
	switch k {
	case KindStylesheet:
		return "stylesheet"
	case KindStyle:
		return "style"
	case KindScript:
		return "script"
	case KindPreload:
		return "preload"
	case KindFont:
		return "font"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Precedented reports whether records of this kind join precedence groups.
func (k Kind) Precedented() bool {
	return k == KindStylesheet || k == KindStyle
}

// Origin records which producer first established a record.
type Origin uint8

const (
	OriginRendered Origin = iota
	OriginPreinit
	OriginPreload
	OriginAdopted
)

func (o Origin) String() string {
	switch o {
	case OriginRendered:
		return "rendered"
	case OriginPreinit:
		return "preinit"
	case OriginPreload:
		return "preload-hint"
	case OriginAdopted:
		return "adopted"
	default:
		return fmt.Sprintf("origin(%d)", uint8(o))
	}
}

// State is the load state of a record.
type State uint8

const (
	StateUnstarted State = iota
	StateLoading
	StateLoaded
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Settled reports whether the state no longer blocks a reveal.
func (s State) Settled() bool {
	return s == StateLoaded || s == StateErrored
}

// Key is the identity of a record.
type Key struct {
	Kind Kind
	Href string
}

func (k Key) String() string {
	return k.Kind.String() + " " + k.Href
}

// Props is the canonical option set of a resource.
type Props struct {
	Rel            string
	As             string
	CrossOrigin    string
	Integrity      string
	Media          string
	Precedence     string
	Type           string
	Nonce          string
	FetchPriority  string
	ReferrerPolicy string
	ImageSrcSet    string
	ImageSizes     string

	// Content is the CSS text of an inline style resource.
	Content string
}

// Record is a registered resource.
type Record struct {
	Key
	Props  Props
	Origin Origin

	// Seq is the first-seen position of the record within its registry.
	Seq int

	state     State
	handle    any
	listeners []func(State)
}
