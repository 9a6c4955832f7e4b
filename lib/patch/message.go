// Package patch defines the out-of-band instructions a stream sends after
// content has already been flushed, and their wire encodings.
//
// The protocol is four operations keyed by placeholder ids:
//
//	OpCompleteSegment   move hidden segment S into placeholder P
//	OpCompleteBoundary  swap boundary B's fallback for segment S, after
//	                    loading Styles when any are listed
//	OpClientRender      give up on boundary B; the client renders it
//
// Encoders turn messages into markup a companion runtime understands: inline
// <script> calls (ScriptEncoder) or inert <template> elements picked up by an
// external runtime (TemplateEncoder). Decode reverses both.
package patch

import "fmt"

// Op is a patch operation.
type Op uint8

const (
	OpCompleteSegment Op = iota + 1
	OpCompleteBoundary
	OpClientRender
)

func (o Op) String() string {
	switch o {
	case OpCompleteSegment:
		return "complete-segment"
	case OpCompleteBoundary:
		return "complete-boundary"
	case OpClientRender:
		return "client-render"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Style is a stylesheet a boundary waits on before it is revealed. A Style
// with only an Href refers to a sheet the client already has.
type Style struct {
	Href       string
	Precedence string
	Attrs      map[string]string
}

// Message is a single patch instruction.
type Message struct {
	Op            Op
	BoundaryID    string
	SegmentID     string
	PlaceholderID string
	Styles        []Style

	// Client render details. Message and Stack are only sent in development.
	Digest  string
	Message string
	Stack   string
}

// ResourceLoadDigest is the digest of a boundary that fell back to client
// rendering because a stylesheet it depended on failed to load.
const ResourceLoadDigest = "Resource failed to load"
