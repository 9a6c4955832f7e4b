package render

import (
	"sort"

	pkgerrors "github.com/pkg/errors"

	"github.com/pthm/hxstream/lib/encoding"
	"github.com/pthm/hxstream/lib/resource"
)

// ResumableState is what a later stream into the same document needs to
// know about this one: the resources already committed, the runtime
// functions already defined, and the ids already taken.
type ResumableState struct {
	Resources    []ResourceKey `msgpack:"r"`
	Precedences  []string      `msgpack:"p"`
	Runtime      []string      `msgpack:"rt"`
	NextBoundary int           `msgpack:"b"`
	NextSegment  int           `msgpack:"s"`
}

// ResourceKey identifies a committed resource.
type ResourceKey struct {
	Kind resource.Kind `msgpack:"k"`
	Href string        `msgpack:"h"`
}

// ResumableState snapshots the request. Call it after the stream closes.
func (r *Request) ResumableState() *ResumableState {
	rs := &ResumableState{
		NextBoundary: r.nextBoundary,
		NextSegment:  r.nextSegment,
	}
	for k := range r.emitted {
		rs.Resources = append(rs.Resources, ResourceKey{Kind: k.Kind, Href: k.Href})
	}
	sort.Slice(rs.Resources, func(i, j int) bool {
		a, b := rs.Resources[i], rs.Resources[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Href < b.Href
	})
	for p := range r.precedences {
		rs.Precedences = append(rs.Precedences, p)
	}
	sort.Strings(rs.Precedences)
	if r.script != nil {
		rs.Runtime = r.script.Sent()
	}
	return rs
}

// ResumeToken encodes the request's resumable state with its encoder.
func (r *Request) ResumeToken(sensitive bool) (string, error) {
	return r.enc.Encode(r.ResumableState(), sensitive)
}

// DecodeResumeToken reverses Request.ResumeToken.
func DecodeResumeToken(enc *encoding.Encoder, token string, sensitive bool) (*ResumableState, error) {
	var rs ResumableState
	if err := enc.Decode(token, sensitive, &rs); err != nil {
		return nil, pkgerrors.Wrap(err, "decode resume token")
	}
	return &rs, nil
}

func (r *Request) resume(rs *ResumableState) {
	for _, k := range rs.Resources {
		r.emitted[resource.Key{Kind: k.Kind, Href: k.Href}] = true
	}
	for _, p := range rs.Precedences {
		r.precedences[p] = true
	}
	r.nextBoundary = rs.NextBoundary
	r.nextSegment = rs.NextSegment
}
