package resource

import (
	"log/slog"
	"sync"
)

// Config configures a Registry.
type Config struct {
	// Logger receives option-conflict warnings. Nil disables logging.
	Logger *slog.Logger

	// OnConflict is called for every Diagnostic, after it is recorded.
	OnConflict func(Diagnostic)
}

// Group is the ordered set of records sharing a precedence label.
type Group struct {
	Precedence string
	Records    []*Record
}

// Registry is the table of resources for one render or one document.
// It is safe for concurrent use; every record has exactly one winning writer.
type Registry struct {
	mu       sync.Mutex
	records  map[Key]*Record
	order    []*Record
	groups   []*Group
	groupIdx map[string]*Group
	diags    []Diagnostic
	cfg      Config
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	return &Registry{
		records:  make(map[Key]*Record),
		groupIdx: make(map[string]*Group),
		cfg:      cfg,
	}
}

// Declare returns the record for (kind, href), creating it in StateUnstarted
// if absent. created reports whether this call established the record.
// Conflicting props on an existing record produce Diagnostics; the original
// props are kept.
func (r *Registry) Declare(kind Kind, href string, props Props, origin Origin) (rec *Record, created bool) {
	key := Key{Kind: kind, Href: href}

	r.mu.Lock()
	if rec = r.records[key]; rec != nil {
		diags := conflicts(key, &rec.Props, &props, origin)
		r.diags = append(r.diags, diags...)
		r.mu.Unlock()
		r.report(diags)
		return rec, false
	}

	rec = &Record{Key: key, Props: props, Origin: origin, Seq: len(r.order)}
	r.records[key] = rec
	r.order = append(r.order, rec)
	if kind.Precedented() {
		g := r.groupIdx[props.Precedence]
		if g == nil {
			g = &Group{Precedence: props.Precedence}
			r.groupIdx[props.Precedence] = g
			r.groups = append(r.groups, g)
		}
		g.Records = append(g.Records, rec)
	}
	r.mu.Unlock()
	return rec, true
}

// Adopt folds an already materialized resource into the registry without
// refetching it. The record is marked loaded unless loaded is false (a
// freshly inserted node without load confirmation), in which case it stays
// loading until MarkLoaded or MarkErrored is called.
func (r *Registry) Adopt(kind Kind, href string, props Props, handle any, loaded bool) *Record {
	rec, created := r.Declare(kind, href, props, OriginAdopted)

	r.mu.Lock()
	if created || rec.handle == nil {
		rec.handle = handle
	}
	var fire []func(State)
	if rec.state == StateUnstarted {
		if loaded {
			rec.state = StateLoaded
			fire = rec.listeners
			rec.listeners = nil
		} else {
			rec.state = StateLoading
		}
	}
	state := rec.state
	r.mu.Unlock()

	for _, fn := range fire {
		fn(state)
	}
	return rec
}

// Lookup returns the record for (kind, href), or nil.
func (r *Registry) Lookup(kind Kind, href string) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[Key{Kind: kind, Href: href}]
}

// MarkLoading moves an unstarted record to loading.
func (r *Registry) MarkLoading(rec *Record) {
	r.mu.Lock()
	if rec.state == StateUnstarted {
		rec.state = StateLoading
	}
	r.mu.Unlock()
}

// MarkLoaded settles a record as loaded. Settled records do not change.
func (r *Registry) MarkLoaded(rec *Record) {
	r.settle(rec, StateLoaded)
}

// MarkErrored settles a record as errored. Settled records do not change.
func (r *Registry) MarkErrored(rec *Record) {
	r.settle(rec, StateErrored)
}

func (r *Registry) settle(rec *Record, state State) {
	r.mu.Lock()
	if rec.state.Settled() {
		r.mu.Unlock()
		return
	}
	rec.state = state
	fire := rec.listeners
	rec.listeners = nil
	r.mu.Unlock()

	for _, fn := range fire {
		fn(state)
	}
}

// State returns the current state of rec.
func (r *Registry) State(rec *Record) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return rec.state
}

// OnSettled runs fn once rec is loaded or errored. If it already is, fn runs
// immediately.
func (r *Registry) OnSettled(rec *Record, fn func(State)) {
	r.mu.Lock()
	if !rec.state.Settled() {
		rec.listeners = append(rec.listeners, fn)
		r.mu.Unlock()
		return
	}
	state := rec.state
	r.mu.Unlock()
	fn(state)
}

// SetHandle attaches the materialized form of rec (a DOM node, a stream
// marker) if none is attached yet. It reports whether the handle was stored.
func (r *Registry) SetHandle(rec *Record, handle any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.handle != nil {
		return false
	}
	rec.handle = handle
	return true
}

// Handle returns the materialized form of rec, if any.
func (r *Registry) Handle(rec *Record) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return rec.handle
}

// Records returns every record in first-seen order.
func (r *Registry) Records() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Record, len(r.order))
	copy(out, r.order)
	return out
}

// Groups returns a snapshot of the precedence groups in first-seen order of
// their labels, each listing its records in first-seen order.
func (r *Registry) Groups() []Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Group, len(r.groups))
	for i, g := range r.groups {
		out[i] = Group{Precedence: g.Precedence, Records: append([]*Record(nil), g.Records...)}
	}
	return out
}

// PrecedenceIndex returns the position of a precedence label among the
// groups, or -1 if the label is unknown.
func (r *Registry) PrecedenceIndex(precedence string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, g := range r.groups {
		if g.Precedence == precedence {
			return i
		}
	}
	return -1
}

// Diagnostics returns every conflict recorded so far.
func (r *Registry) Diagnostics() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Diagnostic(nil), r.diags...)
}

func (r *Registry) report(diags []Diagnostic) {
	for _, d := range diags {
		if r.cfg.Logger != nil {
			r.cfg.Logger.Warn("resource option conflict",
				"kind", d.Key.Kind.String(),
				"href", d.Key.Href,
				"field", d.Field,
				"kept", d.Existing,
				"ignored", d.Incoming,
				"origin", d.Origin.String(),
			)
		}
		if r.cfg.OnConflict != nil {
			r.cfg.OnConflict(d)
		}
	}
}
