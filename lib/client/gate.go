package client

import (
	"sync"
	"time"

	"github.com/pthm/hxstream/lib/resource"
)

const (
	// DefaultSoftTimeout is when a waiting reveal is reported as slow.
	DefaultSoftTimeout = 5 * time.Second
	// DefaultHardTimeout is when a waiting reveal is forced.
	DefaultHardTimeout = 60 * time.Second
)

// Deadlines bound how long a gate waits. A negative Hard disables forcing.
type Deadlines struct {
	Soft time.Duration
	Hard time.Duration
}

func (d Deadlines) withDefaults() Deadlines {
	if d.Soft == 0 {
		d.Soft = DefaultSoftTimeout
	}
	if d.Hard == 0 {
		d.Hard = DefaultHardTimeout
	}
	return d
}

// GateResult says how a gate opened.
type GateResult struct {
	// Failed lists the hrefs of resources that errored.
	Failed []string
	// Forced is set when the hard deadline opened the gate.
	Forced bool
}

// Wait is one resource a gate waits on, with the registry that owns it.
type Wait struct {
	Registry *resource.Registry
	Record   *resource.Record
}

// Gate waits for a set of resources to settle. It opens once, unless
// cancelled first.
type Gate struct {
	locker  sync.Locker
	pending map[*resource.Record]bool
	failed  []string
	started bool
	done    bool
	soft    Timer
	hard    Timer
	onSlow  func(pending []string)
	onOpen  func(GateResult)
}

// GateConfig configures NewGate.
type GateConfig struct {
	Waits     []Wait
	Clock     Clock
	Deadlines Deadlines
	// Locker, when set, is held while timer callbacks run.
	Locker sync.Locker
	OnSlow func(pending []string)
	OnOpen func(GateResult)
}

// NewGate starts waiting. If nothing is pending the gate opens before
// NewGate returns.
func NewGate(cfg GateConfig) *Gate {
	g := &Gate{
		locker:  cfg.Locker,
		pending: make(map[*resource.Record]bool),
		onSlow:  cfg.OnSlow,
		onOpen:  cfg.OnOpen,
	}
	for _, w := range cfg.Waits {
		g.pending[w.Record] = true
	}
	for _, w := range cfg.Waits {
		rec := w.Record
		w.Registry.OnSettled(rec, func(s resource.State) { g.settle(rec, s) })
	}
	if len(g.pending) == 0 {
		g.open(false)
		return g
	}

	clock := cfg.Clock
	if clock == nil {
		clock = RealClock{}
	}
	d := cfg.Deadlines.withDefaults()
	if d.Soft > 0 {
		g.soft = clock.AfterFunc(d.Soft, g.locked(g.slow))
	}
	if d.Hard > 0 {
		g.hard = clock.AfterFunc(d.Hard, g.locked(func() { g.open(true) }))
	}
	g.started = true
	return g
}

func (g *Gate) locked(fn func()) func() {
	if g.locker == nil {
		return fn
	}
	return func() {
		g.locker.Lock()
		defer g.locker.Unlock()
		fn()
	}
}

func (g *Gate) settle(rec *resource.Record, s resource.State) {
	if g.done || !g.pending[rec] {
		return
	}
	delete(g.pending, rec)
	if s == resource.StateErrored {
		g.failed = append(g.failed, rec.Href)
	}
	if g.started && len(g.pending) == 0 {
		g.open(false)
	}
}

func (g *Gate) slow() {
	if g.done || g.onSlow == nil {
		return
	}
	g.onSlow(g.Pending())
}

func (g *Gate) open(forced bool) {
	if g.done {
		return
	}
	g.done = true
	g.stopTimers()
	if g.onOpen != nil {
		g.onOpen(GateResult{Failed: g.failed, Forced: forced})
	}
}

// Cancel stops the gate without opening it.
func (g *Gate) Cancel() {
	g.done = true
	g.stopTimers()
}

// Done reports whether the gate has opened or been cancelled.
func (g *Gate) Done() bool { return g.done }

// Pending returns the hrefs still being waited on.
func (g *Gate) Pending() []string {
	var out []string
	for rec := range g.pending {
		out = append(out, rec.Href)
	}
	return sortStrings(out)
}

func (g *Gate) stopTimers() {
	if g.soft != nil {
		g.soft.Stop()
	}
	if g.hard != nil {
		g.hard.Stop()
	}
}
