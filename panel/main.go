// Package panel owns every object of a control panel and is the only way outer layers (HTTP, terminal, simulator) change its state.
//
// A Panel is not safe for concurrent use; serialize access with runtime.Instance.
package panel

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	. "nyiyui.ca/hato/shingou"
	"nyiyui.ca/hato/shingou/block"
	"nyiyui.ca/hato/shingou/circuit"
	"nyiyui.ca/hato/shingou/latch"
	"nyiyui.ca/hato/shingou/notify"
	"nyiyui.ca/hato/shingou/signal"
	"nyiyui.ca/hato/shingou/track"
)

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "shingou_panel_events_total",
	Help: "Panel events by panel and kind",
}, []string{"panel", "kind"})

type Panel struct {
	ID   uuid.UUID
	Name string

	Graph   *circuit.Graph
	Network *signal.Network
	Blocks  *block.Controller

	turnouts  map[string]*track.Turnout
	detectors map[string]*track.Detector
	latches   map[string]*latch.Latch
	// free maps a turnout to the circuit that must be active to throw it.
	free map[string]CircuitRef
	// closers are the circuit adapters.
	closers []interface{ Close() }

	events    notify.Listeners[Event]
	eventsS   *notify.MultiplexerSender[Event]
	EventsMux *notify.Multiplexer[Event]

	now func() time.Time
}

func newPanel(name string) *Panel {
	p := &Panel{
		ID:        uuid.New(),
		Name:      name,
		Graph:     circuit.NewGraph(),
		Network:   signal.NewNetwork(),
		turnouts:  map[string]*track.Turnout{},
		detectors: map[string]*track.Detector{},
		latches:   map[string]*latch.Latch{},
		free:      map[string]CircuitRef{},
		now:       time.Now,
	}
	p.Blocks = block.NewController(p.Network, p.Graph)
	p.eventsS, p.EventsMux = notify.NewMultiplexerSender[Event](fmt.Sprintf("panel %s", name))
	return p
}

// Close detaches the circuit adapters from the turnouts and detectors.
func (p *Panel) Close() {
	for _, c := range p.closers {
		c.Close()
	}
	p.closers = nil
}

// OnEvent registers fn to be called synchronously on every event, before the event is sent to EventsMux.
func (p *Panel) OnEvent(fn func(Event)) notify.Handle { return p.events.Add(fn) }

func (p *Panel) RemoveEventListener(h notify.Handle) bool { return p.events.Remove(h) }

func (p *Panel) emit(kind EventKind, module, name, value string) {
	e := Event{Kind: kind, Module: module, Name: name, Value: value, Time: p.now()}
	eventsTotal.WithLabelValues(p.Name, string(kind)).Inc()
	p.events.Notify(e)
	p.eventsS.Send(e)
}

// watch turns every change of the panel's objects into an Event.
func (p *Panel) watch() {
	p.Graph.OnAnyChange(func(c circuit.Change) {
		p.emit(EventCircuit, "", c.Name, strconv.FormatBool(c.Active))
	})
	p.Network.OnAspect(func(c signal.AspectChange) {
		p.emit(EventAspect, c.Module, c.ID, c.Aspect)
	})
	p.Blocks.OnChange(func(c block.SetChange) {
		value := "unset"
		if c.Set {
			value = "set"
		}
		p.emit(EventSet, c.Module, c.ID, value)
	})
	p.Blocks.OnBlockChange(func(c block.BlockChange) {
		p.emit(EventBlock, "", c.Name, strconv.FormatBool(c.InUse))
	})
	for name, t := range p.turnouts {
		name := name
		t.OnChange(func(s track.PointsState) { p.emit(EventTurnout, "", name, s.String()) })
	}
	for name, d := range p.detectors {
		name := name
		d.OnChange(func(occupied bool) { p.emit(EventDetector, "", name, strconv.FormatBool(occupied)) })
	}
	for name, l := range p.latches {
		name := name
		l.OnChange(func(s latch.State) { p.emit(EventLatch, "", name, s.String()) })
	}
}

func (p *Panel) Turnout(name string) (*track.Turnout, bool) {
	t, ok := p.turnouts[name]
	return t, ok
}

func (p *Panel) Detector(name string) (*track.Detector, bool) {
	d, ok := p.detectors[name]
	return d, ok
}

func (p *Panel) Latch(name string) (*latch.Latch, bool) {
	l, ok := p.latches[name]
	return l, ok
}

// Head finds a head by module and ID.
func (p *Panel) Head(module, id string) (*signal.Head, error) {
	r, ok := p.Network.Lookup(module, id)
	if !ok {
		return nil, fmt.Errorf("head %s::%s not found", module, id)
	}
	return p.Network.Head(r), nil
}

// ThrowTurnout commands turnout name towards state. The turnout is moving until CompleteTurnout.
// A turnout bound by Builder.TurnoutFree can only be thrown while its circuit is active.
func (p *Panel) ThrowTurnout(name string, state track.PointsState) error {
	t, ok := p.turnouts[name]
	if !ok {
		return fmt.Errorf("turnout %s not found", name)
	}
	if state == track.PointsMoving {
		return fmt.Errorf("turnout %s: cannot throw to %s", name, state)
	}
	if r, ok := p.free[name]; ok && !p.Graph.Active(r) {
		return fmt.Errorf("turnout %s: locked while %s is inactive", name, p.Graph.Name(r))
	}
	t.Throw(state)
	return nil
}

// CompleteTurnout finishes the movement of turnout name.
func (p *Panel) CompleteTurnout(name string) error {
	t, ok := p.turnouts[name]
	if !ok {
		return fmt.Errorf("turnout %s not found", name)
	}
	t.Complete()
	return nil
}

// Moving returns the names of all moving turnouts, sorted.
func (p *Panel) Moving() []string {
	names := []string{}
	for _, name := range sortedKeys(p.turnouts) {
		if p.turnouts[name].State() == track.PointsMoving {
			names = append(names, name)
		}
	}
	return names
}

func (p *Panel) SetOccupied(name string, occupied bool) error {
	d, ok := p.detectors[name]
	if !ok {
		return fmt.Errorf("detector %s not found", name)
	}
	d.SetOccupied(occupied)
	return nil
}

// SetInput sets the input circuit name, e.g. for an operator's button.
func (p *Panel) SetInput(name string, active bool) error {
	r, ok := p.Graph.LookupInput(name)
	if !ok {
		return fmt.Errorf("input circuit %s not found", name)
	}
	p.Graph.SetActive(r, active)
	return nil
}

// TrySetSignal clears the head through the first of its signal sets that can be set.
func (p *Panel) TrySetSignal(module, id string) (bool, error) {
	h, err := p.Head(module, id)
	if err != nil {
		return false, err
	}
	ok := p.Blocks.TrySetSignal(h.Ref())
	zap.S().Infow("panel: try set signal",
		"module", module,
		"head", id,
		"ok", ok)
	return ok, nil
}

func (p *Panel) UnsetSignal(module, id string) error {
	h, err := p.Head(module, id)
	if err != nil {
		return err
	}
	p.Blocks.UnsetSignal(h.Ref())
	return nil
}

func (p *Panel) CanSetSignal(module, id string) (bool, error) {
	h, err := p.Head(module, id)
	if err != nil {
		return false, err
	}
	return p.Blocks.CanSetSignal(h.Ref()), nil
}

// ClaimBlock marks block name in use without a signal set, e.g. to keep trains out during maintenance.
// Claims made this way are released by ReleaseBlock, or by unsetting a head whose signal set binds the block.
func (p *Panel) ClaimBlock(name string) error {
	r, ok := p.Blocks.LookupBlock(name)
	if !ok {
		return fmt.Errorf("block %s not found", name)
	}
	p.Blocks.Claim(r)
	return nil
}

func (p *Panel) ReleaseBlock(name string) error {
	r, ok := p.Blocks.LookupBlock(name)
	if !ok {
		return fmt.Errorf("block %s not found", name)
	}
	p.Blocks.Release(r)
	return nil
}
