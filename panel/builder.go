package panel

import (
	"go.uber.org/zap"
	. "nyiyui.ca/hato/shingou"
	"nyiyui.ca/hato/shingou/block"
	"nyiyui.ca/hato/shingou/circuit"
	"nyiyui.ca/hato/shingou/latch"
	"nyiyui.ca/hato/shingou/points"
	"nyiyui.ca/hato/shingou/signal"
	"nyiyui.ca/hato/shingou/track"
)

// CondConf is a condition on the circuit named Source.
type CondConf struct {
	Op     string `json:"op"`
	Source string `json:"source"`
}

// ReqConf requires turnout Turnout to lie State ("normal" or "reversed").
type ReqConf struct {
	Turnout string `json:"turnout"`
	State   string `json:"state"`
}

type RouteConf struct {
	Indication string `json:"indication"`
	// Next is the ID of the next head in the same module. Empty for none.
	Next     string    `json:"next"`
	Requires []ReqConf `json:"requires"`
	// Latch is the name of a latch. Empty for none.
	Latch string `json:"latch"`
}

type SetConf struct {
	Route     []ReqConf `json:"route"`
	Blocks    []string  `json:"blocks"`
	Clear     string    `json:"clear"`
	Occupied  string    `json:"occupied"`
	Unset     string    `json:"unset"`
	Lock      string    `json:"lock"`
	Inhibit   string    `json:"inhibit"`
	AutoUnset bool      `json:"auto-unset"`
}

// IndicationConf drives a head from the circuit named Circuit.
type IndicationConf struct {
	Circuit string `json:"circuit"`
	// Active and Inactive are given to the head when the circuit becomes active or inactive. Empty for none.
	Active   string `json:"active"`
	Inactive string `json:"inactive"`
	// Forced indications are shown as given and clear the head's latch.
	// Others give way to the indication of the head's active route, and are ignored while latched.
	Forced bool `json:"forced"`
}

type adapterKind int

const (
	adapterPoints adapterKind = iota
	adapterRoute
	adapterDetector
)

type adapterConf struct {
	kind     adapterKind
	in       circuit.InputRef
	name     string
	state    string
	requires []ReqConf
}

type logicConf struct {
	ref   circuit.LogicRef
	conds []CondConf
	on    []CondConf
	off   []CondConf
}

type latchConf struct {
	name, entry, exit string
}

type blockConf struct {
	name, detector string
}

type headRouteConf struct {
	module, head string
	route        RouteConf
}

type headSetConf struct {
	module, head string
	set          SetConf
}

type bindingKind int

const (
	bindingIndication bindingKind = iota
	bindingButton
)

type bindingConf struct {
	kind         bindingKind
	module, head string
	circuit      string
	indication   IndicationConf
}

type freeConf struct {
	turnout, circuit string
}

// Builder assembles a Panel by name. References are resolved in Build, so objects may refer to ones added later.
// Unresolvable references are logged and dropped; the rest of the panel is still built.
type Builder struct {
	p        *Panel
	adapters []adapterConf
	logics   []logicConf
	latches  []latchConf
	blocks   []blockConf
	routes   []headRouteConf
	sets     []headSetConf
	bindings []bindingConf
	free     []freeConf
}

func NewBuilder(name string) *Builder {
	return &Builder{p: newPanel(name)}
}

func (b *Builder) Turnout(name string) *track.Turnout {
	t := track.NewTurnout(name)
	b.p.turnouts[name] = t
	return t
}

func (b *Builder) Detector(name string) *track.Detector {
	d := track.NewDetector(name)
	b.p.detectors[name] = d
	return d
}

// Input adds an input circuit driven by the operator.
func (b *Builder) Input(name, description string) {
	b.p.Graph.NewInput(name, description)
}

// PointsInput adds an input circuit active while turnout lies state.
func (b *Builder) PointsInput(name, turnout, state string) {
	in := b.p.Graph.NewInput(name, turnout+" "+state)
	b.adapters = append(b.adapters, adapterConf{kind: adapterPoints, in: in, name: turnout, state: state})
}

// RouteInput adds an input circuit active while all requirements hold.
func (b *Builder) RouteInput(name string, requires ...ReqConf) {
	in := b.p.Graph.NewInput(name, "route")
	b.adapters = append(b.adapters, adapterConf{kind: adapterRoute, in: in, requires: requires})
}

// DetectorInput adds an input circuit active while detector is occupied.
func (b *Builder) DetectorInput(name, detector string) {
	in := b.p.Graph.NewInput(name, detector+" occupied")
	b.adapters = append(b.adapters, adapterConf{kind: adapterDetector, in: in, name: detector})
}

// Logic adds a level-triggered logic circuit.
func (b *Builder) Logic(name, description string, conds ...CondConf) {
	ref := b.p.Graph.NewLogic(name, description)
	b.logics = append(b.logics, logicConf{ref: ref, conds: conds})
}

// EdgeLogic adds an edge-triggered logic circuit.
func (b *Builder) EdgeLogic(name, description string, on, off []CondConf) {
	ref := b.p.Graph.NewEdgeLogic(name, description)
	b.logics = append(b.logics, logicConf{ref: ref, on: on, off: off})
}

func (b *Builder) Type(t signal.Type) {
	b.p.Network.AddType(t)
}

func (b *Builder) Signal(conf signal.SignalConf) {
	b.p.Network.AddSignal(conf)
}

func (b *Builder) Latch(name, entry, exit string) {
	b.latches = append(b.latches, latchConf{name, entry, exit})
}

// Block adds a block. detector may be empty.
func (b *Builder) Block(name, detector string) {
	b.blocks = append(b.blocks, blockConf{name, detector})
}

// Route appends a route to the head module::head.
func (b *Builder) Route(module, head string, route RouteConf) {
	b.routes = append(b.routes, headRouteConf{module, head, route})
}

// SignalSet adds a signal set for the head module::head.
func (b *Builder) SignalSet(module, head string, set SetConf) {
	b.sets = append(b.sets, headSetConf{module, head, set})
}

// Indication gives the head module::head conf's indications as conf.Circuit changes.
func (b *Builder) Indication(module, head string, conf IndicationConf) {
	b.bindings = append(b.bindings, bindingConf{kind: bindingIndication, module: module, head: head, circuit: conf.Circuit, indication: conf})
}

// Button sets the head module::head when circuit becomes active, and unsets it when circuit becomes inactive.
func (b *Builder) Button(module, head, circuit string) {
	b.bindings = append(b.bindings, bindingConf{kind: bindingButton, module: module, head: head, circuit: circuit})
}

// TurnoutFree only lets turnout be thrown while circuit is active.
func (b *Builder) TurnoutFree(turnout, circuit string) {
	b.free = append(b.free, freeConf{turnout, circuit})
}

// requirements resolves rcs. It returns false if any requirement can't be resolved, as dropping one would widen the route.
func (b *Builder) requirements(rcs []ReqConf) (track.Requirements, bool) {
	rs := make(track.Requirements, 0, len(rcs))
	for _, rc := range rcs {
		t, ok := b.p.turnouts[rc.Turnout]
		if !ok {
			zap.S().Warnw("panel: requirement on unknown turnout", "turnout", rc.Turnout)
			return nil, false
		}
		s, ok := track.ParsePointsState(rc.State)
		if !ok || s == track.PointsMoving {
			zap.S().Warnw("panel: requirement of invalid state",
				"turnout", rc.Turnout,
				"state", rc.State)
			return nil, false
		}
		rs = append(rs, track.Requirement{Turnout: t, State: s})
	}
	return rs, true
}

func (b *Builder) bind(bc bindingConf) {
	p := b.p
	r, ok := p.Graph.Lookup(bc.circuit)
	if !ok {
		zap.S().Warnw("panel: dropped binding of unknown circuit",
			"module", bc.module,
			"head", bc.head,
			"circuit", bc.circuit)
		return
	}
	h, err := p.Head(bc.module, bc.head)
	if err != nil {
		zap.S().Warnw("panel: dropped binding", "err", err)
		return
	}
	switch bc.kind {
	case bindingIndication:
		conf := bc.indication
		apply := func(active bool) {
			indication := conf.Inactive
			if active {
				indication = conf.Active
			}
			if indication == "" {
				return
			}
			zap.S().Debugw("panel: circuit indication",
				"circuit", conf.Circuit,
				"head", h.ID(),
				"indication", indication)
			if conf.Forced {
				h.SetIndication(indication, true)
			} else {
				h.SetRouteIndication(indication)
			}
		}
		p.Graph.OnChange(r, apply)
		if p.Graph.Active(r) {
			apply(true)
		}
	case bindingButton:
		ref := h.Ref()
		p.Graph.OnChange(r, func(active bool) {
			if !active {
				p.Blocks.UnsetSignal(ref)
				return
			}
			ok := p.Blocks.TrySetSignal(ref)
			zap.S().Infow("panel: button",
				"circuit", bc.circuit,
				"module", bc.module,
				"head", bc.head,
				"ok", ok)
		})
	}
}

func (b *Builder) addConditions(ref circuit.LogicRef, conds []CondConf, add func(circuit.LogicRef, circuit.Op, string) bool) {
	for _, c := range conds {
		op, ok := circuit.ParseOp(c.Op)
		if !ok {
			zap.S().Warnw("panel: dropped condition of unknown operator",
				"circuit", b.p.Graph.Name(ref.CircuitRef),
				"op", c.Op)
			continue
		}
		add(ref, op, c.Source)
	}
}

// Build resolves every reference and returns the panel, settled.
// The Builder must not be used afterwards.
func (b *Builder) Build() *Panel {
	p := b.p
	g := p.Graph
	for _, a := range b.adapters {
		switch a.kind {
		case adapterPoints:
			t, ok := p.turnouts[a.name]
			s, sok := track.ParsePointsState(a.state)
			if !ok || !sok {
				zap.S().Warnw("panel: dropped points circuit",
					"circuit", g.Name(a.in.CircuitRef),
					"turnout", a.name,
					"state", a.state)
				continue
			}
			p.closers = append(p.closers, points.NewPointsCircuit(g, a.in, t, s))
		case adapterRoute:
			rs, ok := b.requirements(a.requires)
			if !ok {
				zap.S().Warnw("panel: dropped route circuit", "circuit", g.Name(a.in.CircuitRef))
				continue
			}
			p.closers = append(p.closers, points.NewRouteCircuit(g, a.in, rs))
		case adapterDetector:
			d, ok := p.detectors[a.name]
			if !ok {
				zap.S().Warnw("panel: dropped detector circuit",
					"circuit", g.Name(a.in.CircuitRef),
					"detector", a.name)
				continue
			}
			p.closers = append(p.closers, points.NewDetectorCircuit(g, a.in, d))
		}
	}
	for _, l := range b.logics {
		b.addConditions(l.ref, l.conds, g.AddCondition)
		b.addConditions(l.ref, l.on, g.AddOnCondition)
		b.addConditions(l.ref, l.off, g.AddOffCondition)
	}
	for _, lc := range b.latches {
		entry, eok := p.detectors[lc.entry]
		exit, xok := p.detectors[lc.exit]
		if !eok || !xok {
			zap.S().Warnw("panel: dropped latch of unknown detector",
				"latch", lc.name,
				"entry", lc.entry,
				"exit", lc.exit)
			continue
		}
		p.latches[lc.name] = latch.New(latch.Conf{Name: lc.name, Entry: entry, Exit: exit})
	}
	for _, bc := range b.blocks {
		var d *track.Detector
		if bc.detector != "" {
			var ok bool
			d, ok = p.detectors[bc.detector]
			if !ok {
				zap.S().Warnw("panel: block without its unknown detector",
					"block", bc.name,
					"detector", bc.detector)
			}
		}
		p.Blocks.AddBlock(bc.name, d)
	}
	for _, rc := range b.routes {
		h, err := p.Head(rc.module, rc.head)
		if err != nil {
			zap.S().Warnw("panel: dropped route", "err", err)
			continue
		}
		rs, ok := b.requirements(rc.route.Requires)
		if !ok {
			zap.S().Warnw("panel: dropped route of unresolved requirements",
				"module", rc.module,
				"head", rc.head)
			continue
		}
		route := signal.Route{
			Indication: rc.route.Indication,
			Next:       NoHead,
			Requires:   rs,
		}
		if rc.route.Next != "" {
			next, ok := p.Network.Lookup(rc.module, rc.route.Next)
			if !ok {
				zap.S().Warnw("panel: dropped route of unknown next head",
					"module", rc.module,
					"head", rc.head,
					"next", rc.route.Next)
				continue
			}
			route.Next = next
		}
		if rc.route.Latch != "" {
			l, ok := p.latches[rc.route.Latch]
			if !ok {
				zap.S().Warnw("panel: route without its unknown latch",
					"head", rc.head,
					"latch", rc.route.Latch)
			}
			route.Latch = l
		}
		h.AddRoute(route)
	}
	for _, sc := range b.sets {
		h, err := p.Head(sc.module, sc.head)
		if err != nil {
			zap.S().Warnw("panel: dropped signal set", "err", err)
			continue
		}
		rs, ok := b.requirements(sc.set.Route)
		if !ok {
			zap.S().Warnw("panel: dropped signal set of unresolved route",
				"module", sc.module,
				"head", sc.head)
			continue
		}
		p.Blocks.AddSignalSet(block.SetConf{
			Head:      h.Ref(),
			Route:     rs,
			Blocks:    sc.set.Blocks,
			Clear:     sc.set.Clear,
			Occupied:  sc.set.Occupied,
			Unset:     sc.set.Unset,
			Lock:      sc.set.Lock,
			Inhibit:   sc.set.Inhibit,
			AutoUnset: sc.set.AutoUnset,
		})
	}
	for _, fc := range b.free {
		r, ok := g.Lookup(fc.circuit)
		if _, tok := p.turnouts[fc.turnout]; !ok || !tok {
			zap.S().Warnw("panel: dropped turnout lock",
				"turnout", fc.turnout,
				"circuit", fc.circuit)
			continue
		}
		p.free[fc.turnout] = r
	}
	p.Network.PairBoundaries()
	g.Settle()
	for _, h := range p.Network.Heads() {
		h.UpdateRoute()
		h.UpdateIndication()
	}
	for _, bc := range b.bindings {
		b.bind(bc)
	}
	p.watch()
	zap.S().Infow("panel: built",
		"panel", p.Name,
		"id", p.ID,
		"circuits", g.Len(),
		"heads", p.Network.Len(),
		"blocks", len(p.Blocks.Blocks()))
	return p
}
