// Package points bridges turnout and detector state into input circuits, so logic circuits can have conditions on them.
package points

import (
	"nyiyui.ca/hato/shingou/circuit"
	"nyiyui.ca/hato/shingou/notify"
	"nyiyui.ca/hato/shingou/track"
)

// PointsCircuit keeps an input circuit active iff a turnout lies in a given state.
type PointsCircuit struct {
	g       *circuit.Graph
	in      circuit.InputRef
	turnout *track.Turnout
	state   track.PointsState
	handle  notify.Handle
}

// NewPointsCircuit drives in from turnout, starting with the turnout's current state.
func NewPointsCircuit(g *circuit.Graph, in circuit.InputRef, turnout *track.Turnout, state track.PointsState) *PointsCircuit {
	p := &PointsCircuit{g: g, in: in, turnout: turnout, state: state}
	g.SetActive(in, turnout.State() == state)
	p.handle = turnout.OnChange(func(s track.PointsState) {
		g.SetActive(in, s == state)
	})
	return p
}

func (p *PointsCircuit) Input() circuit.InputRef { return p.in }

// Close stops following the turnout. The circuit keeps its last state.
func (p *PointsCircuit) Close() {
	p.turnout.RemoveListener(p.handle)
}

// RouteCircuit keeps an input circuit active iff every requirement holds.
type RouteCircuit struct {
	g        *circuit.Graph
	in       circuit.InputRef
	requires track.Requirements
	handles  map[*track.Turnout]notify.Handle
}

// NewRouteCircuit drives in from requires. An empty requirement list keeps the circuit active.
func NewRouteCircuit(g *circuit.Graph, in circuit.InputRef, requires track.Requirements) *RouteCircuit {
	r := &RouteCircuit{g: g, in: in, requires: requires, handles: map[*track.Turnout]notify.Handle{}}
	for _, t := range requires.Turnouts() {
		r.handles[t] = t.OnChange(func(track.PointsState) { r.update() })
	}
	r.update()
	return r
}

func (r *RouteCircuit) update() {
	r.g.SetActive(r.in, r.requires.Satisfied())
}

func (r *RouteCircuit) Input() circuit.InputRef { return r.in }

func (r *RouteCircuit) Close() {
	for t, h := range r.handles {
		t.RemoveListener(h)
	}
	r.handles = map[*track.Turnout]notify.Handle{}
}

// DetectorCircuit keeps an input circuit active iff a detector is occupied.
type DetectorCircuit struct {
	in       circuit.InputRef
	detector *track.Detector
	handle   notify.Handle
}

func NewDetectorCircuit(g *circuit.Graph, in circuit.InputRef, detector *track.Detector) *DetectorCircuit {
	d := &DetectorCircuit{in: in, detector: detector}
	g.SetActive(in, detector.Occupied())
	d.handle = detector.OnChange(func(occupied bool) {
		g.SetActive(in, occupied)
	})
	return d
}

func (d *DetectorCircuit) Input() circuit.InputRef { return d.in }

func (d *DetectorCircuit) Close() {
	d.detector.RemoveListener(d.handle)
}
