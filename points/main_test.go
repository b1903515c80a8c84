package points

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"nyiyui.ca/hato/shingou/circuit"
	"nyiyui.ca/hato/shingou/track"
)

func TestPointsCircuit(t *testing.T) {
	g := circuit.NewGraph()
	tn := track.NewTurnout("21")
	in := g.NewInput("21R", "21 reversed")
	p := NewPointsCircuit(g, in, tn, track.PointsReversed)
	if g.Active(in.CircuitRef) {
		t.Fatal("active while normal")
	}
	changes := []bool{}
	g.OnChange(in.CircuitRef, func(a bool) { changes = append(changes, a) })
	tn.Throw(track.PointsReversed)
	tn.Complete()
	tn.Throw(track.PointsNormal)
	expected := []bool{true, false}
	if !cmp.Equal(changes, expected) {
		t.Fatalf("changes diff: %s", cmp.Diff(expected, changes))
	}
	p.Close()
	tn.Complete()
	tn.Throw(track.PointsReversed)
	tn.Complete()
	if g.Active(in.CircuitRef) {
		t.Fatal("followed turnout after Close")
	}
}

func TestRouteCircuit(t *testing.T) {
	g := circuit.NewGraph()
	a := track.NewTurnout("a")
	b := track.NewTurnout("b")
	in := g.NewInput("route", "")
	r := NewRouteCircuit(g, in, track.Requirements{
		{Turnout: a, State: track.PointsNormal},
		{Turnout: b, State: track.PointsReversed},
		{Turnout: a, State: track.PointsNormal},
	})
	if g.Active(in.CircuitRef) {
		t.Fatal("active with b normal")
	}
	b.SetState(track.PointsReversed)
	if !g.Active(in.CircuitRef) {
		t.Fatal("inactive with route set")
	}
	a.Throw(track.PointsReversed)
	if g.Active(in.CircuitRef) {
		t.Fatal("active while a moving")
	}
	r.Close()
	a.Throw(track.PointsNormal)
	a.Complete()
	if g.Active(in.CircuitRef) {
		t.Fatal("followed turnouts after Close")
	}
}

func TestRouteCircuitEmpty(t *testing.T) {
	g := circuit.NewGraph()
	in := g.NewInput("always", "")
	NewRouteCircuit(g, in, nil)
	if !g.Active(in.CircuitRef) {
		t.Fatal("empty route not active")
	}
}

func TestDetectorCircuitDrivesLogic(t *testing.T) {
	g := circuit.NewGraph()
	d := track.NewDetector("3T")
	d.SetOccupied(true)
	in := g.NewInput("3T", "")
	NewDetectorCircuit(g, in, d)
	clear := g.NewLogic("3T-clear", "")
	g.AddCondition(clear, circuit.OpNot, "3T")
	g.Settle()
	if g.Active(clear.CircuitRef) {
		t.Fatal("clear while occupied")
	}
	d.SetOccupied(false)
	if !g.Active(clear.CircuitRef) {
		t.Fatal("not clear after release")
	}
}
