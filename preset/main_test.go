package preset

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	. "nyiyui.ca/hato/shingou"
	"nyiyui.ca/hato/shingou/panel"
	"nyiyui.ca/hato/shingou/track"
)

func TestLookup(t *testing.T) {
	for _, name := range Names() {
		p, err := Lookup(name)
		if err != nil {
			t.Fatal(err)
		}
		if len(p.Path) == 0 {
			t.Fatalf("%s: no path", name)
		}
		pn := p.Build()
		for _, d := range p.Path {
			if _, ok := pn.Detector(d); !ok {
				t.Fatalf("%s: path detector %s missing", name, d)
			}
		}
	}
	if _, err := Lookup("nonexistent"); err == nil {
		t.Fatal("nonexistent preset found")
	}
}

func mustSet(t *testing.T, ok bool, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("signal not set")
	}
}

func TestTestbenchRun(t *testing.T) {
	p := InitTestbench()
	s := p.Snapshot()
	for _, h := range s.Heads {
		if h.Aspect != "R" {
			t.Fatalf("%s::%s shows %s at start", h.Module, h.ID, h.Aspect)
		}
	}
	if !p.Graph.Active(mustLookup(t, p.Graph.Lookup, "21-free")) {
		t.Fatal("21 locked at start")
	}

	events := []Event{}
	p.OnEvent(func(e Event) {
		if e.Kind == EventAspect {
			events = append(events, e)
		}
	})

	ok, err := p.TrySetSignal("east", "11")
	mustSet(t, ok, err)
	ok, err = p.TrySetSignal("east", "10")
	mustSet(t, ok, err)
	ok, err = p.TrySetSignal("west", "1")
	mustSet(t, ok, err)

	s = p.Snapshot()
	for _, c := range []struct{ module, id, aspect string }{
		{"west", "1", "G"},
		{"west", "10", "G"},
		{"east", "10", "G"},
		{"east", "11", "Y"},
	} {
		if got := s.Aspect(c.module, c.id); got != c.aspect {
			t.Fatalf("%s::%s: expected %s, got %s", c.module, c.id, c.aspect, got)
		}
	}
	if p.Graph.Active(mustLookup(t, p.Graph.Lookup, "21-free")) {
		t.Fatal("21 free while signal 1 is set")
	}
	if ok, _ := p.CanSetSignal("west", "1"); ok {
		t.Fatal("signal 1 can be set twice")
	}

	// a two-detector train runs W1T -> E2T
	step := func(occupy, clear string) {
		if occupy != "" {
			if err := p.SetOccupied(occupy, true); err != nil {
				t.Fatal(err)
			}
		}
		if clear != "" {
			if err := p.SetOccupied(clear, false); err != nil {
				t.Fatal(err)
			}
		}
	}
	step("W1T", "")
	step("W2T", "")
	if s := p.Snapshot(); s.Aspect("west", "1") != "G" {
		t.Fatalf("signal 1 dropped while the train is still passing: %s", s.Aspect("west", "1"))
	}
	step("E1T", "W1T")
	s = p.Snapshot()
	if s.Aspect("west", "1") != "R" {
		t.Fatalf("signal 1 not dropped: %s", s.Aspect("west", "1"))
	}
	if ok, _ := p.CanSetSignal("west", "1"); !ok {
		t.Fatal("signal 1 not auto unset")
	}
	step("E2T", "W2T")
	step("", "E1T")
	s = p.Snapshot()
	for _, h := range s.Heads {
		if h.Aspect != "R" || h.Set {
			t.Fatalf("%s::%s: %s set %t after the run", h.Module, h.ID, h.Aspect, h.Set)
		}
	}
	for _, b := range s.Blocks {
		if b.InUse {
			t.Fatalf("block %s in use after the run", b.Name)
		}
	}
	got := []string{}
	for _, e := range events {
		got = append(got, e.Module+"::"+e.Name+"="+e.Value)
	}
	want := []string{
		"east::11=Y",
		"west::10=G", "east::10=G",
		"west::1=G",
		"west::1=R",
		"west::10=R", "east::10=R",
		"east::11=R",
	}
	if !cmp.Equal(got, want) {
		t.Fatalf("aspect events diff: %s", cmp.Diff(want, got))
	}
}

func TestSidingRoute(t *testing.T) {
	p := InitTestbench()
	if err := p.ThrowTurnout("21", track.PointsReversed); err != nil {
		t.Fatal(err)
	}
	if ok, _ := p.CanSetSignal("west", "1"); ok {
		t.Fatal("can set while 21 is moving")
	}
	if !cmp.Equal(p.Moving(), []string{"21"}) {
		t.Fatalf("moving: %v", p.Moving())
	}
	if err := p.CompleteTurnout("21"); err != nil {
		t.Fatal(err)
	}
	ok, err := p.TrySetSignal("west", "1")
	mustSet(t, ok, err)
	if got := p.Snapshot().Aspect("west", "1"); got != "C" {
		t.Fatalf("expected call-on into the siding, got %s", got)
	}
	w3, _ := p.Blocks.LookupBlock("W3")
	if !p.Blocks.Block(w3).InUse() {
		t.Fatal("W3 not claimed")
	}
	if err := p.UnsetSignal("west", "1"); err != nil {
		t.Fatal(err)
	}
	if p.Blocks.Block(w3).InUse() {
		t.Fatal("W3 not released")
	}
}

func TestEmergencyRelay(t *testing.T) {
	p := InitTestbench()
	em := mustLookup(t, p.Graph.Lookup, "emergency")
	for _, step := range []struct {
		input    string
		active   bool
		expected bool
	}{
		{"stop-button", true, true},
		{"stop-button", false, true},
		{"reset-button", true, false},
		{"reset-button", false, false},
	} {
		if err := p.SetInput(step.input, step.active); err != nil {
			t.Fatal(err)
		}
		if got := p.Graph.Active(em); got != step.expected {
			t.Fatalf("%s=%t: expected %t, got %t", step.input, step.active, step.expected, got)
		}
	}
	if err := p.SetInput("21-free", true); err == nil {
		t.Fatal("logic circuit set as input")
	}
}

func TestButtons(t *testing.T) {
	p := InitTestbench()
	if err := p.SetInput("1-button", true); err != nil {
		t.Fatal(err)
	}
	if !p.Blocks.IsSignalSet(mustHead(t, p, "west", "1")) {
		t.Fatal("button didn't set signal 1")
	}
	if got := p.Snapshot().Aspect("west", "1"); got != "Y" {
		t.Fatalf("signal 1 shows %s", got)
	}
	if err := p.SetInput("1-button", false); err != nil {
		t.Fatal(err)
	}
	if p.Blocks.IsSignalSet(mustHead(t, p, "west", "1")) {
		t.Fatal("button didn't unset signal 1")
	}
	if got := p.Snapshot().Aspect("west", "1"); got != "R" {
		t.Fatalf("signal 1 shows %s after unset", got)
	}
}

func TestTurnoutLocked(t *testing.T) {
	p := InitTestbench()
	ok, err := p.TrySetSignal("west", "1")
	mustSet(t, ok, err)
	if err := p.ThrowTurnout("21", track.PointsReversed); err == nil {
		t.Fatal("21 thrown under a set signal")
	}
	if state, _ := p.Snapshot().Turnout("21"); state != track.PointsNormal {
		t.Fatalf("21 is %s", state)
	}
	if err := p.UnsetSignal("west", "1"); err != nil {
		t.Fatal(err)
	}
	if err := p.SetOccupied("W2T", true); err != nil {
		t.Fatal(err)
	}
	if err := p.ThrowTurnout("21", track.PointsReversed); err == nil {
		t.Fatal("21 thrown under a train")
	}
	if err := p.SetOccupied("W2T", false); err != nil {
		t.Fatal(err)
	}
	if err := p.ThrowTurnout("21", track.PointsReversed); err != nil {
		t.Fatal(err)
	}
}

func TestEmergencyStop(t *testing.T) {
	p := InitTestbench()
	for _, button := range []string{"11-button", "10-button", "1-button"} {
		if err := p.SetInput(button, true); err != nil {
			t.Fatal(err)
		}
	}
	if got := p.Snapshot().Aspect("west", "1"); got != "G" {
		t.Fatalf("signal 1 shows %s", got)
	}

	if err := p.SetInput("stop-button", true); err != nil {
		t.Fatal(err)
	}
	s := p.Snapshot()
	for _, h := range s.Heads {
		if h.Aspect != "R" || h.Set {
			t.Fatalf("%s::%s: %s set %t during emergency", h.Module, h.ID, h.Aspect, h.Set)
		}
	}
	for _, b := range s.Blocks {
		if b.InUse {
			t.Fatalf("block %s in use during emergency", b.Name)
		}
	}
	ok, err := p.TrySetSignal("east", "11")
	if err != nil || ok {
		t.Fatalf("set during emergency: %t %v", ok, err)
	}

	if err := p.SetInput("stop-button", false); err != nil {
		t.Fatal(err)
	}
	if ok, _ := p.CanSetSignal("east", "11"); ok {
		t.Fatal("emergency released without reset")
	}
	if err := p.SetInput("reset-button", true); err != nil {
		t.Fatal(err)
	}
	ok, err = p.TrySetSignal("east", "11")
	mustSet(t, ok, err)
}

func mustHead(t *testing.T, p *panel.Panel, module, id string) HeadRef {
	t.Helper()
	r, ok := p.Network.Lookup(module, id)
	if !ok {
		t.Fatalf("head %s::%s not found", module, id)
	}
	return r
}

func mustLookup(t *testing.T, lookup func(string) (CircuitRef, bool), name string) CircuitRef {
	t.Helper()
	r, ok := lookup(name)
	if !ok {
		t.Fatalf("circuit %s not found", name)
	}
	return r
}
