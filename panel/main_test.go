package panel

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "nyiyui.ca/hato/shingou"
	"nyiyui.ca/hato/shingou/signal"
	"nyiyui.ca/hato/shingou/track"
)

func ruleset() *signal.Ruleset {
	rs := signal.NewRuleset("2-aspect", "Stop", "R", "G")
	rs.SetDefault("Stop", "R")
	rs.SetDefault("Clear", "G")
	return rs
}

func newTestPanel() *Panel {
	b := NewBuilder("test")
	b.Type(signal.Type{Name: "home", Ruleset: ruleset()})
	b.Detector("1T")
	b.Detector("2T")
	b.Turnout("5")
	b.Signal(signal.SignalConf{ID: "A", Module: "m", Type: "home"})
	b.Signal(signal.SignalConf{ID: "B", Module: "m", Type: "home"})
	b.Signal(signal.SignalConf{ID: "C", Module: "m", Type: "nonexistent"})
	// forward references: conditions and routes are resolved in Build
	b.Logic("both", "", CondConf{Op: "AND", Source: "1T-occ"}, CondConf{Op: "AND", Source: "2T-occ"}, CondConf{Op: "XOR", Source: "1T-occ"}, CondConf{Op: "OR", Source: "nonexistent"})
	b.DetectorInput("1T-occ", "1T")
	b.DetectorInput("2T-occ", "2T")
	b.DetectorInput("3T-occ", "3T")
	b.PointsInput("5N", "5", "normal")
	b.RouteInput("5-route", ReqConf{Turnout: "5", State: "reversed"})
	b.RouteInput("6-route", ReqConf{Turnout: "5", State: "reversed"}, ReqConf{Turnout: "nonexistent", State: "normal"})
	b.Latch("LA", "2T", "1T")
	b.Latch("LX", "2T", "nonexistent")
	b.Route("m", "A", RouteConf{Next: "B", Latch: "LA", Requires: []ReqConf{{Turnout: "5", State: "normal"}}})
	b.Route("m", "A", RouteConf{Next: "nonexistent"})
	b.Route("m", "A", RouteConf{Requires: []ReqConf{{Turnout: "5", State: "sideways"}}})
	b.Route("m", "nonexistent", RouteConf{})
	b.Block("BA", "2T")
	b.Block("BB", "")
	b.SignalSet("m", "A", SetConf{Blocks: []string{"BA", "nonexistent"}, Clear: "Clear", Occupied: "Clear", Unset: "Stop", AutoUnset: true})
	b.SignalSet("m", "B", SetConf{Blocks: []string{"BB"}, Clear: "Clear", Unset: "Stop"})
	b.SignalSet("m", "nonexistent", SetConf{})
	b.SignalSet("m", "B", SetConf{Route: []ReqConf{{Turnout: "nonexistent", State: "reversed"}}, Clear: "Clear", Unset: "Stop"})
	b.SignalSet("m", "B", SetConf{Inhibit: "nonexistent", Clear: "Clear", Unset: "Stop"})
	return b.Build()
}

func TestBuildDropsUnknown(t *testing.T) {
	p := newTestPanel()
	if _, err := p.Head("m", "C"); err == nil {
		t.Fatal("head of unknown type exists")
	}
	a, err := p.Head("m", "A")
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Routes()) != 1 {
		t.Fatalf("expected 1 route, got %d", len(a.Routes()))
	}
	if _, ok := p.Latch("LX"); ok {
		t.Fatal("latch of unknown detector exists")
	}
	if _, ok := p.Graph.Lookup("3T-occ"); !ok {
		t.Fatal("circuit of a dropped adapter must still exist")
	}
	if len(p.Blocks.Sets()) != 2 {
		t.Fatalf("expected 2 sets, got %d", len(p.Blocks.Sets()))
	}

	both, _ := p.Graph.Lookup("both")
	if p.Graph.Active(both) {
		t.Fatal("both active while clear")
	}
	p.SetOccupied("1T", true)
	p.SetOccupied("2T", true)
	if !p.Graph.Active(both) {
		t.Fatal("both inactive while occupied")
	}
	route, _ := p.Graph.Lookup("5-route")
	n, _ := p.Graph.Lookup("5N")
	if p.Graph.Active(route) || !p.Graph.Active(n) {
		t.Fatal("points circuits not initialized")
	}
	p.ThrowTurnout("5", track.PointsReversed)
	p.CompleteTurnout("5")
	if !p.Graph.Active(route) || p.Graph.Active(n) {
		t.Fatal("points circuits didn't follow")
	}
	// an unresolved requirement drops the whole circuit rather than widening it
	if unresolved, _ := p.Graph.Lookup("6-route"); p.Graph.Active(unresolved) {
		t.Fatal("route circuit with an unknown turnout followed")
	}
	// the sets of B with an unknown turnout or inhibit circuit were dropped
	if ok, _ := p.CanSetSignal("m", "B"); !ok {
		t.Fatal("B not settable")
	}
}

func TestOperationErrors(t *testing.T) {
	p := newTestPanel()
	for name, err := range map[string]error{
		"throw":    p.ThrowTurnout("nonexistent", track.PointsNormal),
		"moving":   p.ThrowTurnout("5", track.PointsMoving),
		"complete": p.CompleteTurnout("nonexistent"),
		"occupy":   p.SetOccupied("nonexistent", true),
		"input":    p.SetInput("both", true),
		"unset":    p.UnsetSignal("m", "nonexistent"),
		"claim":    p.ClaimBlock("nonexistent"),
		"release":  p.ReleaseBlock("nonexistent"),
	} {
		if err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := p.TrySetSignal("x", "A"); err == nil {
		t.Fatal("head in unknown module found")
	}
}

func TestEvents(t *testing.T) {
	p := newTestPanel()
	fixed := time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }
	events := []Event{}
	h := p.OnEvent(func(e Event) { events = append(events, e) })
	ch := make(chan Event, 32)
	p.EventsMux.Subscribe("test", ch)
	defer p.EventsMux.Unsubscribe(ch)
	sets := testutil.ToFloat64(eventsTotal.WithLabelValues("test", string(EventSet)))

	ok, err := p.TrySetSignal("m", "B")
	if err != nil || !ok {
		t.Fatalf("TrySetSignal: %t %s", ok, err)
	}
	expected := []Event{
		{Kind: EventBlock, Name: "BB", Value: "true", Time: fixed},
		{Kind: EventAspect, Module: "m", Name: "B", Value: "G", Time: fixed},
		{Kind: EventSet, Module: "m", Name: "B", Value: "set", Time: fixed},
	}
	if !cmp.Equal(events, expected) {
		t.Fatalf("events diff: %s", cmp.Diff(expected, events))
	}
	for i := range expected {
		if e := receive(t, ch); e != expected[i] {
			t.Fatalf("mux event %d: %s", i, e)
		}
	}
	if got := testutil.ToFloat64(eventsTotal.WithLabelValues("test", string(EventSet))); got != sets+1 {
		t.Fatalf("set events: expected %v, got %v", sets+1, got)
	}

	p.RemoveEventListener(h)
	p.SetOccupied("1T", true)
	if len(events) != len(expected) {
		t.Fatal("listener called after removal")
	}
	// the detector's circuit changes before the detector's own event is emitted
	want := []string{"circuit(1T-occ=true)", "detector(1T=true)"}
	got := []string{}
	for range want {
		got = append(got, receive(t, ch).String())
	}
	if !cmp.Equal(got, want) {
		t.Fatalf("mux events diff: %s", cmp.Diff(want, got))
	}
}

func TestSnapshot(t *testing.T) {
	p := newTestPanel()
	p.TrySetSignal("m", "A")
	s := p.Snapshot()
	if s.Aspect("m", "A") != "G" {
		t.Fatalf("A: expected G, got %s", s.Aspect("m", "A"))
	}
	if s.Aspect("m", "nonexistent") != "" {
		t.Fatal("aspect of unknown head")
	}
	if !s.Heads[0].Set || !s.Heads[0].Latched {
		t.Fatalf("A: %+v", s.Heads[0])
	}
	if st, ok := s.Turnout("5"); !ok || st != track.PointsNormal {
		t.Fatalf("turnout 5: %s %t", st, ok)
	}
	names := []string{}
	for _, d := range s.Detectors {
		names = append(names, d.Name)
	}
	if !cmp.Equal(names, []string{"1T", "2T"}) {
		t.Fatalf("detectors not sorted: %v", names)
	}
	data, err := p.MarshalSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	var s2 Snapshot
	if err := json.Unmarshal(data, &s2); err != nil {
		t.Fatal(err)
	}
	if s2.ID != p.ID || len(s2.Blocks) != 2 || !s2.Blocks[0].InUse {
		t.Fatalf("round trip: %+v", s2)
	}
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out")
		return Event{}
	}
}

func TestBindings(t *testing.T) {
	b := NewBuilder("bindings")
	b.Type(signal.Type{Name: "home", Ruleset: ruleset()})
	b.Turnout("5")
	b.Signal(signal.SignalConf{ID: "A", Module: "m", Type: "home"})
	b.Block("BA", "")
	b.Input("call", "")
	b.Input("halt", "")
	b.Input("button", "")
	b.Input("free", "")
	b.SignalSet("m", "A", SetConf{Blocks: []string{"BA"}, Clear: "Clear", Unset: "Stop", Inhibit: "halt"})
	b.Indication("m", "A", IndicationConf{Circuit: "call", Active: "Clear", Inactive: "Stop"})
	b.Indication("m", "A", IndicationConf{Circuit: "halt", Active: "Stop", Forced: true})
	b.Indication("m", "A", IndicationConf{Circuit: "nonexistent", Active: "Clear"})
	b.Button("m", "A", "button")
	b.Button("m", "nonexistent", "button")
	b.TurnoutFree("5", "free")
	b.TurnoutFree("nonexistent", "free")
	p := b.Build()

	aspect := func() string { return p.Snapshot().Aspect("m", "A") }
	p.SetInput("call", true)
	if got := aspect(); got != "G" {
		t.Fatalf("call: expected G, got %s", got)
	}
	p.SetInput("call", false)
	if got := aspect(); got != "R" {
		t.Fatalf("call released: expected R, got %s", got)
	}

	p.SetInput("button", true)
	if got := aspect(); got != "G" {
		t.Fatalf("button: expected G, got %s", got)
	}
	ba, _ := p.Blocks.LookupBlock("BA")
	if !p.Blocks.Block(ba).InUse() {
		t.Fatal("button didn't claim BA")
	}
	p.SetInput("halt", true)
	if got := aspect(); got != "R" {
		t.Fatalf("halt: expected R, got %s", got)
	}
	p.SetInput("button", false)
	if p.Blocks.Block(ba).InUse() {
		t.Fatal("button released but BA in use")
	}
	p.SetInput("button", true)
	if ok, _ := p.CanSetSignal("m", "A"); ok || p.Blocks.Block(ba).InUse() {
		t.Fatal("set while inhibited")
	}

	if err := p.ThrowTurnout("5", track.PointsReversed); err == nil {
		t.Fatal("thrown while not free")
	}
	p.SetInput("free", true)
	if err := p.ThrowTurnout("5", track.PointsReversed); err != nil {
		t.Fatal(err)
	}
}
