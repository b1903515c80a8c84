// Package preset has hardcoded panels.
package preset

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"nyiyui.ca/hato/shingou/panel"
	"nyiyui.ca/hato/shingou/signal"
	"nyiyui.ca/hato/shingou/sim"
)

// Preset is a hardcoded panel plus a path trains can run along in the simulator.
type Preset struct {
	Build func() *panel.Panel
	// Path is an ordered list of detectors a train passes through.
	Path []string
	// Stops are the signals protecting detectors on Path.
	Stops []sim.Stop
}

var presets = map[string]Preset{
	"testbench": {
		Build: InitTestbench,
		Path:  []string{"W1T", "W2T", "E1T", "E2T"},
		Stops: []sim.Stop{
			{Before: "W2T", Module: "west", ID: "1", Aspect: "R"},
			{Before: "E1T", Module: "east", ID: "10", Aspect: "R"},
			{Before: "E2T", Module: "east", ID: "11", Aspect: "R"},
		},
	},
	"siding": {
		Build: InitSiding,
		Path:  []string{"S1T", "S2T"},
		Stops: []sim.Stop{{Before: "S2T", Module: "siding", ID: "S1", Aspect: "R"}},
	},
}

// Lookup returns the preset named name.
func Lookup(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("preset %s not found (have %v)", name, Names())
	}
	return p, nil
}

// Names returns the names of all presets, sorted.
func Names() []string {
	names := maps.Keys(presets)
	slices.Sort(names)
	return names
}

// Ruleset3 is a 3-aspect ruleset with a call-on aspect.
//
//	R  stop
//	Y  caution (next signal at stop)
//	G  clear
//	C  call-on (into an occupied block)
func Ruleset3() *signal.Ruleset {
	rs := signal.NewRuleset("3-aspect", "Stop", "R", "C", "Y", "G")
	rs.SetDefault("Stop", "R")
	rs.SetDefault("Call", "C")
	rs.SetDefault("Clear", "Y")
	rs.AddRule("Clear", "Y", "G")
	rs.AddRule("Clear", "G", "G")
	return rs
}

func cond(op, source string) panel.CondConf {
	return panel.CondConf{Op: op, Source: source}
}

func normal(turnout string) panel.ReqConf {
	return panel.ReqConf{Turnout: turnout, State: "normal"}
}

func reversed(turnout string) panel.ReqConf {
	return panel.ReqConf{Turnout: turnout, State: "reversed"}
}

// InitTestbench builds two modules joined at signal 10.
// West has home signal 1 in front of turnout 21 (normal to the main line towards east, reversed into the siding W3T), and repeats east's signal 10 at its edge.
//
//	W1T  |1  W2T  /21  |10 (west, repeat)
//	                \ W3T
//	E1T is past east's 10, E2T past east's 11.
func InitTestbench() *panel.Panel {
	b := panel.NewBuilder("testbench")
	b.Type(signal.Type{Name: "home", Ruleset: Ruleset3()})
	for _, name := range []string{"W1T", "W2T", "W3T", "E1T", "E2T"} {
		b.Detector(name)
	}
	b.Turnout("21")

	b.Signal(signal.SignalConf{ID: "1", Module: "west", Type: "home"})
	b.Signal(signal.SignalConf{ID: "10", Module: "west", Type: "home", Boundary: true})
	b.Signal(signal.SignalConf{ID: "10", Module: "east", Type: "home"})
	b.Signal(signal.SignalConf{ID: "11", Module: "east", Type: "home"})

	b.Latch("L1", "W2T", "W1T")
	b.Latch("L10", "E1T", "W2T")
	b.Latch("L11", "E2T", "E1T")
	b.Route("west", "1", panel.RouteConf{Next: "10", Requires: []panel.ReqConf{normal("21")}, Latch: "L1"})
	b.Route("west", "1", panel.RouteConf{Indication: "Call", Requires: []panel.ReqConf{reversed("21")}, Latch: "L1"})
	b.Route("east", "10", panel.RouteConf{Next: "11", Latch: "L10"})
	b.Route("east", "11", panel.RouteConf{Latch: "L11"})

	b.Block("W2", "W2T")
	b.Block("W3", "W3T")
	b.Block("E1", "E1T")
	b.Block("E2", "E2T")

	b.Input("1-lock", "signal 1 set")
	b.PointsInput("21N", "21", "normal")
	b.PointsInput("21R", "21", "reversed")
	b.DetectorInput("W2T-occ", "W2T")
	b.Logic("21-free", "turnout 21 may be thrown",
		cond("NOT", "1-lock"),
		cond("ANDNOT", "W2T-occ"))
	b.Input("stop-button", "emergency stop")
	b.Input("reset-button", "emergency reset")
	b.EdgeLogic("emergency", "emergency stop relay",
		[]panel.CondConf{cond("EQ", "stop-button")},
		[]panel.CondConf{cond("EQ", "reset-button")})
	b.TurnoutFree("21", "21-free")

	set := panel.SetConf{Clear: "Clear", Occupied: "Call", Unset: "Stop", Inhibit: "emergency", AutoUnset: true}
	mainLine := set
	mainLine.Route = []panel.ReqConf{normal("21")}
	mainLine.Blocks = []string{"W2"}
	mainLine.Lock = "1-lock"
	b.SignalSet("west", "1", mainLine)
	siding := set
	siding.Route = []panel.ReqConf{reversed("21")}
	siding.Blocks = []string{"W2", "W3"}
	siding.Clear = "Call"
	siding.Lock = "1-lock"
	b.SignalSet("west", "1", siding)
	e10 := set
	e10.Blocks = []string{"E1"}
	b.SignalSet("east", "10", e10)
	e11 := set
	e11.Blocks = []string{"E2"}
	b.SignalSet("east", "11", e11)

	for _, h := range [][2]string{{"west", "1"}, {"east", "10"}, {"east", "11"}} {
		b.Input(h[1]+"-button", "set signal "+h[1])
		b.Button(h[0], h[1], h[1]+"-button")
		b.Indication(h[0], h[1], panel.IndicationConf{Circuit: "emergency", Active: "Stop", Forced: true})
	}
	return b.Build()
}

// InitSiding builds a single module with one signal into a dead-end siding.
func InitSiding() *panel.Panel {
	b := panel.NewBuilder("siding")
	b.Type(signal.Type{Name: "home", Ruleset: Ruleset3()})
	b.Detector("S1T")
	b.Detector("S2T")
	b.Signal(signal.SignalConf{ID: "S1", Module: "siding", Type: "home"})
	b.Latch("LS1", "S2T", "S1T")
	b.Route("siding", "S1", panel.RouteConf{Latch: "LS1"})
	b.Block("S2", "S2T")
	b.SignalSet("siding", "S1", panel.SetConf{Blocks: []string{"S2"}, Clear: "Clear", Occupied: "Call", Unset: "Stop", AutoUnset: true})
	return b.Build()
}

// SimulationConf returns a simulator configuration for trains length detectors long running along p's path.
func (p Preset) SimulationConf(length int) sim.SimulationConf {
	return sim.SimulationConf{Path: p.Path, Length: length, Stops: p.Stops}
}
