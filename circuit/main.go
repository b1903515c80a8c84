// Package circuit is the relay-like logic layer of a panel.
//
// A Graph holds input circuits, which are driven from outside (turnouts, detectors, buttons), and logic circuits, which derive their state from condition lists over other circuits.
// Changes propagate synchronously: when a circuit changes, its listeners are called and then every dependent logic circuit is re-evaluated, in registration order.
package circuit

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	. "nyiyui.ca/hato/shingou"
	"nyiyui.ca/hato/shingou/notify"
)

// InputRef references an input circuit. Only input circuits can be set directly.
type InputRef struct{ CircuitRef }

// LogicRef references a logic circuit. Logic circuits are only changed by re-evaluation.
type LogicRef struct{ CircuitRef }

type kind int

const (
	kindInput kind = iota + 1
	kindLogic
)

type circuit struct {
	name        string
	description string
	kind        kind
	active      bool
	// evaluated is true once a logic circuit has been evaluated at least once. Always true for inputs.
	evaluated bool
	// split is true for logic circuits with separate on/off lists.
	split    bool
	conds    []Condition
	onConds  []Condition
	offConds []Condition
	// dependents are the logic circuits with a condition on this circuit, in registration order.
	dependents []LogicRef
	listeners  notify.Listeners[bool]
}

// Change is a single circuit state change.
type Change struct {
	Ref    CircuitRef
	Name   string
	Active bool
}

type Graph struct {
	circuits []*circuit
	names    map[string]CircuitRef
	changes  notify.Listeners[Change]
}

func NewGraph() *Graph {
	return &Graph{
		names: map[string]CircuitRef{},
	}
}

func (g *Graph) get(r CircuitRef) *circuit {
	if r.Index < 0 || r.Index >= len(g.circuits) {
		panic(fmt.Sprintf("invalid CircuitRef %s", r))
	}
	return g.circuits[r.Index]
}

func (g *Graph) add(c *circuit) CircuitRef {
	r := CircuitRef{Index: len(g.circuits)}
	g.circuits = append(g.circuits, c)
	if _, ok := g.names[c.name]; ok {
		zap.S().Warnw("circuit: name registered twice; lookups return the latest", "name", c.name)
	}
	g.names[c.name] = r
	return r
}

// NewInput adds an inactive input circuit.
func (g *Graph) NewInput(name, description string) InputRef {
	return InputRef{g.add(&circuit{
		name:        name,
		description: description,
		kind:        kindInput,
		evaluated:   true,
	})}
}

// NewLogic adds a level-triggered logic circuit with a single condition list.
func (g *Graph) NewLogic(name, description string) LogicRef {
	return LogicRef{g.add(&circuit{
		name:        name,
		description: description,
		kind:        kindLogic,
	})}
}

// NewEdgeLogic adds an edge-triggered logic circuit with separate on and off condition lists.
func (g *Graph) NewEdgeLogic(name, description string) LogicRef {
	return LogicRef{g.add(&circuit{
		name:        name,
		description: description,
		kind:        kindLogic,
		split:       true,
	})}
}

// Lookup finds a circuit by name.
func (g *Graph) Lookup(name string) (CircuitRef, bool) {
	r, ok := g.names[name]
	return r, ok
}

// LookupInput finds an input circuit by name.
func (g *Graph) LookupInput(name string) (InputRef, bool) {
	r, ok := g.names[name]
	if !ok || g.get(r).kind != kindInput {
		return InputRef{}, false
	}
	return InputRef{r}, true
}

// LookupLogic finds a logic circuit by name.
func (g *Graph) LookupLogic(name string) (LogicRef, bool) {
	r, ok := g.names[name]
	if !ok || g.get(r).kind != kindLogic {
		return LogicRef{}, false
	}
	return LogicRef{r}, true
}

// Len returns the number of circuits.
func (g *Graph) Len() int { return len(g.circuits) }

// Refs returns all circuits in registration order.
func (g *Graph) Refs() []CircuitRef {
	refs := make([]CircuitRef, len(g.circuits))
	for i := range g.circuits {
		refs[i] = CircuitRef{Index: i}
	}
	return refs
}

func (g *Graph) Active(r CircuitRef) bool { return g.get(r).active }
func (g *Graph) Name(r CircuitRef) string { return g.get(r).name }
func (g *Graph) Description(r CircuitRef) string { return g.get(r).description }
func (g *Graph) IsInput(r CircuitRef) bool { return g.get(r).kind == kindInput }
func (g *Graph) Evaluated(r CircuitRef) bool { return g.get(r).evaluated }
func (g *Graph) Dependents(r CircuitRef) []LogicRef { return slices.Clone(g.get(r).dependents) }

// OnChange registers fn to be called whenever circuit r changes state.
func (g *Graph) OnChange(r CircuitRef, fn func(active bool)) notify.Handle {
	return g.get(r).listeners.Add(fn)
}

func (g *Graph) RemoveListener(r CircuitRef, h notify.Handle) bool {
	return g.get(r).listeners.Remove(h)
}

// OnAnyChange registers fn to be called whenever any circuit changes, after that circuit's own listeners.
func (g *Graph) OnAnyChange(fn func(Change)) notify.Handle {
	return g.changes.Add(fn)
}

// AddCondition appends a condition on the circuit named source to l's condition list.
// An unknown source is dropped; the return value reports whether the condition was added.
func (g *Graph) AddCondition(l LogicRef, op Op, source string) bool {
	return g.addCondition(l, op, source, listUnified)
}

// AddOnCondition appends to an edge-triggered circuit's on list.
func (g *Graph) AddOnCondition(l LogicRef, op Op, source string) bool {
	return g.addCondition(l, op, source, listOn)
}

// AddOffCondition appends to an edge-triggered circuit's off list.
func (g *Graph) AddOffCondition(l LogicRef, op Op, source string) bool {
	return g.addCondition(l, op, source, listOff)
}

type list int

const (
	listUnified list = iota
	listOn
	listOff
)

func (g *Graph) addCondition(l LogicRef, op Op, source string, which list) bool {
	c := g.get(l.CircuitRef)
	src, ok := g.names[source]
	if !ok {
		zap.S().Debugw("circuit: dropped condition on unknown circuit",
			"circuit", c.name,
			"source", source)
		return false
	}
	if c.split != (which != listUnified) {
		zap.S().Debugw("circuit: dropped condition for wrong list kind",
			"circuit", c.name,
			"source", source,
			"split", c.split)
		return false
	}
	cond := Condition{Source: src, Op: op}
	switch which {
	case listUnified:
		c.conds = append(c.conds, cond)
	case listOn:
		c.onConds = append(c.onConds, cond)
	case listOff:
		c.offConds = append(c.offConds, cond)
	}
	s := g.get(src)
	if !slices.Contains(s.dependents, l) {
		s.dependents = append(s.dependents, l)
	}
	return true
}

// SetActive sets an input circuit. If the state changed, listeners are called and dependents re-evaluated before SetActive returns.
func (g *Graph) SetActive(r InputRef, active bool) {
	g.set(r.CircuitRef, active)
}

// Reevaluate evaluates l's conditions and updates its state.
// The first evaluation always computes from the condition list; after that, an edge-triggered circuit only looks at its off list while active and its on list while inactive.
func (g *Graph) Reevaluate(l LogicRef) {
	g.reevaluate(l.CircuitRef)
}

func (g *Graph) reevaluate(r CircuitRef) {
	c := g.get(r)
	if c.kind != kindLogic {
		panic(fmt.Sprintf("reevaluate on non-logic circuit %s %s", r, c.name))
	}
	// mark first so that a cycle back to this circuit during evaluation doesn't force it again
	c.evaluated = true
	var next bool
	switch {
	case !c.split:
		next = g.evaluateList(c.conds)
	case c.active:
		next = !g.evaluateList(c.offConds)
	default:
		next = g.evaluateList(c.onConds)
	}
	g.set(r, next)
}

func (g *Graph) evaluateList(conds []Condition) bool {
	acc := true
	for _, cond := range conds {
		acc = g.Evaluate(cond, acc)
	}
	return acc
}

// Evaluate applies cond to acc. A source logic circuit that was never evaluated is evaluated first.
func (g *Graph) Evaluate(cond Condition, acc bool) bool {
	s := g.get(cond.Source)
	if !s.evaluated {
		g.reevaluate(cond.Source)
	}
	return cond.Op.apply(acc, s.active)
}

func (g *Graph) set(r CircuitRef, active bool) {
	c := g.get(r)
	if c.active == active {
		return
	}
	c.active = active
	zap.S().Debugw("circuit: changed",
		"circuit", c.name,
		"active", active)
	c.listeners.Notify(active)
	g.changes.Notify(Change{Ref: r, Name: c.name, Active: active})
	for _, d := range slices.Clone(c.dependents) {
		g.reevaluate(d.CircuitRef)
	}
}

// Settle evaluates every logic circuit that hasn't been evaluated yet, in registration order.
// Call it once a graph is fully built so that logic circuits start from their real state.
func (g *Graph) Settle() {
	for i, c := range g.circuits {
		if c.kind == kindLogic && !c.evaluated {
			g.reevaluate(CircuitRef{Index: i})
		}
	}
}
