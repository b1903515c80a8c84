package shingou

import (
	"fmt"
	"time"
)

// CircuitRef references a single circuit in a circuit.Graph.
// Only positive numbers (and zero) are valid, and negative numbers are reserved.
type CircuitRef struct {
	Index int
}

func (r CircuitRef) String() string {
	return fmt.Sprintf("<c:%x>", r.Index)
}

// Valid reports whether r can point to a circuit at all. It doesn't check that the circuit exists.
func (r CircuitRef) Valid() bool { return r.Index >= 0 }

// NoCircuit is a CircuitRef that never points to a circuit.
var NoCircuit = CircuitRef{Index: -1}

// HeadRef references a single signal head in a signal.Network.
// Negative numbers are reserved.
type HeadRef struct {
	Index int
}

func (r HeadRef) String() string {
	return fmt.Sprintf("<h:%x>", r.Index)
}

// Valid reports whether r can point to a head at all.
func (r HeadRef) Valid() bool { return r.Index >= 0 }

// NoHead is used for absent preceding/advanced/paired heads.
var NoHead = HeadRef{Index: -1}

// BlockRef references a single block in a block.Controller.
type BlockRef struct {
	Index int
}

func (r BlockRef) String() string {
	return fmt.Sprintf("<b:%x>", r.Index)
}

// EventKind is the kind of state an Event reports a change in.
type EventKind string

const (
	EventCircuit  EventKind = "circuit"
	EventAspect   EventKind = "aspect"
	EventLatch    EventKind = "latch"
	EventSet      EventKind = "signal-set"
	EventTurnout  EventKind = "turnout"
	EventDetector EventKind = "detector"
	EventBlock    EventKind = "block"
)

// Event is a single state change observed on a panel.
// It is what outer layers (journal, kujo, monitor) see of the core.
type Event struct {
	Kind EventKind `json:"kind"`
	// Module is the panel module the changed object belongs to (if any).
	Module string `json:"module,omitempty"`
	// Name of the changed object.
	Name string `json:"name"`
	// Value is the new value, formatted.
	Value string    `json:"value"`
	Time  time.Time `json:"time"`
}

func (e Event) String() string {
	if e.Module != "" {
		return fmt.Sprintf("%s(%s::%s=%s)", e.Kind, e.Module, e.Name, e.Value)
	}
	return fmt.Sprintf("%s(%s=%s)", e.Kind, e.Name, e.Value)
}

// Message is a human-readable message, e.g. the outcome of an operator command.
type Message string

func (m Message) String() string { return string(m) }
