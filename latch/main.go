// Package latch holds back a signal's aspect change until a train has passed through a protected section.
//
// A Latch watches an entry detector (the train entering the section) and an exit detector (the train leaving it).
// Once armed with Set, it is Primed until the entry detector is occupied, Tripped while the exit detector is still occupied, and Released once it clears.
package latch

import (
	"fmt"

	"go.uber.org/zap"
	"nyiyui.ca/hato/shingou/notify"
)

type State int

const (
	Inactive State = iota
	Primed
	Tripped
	Released
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Primed:
		return "primed"
	case Tripped:
		return "tripped"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("%d", int(s))
	}
}

// Detector is an occupancy detector; *track.Detector satisfies it.
type Detector interface {
	Name() string
	Occupied() bool
	OnChange(fn func(occupied bool)) notify.Handle
}

type Conf struct {
	Name  string
	Entry Detector
	Exit  Detector
}

type Latch struct {
	conf      Conf
	state     State
	listeners notify.Listeners[State]
}

// New returns an inactive Latch watching conf's detectors.
func New(conf Conf) *Latch {
	l := &Latch{conf: conf}
	conf.Entry.OnChange(l.entryChanged)
	conf.Exit.OnChange(l.exitChanged)
	return l
}

func (l *Latch) Name() string { return l.conf.Name }

// State returns the current state.
// While listeners are being notified of a transition, State still returns the state being left.
func (l *Latch) State() State { return l.state }

// OnChange registers fn to be called once per transition with the new state.
func (l *Latch) OnChange(fn func(State)) notify.Handle { return l.listeners.Add(fn) }

func (l *Latch) RemoveListener(h notify.Handle) bool { return l.listeners.Remove(h) }

// Set arms an inactive latch. It does nothing unless the latch is inactive.
func (l *Latch) Set() {
	if l.state != Inactive {
		return
	}
	if l.conf.Entry.Occupied() {
		l.setState(l.passed())
	} else {
		l.setState(Primed)
	}
}

// Unset disarms the latch from any state.
func (l *Latch) Unset() {
	l.setState(Inactive)
}

// passed is the state after the entry detector has been occupied.
func (l *Latch) passed() State {
	if l.conf.Exit.Occupied() {
		return Tripped
	}
	return Released
}

func (l *Latch) entryChanged(occupied bool) {
	if occupied && l.state == Primed {
		l.setState(l.passed())
	}
}

func (l *Latch) exitChanged(occupied bool) {
	if !occupied && l.state == Tripped {
		l.setState(Released)
	}
}

func (l *Latch) setState(s State) {
	changed := s != l.state
	if changed {
		zap.S().Debugw("latch: changed", "latch", l.conf.Name, "from", l.state, "to", s)
		l.listeners.Notify(s)
	}
	// set after notifying: listeners see the old state through State()
	l.state = s
}
