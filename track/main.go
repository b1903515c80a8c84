// Package track has the physical objects a panel watches: turnouts (points) and occupancy detectors.
package track

import (
	"fmt"

	"go.uber.org/zap"
	"nyiyui.ca/hato/shingou/notify"
)

// PointsState a turnout's state.
type PointsState int

const (
	PointsNormal   PointsState = 1
	PointsReversed PointsState = 2
	// PointsMoving is neither normal nor reversed; no route through the turnout is set while moving.
	PointsMoving PointsState = 3
)

func (s PointsState) String() string {
	switch s {
	case PointsNormal:
		return "normal"
	case PointsReversed:
		return "reversed"
	case PointsMoving:
		return "moving"
	default:
		return fmt.Sprintf("%d", s)
	}
}

// ParsePointsState parses the output of PointsState.String.
func ParsePointsState(s string) (PointsState, bool) {
	for _, ps := range []PointsState{PointsNormal, PointsReversed, PointsMoving} {
		if ps.String() == s {
			return ps, true
		}
	}
	return 0, false
}

type Turnout struct {
	name      string
	state     PointsState
	target    PointsState
	listeners notify.Listeners[PointsState]
}

// NewTurnout returns a turnout lying normal.
func NewTurnout(name string) *Turnout {
	return &Turnout{name: name, state: PointsNormal, target: PointsNormal}
}

func (t *Turnout) Name() string { return t.name }
func (t *Turnout) State() PointsState { return t.state }
func (t *Turnout) Target() PointsState { return t.target }
func (t *Turnout) String() string { return fmt.Sprintf("turnout(%s %s)", t.name, t.state) }

// OnChange registers fn to be called on every state change.
func (t *Turnout) OnChange(fn func(PointsState)) notify.Handle { return t.listeners.Add(fn) }

func (t *Turnout) RemoveListener(h notify.Handle) bool { return t.listeners.Remove(h) }

// SetState sets the state directly, e.g. from a position feedback contact.
func (t *Turnout) SetState(s PointsState) {
	if s != PointsMoving {
		t.target = s
	}
	if t.state == s {
		return
	}
	t.state = s
	zap.S().Debugw("track: turnout changed", "turnout", t.name, "state", s)
	t.listeners.Notify(s)
}

// Throw commands the turnout towards target. The turnout is moving until Complete is called.
// Throwing to the state it already lies in does nothing.
func (t *Turnout) Throw(target PointsState) {
	if target == PointsMoving {
		panic("cannot throw a turnout to moving")
	}
	if t.state == target {
		t.target = target
		return
	}
	t.target = target
	t.SetState(PointsMoving)
}

// Complete finishes the movement started by Throw.
func (t *Turnout) Complete() {
	if t.state != PointsMoving {
		return
	}
	t.SetState(t.target)
}

type Detector struct {
	name      string
	occupied  bool
	listeners notify.Listeners[bool]
}

func NewDetector(name string) *Detector {
	return &Detector{name: name}
}

func (d *Detector) Name() string { return d.name }
func (d *Detector) Occupied() bool { return d.occupied }
func (d *Detector) String() string { return fmt.Sprintf("detector(%s %t)", d.name, d.occupied) }

func (d *Detector) OnChange(fn func(occupied bool)) notify.Handle { return d.listeners.Add(fn) }

func (d *Detector) RemoveListener(h notify.Handle) bool { return d.listeners.Remove(h) }

// SetOccupied is called on an occupancy edge. Listeners are only called if the occupancy changed.
func (d *Detector) SetOccupied(occupied bool) {
	if d.occupied == occupied {
		return
	}
	d.occupied = occupied
	zap.S().Debugw("track: detector changed", "detector", d.name, "occupied", occupied)
	d.listeners.Notify(occupied)
}

// Requirement is a single turnout position precondition.
type Requirement struct {
	Turnout *Turnout
	State   PointsState
}

func (r Requirement) Satisfied() bool {
	return r.Turnout.State() == r.State
}

func (r Requirement) String() string {
	return fmt.Sprintf("%s=%s", r.Turnout.Name(), r.State)
}

// Requirements is an ordered list of preconditions, satisfied iff all of them are.
type Requirements []Requirement

func (rs Requirements) Satisfied() bool {
	for _, r := range rs {
		if !r.Satisfied() {
			return false
		}
	}
	return true
}

// Turnouts returns each turnout in rs once, in order.
func (rs Requirements) Turnouts() []*Turnout {
	ts := make([]*Turnout, 0, len(rs))
	seen := map[*Turnout]bool{}
	for _, r := range rs {
		if seen[r.Turnout] {
			continue
		}
		seen[r.Turnout] = true
		ts = append(ts, r.Turnout)
	}
	return ts
}
