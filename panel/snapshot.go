package panel

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"nyiyui.ca/hato/shingou/track"
)

type Snapshot struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Time      time.Time       `json:"time"`
	Circuits  []CircuitState  `json:"circuits"`
	Heads     []HeadState     `json:"heads"`
	Turnouts  []TurnoutState  `json:"turnouts"`
	Detectors []DetectorState `json:"detectors"`
	Latches   []LatchState    `json:"latches"`
	Blocks    []BlockState    `json:"blocks"`
}

type CircuitState struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Input       bool   `json:"input"`
	Active      bool   `json:"active"`
}

type HeadState struct {
	Module     string `json:"module"`
	ID         string `json:"id"`
	Aspect     string `json:"aspect"`
	Indication string `json:"indication,omitempty"`
	Boundary   bool   `json:"boundary"`
	Latched    bool   `json:"latched"`
	Set        bool   `json:"set"`
	CanSet     bool   `json:"can-set"`
}

type TurnoutState struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type DetectorState struct {
	Name     string `json:"name"`
	Occupied bool   `json:"occupied"`
}

type LatchState struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type BlockState struct {
	Name     string `json:"name"`
	InUse    bool   `json:"in-use"`
	Claimed  bool   `json:"claimed"`
	Occupied bool   `json:"occupied"`
}

func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

// Snapshot returns the state of every object. Circuits, heads and blocks are in creation order; the rest is sorted by name.
func (p *Panel) Snapshot() Snapshot {
	s := Snapshot{
		ID:        p.ID,
		Name:      p.Name,
		Time:      p.now(),
		Circuits:  []CircuitState{},
		Heads:     []HeadState{},
		Turnouts:  []TurnoutState{},
		Detectors: []DetectorState{},
		Latches:   []LatchState{},
		Blocks:    []BlockState{},
	}
	for _, r := range p.Graph.Refs() {
		s.Circuits = append(s.Circuits, CircuitState{
			Name:        p.Graph.Name(r),
			Description: p.Graph.Description(r),
			Input:       p.Graph.IsInput(r),
			Active:      p.Graph.Active(r),
		})
	}
	for _, h := range p.Network.Heads() {
		ind, _ := h.Indication()
		s.Heads = append(s.Heads, HeadState{
			Module:     h.Module(),
			ID:         h.ID(),
			Aspect:     h.Aspect(),
			Indication: ind,
			Boundary:   h.IsBoundary(),
			Latched:    h.Latched(),
			Set:        p.Blocks.IsSignalSet(h.Ref()),
			CanSet:     p.Blocks.CanSetSignal(h.Ref()),
		})
	}
	for _, name := range sortedKeys(p.turnouts) {
		s.Turnouts = append(s.Turnouts, TurnoutState{Name: name, State: p.turnouts[name].State().String()})
	}
	for _, name := range sortedKeys(p.detectors) {
		s.Detectors = append(s.Detectors, DetectorState{Name: name, Occupied: p.detectors[name].Occupied()})
	}
	for _, name := range sortedKeys(p.latches) {
		s.Latches = append(s.Latches, LatchState{Name: name, State: p.latches[name].State().String()})
	}
	for _, b := range p.Blocks.Blocks() {
		s.Blocks = append(s.Blocks, BlockState{Name: b.Name, InUse: b.InUse(), Claimed: b.Claimed(), Occupied: b.Occupied()})
	}
	return s
}

// MarshalSnapshot returns Snapshot as JSON.
func (p *Panel) MarshalSnapshot() ([]byte, error) {
	return json.Marshal(p.Snapshot())
}

// Aspect returns the aspect shown by head module::id, or "" if there is no such head.
func (s Snapshot) Aspect(module, id string) string {
	i := slices.IndexFunc(s.Heads, func(h HeadState) bool { return h.Module == module && h.ID == id })
	if i == -1 {
		return ""
	}
	return s.Heads[i].Aspect
}

// Turnout returns the state of turnout name.
func (s Snapshot) Turnout(name string) (track.PointsState, bool) {
	i := slices.IndexFunc(s.Turnouts, func(t TurnoutState) bool { return t.Name == name })
	if i == -1 {
		return 0, false
	}
	return track.ParsePointsState(s.Turnouts[i].State)
}
