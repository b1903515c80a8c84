// Package sim moves simulated trains along a path of detectors and finishes turnout movements, so a panel can be exercised without hardware.
package sim

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"nyiyui.ca/hato/shingou/panel"
	"nyiyui.ca/hato/shingou/runtime"
)

// Stop holds trains before entering detector Before while the head Module::ID shows Aspect.
type Stop struct {
	Before string `json:"before"`
	Module string `json:"module"`
	ID     string `json:"id"`
	Aspect string `json:"aspect"`
}

type SimulationConf struct {
	// Path is the ordered list of detectors trains pass through.
	Path []string
	// Length is the number of detectors a train occupies at once.
	Length int
	Stops  []Stop
}

type Train struct {
	Name string
	// front and back are indices into the path. A train that hasn't entered has front == -1.
	front, back int
	done        bool
}

// Occupies returns the detectors t occupies, back to front.
func (t *Train) Occupies(path []string) []string {
	if t.front < 0 || t.done {
		return nil
	}
	return path[t.back : t.front+1]
}

func (t *Train) Done() bool { return t.done }

func (t *Train) String() string {
	return fmt.Sprintf("train(%s %d-%d)", t.Name, t.back, t.front)
}

type Simulation struct {
	conf   SimulationConf
	p      *panel.Panel
	trains []*Train
}

func New(p *panel.Panel, conf SimulationConf) *Simulation {
	if conf.Length < 1 {
		conf.Length = 1
	}
	return &Simulation{conf: conf, p: p}
}

// AddTrain places a train before the start of the path.
func (s *Simulation) AddTrain(name string) *Train {
	t := &Train{Name: name, front: -1}
	s.trains = append(s.trains, t)
	return t
}

func (s *Simulation) Trains() []*Train {
	ts := make([]*Train, len(s.trains))
	copy(ts, s.trains)
	return ts
}

func (s *Simulation) held(detector string) bool {
	for _, st := range s.conf.Stops {
		if st.Before != detector {
			continue
		}
		h, err := s.p.Head(st.Module, st.ID)
		if err != nil {
			zap.S().Warnw("sim: stop at unknown head", "err", err)
			continue
		}
		if h.Aspect() == st.Aspect {
			return true
		}
	}
	return false
}

// occupied reports whether another train occupies detector.
func (s *Simulation) occupied(self *Train, detector string) bool {
	for _, t := range s.trains {
		if t == self {
			continue
		}
		for _, d := range t.Occupies(s.conf.Path) {
			if d == detector {
				return true
			}
		}
	}
	return false
}

// Step completes every moving turnout and moves every train by one detector.
// moved is false once nothing can move any more.
func (s *Simulation) Step() (moved bool, err error) {
	for _, name := range s.p.Moving() {
		if err := s.p.CompleteTurnout(name); err != nil {
			return moved, fmt.Errorf("complete %s: %w", name, err)
		}
		moved = true
	}
	for _, t := range s.trains {
		if t.done {
			continue
		}
		ok, err := s.step(t)
		if err != nil {
			return moved, fmt.Errorf("%s: %w", t, err)
		}
		if ok {
			moved = true
		}
	}
	return moved, nil
}

func (s *Simulation) step(t *Train) (bool, error) {
	path := s.conf.Path
	if t.front+1 < len(path) {
		next := path[t.front+1]
		if s.held(next) || s.occupied(t, next) {
			return false, nil
		}
		if err := s.p.SetOccupied(next, true); err != nil {
			return false, err
		}
		if t.front == -1 {
			t.back = 0
		}
		t.front++
		if t.front-t.back+1 > s.conf.Length {
			if err := s.p.SetOccupied(path[t.back], false); err != nil {
				return true, err
			}
			t.back++
		}
		return true, nil
	}
	// running off the end of the path
	if err := s.p.SetOccupied(path[t.back], false); err != nil {
		return false, err
	}
	t.back++
	if t.back > t.front {
		t.done = true
		zap.S().Infow("sim: train left", "train", t.Name)
	}
	return true, nil
}

// Run steps every interval through rt until ctx is done.
func (s *Simulation) Run(ctx context.Context, rt *runtime.Instance, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			err := rt.Do(ctx, "sim step", func() error {
				_, err := s.Step()
				return err
			})
			if err != nil {
				return fmt.Errorf("step: %w", err)
			}
		}
	}
}
