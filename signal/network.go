// Package signal implements signal heads, their rulesets, and the route lookahead chain between them.
package signal

import (
	"fmt"

	"go.uber.org/zap"
	. "nyiyui.ca/hato/shingou"
	"nyiyui.ca/hato/shingou/notify"
)

// AspectChange is a single aspect change of a head.
type AspectChange struct {
	Ref    HeadRef
	Module string
	ID     string
	Aspect string
}

// Type is a kind of signal, e.g. a 3-aspect home signal with a separate shunt head.
type Type struct {
	Name string
	// Heads are the names of the signal's heads. A signal of a type without heads gets one head named after the signal.
	Heads   []string
	Ruleset *Ruleset
}

// Signal groups the heads on one post.
type Signal struct {
	ID     string
	Module string
	Type   *Type
	heads  []HeadRef
}

// Heads returns the signal's heads in the order of its type.
func (s *Signal) Heads() []HeadRef {
	hs := make([]HeadRef, len(s.heads))
	copy(hs, s.heads)
	return hs
}

// SignalConf configures a new signal.
type SignalConf struct {
	ID     string
	Module string
	Type   string
	// Boundary marks the signal's heads as repeats of a signal with the same ID in another module.
	Boundary bool
}

type headKey struct {
	module string
	id     string
}

// Network owns all heads of a panel, across modules.
type Network struct {
	heads   []*Head
	ids     map[headKey]HeadRef
	signals []*Signal
	types   map[string]*Type
	changes notify.Listeners[AspectChange]
}

func NewNetwork() *Network {
	return &Network{
		ids:   map[headKey]HeadRef{},
		types: map[string]*Type{},
	}
}

// head returns nil for NoHead.
func (n *Network) head(r HeadRef) *Head {
	if !r.Valid() {
		return nil
	}
	if r.Index >= len(n.heads) {
		panic(fmt.Sprintf("invalid HeadRef %s", r))
	}
	return n.heads[r.Index]
}

// Head returns the head r points to, or nil for NoHead.
func (n *Network) Head(r HeadRef) *Head { return n.head(r) }

// Len returns the number of heads.
func (n *Network) Len() int { return len(n.heads) }

// Heads returns every head in creation order.
func (n *Network) Heads() []*Head {
	hs := make([]*Head, len(n.heads))
	copy(hs, n.heads)
	return hs
}

// Signals returns every signal in creation order.
func (n *Network) Signals() []*Signal {
	ss := make([]*Signal, len(n.signals))
	copy(ss, n.signals)
	return ss
}

// Lookup finds a head by module and ID.
func (n *Network) Lookup(module, id string) (HeadRef, bool) {
	r, ok := n.ids[headKey{module, id}]
	if !ok {
		return NoHead, false
	}
	return r, true
}

// AddType registers a signal type; a later type with the same name replaces it.
func (n *Network) AddType(t Type) {
	if t.Ruleset == nil {
		panic(fmt.Sprintf("signal type %s without ruleset", t.Name))
	}
	n.types[t.Name] = &t
}

func (n *Network) Type(name string) (*Type, bool) {
	t, ok := n.types[name]
	return t, ok
}

// OnAspect registers fn to be called on every aspect change of every head, after the head's own listeners.
func (n *Network) OnAspect(fn func(AspectChange)) notify.Handle {
	return n.changes.Add(fn)
}

// HeadID returns the ID of a signal's head named name.
func HeadID(signalID, name string) string {
	return fmt.Sprintf("%s::%s", signalID, name)
}

// AddSignal creates a signal and its heads. It returns nil if the type is unknown.
func (n *Network) AddSignal(conf SignalConf) *Signal {
	t, ok := n.types[conf.Type]
	if !ok {
		zap.S().Warnw("signal: dropped signal of unknown type",
			"signal", conf.ID,
			"type", conf.Type)
		return nil
	}
	s := &Signal{ID: conf.ID, Module: conf.Module, Type: t}
	if len(t.Heads) == 0 {
		s.heads = append(s.heads, n.newHead(conf.Module, conf.ID, t.Ruleset, conf.Boundary))
	} else {
		for _, name := range t.Heads {
			s.heads = append(s.heads, n.newHead(conf.Module, HeadID(conf.ID, name), t.Ruleset, conf.Boundary))
		}
	}
	n.signals = append(n.signals, s)
	return s
}

func (n *Network) newHead(module, id string, rs *Ruleset, boundary bool) HeadRef {
	r := HeadRef{Index: len(n.heads)}
	h := &Head{
		n:           n,
		ref:         r,
		id:          id,
		module:      module,
		ruleset:     rs,
		preceding:   NoHead,
		advanced:    NoHead,
		activeRoute: -1,
		boundary:    boundary,
		pair:        NoHead,
	}
	h.aspect = rs.Default(rs.DefaultIndication)
	n.heads = append(n.heads, h)
	n.ids[headKey{module, id}] = r
	return r
}

// PairBoundaries pairs each unpaired boundary head with the non-boundary head of the same ID in another module.
// It returns the number of heads paired by this call.
func (n *Network) PairBoundaries() int {
	paired := 0
	for _, b := range n.heads {
		if !b.boundary || b.pair.Valid() {
			continue
		}
		var counterpart *Head
		for _, h := range n.heads {
			if h.boundary || h.id != b.id || h.module == b.module {
				continue
			}
			counterpart = h
			break
		}
		if counterpart == nil {
			zap.S().Warnw("signal: boundary head has no counterpart",
				"module", b.module,
				"head", b.id)
			continue
		}
		b.pair = counterpart.ref
		b := b
		counterpart.OnAspect(func(string) { b.emit() })
		paired++
		zap.S().Debugw("signal: paired boundary head",
			"module", b.module,
			"counterpart-module", counterpart.module,
			"head", b.id)
		if b.aspect != counterpart.Aspect() {
			b.aspect = counterpart.Aspect()
			b.emit()
		}
	}
	return paired
}
