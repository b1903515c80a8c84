// Package block arbitrates exclusive claims on track blocks between signal sets.
//
// A signal may only be cleared through a SignalSet whose route is set and none of whose blocks is claimed by another set.
package block

import (
	"fmt"

	"go.uber.org/zap"
	. "nyiyui.ca/hato/shingou"
	"nyiyui.ca/hato/shingou/circuit"
	"nyiyui.ca/hato/shingou/notify"
	"nyiyui.ca/hato/shingou/signal"
	"nyiyui.ca/hato/shingou/track"
)

// Block is a section of track that at most one set signal can claim at a time.
// Claims are independent of occupancy.
type Block struct {
	Name string
	// Detector is optional.
	Detector *track.Detector
	inUse    bool
	owner    *SignalSet
}

func (b *Block) InUse() bool { return b.inUse }

// Claimed reports whether b is in use without a signal set, i.e. through Controller.Claim.
func (b *Block) Claimed() bool { return b.inUse && b.owner == nil }

// Occupied reports the detector's occupancy; false without a detector.
func (b *Block) Occupied() bool { return b.Detector != nil && b.Detector.Occupied() }

// BlockChange is a block becoming in use or free.
type BlockChange struct {
	Name  string
	InUse bool
}

func (b *Block) change() BlockChange { return BlockChange{Name: b.Name, InUse: b.inUse} }

func (b *Block) String() string {
	return fmt.Sprintf("block(%s in-use=%t)", b.Name, b.inUse)
}

// SetConf configures a SignalSet.
type SetConf struct {
	Head HeadRef
	// Route must be satisfied to set. Empty means always.
	Route  track.Requirements
	Blocks []string
	// Indications given to the head.
	Clear    string
	Occupied string
	Unset    string
	// Lock is the name of an input circuit held active while set. Optional.
	Lock string
	// Inhibit is the name of a circuit that prevents setting while active. Optional.
	Inhibit string
	// AutoUnset unsets once the head's indication becomes Unset by itself, i.e. by an auto-drop.
	AutoUnset bool
}

// SignalSet binds a head to the blocks it claims when cleared.
type SignalSet struct {
	c          *Controller
	conf       SetConf
	head       *signal.Head
	blocks     []BlockRef
	lock       circuit.InputRef
	hasLock    bool
	inhibit    CircuitRef
	hasInhibit bool
	set        bool
}

func (s *SignalSet) Head() HeadRef { return s.conf.Head }
func (s *SignalSet) IsSet() bool { return s.set }

// Blocks returns the blocks bound to s, in order.
func (s *SignalSet) Blocks() []*Block {
	bs := make([]*Block, len(s.blocks))
	for i, r := range s.blocks {
		bs[i] = s.c.Block(r)
	}
	return bs
}

func (s *SignalSet) String() string {
	return fmt.Sprintf("set(%s %s set=%t)", s.head.ID(), s.blocks, s.set)
}

// CanSet reports whether s could be set now.
func (s *SignalSet) CanSet() bool {
	if !s.conf.Route.Satisfied() {
		return false
	}
	if s.hasInhibit && s.c.g.Active(s.inhibit) {
		return false
	}
	for _, b := range s.Blocks() {
		if b.inUse {
			return false
		}
	}
	return true
}

// Set claims every block, gives the head the clear (or occupied) indication, and arms its auto-drop.
// It returns false without doing anything if s is already set or can't be set.
func (s *SignalSet) Set() bool {
	if s.set || !s.CanSet() {
		return false
	}
	s.set = true
	occupied := false
	for _, b := range s.Blocks() {
		b.inUse = true
		b.owner = s
		occupied = occupied || b.Occupied()
	}
	for _, b := range s.Blocks() {
		s.c.blockChanges.Notify(b.change())
	}
	if s.hasLock {
		s.c.g.SetActive(s.lock, true)
	}
	indication := s.conf.Clear
	if occupied {
		indication = s.conf.Occupied
	}
	zap.S().Infow("block: set",
		"head", s.head.ID(),
		"indication", indication)
	s.head.UpdateRoute()
	// a forced indication clears the latch, so arm afterwards
	s.head.SetIndication(indication, true)
	s.head.SetAutoDropIndication(s.conf.Unset)
	s.c.changes.Notify(s.change())
	return true
}

// UnSet releases the blocks and gives the head the unset indication. It does nothing if s isn't set.
func (s *SignalSet) UnSet() {
	if !s.set {
		return
	}
	s.set = false
	released := []*Block{}
	for _, b := range s.Blocks() {
		if b.owner == s {
			b.inUse = false
			b.owner = nil
			released = append(released, b)
		}
	}
	for _, b := range released {
		s.c.blockChanges.Notify(b.change())
	}
	if s.hasLock {
		s.c.g.SetActive(s.lock, false)
	}
	zap.S().Infow("block: unset", "head", s.head.ID())
	s.head.ClearLatch()
	s.head.SetIndication(s.conf.Unset, true)
	s.c.changes.Notify(s.change())
}

func (s *SignalSet) aspectChanged(string) {
	if !s.set {
		return
	}
	if ind, _ := s.head.Indication(); ind == s.conf.Unset {
		zap.S().Debugw("block: auto unset", "head", s.head.ID())
		s.UnSet()
	}
}

// SetChange is a signal set being set or unset.
type SetChange struct {
	Head   HeadRef
	ID     string
	Module string
	Set    bool
	Blocks []string
}

func (s *SignalSet) change() SetChange {
	names := make([]string, len(s.blocks))
	for i, b := range s.Blocks() {
		names[i] = b.Name
	}
	return SetChange{
		Head:   s.conf.Head,
		ID:     s.head.ID(),
		Module: s.head.Module(),
		Set:    s.set,
		Blocks: names,
	}
}

// Controller owns the blocks and signal sets of a panel.
type Controller struct {
	net     *signal.Network
	g       *circuit.Graph
	blocks  []*Block
	names   map[string]BlockRef
	sets    []*SignalSet
	byHead  map[HeadRef][]*SignalSet
	changes notify.Listeners[SetChange]

	blockChanges notify.Listeners[BlockChange]
}

func NewController(net *signal.Network, g *circuit.Graph) *Controller {
	return &Controller{
		net:    net,
		g:      g,
		names:  map[string]BlockRef{},
		byHead: map[HeadRef][]*SignalSet{},
	}
}

// AddBlock adds a block. detector may be nil.
func (c *Controller) AddBlock(name string, detector *track.Detector) BlockRef {
	r := BlockRef{Index: len(c.blocks)}
	c.blocks = append(c.blocks, &Block{Name: name, Detector: detector})
	c.names[name] = r
	return r
}

func (c *Controller) Block(r BlockRef) *Block {
	if r.Index < 0 || r.Index >= len(c.blocks) {
		panic(fmt.Sprintf("invalid BlockRef %s", r))
	}
	return c.blocks[r.Index]
}

func (c *Controller) LookupBlock(name string) (BlockRef, bool) {
	r, ok := c.names[name]
	return r, ok
}

// Blocks returns every block in creation order.
func (c *Controller) Blocks() []*Block {
	bs := make([]*Block, len(c.blocks))
	copy(bs, c.blocks)
	return bs
}

// Sets returns every signal set in creation order.
func (c *Controller) Sets() []*SignalSet {
	ss := make([]*SignalSet, len(c.sets))
	copy(ss, c.sets)
	return ss
}

// OnChange registers fn to be called whenever a set is set or unset.
func (c *Controller) OnChange(fn func(SetChange)) notify.Handle { return c.changes.Add(fn) }

// OnBlockChange registers fn to be called whenever a block becomes in use or free.
func (c *Controller) OnBlockChange(fn func(BlockChange)) notify.Handle {
	return c.blockChanges.Add(fn)
}

// AddSignalSet adds a signal set. Unknown blocks and lock circuits are dropped; an unknown head or inhibit circuit drops the whole set and returns nil.
func (c *Controller) AddSignalSet(conf SetConf) *SignalSet {
	if !conf.Head.Valid() || conf.Head.Index >= c.net.Len() {
		zap.S().Warnw("block: dropped signal set of unknown head", "head", conf.Head)
		return nil
	}
	s := &SignalSet{c: c, conf: conf, head: c.net.Head(conf.Head)}
	if conf.Inhibit != "" {
		inhibit, ok := c.g.Lookup(conf.Inhibit)
		if !ok {
			// without its inhibit the set could clear when it must not
			zap.S().Warnw("block: dropped signal set of unknown inhibit circuit",
				"head", s.head.ID(),
				"inhibit", conf.Inhibit)
			return nil
		}
		s.inhibit = inhibit
		s.hasInhibit = true
	}
	for _, name := range conf.Blocks {
		r, ok := c.names[name]
		if !ok {
			zap.S().Warnw("block: dropped unknown block",
				"head", s.head.ID(),
				"block", name)
			continue
		}
		s.blocks = append(s.blocks, r)
	}
	if conf.Lock != "" {
		lock, ok := c.g.LookupInput(conf.Lock)
		if ok {
			s.lock = lock
			s.hasLock = true
		} else {
			zap.S().Warnw("block: dropped unknown lock circuit",
				"head", s.head.ID(),
				"lock", conf.Lock)
		}
	}
	if conf.AutoUnset {
		s.head.OnAspect(s.aspectChanged)
	}
	c.sets = append(c.sets, s)
	c.byHead[conf.Head] = append(c.byHead[conf.Head], s)
	return s
}

// SetsOf returns the signal sets of head h, in registration order.
func (c *Controller) SetsOf(h HeadRef) []*SignalSet {
	ss := c.byHead[h]
	res := make([]*SignalSet, len(ss))
	copy(res, ss)
	return res
}

// CanSetSignal reports whether any of h's signal sets can be set.
func (c *Controller) CanSetSignal(h HeadRef) bool {
	for _, s := range c.byHead[h] {
		if s.CanSet() {
			return true
		}
	}
	return false
}

// TrySetSignal sets the first of h's signal sets that can be set.
// It returns false if none could.
func (c *Controller) TrySetSignal(h HeadRef) bool {
	for _, s := range c.byHead[h] {
		if s.CanSet() {
			return s.Set()
		}
	}
	zap.S().Debugw("block: no signal set can be set", "head", h)
	return false
}

// UnsetSignal unsets every set signal set of h, and releases claims made by Claim on their blocks.
func (c *Controller) UnsetSignal(h HeadRef) {
	for _, s := range c.byHead[h] {
		s.UnSet()
		for _, r := range s.blocks {
			c.Release(r)
		}
	}
}

// IsSignalSet reports whether any of h's signal sets is set.
func (c *Controller) IsSignalSet(h HeadRef) bool {
	for _, s := range c.byHead[h] {
		if s.set {
			return true
		}
	}
	return false
}

// Claim marks r in use without a signal set. It does nothing if r is already in use.
func (c *Controller) Claim(r BlockRef) {
	b := c.Block(r)
	if b.inUse {
		return
	}
	b.inUse = true
	zap.S().Infow("block: claimed", "block", b.Name)
	c.blockChanges.Notify(b.change())
}

// Release releases a claim made by Claim. Blocks claimed by a signal set are only released by unsetting it.
func (c *Controller) Release(r BlockRef) {
	b := c.Block(r)
	if !b.inUse || b.owner != nil {
		return
	}
	b.inUse = false
	zap.S().Infow("block: released", "block", b.Name)
	c.blockChanges.Notify(b.change())
}
