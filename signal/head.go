package signal

import (
	"fmt"

	"go.uber.org/zap"
	. "nyiyui.ca/hato/shingou"
	"nyiyui.ca/hato/shingou/latch"
	"nyiyui.ca/hato/shingou/notify"
	"nyiyui.ca/hato/shingou/track"
)

// Route is a way a head can be cleared along.
type Route struct {
	// Indication applied by SetRouteIndication while this route is active. Empty keeps the given indication.
	Indication string
	// Next is the head protecting the section after this route, or NoHead.
	Next HeadRef
	// Requires are the turnout positions making up this route.
	Requires track.Requirements
	// Latch is armed by SetAutoDropIndication. Optional.
	Latch *latch.Latch
}

// IsRouteSet reports whether every precondition currently holds.
func (r *Route) IsRouteSet() bool {
	return r.Requires.Satisfied()
}

func (r *Route) String() string {
	return fmt.Sprintf("route(%s → %s %s)", r.Indication, r.Next, r.Requires)
}

// Head is a single signal head.
//
// The indication is the command given to the head; the aspect is what the head shows, resolved by the ruleset from the indication and the aspect of the head ahead (advanced).
// The advanced/preceding links are rebuilt by UpdateRoute, so a change of aspect cascades to the heads behind.
type Head struct {
	n       *Network
	ref     HeadRef
	id      string
	module  string
	ruleset *Ruleset

	indication      string
	indicationKnown bool
	aspect          string

	preceding HeadRef
	advanced  HeadRef

	routes      []*Route
	activeRoute int

	latch          *latch.Latch
	latchHandle    notify.Handle
	dropIndication string

	boundary bool
	pair     HeadRef

	listeners notify.Listeners[string]
}

func (h *Head) Ref() HeadRef { return h.ref }
func (h *Head) ID() string { return h.id }
func (h *Head) Module() string { return h.module }
func (h *Head) Ruleset() *Ruleset { return h.ruleset }
func (h *Head) Preceding() HeadRef { return h.preceding }
func (h *Head) Advanced() HeadRef { return h.advanced }
func (h *Head) IsBoundary() bool { return h.boundary }
func (h *Head) Pair() HeadRef { return h.pair }
func (h *Head) Latched() bool { return h.latch != nil }

func (h *Head) String() string {
	return fmt.Sprintf("head(%s::%s %s)", h.module, h.id, h.Aspect())
}

// Indication returns the current indication; known is false if none was ever set.
func (h *Head) Indication() (indication string, known bool) {
	return h.indication, h.indicationKnown
}

// Aspect returns the aspect shown. A paired boundary head shows its counterpart's aspect.
func (h *Head) Aspect() string {
	if h.boundary {
		if p := h.n.head(h.pair); p != nil {
			return p.Aspect()
		}
	}
	return h.aspect
}

// OnAspect registers fn to be called whenever the aspect shown changes.
func (h *Head) OnAspect(fn func(aspect string)) notify.Handle { return h.listeners.Add(fn) }

func (h *Head) RemoveListener(hd notify.Handle) bool { return h.listeners.Remove(hd) }

// AddRoute appends r to the route list. Earlier routes take precedence.
func (h *Head) AddRoute(r Route) *Route {
	rp := &r
	h.routes = append(h.routes, rp)
	return rp
}

// Routes returns the route list in order.
func (h *Head) Routes() []*Route {
	rs := make([]*Route, len(h.routes))
	copy(rs, h.routes)
	return rs
}

// ActiveRoute returns the route selected by the last UpdateRoute, or nil.
func (h *Head) ActiveRoute() *Route {
	if h.activeRoute < 0 {
		return nil
	}
	return h.routes[h.activeRoute]
}

// UpdateRoute selects the first route whose preconditions all hold, and links the lookahead chain along it.
// If no route holds, the previously active route is kept.
func (h *Head) UpdateRoute() {
	h.updateRoute(map[HeadRef]bool{})
}

func (h *Head) updateRoute(visited map[HeadRef]bool) {
	if visited[h.ref] {
		return
	}
	visited[h.ref] = true
	for i, r := range h.routes {
		if r.IsRouteSet() {
			h.activeRoute = i
			break
		}
	}
	r := h.ActiveRoute()
	if r == nil {
		return
	}
	h.advanced = r.Next
	if next := h.n.head(r.Next); next != nil {
		next.updateRoute(visited)
		next.preceding = h.ref
	}
}

// SetIndication sets the indication and resolves the aspect.
// While a latch is armed, unforced calls are ignored. Forced calls disarm the latch first.
func (h *Head) SetIndication(indication string, forced bool) {
	if h.latch != nil && !forced {
		zap.S().Debugw("signal: latched; ignored indication",
			"head", h.id,
			"indication", indication)
		return
	}
	if forced {
		h.ClearLatch()
	}
	h.indication = indication
	h.indicationKnown = true
	h.UpdateIndication()
}

// SetRouteIndication sets the active route's indication, falling back to indication if there is no active route.
func (h *Head) SetRouteIndication(indication string) {
	h.UpdateRoute()
	if r := h.ActiveRoute(); r != nil && r.Indication != "" {
		indication = r.Indication
	}
	h.SetIndication(indication, false)
}

// SetAutoDropIndication arms the active route's latch. Once the latch is released, the head's indication is set to dropIndication.
// It returns false if the active route has no latch.
func (h *Head) SetAutoDropIndication(dropIndication string) bool {
	r := h.ActiveRoute()
	if r == nil || r.Latch == nil {
		return false
	}
	h.ClearLatch()
	l := r.Latch
	l.Unset()
	h.latch = l
	h.dropIndication = dropIndication
	h.latchHandle = l.OnChange(func(s latch.State) {
		if s == latch.Released {
			h.drop(l)
		}
	})
	l.Set()
	return true
}

func (h *Head) drop(l *latch.Latch) {
	if h.latch != l {
		return
	}
	l.RemoveListener(h.latchHandle)
	h.latch = nil
	zap.S().Debugw("signal: latch released; dropping",
		"head", h.id,
		"indication", h.dropIndication)
	h.indication = h.dropIndication
	h.indicationKnown = true
	h.UpdateIndication()
}

// ClearLatch disarms and resets the latch armed by SetAutoDropIndication, if any.
func (h *Head) ClearLatch() {
	l := h.latch
	if l == nil {
		return
	}
	l.RemoveListener(h.latchHandle)
	h.latch = nil
	l.Unset()
}

// UpdateIndication resolves the aspect. If it changed, listeners are called and the preceding head is updated in turn.
func (h *Head) UpdateIndication() {
	if h.boundary && h.pair.Valid() {
		// shows the counterpart's aspect; changes arrive through pairing
		return
	}
	aspect := h.resolve()
	if aspect == h.aspect {
		return
	}
	h.aspect = aspect
	h.emit()
}

func (h *Head) resolve() string {
	indication := h.indication
	if !h.indicationKnown {
		indication = h.ruleset.DefaultIndication
	}
	if next := h.n.head(h.advanced); next != nil {
		return h.ruleset.Resolve(indication, next.Aspect(), true)
	}
	return h.ruleset.Resolve(indication, "", false)
}

// emit notifies of the current aspect and cascades to the preceding head.
func (h *Head) emit() {
	aspect := h.Aspect()
	zap.S().Debugw("signal: aspect changed",
		"module", h.module,
		"head", h.id,
		"aspect", aspect)
	h.listeners.Notify(aspect)
	h.n.changes.Notify(AspectChange{Ref: h.ref, Module: h.module, ID: h.id, Aspect: aspect})
	if p := h.n.head(h.preceding); p != nil {
		p.UpdateIndication()
	}
}
