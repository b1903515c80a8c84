package notify

import "golang.org/x/exp/slices"

// Handle identifies a callback registered on a Listeners.
// The zero Handle is never returned by Add.
type Handle int

type listener[E any] struct {
	h  Handle
	fn func(E)
}

// Listeners is a list of callbacks invoked synchronously, in registration order, on the goroutine calling Notify.
// Effects of the callbacks are therefore visible to the caller of Notify once it returns.
// The zero value is ready to use. It is not safe for concurrent use.
type Listeners[E any] struct {
	last      Handle
	listeners []listener[E]
}

// Add registers fn and returns a handle to remove it later.
func (l *Listeners[E]) Add(fn func(E)) Handle {
	l.last++
	l.listeners = append(l.listeners, listener[E]{h: l.last, fn: fn})
	return l.last
}

// Remove unregisters the callback with handle h. It returns false if h isn't registered.
// Removing a callback while Notify is running prevents it from being called later in that same Notify.
func (l *Listeners[E]) Remove(h Handle) bool {
	i := l.index(h)
	if i == -1 {
		return false
	}
	l.listeners = slices.Delete(l.listeners, i, i+1)
	return true
}

func (l *Listeners[E]) index(h Handle) int {
	return slices.IndexFunc(l.listeners, func(ls listener[E]) bool { return ls.h == h })
}

// Len returns the number of registered callbacks.
func (l *Listeners[E]) Len() int { return len(l.listeners) }

// Notify calls every registered callback with e.
// Callbacks added during Notify are not called until the next Notify.
func (l *Listeners[E]) Notify(e E) {
	snapshot := slices.Clone(l.listeners)
	for _, ls := range snapshot {
		if l.index(ls.h) == -1 {
			// removed by an earlier callback
			continue
		}
		ls.fn(e)
	}
}
