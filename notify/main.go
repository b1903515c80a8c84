package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

const (
	multiplexerTimeout = 200 * time.Millisecond
	// multiplexerBacklog is the number of values queued per subscriber.
	multiplexerBacklog = 256
)

type subscriber[E any] struct {
	ch      chan E
	comment string
	queue   chan E
	done    chan struct{}
	exited  chan struct{}
}

// forward delivers queued values to sub.ch in order until sub is unsubscribed.
func (sub *subscriber[E]) forward(m *Multiplexer[E]) {
	defer close(sub.exited)
	for {
		select {
		case e := <-sub.queue:
			select {
			case sub.ch <- e:
			case <-time.After(multiplexerTimeout):
				m.timeout(sub, e)
			case <-sub.done:
				return
			}
		case <-sub.done:
			return
		}
	}
}

// MultiplexerSender is the sending half of a Multiplexer.
// Only the owner of the stream should hold it.
type MultiplexerSender[E any] struct {
	m *Multiplexer[E]
}

// Send queues e for every subscriber and returns without waiting for them.
// Each subscriber receives values in the order they were sent.
// A subscriber that doesn't receive within multiplexerTimeout is skipped for that value, and values are dropped while its queue is full.
func (ms *MultiplexerSender[E]) Send(e E) {
	ms.m.send(e)
}

func NewMultiplexerSender[E any](comment string) (*MultiplexerSender[E], *Multiplexer[E]) {
	m := &Multiplexer[E]{
		comment: comment,
	}
	return &MultiplexerSender[E]{m: m}, m
}

// Multiplexer fans values out to channels. It is meant for outer layers (HTTP streams, terminal views) which run on their own goroutines; the core itself uses Listeners.
type Multiplexer[E any] struct {
	comment         string
	subscribersLock sync.Mutex
	subscribers     []*subscriber[E]
}

// Subscribe starts sending values to c. c must not be closed until Unsubscribe returns.
func (m *Multiplexer[E]) Subscribe(comment string, c chan E) {
	m.subscribersLock.Lock()
	defer m.subscribersLock.Unlock()
	sub := &subscriber[E]{
		ch:      c,
		comment: comment,
		queue:   make(chan E, multiplexerBacklog),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	m.subscribers = append(m.subscribers, sub)
	go sub.forward(m)
}

// Unsubscribe stops sending values to c. Queued values are discarded.
func (m *Multiplexer[E]) Unsubscribe(c chan E) {
	m.subscribersLock.Lock()
	defer m.subscribersLock.Unlock()
	i := slices.IndexFunc(m.subscribers, func(sub *subscriber[E]) bool { return sub.ch == c })
	if i == -1 {
		panic("already unsubscribed")
	}
	sub := m.subscribers[i]
	m.subscribers = slices.Delete(m.subscribers, i, i+1)
	close(sub.done)
	<-sub.exited
}

// Len returns the number of subscribers.
func (m *Multiplexer[E]) Len() int {
	m.subscribersLock.Lock()
	defer m.subscribersLock.Unlock()
	return len(m.subscribers)
}

func (m *Multiplexer[E]) send(e E) {
	m.subscribersLock.Lock()
	defer m.subscribersLock.Unlock()
	for _, sub := range m.subscribers {
		select {
		case sub.queue <- e:
		default:
			zap.S().Warnw("multiplexer: subscriber queue full; dropped",
				"multiplexer", m.comment,
				"subscriber", sub.comment,
				"value", e)
		}
	}
}

func (m *Multiplexer[E]) timeout(sub *subscriber[E], e E) {
	zap.S().Warnw("multiplexer: subscriber timed out",
		"multiplexer", m.comment,
		"subscriber", sub.comment,
		"value", e)
}
