// Package kujo streams panel events and snapshots as server-sent events.
//
// Streams (select with ?stream=):
//
//	events    one JSON Event per change
//	snapshot  a JSON panel.Snapshot, at most once per interval while the panel changes
package kujo

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
	. "nyiyui.ca/hato/shingou"
	"nyiyui.ca/hato/shingou/notify"
	"nyiyui.ca/hato/shingou/panel"
)

const (
	StreamEvents   = "events"
	StreamSnapshot = "snapshot"
)

// SnapshotFunc returns the panel's current snapshot. It must be safe to call from any goroutine, e.g. by going through runtime.Instance.
type SnapshotFunc func(ctx context.Context) (panel.Snapshot, error)

type Server struct {
	events   *notify.Multiplexer[Event]
	snapshot SnapshotFunc
	interval time.Duration
	dirty    atomic.Bool
	s        *sse.Server
}

func NewServer(events *notify.Multiplexer[Event], snapshot SnapshotFunc, interval time.Duration) *Server {
	s := &Server{
		events:   events,
		snapshot: snapshot,
		interval: interval,
		s:        sse.New(),
	}
	s.s.AutoReplay = false
	s.s.CreateStream(StreamEvents)
	s.s.CreateStream(StreamSnapshot)
	// first snapshot goes out on the first tick
	s.dirty.Store(true)
	return s
}

// Run forwards events and snapshots until ctx is done.
func (s *Server) Run(ctx context.Context) {
	go s.forwardSnapshots(ctx)
	s.forwardEvents(ctx)
}

func (s *Server) forwardEvents(ctx context.Context) {
	ch := make(chan Event, 64)
	s.events.Subscribe("kujo", ch)
	defer s.events.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			s.dirty.Store(true)
			data, err := json.Marshal(e)
			if err != nil {
				zap.S().Errorw("kujo: marshal json", "err", err)
				continue
			}
			s.s.TryPublish(StreamEvents, &sse.Event{
				Event: []byte(e.Kind),
				Data:  data,
			})
		}
	}
}

func (s *Server) forwardSnapshots(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !s.dirty.Swap(false) {
				continue
			}
			if err := s.publishSnapshot(ctx); err != nil {
				zap.S().Warnw("kujo: snapshot failed", "err", err)
				s.dirty.Store(true)
			}
		}
	}
}

func (s *Server) publishSnapshot(ctx context.Context) error {
	ps, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ps)
	if err != nil {
		return err
	}
	s.s.TryPublish(StreamSnapshot, &sse.Event{
		Data: data,
	})
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.s.ServeHTTP(w, r)
}

func (s *Server) Close() {
	s.s.Close()
}
