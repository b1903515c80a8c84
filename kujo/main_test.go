package kujo

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	. "nyiyui.ca/hato/shingou"
	"nyiyui.ca/hato/shingou/notify"
	"nyiyui.ca/hato/shingou/panel"
)

// readData returns the payload of the next data line of stream.
func readData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
}

func connect(t *testing.T, ctx context.Context, url, stream string) *bufio.Reader {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, "GET", url+"?stream="+stream, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	return bufio.NewReader(resp.Body)
}

func TestStreams(t *testing.T) {
	sender, mux := notify.NewMultiplexerSender[Event]("test")
	snapshot := panel.Snapshot{Name: "test", Heads: []panel.HeadState{{Module: "west", ID: "1", Aspect: "G"}}}
	s := NewServer(mux, func(context.Context) (panel.Snapshot, error) { return snapshot, nil }, 10*time.Millisecond)
	ts := httptest.NewServer(s)
	defer ts.Close()
	defer s.Close()
	// cancelled first: disconnects the clients so that ts.Close doesn't wait on open streams
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// streams aren't replayed, so subscribe before anything is published
	snapshots := connect(t, ctx, ts.URL, StreamSnapshot)
	go s.Run(ctx)
	var got panel.Snapshot
	if err := json.Unmarshal([]byte(readData(t, snapshots)), &got); err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(got, snapshot) {
		t.Fatalf("snapshot diff: %s", cmp.Diff(snapshot, got))
	}

	events := connect(t, ctx, ts.URL, StreamEvents)
	for mux.Len() == 0 {
		time.Sleep(time.Millisecond)
	}
	e := Event{Kind: EventAspect, Module: "west", Name: "1", Value: "R", Time: time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)}
	sender.Send(e)
	var gotE Event
	if err := json.Unmarshal([]byte(readData(t, events)), &gotE); err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(gotE, e) {
		t.Fatalf("event diff: %s", cmp.Diff(e, gotE))
	}
}
