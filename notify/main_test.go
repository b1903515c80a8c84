package notify

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestListenersOrder(t *testing.T) {
	var l Listeners[int]
	got := []string{}
	l.Add(func(v int) { got = append(got, "a") })
	l.Add(func(v int) { got = append(got, "b") })
	l.Add(func(v int) { got = append(got, "c") })
	l.Notify(1)
	expected := []string{"a", "b", "c"}
	if !cmp.Equal(got, expected) {
		t.Fatalf("order diff: %s", cmp.Diff(expected, got))
	}
}

func TestListenersRemove(t *testing.T) {
	var l Listeners[int]
	got := []string{}
	var hb Handle
	l.Add(func(v int) {
		got = append(got, "a")
		l.Remove(hb)
	})
	hb = l.Add(func(v int) { got = append(got, "b") })
	l.Add(func(v int) { got = append(got, "c") })
	l.Notify(1)
	l.Notify(2)
	expected := []string{"a", "c", "a", "c"}
	if !cmp.Equal(got, expected) {
		t.Fatalf("diff: %s", cmp.Diff(expected, got))
	}
	if l.Remove(hb) {
		t.Fatal("removed twice")
	}
	if l.Len() != 2 {
		t.Fatalf("expected 2 listeners, got %d", l.Len())
	}
}

func TestListenersAddDuringNotify(t *testing.T) {
	var l Listeners[int]
	calls := 0
	l.Add(func(v int) {
		l.Add(func(v int) { calls++ })
	})
	l.Notify(1)
	if calls != 0 {
		t.Fatalf("listener added during Notify was called")
	}
	l.Notify(2)
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestMultiplexer(t *testing.T) {
	sender, m := NewMultiplexerSender[string]("test")
	a := make(chan string, 1)
	b := make(chan string, 1)
	m.Subscribe("a", a)
	m.Subscribe("b", b)
	sender.Send("hello")
	for _, c := range []chan string{a, b} {
		select {
		case got := <-c:
			if got != "hello" {
				t.Fatalf("expected hello, got %s", got)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
	m.Unsubscribe(a)
	if m.Len() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", m.Len())
	}
	// b is full after this; the next send must not hang.
	sender.Send("1")
	sender.Send("2")
	if got := <-b; got != "1" {
		t.Fatalf("expected 1, got %s", got)
	}
}

func TestMultiplexerSendDoesNotWait(t *testing.T) {
	sender, m := NewMultiplexerSender[int]("test")
	c := make(chan int)
	m.Subscribe("slow", c)
	defer m.Unsubscribe(c)
	const n = 100
	sent := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			sender.Send(i)
		}
		close(sent)
	}()
	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("Send waited for the subscriber")
	}
	for i := 0; i < n; i++ {
		select {
		case got := <-c:
			if got != i {
				t.Fatalf("expected %d, got %d", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %d", i)
		}
	}
}
