package harmonyClient

import (
	"testing"
	"time"

	"github.com/zabeloliver/harmony-exporter/harmony-api/harmonyHbus"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		msgType string
		want    EventType
		ok      bool
	}{
		{msgType: "connect.stateDigest?notify", want: EventStateDigest, ok: true},
		{msgType: "automation.state?notify", want: EventAutomationState, ok: true},
		{msgType: "harmony.engine?startActivityFinished", want: EventActivityStarted, ok: true},
		{msgType: "harmony.engine?helpdisco", ok: false},
		{msgType: "", ok: false},
	}
	for _, tc := range cases {
		ev, ok := classify(&harmonyHbus.Message{Type: tc.msgType})
		if ok != tc.ok || ev.Type != tc.want {
			t.Fatalf("classify(%q) = %q %v, want %q %v", tc.msgType, ev.Type, ok, tc.want, tc.ok)
		}
	}
}

func TestEventsFanOut(t *testing.T) {
	e := NewEvents()
	all := e.Subscribe()
	defer all.Close()
	opens := e.Subscribe(EventOpen)
	defer opens.Close()

	e.publish(Event{Type: EventOpen})
	e.publish(Event{Type: EventStateDigest})
	e.publish(Event{Type: EventClose})

	for _, want := range []EventType{EventOpen, EventStateDigest, EventClose} {
		if ev := waitEvent(t, all, want); ev.Type != want {
			t.Fatalf("got %s, want %s", ev.Type, want)
		}
	}
	expectNoEvent(t, all, 20*time.Millisecond)

	waitEvent(t, opens, EventOpen)
	expectNoEvent(t, opens, 20*time.Millisecond)
}

func TestEventsPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	e := NewEvents()
	slow := e.Subscribe()
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			e.publish(Event{Type: EventStateDigest})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on an unread subscription")
	}

	for i := 0; i < 1000; i++ {
		waitEvent(t, slow, EventStateDigest)
	}
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	e := NewEvents()
	sub := e.Subscribe()
	sub.Close()
	sub.Close()
	e.publish(Event{Type: EventOpen})

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatalf("event delivered after close")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed")
	}
}
