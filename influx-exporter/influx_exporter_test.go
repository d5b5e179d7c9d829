package main

import (
	"strings"
	"testing"
	"time"

	"github.com/zabeloliver/harmony-exporter/harmony-api/harmonyClient"
	"github.com/zabeloliver/harmony-exporter/harmony-api/harmonyHbus"
)

func event(t *testing.T, evType harmonyClient.EventType, frame string) harmonyClient.Event {
	t.Helper()
	m, err := harmonyHbus.Unpack([]byte(frame))
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	return harmonyClient.Event{Type: evType, Message: m}
}

func TestEventLine(t *testing.T) {
	labels := ActivityLabelMap{"100": "Watch TV", "-1": "PowerOff"}
	ts := time.Unix(1700000000, 0)

	cases := []struct {
		ev   harmonyClient.Event
		want string
		ok   bool
	}{
		{
			ev:   event(t, harmonyClient.EventActivityStarted, `{"type":"harmony.engine?startActivityFinished","data":{"activityId":"100","errorCode":200}}`),
			want: "harmony_activityStarted,activityId=100,label=Watch_TV started=1u 1700000000000000000",
			ok:   true,
		},
		{
			ev:   event(t, harmonyClient.EventStateDigest, `{"type":"connect.stateDigest?notify","data":{"activityId":"-1","activityStatus":0}}`),
			want: "harmony_stateDigest,activityId=-1,label=PowerOff status=0i 1700000000000000000",
			ok:   true,
		},
		{
			ev: event(t, harmonyClient.EventStateDigest, `{"type":"connect.stateDigest?notify","data":{}}`),
		},
		{
			ev: event(t, harmonyClient.EventAutomationState, `{"type":"automation.state?notify","data":{}}`),
		},
	}
	for _, tc := range cases {
		line, ok, err := eventLine(tc.ev, labels, ts)
		if err != nil {
			t.Fatalf("eventLine: %v", err)
		}
		if ok != tc.ok || line != tc.want {
			t.Fatalf("eventLine(%s) = %q %v, want %q %v", tc.ev.Type, line, ok, tc.want, tc.ok)
		}
	}
}

func TestEventLineUnknownLabel(t *testing.T) {
	ev := event(t, harmonyClient.EventActivityStarted, `{"data":{"activityId":"7"}}`)
	line, ok, err := eventLine(ev, ActivityLabelMap{}, time.Unix(0, 0))
	if err != nil || !ok {
		t.Fatalf("eventLine: %v %v", ok, err)
	}
	if !strings.Contains(line, "label=unknown") {
		t.Fatalf("line = %q", line)
	}
}

func TestTagValue(t *testing.T) {
	for in, want := range map[string]string{
		"Watch TV": "Watch_TV",
		"a,b=c":    "a_b_c",
		"":         "unknown",
		"PowerOff": "PowerOff",
	} {
		if got := tagValue(in); got != want {
			t.Fatalf("tagValue(%q) = %q, want %q", in, got, want)
		}
	}
}
