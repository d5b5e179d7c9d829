package harmonyClient

import (
	"sync"

	"github.com/zabeloliver/harmony-exporter/harmony-api/harmonyHbus"
)

type EventType string

const (
	EventOpen            EventType = "open"
	EventClose           EventType = "close"
	EventStateDigest     EventType = "stateDigest"
	EventAutomationState EventType = "automationState"
	EventActivityStarted EventType = "activityStarted"
)

// Event is delivered to subscribers. Message is set for push notifications,
// Err carries the cause of a close when there was one.
type Event struct {
	Type    EventType
	Message *harmonyHbus.Message
	Err     error
}

var pushTypes = map[string]EventType{
	harmonyHbus.TypeStateDigest:     EventStateDigest,
	harmonyHbus.TypeAutomationState: EventAutomationState,
	harmonyHbus.TypeActivityStarted: EventActivityStarted,
}

// classify maps an uncorrelated inbound message to its notification.
// Unknown types are not an error, the firmware sends undocumented ones.
func classify(m *harmonyHbus.Message) (Event, bool) {
	t, ok := pushTypes[m.Type]
	if !ok {
		return Event{}, false
	}
	return Event{Type: t, Message: m}, true
}

// Events fans notifications out to subscribers. Publishing never blocks:
// every subscription queues on its own and feeds its channel from a
// separate goroutine.
type Events struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NewEvents() *Events {
	return &Events{subs: make(map[*Subscription]struct{})}
}

type Subscription struct {
	C <-chan Event

	events *Events
	types  map[EventType]bool
	out    chan Event
	mu     sync.Mutex
	queue  []Event
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Subscribe registers for the given event types, or for all of them when
// none are given. Call Close to stop delivery and release the goroutine.
func (e *Events) Subscribe(types ...EventType) *Subscription {
	out := make(chan Event)
	s := &Subscription{
		C:      out,
		events: e,
		out:    out,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	if len(types) > 0 {
		s.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}

	e.mu.Lock()
	e.subs[s] = struct{}{}
	e.mu.Unlock()

	go s.pump()
	return s
}

func (e *Events) publish(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for s := range e.subs {
		s.enqueue(ev)
	}
}

func (s *Subscription) enqueue(ev Event) {
	if s.types != nil && !s.types[ev.Type] {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		pending := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range pending {
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

// Close unsubscribes. C is closed once the pump has stopped.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.events.mu.Lock()
		delete(s.events.subs, s)
		s.events.mu.Unlock()
		close(s.done)
	})
}
