package harmonyClient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zabeloliver/harmony-exporter/harmony-api/harmonyHbus"
)

type SessionState int

const (
	StateIdle SessionState = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type sessionOptions struct {
	hubAddr           string
	connectTimeout    time.Duration
	sendTimeout       time.Duration
	heartbeatInterval time.Duration
	httpClient        *http.Client
	dialer            *websocket.Dialer
}

type result struct {
	msg *harmonyHbus.Message
	err error
}

// Session owns one WebSocket connection to the hub. It moves through
// idle -> connecting -> open -> closed and never leaves closed.
type Session struct {
	opts   sessionOptions
	events *Events
	logger *zap.SugaredLogger

	mu       sync.Mutex
	state    SessionState
	identity HubIdentity
	conn     *websocket.Conn
	opening  chan struct{}
	openErr  error
	pending  map[string]chan result
	nextId   int64

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(opts sessionOptions, events *Events, logger *zap.SugaredLogger) *Session {
	return &Session{
		opts:    opts,
		events:  events,
		logger:  logger.With("session", uuid.NewString()),
		pending: make(map[string]chan result),
		done:    make(chan struct{}),
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsOpen() bool {
	return s.State() == StateOpen
}

func (s *Session) Identity() HubIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Open resolves the hub identity and establishes the socket. Concurrent
// callers share the attempt in flight; once open it returns immediately.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateOpen:
		s.mu.Unlock()
		return nil
	case StateClosed:
		s.mu.Unlock()
		return ErrTransportClosed
	case StateConnecting:
		opening := s.opening
		s.mu.Unlock()
		select {
		case <-opening:
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.openErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.state = StateConnecting
	s.opening = make(chan struct{})
	s.mu.Unlock()

	err := s.open(ctx)

	s.mu.Lock()
	s.openErr = err
	close(s.opening)
	s.mu.Unlock()

	if err != nil {
		s.teardown(err)
		return err
	}
	return nil
}

func (s *Session) open(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.connectTimeout)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.logger.Info("Resolving hub identity at ", s.opts.hubAddr)
	identity, err := ResolveIdentity(ctx, s.opts.httpClient, s.opts.hubAddr)
	if err != nil {
		return err
	}

	wsUrl := sessionURL(s.opts.hubAddr, identity)
	s.logger.Info("Opening hub session ", wsUrl)
	conn, _, err := s.opts.dialer.DialContext(ctx, wsUrl, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		// closed while dialing
		s.mu.Unlock()
		conn.Close()
		return ErrTransportClosed
	}
	s.identity = identity
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(conn)

	digest := harmonyHbus.NewEnvelope(identity.RemoteId, harmonyHbus.CmdStateDigest, map[string]any{
		"verb":   "get",
		"format": "json",
	})
	if _, err := s.Send(digest); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrTransportClosed
	}
	s.state = StateOpen
	go s.heartbeat(s.opts.heartbeatInterval)
	// published under mu so a racing teardown cannot emit close first
	s.events.publish(Event{Type: EventOpen})
	s.mu.Unlock()

	s.logger.Info("Hub session open, remote ", identity.RemoteId)
	return nil
}

// Request sends env with a fresh id and waits for the reply carrying it.
func (s *Session) Request(ctx context.Context, env harmonyHbus.Envelope) (*harmonyHbus.Message, error) {
	ch := make(chan result, 1)

	s.mu.Lock()
	switch s.state {
	case StateOpen:
	case StateClosed:
		s.mu.Unlock()
		return nil, ErrTransportClosed
	default:
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session is %s", ErrConnect, state)
	}
	s.nextId++
	env.Hbus.Id = s.nextId
	key := harmonyHbus.FormatId(env.Hbus.Id)
	s.pending[key] = ch
	s.mu.Unlock()

	if err := s.write(env); err != nil {
		s.forget(key)
		return nil, err
	}

	timer := time.NewTimer(s.opts.sendTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.msg, r.err
	case <-timer.C:
		s.forget(key)
		return nil, fmt.Errorf("%w: %s (id=%s) after %v", ErrTimeout, env.Hbus.Cmd, key, s.opts.sendTimeout)
	case <-ctx.Done():
		s.forget(key)
		return nil, ctx.Err()
	}
}

// Send writes env with a fresh id that is not tracked; any reply to it is
// dropped. It returns the id used.
func (s *Session) Send(env harmonyHbus.Envelope) (int64, error) {
	s.mu.Lock()
	if s.state == StateClosed || s.conn == nil {
		s.mu.Unlock()
		return 0, ErrTransportClosed
	}
	s.nextId++
	env.Hbus.Id = s.nextId
	s.mu.Unlock()

	return env.Hbus.Id, s.write(env)
}

func (s *Session) forget(key string) {
	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
}

func (s *Session) write(env harmonyHbus.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.writeFrame(payload)
}

func (s *Session) writeFrame(payload []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrTransportClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return ErrTransportClosed
	default:
	}
	conn.SetWriteDeadline(time.Now().Add(s.opts.sendTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("%w: write: %v", ErrTransportClosed, err)
	}
	return nil
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Warn("Hub read error: ", err)
				}
			}
			s.teardown(fmt.Errorf("%w: %v", ErrTransportClosed, err))
			return
		}
		if len(frame) == 0 {
			continue
		}

		m, err := harmonyHbus.Unpack(frame)
		if err != nil {
			s.logger.Debugf("Dropping undecodable frame: %s", frame)
			continue
		}
		s.route(m)
	}
}

// route publishes typed pushes and hands untyped frames to the request
// waiting for their id. A push is never taken as a reply, even when it
// echoes a pending id.
func (s *Session) route(m *harmonyHbus.Message) {
	if ev, ok := classify(m); ok {
		s.events.publish(ev)
		return
	}

	if key, ok := m.RequestId(); ok && m.Type == "" {
		s.mu.Lock()
		ch, found := s.pending[key]
		if found {
			delete(s.pending, key)
		}
		s.mu.Unlock()
		if found {
			ch <- result{msg: m}
			return
		}
	}
	s.logger.Debugf("Ignoring message type=%q cmd=%q", m.Type, m.Cmd)
}

func (s *Session) heartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.writeFrame([]byte{}); err != nil {
				select {
				case <-s.done:
					return
				default:
				}
				s.logger.Warn("Heartbeat failed: ", err)
				s.teardown(fmt.Errorf("heartbeat: %w", err))
				return
			}
		}
	}
}

// Close tears the session down. Calling it again is a no-op.
func (s *Session) Close() {
	s.teardown(nil)
}

// teardown is the single exit path: explicit close, failed open, read
// error and heartbeat failure all end here, and only the first call has
// any effect.
func (s *Session) teardown(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		conn := s.conn
		pending := s.pending
		s.pending = make(map[string]chan result)
		close(s.done)
		s.mu.Unlock()

		if conn != nil {
			s.writeMu.Lock()
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			s.writeMu.Unlock()
			conn.Close()
		}

		for _, ch := range pending {
			ch <- result{err: ErrTransportClosed}
		}

		if cause != nil && !errors.Is(cause, ErrTransportClosed) {
			s.logger.Warn("Hub session closed: ", cause)
		} else {
			s.logger.Info("Hub session closed")
		}
		s.events.publish(Event{Type: EventClose, Err: cause})
	})
}
