package harmonyClient

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

type hubRequest struct {
	HubId   string `json:"hubId"`
	Timeout int    `json:"timeout"`
	Hbus    struct {
		Cmd    string         `json:"cmd"`
		Id     int64          `json:"id"`
		Params map[string]any `json:"params"`
	} `json:"hbus"`
	at time.Time
}

// fakeHub answers the provisioning call and accepts one WebSocket session
// at a time. reply decides the data for a request, or that the hub stays
// silent.
type fakeHub struct {
	t             *testing.T
	server        *httptest.Server
	remoteId      string
	reply         func(req hubRequest) (any, bool)
	rejectUpgrade atomic.Bool
	stallUpgrade  atomic.Bool
	release       chan struct{}

	provisionCalls atomic.Int32
	heartbeats     atomic.Int32
	received       chan hubRequest
	queries        chan url.Values

	mu   sync.Mutex
	conn *websocket.Conn
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func newFakeHub(t *testing.T, reply func(req hubRequest) (any, bool)) *fakeHub {
	t.Helper()
	h := &fakeHub{
		t:        t,
		remoteId: "001122",
		reply:    reply,
		received: make(chan hubRequest, 256),
		queries:  make(chan url.Values, 8),
		release:  make(chan struct{}),
	}
	h.server = httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(func() {
		close(h.release)
		h.mu.Lock()
		if h.conn != nil {
			h.conn.Close()
		}
		h.mu.Unlock()
		h.server.Close()
	})
	return h
}

func (h *fakeHub) serve(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		h.serveSession(w, r)
		return
	}
	h.provisionCalls.Add(1)
	if r.Method != http.MethodPost {
		http.Error(w, "method", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]any{
			"activeRemoteId":  h.remoteId,
			"discoveryServer": "https://svcs.myharmony.com",
		},
	})
}

func (h *fakeHub) serveSession(w http.ResponseWriter, r *http.Request) {
	if h.stallUpgrade.Load() {
		select {
		case <-h.release:
		case <-r.Context().Done():
		}
		return
	}
	if h.rejectUpgrade.Load() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	conn, err := testUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case h.queries <- r.URL.Query():
	default:
	}
	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if len(frame) == 0 {
			h.heartbeats.Add(1)
			continue
		}
		req := hubRequest{}
		if err := json.Unmarshal(frame, &req); err != nil {
			continue
		}
		req.at = time.Now()
		h.received <- req
		if h.reply == nil {
			continue
		}
		if data, ok := h.reply(req); ok {
			h.send(replyTo(req, data))
		}
	}
}

func replyTo(req hubRequest, data any) map[string]any {
	return map[string]any{
		"cmd":  req.Hbus.Cmd,
		"code": 200,
		"id":   req.Hbus.Id,
		"msg":  "OK",
		"data": data,
	}
}

func (h *fakeHub) send(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		h.t.Errorf("fake hub has no session")
		return
	}
	if err := h.conn.WriteJSON(v); err != nil {
		h.t.Logf("fake hub write: %v", err)
	}
}

func (h *fakeHub) dropConnection() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		h.conn.Close()
	}
}

// next returns the next request the hub received with the given verb,
// skipping others.
func (h *fakeHub) next(cmd string) hubRequest {
	h.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case req := <-h.received:
			if req.Hbus.Cmd == cmd {
				return req
			}
		case <-timeout:
			h.t.Fatalf("timed out waiting for %s", cmd)
		}
	}
}

func (h *fakeHub) hostPort() (string, int) {
	u, _ := url.Parse(h.server.URL)
	host, port, _ := net.SplitHostPort(u.Host)
	p, _ := strconv.Atoi(port)
	return host, p
}

func newTestClient(t *testing.T, h *fakeHub) *HarmonyClient {
	t.Helper()
	host, port := h.hostPort()
	c := NewHarmonyClient(host, zaptest.NewLogger(t).Sugar())
	c.SetPort(port)
	c.SetConnectTimeout(2 * time.Second)
	c.SetSendTimeout(2 * time.Second)
	c.SetHeartbeatInterval(time.Hour)
	t.Cleanup(c.Close)
	return c
}

func waitEvent(t *testing.T, sub *Subscription, want EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				t.Fatalf("subscription closed while waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func expectNoEvent(t *testing.T, sub *Subscription, within time.Duration) {
	t.Helper()
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected %s event", ev.Type)
	case <-time.After(within):
	}
}
