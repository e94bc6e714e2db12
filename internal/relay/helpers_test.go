package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solstice-desk/relay/internal/config"
	"github.com/solstice-desk/relay/internal/session"
)

// fakePeer records everything sent or closed on it. It satisfies both
// session.Peer and the hub's shutdown requirement.
type fakePeer struct {
	mu      sync.Mutex
	sent    [][]byte
	closes  []int
	reasons []string
	down    bool
	reject  bool // when true, Send reports failure
}

func (p *fakePeer) Send(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject {
		return false
	}
	p.sent = append(p.sent, data)
	return true
}

func (p *fakePeer) CloseWithStatus(code int, reason string) {
	p.mu.Lock()
	p.closes = append(p.closes, code)
	p.reasons = append(p.reasons, reason)
	p.mu.Unlock()
}

func (p *fakePeer) shutdown() {
	p.mu.Lock()
	p.down = true
	p.mu.Unlock()
}

func (p *fakePeer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.closes)
}

func (p *fakePeer) lastClose() (int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.closes) == 0 {
		return 0, ""
	}
	return p.closes[len(p.closes)-1], p.reasons[len(p.reasons)-1]
}

func (p *fakePeer) isDown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.down
}

func (p *fakePeer) messages() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.sent))
	copy(out, p.sent)
	return out
}

func (p *fakePeer) lastMessage(t *testing.T) []byte {
	t.Helper()
	msgs := p.messages()
	if len(msgs) == 0 {
		t.Fatal("no messages sent to peer")
	}
	return msgs[len(msgs)-1]
}

// envelope is the loose decoded form tests assert against.
type envelope struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Payload map[string]any `json:"payload"`
}

func decodeEnvelope(t *testing.T, data []byte) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope %s: %v", data, err)
	}
	return env
}

type testRig struct {
	cfg    *config.Config
	store  *session.Store
	mx     *Metrics
	hub    *Hub
	router *Router
	server *Server
}

func newTestRig(t *testing.T, mutate func(*config.Config)) *testRig {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.NewStore(cfg.Relay.SessionTTL, cfg.Relay.MaxViewers, cfg.Relay.MaxFrameQueue)
	mx := NewMetrics(store)
	hub := NewHub(store, cfg.Relay.SweepInterval, logger, mx)
	t.Cleanup(hub.Stop)
	router := NewRouter(store, logger, mx)
	server := NewServer(cfg, store, hub, router, logger, mx)

	return &testRig{cfg: cfg, store: store, mx: mx, hub: hub, router: router, server: server}
}

// announce registers c as an agent and returns the issued session code.
func (r *testRig) announce(t *testing.T, c *session.Client, peer *fakePeer, device string) string {
	t.Helper()
	r.router.HandleMessage(c, []byte(`{"type":"announce_agent","payload":{"deviceName":"`+device+`","os":"linux"}}`))

	env := decodeEnvelope(t, peer.lastMessage(t))
	if env.Type != "session_ready" {
		t.Fatalf("announce reply type = %q, want session_ready", env.Type)
	}
	code, _ := env.Payload["code"].(string)
	if len(code) != session.CodeLength {
		t.Fatalf("session code %q has length %d", code, len(code))
	}
	return code
}

func (r *testRig) join(t *testing.T, c *session.Client, code, nickname string) {
	t.Helper()
	r.router.HandleMessage(c, []byte(`{"type":"viewer_join","payload":{"code":"`+code+`","nickname":"`+nickname+`"}}`))
}

// wsPair spins up a throwaway upgrade endpoint and returns both ends of a
// live websocket connection.
func wsPair(t *testing.T) (serverConn, clientConn *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	select {
	case serverConn = <-connCh:
		t.Cleanup(func() { serverConn.Close() })
		return serverConn, clientConn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil
	}
}
