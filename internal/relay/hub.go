package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solstice-desk/relay/internal/protocol"
	"github.com/solstice-desk/relay/internal/session"
)

// hubPeer is what the hub needs from a socket adapter beyond the send
// handle: the ability to stop its write pump once the connection is gone.
type hubPeer interface {
	session.Peer
	shutdown()
}

// connection pairs a registry record with its socket adapter.
type connection struct {
	client *session.Client
	peer   hubPeer
}

// Hub is the connection registry: it owns the id→connection map, cascades
// socket closure into session detach, and runs the periodic TTL sweep.
type Hub struct {
	store   *session.Store
	log     *slog.Logger
	metrics *Metrics

	mu      sync.RWMutex
	clients map[string]*connection

	sweeper  *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

func NewHub(store *session.Store, sweepInterval time.Duration, log *slog.Logger, metrics *Metrics) *Hub {
	h := &Hub{
		store:   store,
		log:     log,
		metrics: metrics,
		clients: make(map[string]*connection),
		sweeper: time.NewTicker(sweepInterval),
		done:    make(chan struct{}),
	}
	go h.sweepLoop()
	return h
}

// Register creates a Connection record for a freshly upgraded socket. The
// new connection starts in the observer role; it never fails.
func (h *Hub) Register(peer hubPeer) *session.Client {
	client := session.NewClient(uuid.NewString(), peer)

	h.mu.Lock()
	h.clients[client.ID] = &connection{client: client, peer: peer}
	h.mu.Unlock()

	h.metrics.Connections.Inc()
	return client
}

// Remove drops a connection and detaches it from its session. Idempotent:
// removing an unknown or already-removed id does nothing. When a viewer
// leaves a surviving session, the agent is told.
func (h *Hub) Remove(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if ok {
		delete(h.clients, clientID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	if detach, ok := h.store.DetachClient(clientID); ok && !detach.WasAgent {
		notice, err := protocol.MarshalEnvelope(protocol.MsgViewerLeft, protocol.ViewerLeft{
			ViewerID:     detach.ViewerID,
			TotalViewers: detach.RemainingViewers,
		})
		if err == nil {
			detach.Agent.Peer.Send(notice)
		}
	}

	c.peer.shutdown()
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// sweepLoop bounds the worst-case staleness window; the store also sweeps
// opportunistically on its own reads and writes.
func (h *Hub) sweepLoop() {
	for {
		select {
		case <-h.sweeper.C:
			if n := h.store.RemoveStale(); n > 0 {
				h.log.Info("session_expired", "evicted", n)
			}
		case <-h.done:
			return
		}
	}
}

// Stop cancels the sweep timer. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.sweeper.Stop()
		close(h.done)
	})
}
