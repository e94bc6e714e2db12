package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const closeWriteDeadline = time.Second

// wsPeer adapts a gorilla connection to session.Peer. Outbound messages go
// through a buffered channel drained by a single writePump goroutine; a
// byte ceiling on the queued-but-unsent backlog keeps a non-draining socket
// from growing an unbounded queue — over-budget sends are skipped, never
// retried.
type wsPeer struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte

	buffered    atomic.Int64
	maxBuffered int64
}

func newWSPeer(conn *websocket.Conn, queueSize int, maxBuffered int64) *wsPeer {
	p := &wsPeer{
		conn:        conn,
		send:        make(chan []byte, queueSize),
		maxBuffered: maxBuffered,
	}
	go p.writePump()
	return p
}

// Send queues data for delivery. It returns false, dropping the message,
// when the peer is shut down, the queue is full, or the pending backlog
// would exceed the byte ceiling.
func (p *wsPeer) Send(data []byte) bool {
	if p.buffered.Load()+int64(len(data)) > p.maxBuffered {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.send <- data:
		p.buffered.Add(int64(len(data)))
		return true
	default:
		return false
	}
}

// CloseWithStatus sends a close frame with the given status code, then
// tears the connection down. WriteControl is safe to call concurrently
// with the writePump.
func (p *wsPeer) CloseWithStatus(code int, reason string) {
	deadline := time.Now().Add(closeWriteDeadline)
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = p.conn.Close()
}

// shutdown stops the writePump and rejects further sends. Idempotent.
func (p *wsPeer) shutdown() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.send)
	}
	p.mu.Unlock()
}

func (p *wsPeer) writePump() {
	defer p.conn.Close()
	for msg := range p.send {
		p.buffered.Add(-int64(len(msg)))
		if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			// The read loop sees the dead connection and triggers the
			// registry detach; drain remaining messages so senders are
			// never blocked.
			for msg := range p.send {
				p.buffered.Add(-int64(len(msg)))
			}
			return
		}
	}
}
