package session

import (
	"sync"
	"time"
)

// Store is the authoritative session table. Every operation takes the lock
// for its whole logical step, so capacity checks, code uniqueness, and
// teardown cascades are atomic with respect to each other.
//
// Reads and writes both begin with an opportunistic expiry sweep, so a
// session whose TTL has elapsed is never observable through any accessor,
// regardless of when the periodic sweep last ran.
type Store struct {
	mu            sync.Mutex
	sessions      map[string]*record
	clientCode    map[string]string
	ttl           time.Duration
	maxViewers    int
	maxFrameQueue int
	now           func() time.Time
}

func NewStore(ttl time.Duration, maxViewers, maxFrameQueue int) *Store {
	return &Store{
		sessions:      make(map[string]*record),
		clientCode:    make(map[string]string),
		ttl:           ttl,
		maxViewers:    maxViewers,
		maxFrameQueue: maxFrameQueue,
		now:           time.Now,
	}
}

// CreateSession mints a new session owned by agent. The code is drawn from
// the unambiguous alphabet and retried until it collides with no live
// session; with 32^6 candidates retries are rare but still handled.
func (s *Store) CreateSession(agent *Client, md Metadata) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	code := generateCode()
	for _, exists := s.sessions[code]; exists; _, exists = s.sessions[code] {
		code = generateCode()
	}

	now := s.now()
	r := &record{
		code:      code,
		agent:     agent,
		viewers:   make(map[string]*Client),
		createdAt: now,
		expiresAt: now.Add(s.ttl),
		metadata:  md,
	}

	agent.setSessionCode(code)
	s.sessions[code] = r
	s.clientCode[agent.ID] = code
	return r.snapshot()
}

// GetByCode returns a snapshot of the session for code, sweeping first so a
// stale session is never reported as present.
func (s *Store) GetByCode(code string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	r, ok := s.sessions[code]
	if !ok {
		return Snapshot{}, false
	}
	return r.snapshot(), true
}

// GetByClientID resolves the session a connection is bound to, if any.
func (s *Store) GetByClientID(clientID string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	code, ok := s.clientCode[clientID]
	if !ok {
		return Snapshot{}, false
	}
	r, ok := s.sessions[code]
	if !ok {
		return Snapshot{}, false
	}
	return r.snapshot(), true
}

// AttachViewer adds viewer to the session for code. The capacity check and
// the insert happen under one lock acquisition. On success the returned
// PeerRef is the session's agent, for the viewer_joined notice.
func (s *Store) AttachViewer(code string, viewer *Client) (Snapshot, PeerRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	r, ok := s.sessions[code]
	if !ok {
		return Snapshot{}, PeerRef{}, ErrSessionNotFound
	}
	if len(r.viewers) >= s.maxViewers {
		return Snapshot{}, PeerRef{}, ErrSessionFull
	}

	viewer.setSessionCode(code)
	r.viewers[viewer.ID] = viewer
	s.clientCode[viewer.ID] = code
	return r.snapshot(), peerRef(r.agent), nil
}

// DetachClient removes a connection from its session. If the connection is
// the agent, the session is torn down and every viewer socket is closed
// with the host-disconnected status. If it is a viewer, only that viewer
// entry is removed. Idempotent: detaching an unknown or already-removed id
// reports ok=false and does nothing.
func (s *Store) DetachClient(clientID string) (Detach, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.clientCode[clientID]
	if !ok {
		return Detach{}, false
	}
	r, ok := s.sessions[code]
	if !ok {
		delete(s.clientCode, clientID)
		return Detach{}, false
	}

	if r.agent.ID == clientID {
		s.teardownLocked(r, false)
		return Detach{Code: code, WasAgent: true}, true
	}

	viewer, ok := r.viewers[clientID]
	if !ok {
		delete(s.clientCode, clientID)
		return Detach{}, false
	}
	delete(r.viewers, clientID)
	delete(s.clientCode, clientID)
	viewer.setSessionCode("")
	return Detach{
		Code:             code,
		ViewerID:         clientID,
		Agent:            peerRef(r.agent),
		RemainingViewers: len(r.viewers),
	}, true
}

// Revoke tears down the session for code as if its agent had disconnected:
// viewers are closed with the host-disconnected status and the session is
// deleted. The agent socket itself is left for the caller to sever.
func (s *Store) Revoke(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	r, ok := s.sessions[code]
	if !ok {
		return false
	}
	s.teardownLocked(r, false)
	return true
}

// AgentPeer returns a send handle for the session's agent.
func (s *Store) AgentPeer(code string) (PeerRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.sessions[code]
	if !ok {
		return PeerRef{}, false
	}
	return peerRef(r.agent), true
}

// ViewerPeers returns send handles for every viewer currently attached to
// the session. The slice is a copy taken under the lock.
func (s *Store) ViewerPeers(code string) []PeerRef {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.sessions[code]
	if !ok {
		return nil
	}
	refs := make([]PeerRef, 0, len(r.viewers))
	for _, v := range r.viewers {
		refs = append(refs, peerRef(v))
	}
	return refs
}

// MarkFrameQueued acquires one unit of frame-forwarding credit. It returns
// false without mutation when the session is unknown or the credit is at
// its ceiling; the caller must then drop the frame, not queue it.
func (s *Store) MarkFrameQueued(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.sessions[code]
	if !ok {
		return false
	}
	if r.frameCredit >= s.maxFrameQueue {
		return false
	}
	r.frameCredit++
	return true
}

// MarkFrameDelivered releases one unit of frame credit, floored at zero.
func (s *Store) MarkFrameDelivered(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.sessions[code]
	if !ok {
		return
	}
	if r.frameCredit > 0 {
		r.frameCredit--
	}
}

// RemoveStale evicts every session whose expiry has passed, closing the
// agent and all viewer sockets with the session-expired status. It returns
// the number of sessions evicted. Safe to call concurrently with itself and
// with every other operation.
func (s *Store) RemoveStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

// Stats reports live session and viewer counts, sweeping first.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	viewers := 0
	for _, r := range s.sessions {
		viewers += len(r.viewers)
	}
	return Stats{Sessions: len(s.sessions), Viewers: viewers}
}

func (s *Store) sweepLocked() int {
	now := s.now()
	evicted := 0
	for _, r := range s.sessions {
		if !r.expiresAt.After(now) {
			s.teardownLocked(r, true)
			evicted++
		}
	}
	return evicted
}

// teardownLocked deletes a session and clears every connection mapping it
// held. When expired is true all sockets (agent included) are closed with
// the session-expired status; otherwise viewers are closed with the
// host-disconnected status and the agent socket is left to its caller.
func (s *Store) teardownLocked(r *record, expired bool) {
	closeCode := CloseHostDisconnected
	reason := "Host disconnected"
	if expired {
		closeCode = CloseSessionExpired
		reason = "Session expired"
		r.agent.peer.CloseWithStatus(closeCode, reason)
	}

	for id, v := range r.viewers {
		v.peer.CloseWithStatus(closeCode, reason)
		v.setSessionCode("")
		delete(s.clientCode, id)
		delete(r.viewers, id)
	}

	r.agent.setSessionCode("")
	delete(s.clientCode, r.agent.ID)
	delete(s.sessions, r.code)
}

func peerRef(c *Client) PeerRef {
	return PeerRef{ID: c.ID, Nickname: c.Nickname(), Peer: c.peer}
}
