package session

import "time"

// Close codes sent when the registry severs a socket. Clients distinguish
// the two causes, so the values must stay distinct.
const (
	CloseSessionExpired   = 4000
	CloseHostDisconnected = 4001
)

// Metadata carries the agent-supplied description of the machine behind a
// session. The registry validates nothing here beyond what the protocol
// layer already checked; the fields are opaque payload for viewers.
type Metadata struct {
	DeviceName   string   `json:"deviceName"`
	OS           string   `json:"os"`
	Region       string   `json:"region,omitempty"`
	Version      string   `json:"version,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// record is the store's internal session state. It never leaves the store's
// lock; callers see Snapshot and PeerRef copies instead.
type record struct {
	code        string
	agent       *Client
	viewers     map[string]*Client
	createdAt   time.Time
	expiresAt   time.Time
	metadata    Metadata
	frameCredit int
}

// Snapshot is a copy-out view of a session, safe to retain and serialize.
type Snapshot struct {
	Code      string    `json:"code"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Viewers   int       `json:"viewers"`
}

// PeerRef is a send handle captured under the store lock. The Peer itself
// is safe for concurrent use, so the ref may be used after the lock drops
// even if the session has since changed.
type PeerRef struct {
	ID       string
	Nickname string
	Peer     Peer
}

// Detach reports what DetachClient removed.
type Detach struct {
	Code             string
	WasAgent         bool
	ViewerID         string
	Agent            PeerRef // valid when a viewer left and the session persists
	RemainingViewers int
}

// Stats is the aggregate exposed on the health endpoint.
type Stats struct {
	Sessions int `json:"sessions"`
	Viewers  int `json:"viewers"`
}

func (r *record) snapshot() Snapshot {
	return Snapshot{
		Code:      r.code,
		Metadata:  r.metadata,
		CreatedAt: r.createdAt,
		ExpiresAt: r.expiresAt,
		Viewers:   len(r.viewers),
	}
}
