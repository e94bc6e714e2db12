package protocol

// Outbound notice payloads. Times travel as millisecond epochs to match
// what the desktop host and browser viewer expect.

type SessionReady struct {
	Code      string `json:"code"`
	ExpiresAt int64  `json:"expiresAt"`
}

type SessionAccept struct {
	Code       string `json:"code"`
	DeviceName string `json:"deviceName"`
	OS         string `json:"os"`
	Region     string `json:"region,omitempty"`
	ExpiresAt  int64  `json:"expiresAt"`
	Viewers    int    `json:"viewers"`
}

type SessionRejected struct {
	Reason string `json:"reason"`
}

type ViewerJoined struct {
	ViewerID     string `json:"viewerId"`
	Nickname     string `json:"nickname"`
	TotalViewers int    `json:"totalViewers"`
}

type ViewerLeft struct {
	ViewerID     string `json:"viewerId"`
	TotalViewers int    `json:"totalViewers"`
}

type ViewerHeartbeat struct {
	ViewerID string   `json:"viewerId"`
	FPS      *float64 `json:"fps,omitempty"`
	CPU      *float64 `json:"cpu,omitempty"`
	Latency  *float64 `json:"latency,omitempty"`
}

// ChatBroadcast is the fanned-out form of a chat message, annotated with
// the sender's role and a server-side timestamp.
type ChatBroadcast struct {
	Message   string `json:"message"`
	Nickname  string `json:"nickname"`
	Sender    string `json:"sender"`
	Timestamp int64  `json:"timestamp"`
}

// FileOfferRelay is a forwarded file offer annotated with the sender role
// and, when it came from a viewer, the viewer's id.
type FileOfferRelay struct {
	FileOffer
	Sender   string `json:"sender"`
	ViewerID string `json:"viewerId,omitempty"`
}

// FileChunkRelay is a forwarded file chunk with the same annotations.
type FileChunkRelay struct {
	FileChunk
	Sender   string `json:"sender"`
	ViewerID string `json:"viewerId,omitempty"`
}
