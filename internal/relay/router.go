package relay

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/solstice-desk/relay/internal/protocol"
	"github.com/solstice-desk/relay/internal/session"
)

// Router validates inbound envelopes and dispatches them according to the
// sender's role and session binding. Schema failures are dropped without
// touching the connection; state errors (wrong role, second announce) are
// answered with an error envelope. Registry failures surface here as typed
// errors and only here become wire replies.
type Router struct {
	store   *session.Store
	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

func NewRouter(store *session.Store, log *slog.Logger, metrics *Metrics) *Router {
	return &Router{store: store, log: log, metrics: metrics, now: time.Now}
}

func (rt *Router) HandleMessage(c *session.Client, raw []byte) {
	in, err := protocol.Decode(raw)
	if err != nil {
		rt.metrics.InvalidMessages.Inc()
		rt.log.Warn("ws_invalid_message", "client", c.ID, "error", err)
		if in == nil {
			return
		}
		// The join and announce flows promise an explicit reply.
		switch in.Type {
		case protocol.MsgAnnounceAgent:
			c.Peer().Send(protocol.ErrorEnvelope("Invalid announce payload"))
		case protocol.MsgViewerJoin:
			c.Peer().Send(protocol.ErrorEnvelope("Invalid viewer payload"))
		}
		return
	}

	rt.metrics.Messages.WithLabelValues(string(in.Type)).Inc()

	switch msg := in.Msg.(type) {
	case *protocol.AnnounceAgent:
		rt.handleAnnounce(c, msg)
	case *protocol.ViewerJoin:
		rt.handleViewerJoin(c, msg)
	case *protocol.Frame:
		rt.handleFrame(c, msg)
	case *protocol.InputEvent:
		rt.handleInput(c, in.Raw)
	case *protocol.Chat:
		rt.handleChat(c, msg)
	case *protocol.FileOffer:
		rt.handleFileOffer(c, msg)
	case *protocol.FileChunk:
		rt.handleFileChunk(c, msg)
	case *protocol.Heartbeat:
		rt.handleHeartbeat(c, msg)
	}
}

func (rt *Router) handleAnnounce(c *session.Client, msg *protocol.AnnounceAgent) {
	if err := c.Promote(session.Agent); err != nil {
		c.Peer().Send(protocol.ErrorEnvelope("Already registered"))
		return
	}

	snap := rt.store.CreateSession(c, session.Metadata{
		DeviceName:   msg.DeviceName,
		OS:           msg.OS,
		Region:       msg.Region,
		Version:      msg.Version,
		Capabilities: msg.Capabilities,
	})

	rt.reply(c, protocol.MsgSessionReady, protocol.SessionReady{
		Code:      snap.Code,
		ExpiresAt: snap.ExpiresAt.UnixMilli(),
	})
	rt.log.Info("session_created",
		"code", snap.Code, "agent", c.ID, "device", msg.DeviceName)
}

func (rt *Router) handleViewerJoin(c *session.Client, msg *protocol.ViewerJoin) {
	if c.Role() != session.Observer {
		c.Peer().Send(protocol.ErrorEnvelope("Already registered"))
		return
	}

	code := session.Normalize(msg.Code)
	nickname := strings.TrimSpace(msg.Nickname)

	snap, agent, err := rt.store.AttachViewer(code, c)
	if err != nil {
		rt.reply(c, protocol.MsgSessionRejected, protocol.SessionRejected{Reason: err.Error()})
		return
	}

	// AttachViewer succeeded, so this connection was still an observer and
	// the promotion cannot fail.
	_ = c.Promote(session.Viewer)
	c.SetNickname(nickname)

	rt.reply(c, protocol.MsgSessionAccept, protocol.SessionAccept{
		Code:       snap.Code,
		DeviceName: snap.Metadata.DeviceName,
		OS:         snap.Metadata.OS,
		Region:     snap.Metadata.Region,
		ExpiresAt:  snap.ExpiresAt.UnixMilli(),
		Viewers:    snap.Viewers,
	})

	notice, err := protocol.MarshalEnvelope(protocol.MsgViewerJoined, protocol.ViewerJoined{
		ViewerID:     c.ID,
		Nickname:     nickname,
		TotalViewers: snap.Viewers,
	})
	if err == nil {
		agent.Peer.Send(notice)
	}

	rt.log.Info("viewer_joined", "code", code, "viewer", c.ID)
}

func (rt *Router) handleFrame(c *session.Client, msg *protocol.Frame) {
	if c.Role() != session.Agent {
		c.Peer().Send(protocol.ErrorEnvelope("Not registered as agent"))
		return
	}
	code := c.SessionCode()
	if code == "" {
		return
	}

	// Sole backpressure gate: no credit means the frame is dropped here,
	// never queued. The credit bounds concurrent in-flight fan-outs; it is
	// released as soon as this synchronous fan-out completes.
	if !rt.store.MarkFrameQueued(code) {
		rt.metrics.FramesDropped.Inc()
		return
	}

	data, err := protocol.MarshalEnvelope(protocol.MsgFrame, msg)
	if err == nil {
		for _, v := range rt.store.ViewerPeers(code) {
			v.Peer.Send(data)
		}
		rt.metrics.FramesRelayed.Inc()
	}
	rt.store.MarkFrameDelivered(code)
}

func (rt *Router) handleInput(c *session.Client, raw json.RawMessage) {
	if c.Role() != session.Viewer {
		c.Peer().Send(protocol.ErrorEnvelope("Not registered as viewer"))
		return
	}
	code := c.SessionCode()
	if code == "" {
		return
	}
	agent, ok := rt.store.AgentPeer(code)
	if !ok {
		return
	}

	// Forward the validated payload with the sending viewer's id spliced
	// in, leaving the event fields untouched.
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return
	}
	fields["viewerId"] = c.ID
	data, err := protocol.MarshalEnvelope(protocol.MsgInputEvent, fields)
	if err == nil {
		agent.Peer.Send(data)
	}
}

func (rt *Router) handleChat(c *session.Client, msg *protocol.Chat) {
	code := c.SessionCode()
	if code == "" {
		return
	}

	data, err := protocol.MarshalEnvelope(protocol.MsgChatMessage, protocol.ChatBroadcast{
		Message:   msg.Message,
		Nickname:  msg.Nickname,
		Sender:    c.Role().String(),
		Timestamp: rt.now().UnixMilli(),
	})
	if err != nil {
		return
	}

	if agent, ok := rt.store.AgentPeer(code); ok {
		agent.Peer.Send(data)
	}
	for _, v := range rt.store.ViewerPeers(code) {
		v.Peer.Send(data)
	}
}

func (rt *Router) handleFileOffer(c *session.Client, msg *protocol.FileOffer) {
	code := c.SessionCode()
	if code == "" {
		return
	}

	relayMsg := protocol.FileOfferRelay{FileOffer: *msg, Sender: c.Role().String()}
	if c.Role() == session.Agent {
		data, err := protocol.MarshalEnvelope(protocol.MsgFileOffer, relayMsg)
		if err != nil {
			return
		}
		for _, v := range rt.store.ViewerPeers(code) {
			v.Peer.Send(data)
		}
		return
	}

	relayMsg.ViewerID = c.ID
	data, err := protocol.MarshalEnvelope(protocol.MsgFileOffer, relayMsg)
	if err != nil {
		return
	}
	if agent, ok := rt.store.AgentPeer(code); ok {
		agent.Peer.Send(data)
	}
}

func (rt *Router) handleFileChunk(c *session.Client, msg *protocol.FileChunk) {
	code := c.SessionCode()
	if code == "" {
		return
	}

	relayMsg := protocol.FileChunkRelay{FileChunk: *msg, Sender: c.Role().String()}
	if c.Role() == session.Agent {
		data, err := protocol.MarshalEnvelope(protocol.MsgFileChunk, relayMsg)
		if err != nil {
			return
		}
		for _, v := range rt.store.ViewerPeers(code) {
			v.Peer.Send(data)
		}
		return
	}

	relayMsg.ViewerID = c.ID
	data, err := protocol.MarshalEnvelope(protocol.MsgFileChunk, relayMsg)
	if err != nil {
		return
	}
	if agent, ok := rt.store.AgentPeer(code); ok {
		agent.Peer.Send(data)
	}
}

func (rt *Router) handleHeartbeat(c *session.Client, msg *protocol.Heartbeat) {
	c.TouchHeartbeat()

	code := c.SessionCode()
	if c.Role() != session.Viewer || code == "" {
		return
	}
	agent, ok := rt.store.AgentPeer(code)
	if !ok {
		return
	}
	data, err := protocol.MarshalEnvelope(protocol.MsgViewerHeartbeat, protocol.ViewerHeartbeat{
		ViewerID: c.ID,
		FPS:      msg.FPS,
		CPU:      msg.CPU,
		Latency:  msg.Latency,
	})
	if err == nil {
		agent.Peer.Send(data)
	}
}

func (rt *Router) reply(c *session.Client, t protocol.MessageType, payload any) {
	data, err := protocol.MarshalEnvelope(t, payload)
	if err != nil {
		rt.log.Error("marshal reply", "type", t, "error", err)
		return
	}
	c.Peer().Send(data)
}
