package relay

import (
	"strings"
	"testing"
	"time"

	"github.com/solstice-desk/relay/internal/config"
	"github.com/solstice-desk/relay/internal/session"
)

func TestAnnounceIssuesSessionReady(t *testing.T) {
	rig := newTestRig(t, nil)
	peer := &fakePeer{}
	agent := session.NewClient("agent-1", peer)

	code := rig.announce(t, agent, peer, "Ops-1")

	env := decodeEnvelope(t, peer.lastMessage(t))
	if _, ok := env.Payload["expiresAt"].(float64); !ok {
		t.Errorf("session_ready missing expiresAt: %v", env.Payload)
	}
	if agent.Role() != session.Agent {
		t.Errorf("role after announce = %v, want agent", agent.Role())
	}
	if _, ok := rig.store.GetByCode(code); !ok {
		t.Error("announced session not resolvable by code")
	}
}

func TestSecondAnnounceRejected(t *testing.T) {
	rig := newTestRig(t, nil)
	peer := &fakePeer{}
	agent := session.NewClient("agent-1", peer)

	rig.announce(t, agent, peer, "Ops-1")
	rig.router.HandleMessage(agent, []byte(`{"type":"announce_agent","payload":{"deviceName":"Ops-2","os":"linux"}}`))

	env := decodeEnvelope(t, peer.lastMessage(t))
	if env.Type != "error" || env.Message != "Already registered" {
		t.Errorf("second announce reply = %+v, want error/Already registered", env)
	}
	if stats := rig.store.Stats(); stats.Sessions != 1 {
		t.Errorf("sessions = %d after rejected re-announce, want 1", stats.Sessions)
	}
}

func TestInvalidAnnouncePayloadGetsErrorReply(t *testing.T) {
	rig := newTestRig(t, nil)
	peer := &fakePeer{}
	c := session.NewClient("c1", peer)

	rig.router.HandleMessage(c, []byte(`{"type":"announce_agent","payload":{"os":"linux"}}`))

	env := decodeEnvelope(t, peer.lastMessage(t))
	if env.Type != "error" || env.Message != "Invalid announce payload" {
		t.Errorf("reply = %+v, want Invalid announce payload error", env)
	}
	if c.Role() != session.Observer {
		t.Errorf("role changed by invalid announce: %v", c.Role())
	}
}

func TestMalformedMessageDroppedSilently(t *testing.T) {
	rig := newTestRig(t, nil)
	peer := &fakePeer{}
	c := session.NewClient("c1", peer)

	rig.router.HandleMessage(c, []byte(`not json at all`))
	rig.router.HandleMessage(c, []byte(`{"type":"no_such_type","payload":{}}`))

	if len(peer.messages()) != 0 {
		t.Errorf("malformed/unknown messages produced %d replies, want 0", len(peer.messages()))
	}
}

func TestViewerJoinFlow(t *testing.T) {
	rig := newTestRig(t, nil)
	agentPeer := &fakePeer{}
	agent := session.NewClient("agent-1", agentPeer)
	code := rig.announce(t, agent, agentPeer, "Ops-1")

	viewerPeer := &fakePeer{}
	viewer := session.NewClient("viewer-1", viewerPeer)
	// Codes are case-normalized at the join surface.
	rig.join(t, viewer, strings.ToLower(code), "Alice")

	accept := decodeEnvelope(t, viewerPeer.lastMessage(t))
	if accept.Type != "session_accept" {
		t.Fatalf("viewer reply type = %q, want session_accept", accept.Type)
	}
	if accept.Payload["code"] != code || accept.Payload["deviceName"] != "Ops-1" {
		t.Errorf("session_accept payload = %v", accept.Payload)
	}
	if v, _ := accept.Payload["viewers"].(float64); v != 1 {
		t.Errorf("session_accept viewers = %v, want 1", accept.Payload["viewers"])
	}

	joined := decodeEnvelope(t, agentPeer.lastMessage(t))
	if joined.Type != "viewer_joined" {
		t.Fatalf("agent notice type = %q, want viewer_joined", joined.Type)
	}
	if joined.Payload["nickname"] != "Alice" {
		t.Errorf("viewer_joined nickname = %v, want Alice", joined.Payload["nickname"])
	}
	if tv, _ := joined.Payload["totalViewers"].(float64); tv != 1 {
		t.Errorf("totalViewers = %v, want 1", joined.Payload["totalViewers"])
	}

	if viewer.Role() != session.Viewer {
		t.Errorf("role after join = %v, want viewer", viewer.Role())
	}
}

func TestViewerJoinUnknownCode(t *testing.T) {
	rig := newTestRig(t, nil)
	peer := &fakePeer{}
	viewer := session.NewClient("viewer-1", peer)

	rig.join(t, viewer, "ZZZZZZ", "Alice")

	env := decodeEnvelope(t, peer.lastMessage(t))
	if env.Type != "session_rejected" || env.Payload["reason"] != "SESSION_NOT_FOUND" {
		t.Errorf("reply = %+v, want session_rejected/SESSION_NOT_FOUND", env)
	}
	if viewer.Role() != session.Observer {
		t.Errorf("role after failed join = %v, want observer", viewer.Role())
	}
}

func TestViewerJoinSessionFull(t *testing.T) {
	rig := newTestRig(t, func(cfg *config.Config) { cfg.Relay.MaxViewers = 1 })

	agentPeer := &fakePeer{}
	agent := session.NewClient("agent-1", agentPeer)
	code := rig.announce(t, agent, agentPeer, "Ops-1")

	first := session.NewClient("viewer-1", &fakePeer{})
	rig.join(t, first, code, "Alice")

	secondPeer := &fakePeer{}
	second := session.NewClient("viewer-2", secondPeer)
	rig.join(t, second, code, "Bob")

	env := decodeEnvelope(t, secondPeer.lastMessage(t))
	if env.Type != "session_rejected" || env.Payload["reason"] != "SESSION_FULL" {
		t.Errorf("reply = %+v, want session_rejected/SESSION_FULL", env)
	}
}

func TestFrameFanOut(t *testing.T) {
	rig := newTestRig(t, nil)
	agentPeer := &fakePeer{}
	agent := session.NewClient("agent-1", agentPeer)
	code := rig.announce(t, agent, agentPeer, "Ops-1")

	viewerPeer := &fakePeer{}
	viewer := session.NewClient("viewer-1", viewerPeer)
	rig.join(t, viewer, code, "Alice")

	before := len(viewerPeer.messages())
	rig.router.HandleMessage(agent, []byte(`{"type":"frame","payload":{"data":"aGVsbG8gd29ybGQh","width":1280,"height":720,"bytes":900}}`))

	msgs := viewerPeer.messages()
	if len(msgs) != before+1 {
		t.Fatalf("viewer received %d frames, want 1", len(msgs)-before)
	}
	env := decodeEnvelope(t, msgs[len(msgs)-1])
	if env.Type != "frame" {
		t.Fatalf("forwarded type = %q, want frame", env.Type)
	}
	if env.Payload["data"] != "aGVsbG8gd29ybGQh" || env.Payload["mime"] != "image/jpeg" {
		t.Errorf("frame payload = %v", env.Payload)
	}
}

func TestFrameFromNonAgentRejected(t *testing.T) {
	rig := newTestRig(t, nil)
	agentPeer := &fakePeer{}
	agent := session.NewClient("agent-1", agentPeer)
	code := rig.announce(t, agent, agentPeer, "Ops-1")

	viewerPeer := &fakePeer{}
	viewer := session.NewClient("viewer-1", viewerPeer)
	rig.join(t, viewer, code, "Alice")

	rig.router.HandleMessage(viewer, []byte(`{"type":"frame","payload":{"data":"aGVsbG8gd29ybGQh","width":10,"height":10,"bytes":5}}`))

	env := decodeEnvelope(t, viewerPeer.lastMessage(t))
	if env.Type != "error" {
		t.Errorf("frame from viewer reply = %+v, want error envelope", env)
	}
}

func TestFrameDroppedWithoutCredit(t *testing.T) {
	rig := newTestRig(t, nil)
	agentPeer := &fakePeer{}
	agent := session.NewClient("agent-1", agentPeer)
	code := rig.announce(t, agent, agentPeer, "Ops-1")

	viewerPeer := &fakePeer{}
	viewer := session.NewClient("viewer-1", viewerPeer)
	rig.join(t, viewer, code, "Alice")
	before := len(viewerPeer.messages())

	// Exhaust the credit externally; the next frame must be dropped, not
	// queued.
	for rig.store.MarkFrameQueued(code) {
	}
	rig.router.HandleMessage(agent, []byte(`{"type":"frame","payload":{"data":"aGVsbG8gd29ybGQh","width":10,"height":10,"bytes":5}}`))

	if got := len(viewerPeer.messages()); got != before {
		t.Errorf("viewer received %d messages after credit exhaustion, want 0", got-before)
	}
}

func TestInputEventForwardedWithViewerID(t *testing.T) {
	rig := newTestRig(t, nil)
	agentPeer := &fakePeer{}
	agent := session.NewClient("agent-1", agentPeer)
	code := rig.announce(t, agent, agentPeer, "Ops-1")

	viewer := session.NewClient("viewer-1", &fakePeer{})
	rig.join(t, viewer, code, "Alice")

	rig.router.HandleMessage(viewer, []byte(`{"type":"input_event","payload":{"kind":"mouse_move","x":0.25,"y":0.75}}`))

	env := decodeEnvelope(t, agentPeer.lastMessage(t))
	if env.Type != "input_event" {
		t.Fatalf("agent received %q, want input_event", env.Type)
	}
	if env.Payload["viewerId"] != "viewer-1" {
		t.Errorf("viewerId = %v, want viewer-1", env.Payload["viewerId"])
	}
	if x, _ := env.Payload["x"].(float64); x != 0.25 {
		t.Errorf("x = %v, want 0.25", env.Payload["x"])
	}
}

func TestInputEventFromAgentRejected(t *testing.T) {
	rig := newTestRig(t, nil)
	agentPeer := &fakePeer{}
	agent := session.NewClient("agent-1", agentPeer)
	rig.announce(t, agent, agentPeer, "Ops-1")

	rig.router.HandleMessage(agent, []byte(`{"type":"input_event","payload":{"kind":"mouse_move","x":0.5,"y":0.5}}`))

	env := decodeEnvelope(t, agentPeer.lastMessage(t))
	if env.Type != "error" {
		t.Errorf("input from agent reply = %+v, want error envelope", env)
	}
}

func TestChatFanOut(t *testing.T) {
	rig := newTestRig(t, nil)
	fixed := time.UnixMilli(1700000000000)
	rig.router.now = func() time.Time { return fixed }

	agentPeer := &fakePeer{}
	agent := session.NewClient("agent-1", agentPeer)
	code := rig.announce(t, agent, agentPeer, "Ops-1")

	viewerPeer := &fakePeer{}
	viewer := session.NewClient("viewer-1", viewerPeer)
	rig.join(t, viewer, code, "Alice")

	rig.router.HandleMessage(agent, []byte(`{"type":"chat_message","payload":{"message":"hi","nickname":"Ops-1"}}`))

	for name, peer := range map[string]*fakePeer{"agent": agentPeer, "viewer": viewerPeer} {
		env := decodeEnvelope(t, peer.lastMessage(t))
		if env.Type != "chat_message" {
			t.Fatalf("%s received %q, want chat_message", name, env.Type)
		}
		if env.Payload["sender"] != "agent" || env.Payload["message"] != "hi" {
			t.Errorf("%s chat payload = %v", name, env.Payload)
		}
		if ts, _ := env.Payload["timestamp"].(float64); int64(ts) != fixed.UnixMilli() {
			t.Errorf("%s timestamp = %v, want %d", name, env.Payload["timestamp"], fixed.UnixMilli())
		}
	}
}

func TestChatWithoutSessionDropped(t *testing.T) {
	rig := newTestRig(t, nil)
	peer := &fakePeer{}
	c := session.NewClient("c1", peer)

	rig.router.HandleMessage(c, []byte(`{"type":"chat_message","payload":{"message":"hi","nickname":"x"}}`))
	if len(peer.messages()) != 0 {
		t.Errorf("unbound chat produced %d replies, want 0", len(peer.messages()))
	}
}

func TestFileOfferRouting(t *testing.T) {
	rig := newTestRig(t, nil)
	agentPeer := &fakePeer{}
	agent := session.NewClient("agent-1", agentPeer)
	code := rig.announce(t, agent, agentPeer, "Ops-1")

	viewerPeer := &fakePeer{}
	viewer := session.NewClient("viewer-1", viewerPeer)
	rig.join(t, viewer, code, "Alice")

	// Agent offer fans out to viewers.
	rig.router.HandleMessage(agent, []byte(`{"type":"file_offer","payload":{"fileId":"file-0001","name":"a.txt","size":10,"direction":"agent_to_viewer"}}`))
	env := decodeEnvelope(t, viewerPeer.lastMessage(t))
	if env.Type != "file_offer" || env.Payload["sender"] != "agent" {
		t.Errorf("viewer offer = %+v", env)
	}
	if _, hasViewerID := env.Payload["viewerId"]; hasViewerID {
		t.Error("agent-originated offer tagged with a viewerId")
	}

	// Viewer offer goes to the agent only, annotated.
	rig.router.HandleMessage(viewer, []byte(`{"type":"file_offer","payload":{"fileId":"file-0002","name":"b.txt","size":10,"direction":"viewer_to_agent"}}`))
	env = decodeEnvelope(t, agentPeer.lastMessage(t))
	if env.Type != "file_offer" || env.Payload["sender"] != "viewer" || env.Payload["viewerId"] != "viewer-1" {
		t.Errorf("agent offer = %+v", env)
	}
}

func TestFileChunkRouting(t *testing.T) {
	rig := newTestRig(t, nil)
	agentPeer := &fakePeer{}
	agent := session.NewClient("agent-1", agentPeer)
	code := rig.announce(t, agent, agentPeer, "Ops-1")

	viewerPeer := &fakePeer{}
	viewer := session.NewClient("viewer-1", viewerPeer)
	rig.join(t, viewer, code, "Alice")

	rig.router.HandleMessage(viewer, []byte(`{"type":"file_chunk","payload":{"fileId":"file-0002","index":0,"total":1,"data":"YWJj","done":true}}`))
	env := decodeEnvelope(t, agentPeer.lastMessage(t))
	if env.Type != "file_chunk" || env.Payload["viewerId"] != "viewer-1" {
		t.Errorf("agent chunk = %+v", env)
	}
	if done, _ := env.Payload["done"].(bool); !done {
		t.Errorf("done flag lost: %v", env.Payload)
	}
}

func TestHeartbeatForwardedForViewers(t *testing.T) {
	rig := newTestRig(t, nil)
	agentPeer := &fakePeer{}
	agent := session.NewClient("agent-1", agentPeer)
	code := rig.announce(t, agent, agentPeer, "Ops-1")

	viewerPeer := &fakePeer{}
	viewer := session.NewClient("viewer-1", viewerPeer)
	rig.join(t, viewer, code, "Alice")
	before := viewer.LastHeartbeat()

	rig.router.HandleMessage(viewer, []byte(`{"type":"heartbeat","payload":{"fps":30,"latency":12}}`))

	env := decodeEnvelope(t, agentPeer.lastMessage(t))
	if env.Type != "viewer_heartbeat" || env.Payload["viewerId"] != "viewer-1" {
		t.Errorf("heartbeat notice = %+v", env)
	}
	if fps, _ := env.Payload["fps"].(float64); fps != 30 {
		t.Errorf("fps = %v, want 30", env.Payload["fps"])
	}
	if _, hasCPU := env.Payload["cpu"]; hasCPU {
		t.Error("absent cpu field forwarded anyway")
	}
	if !viewer.LastHeartbeat().After(before) && viewer.LastHeartbeat() != before {
		t.Error("heartbeat not recorded")
	}

	// Agent heartbeats update liveness but produce no notice.
	agentBefore := len(agentPeer.messages())
	rig.router.HandleMessage(agent, []byte(`{"type":"heartbeat","payload":{}}`))
	if len(agentPeer.messages()) != agentBefore {
		t.Error("agent heartbeat produced a notice")
	}
}
