package client

import (
	"encoding/json"
	"testing"

	pion "github.com/pion/webrtc/v4"

	"github.com/unimeet/stranger-chat/internal/protocol"
)

// fakeSignaler records outbound messages and lets tests inject server
// events.
type fakeSignaler struct {
	connID   string
	username string
	sent     []json.RawMessage
	handlers map[string]func(json.RawMessage)
}

func newFakeSignaler(connID, username string) *fakeSignaler {
	return &fakeSignaler{
		connID:   connID,
		username: username,
		handlers: make(map[string]func(json.RawMessage)),
	}
}

func (f *fakeSignaler) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeSignaler) On(msgType string, handler func(json.RawMessage)) {
	f.handlers[msgType] = handler
}

func (f *fakeSignaler) ConnectionID() string { return f.connID }
func (f *fakeSignaler) Username() string     { return f.username }

// emit delivers a server frame to the registered handler.
func (f *fakeSignaler) emit(t *testing.T, msgType string, frame string) {
	t.Helper()
	handler, ok := f.handlers[msgType]
	if !ok {
		t.Fatalf("no handler registered for %q", msgType)
	}
	handler(json.RawMessage(frame))
}

// lastSent decodes the most recently sent frame into a generic map.
func (f *fakeSignaler) lastSent(t *testing.T) map[string]interface{} {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("nothing was sent")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(f.sent[len(f.sent)-1], &m); err != nil {
		t.Fatalf("decode sent frame: %v", err)
	}
	return m
}

// fakePeer records lifecycle calls without touching the network.
type fakePeer struct {
	offered  bool
	closed   bool
	tracks   int
	replaced int
	signals  []Signal
}

func (p *fakePeer) AddTrack(pion.TrackLocal) error     { p.tracks++; return nil }
func (p *fakePeer) ReplaceTrack(pion.TrackLocal) error { p.replaced++; return nil }
func (p *fakePeer) Offer() error                       { p.offered = true; return nil }
func (p *fakePeer) HandleSignal(sig Signal) error      { p.signals = append(p.signals, sig); return nil }
func (p *fakePeer) Close() error                       { p.closed = true; return nil }

// newTestController wires a controller to a fake signaler and fake peer
// factory.
func newTestController(sig *fakeSignaler) (*Controller, *fakePeer) {
	peer := &fakePeer{}
	c := NewController(sig, nil, nil)
	c.newPeer = func(func(Signal) error) (peerLink, error) {
		return peer, nil
	}
	return c, peer
}

func strangerDataFrame(peerID, peerName, pairingID string) string {
	return `{"type":"getStrangerData","pairedUserId":"` + peerID +
		`","strangerUsername":"` + peerName + `","pairingId":"` + pairingID + `"}`
}

func TestDecodePayload_PlainTextFallsBackToChat(t *testing.T) {
	p := DecodePayload("hello there")
	if p.Kind != KindChat || p.Text != "hello there" {
		t.Fatalf("expected chat fallback, got %+v", p)
	}
}

func TestDecodePayload_Roundtrip(t *testing.T) {
	encoded, err := EncodePayload(Payload{Kind: KindSignal, Signal: &Signal{SDPType: "offer", SDP: "v=0"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p := DecodePayload(encoded)
	if p.Kind != KindSignal || p.Signal == nil || p.Signal.SDPType != "offer" || p.Signal.SDP != "v=0" {
		t.Fatalf("roundtrip mismatch: %+v", p)
	}
}

func TestController_SmallerIDInitiates(t *testing.T) {
	sig := newFakeSignaler("aaa", "alice")
	c, peer := newTestController(sig)

	var pairedWith string
	c.OnPaired = func(name string) { pairedWith = name }

	sig.emit(t, protocol.TypeStrangerData, strangerDataFrame("zzz", "bob", "pair-1"))

	if !peer.offered {
		t.Error("side with smaller connection id should send the offer")
	}
	if pairedWith != "bob" {
		t.Errorf("OnPaired got %q, want bob", pairedWith)
	}
	if name, ok := c.Paired(); !ok || name != "bob" {
		t.Errorf("Paired() = %q, %v", name, ok)
	}
}

func TestController_LargerIDWaitsForOffer(t *testing.T) {
	sig := newFakeSignaler("zzz", "bob")
	_, peer := newTestController(sig)

	sig.emit(t, protocol.TypeStrangerData, strangerDataFrame("aaa", "alice", "pair-1"))

	if peer.offered {
		t.Error("side with larger connection id must not send an offer")
	}
}

func TestController_SendChatAddressesPeer(t *testing.T) {
	sig := newFakeSignaler("aaa", "alice")
	c, _ := newTestController(sig)
	sig.emit(t, protocol.TypeStrangerData, strangerDataFrame("zzz", "bob", "pair-1"))

	if err := c.SendChat("hi bob"); err != nil {
		t.Fatalf("SendChat: %v", err)
	}

	m := sig.lastSent(t)
	if m["type"] != protocol.TypePrivateMessage {
		t.Errorf("type = %v", m["type"])
	}
	if m["to"] != "zzz" {
		t.Errorf("to = %v, want zzz", m["to"])
	}
	content := m["content"].(map[string]interface{})
	p := DecodePayload(content["message"].(string))
	if p.Kind != KindChat || p.Text != "hi bob" {
		t.Errorf("decoded payload = %+v", p)
	}
}

func TestController_SendChatWhileUnpaired(t *testing.T) {
	sig := newFakeSignaler("aaa", "alice")
	c, _ := newTestController(sig)

	if err := c.SendChat("anyone there"); err == nil {
		t.Fatal("expected error when not paired")
	}
}

func TestController_NextTearsDownAndNotifies(t *testing.T) {
	sig := newFakeSignaler("aaa", "alice")
	c, peer := newTestController(sig)
	sig.emit(t, protocol.TypeStrangerData, strangerDataFrame("zzz", "bob", "pair-1"))

	if err := c.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}

	if !peer.closed {
		t.Error("peer session should be closed on next")
	}
	m := sig.lastSent(t)
	if m["type"] != protocol.TypePairedUserLeft {
		t.Errorf("type = %v", m["type"])
	}
	if m["peerConnectionId"] != "zzz" {
		t.Errorf("peerConnectionId = %v, want zzz", m["peerConnectionId"])
	}
	if _, ok := c.Paired(); ok {
		t.Error("controller should be unpaired after Next")
	}
}

func TestController_StrangerLeftClosesPeer(t *testing.T) {
	sig := newFakeSignaler("aaa", "alice")
	c, peer := newTestController(sig)

	var leftCalled bool
	c.OnPeerLeft = func() { leftCalled = true }

	sig.emit(t, protocol.TypeStrangerData, strangerDataFrame("zzz", "bob", "pair-1"))
	sig.emit(t, protocol.TypeStrangerLeft, `{"type":"strangerLeftTheChat"}`)

	if !peer.closed {
		t.Error("peer session should be closed")
	}
	if !leftCalled {
		t.Error("OnPeerLeft should have been called")
	}
	if _, ok := c.Paired(); ok {
		t.Error("controller should be unpaired")
	}
}

func TestController_RelayedSignalReachesPeer(t *testing.T) {
	sig := newFakeSignaler("zzz", "bob")
	_, peer := newTestController(sig)
	sig.emit(t, protocol.TypeStrangerData, strangerDataFrame("aaa", "alice", "pair-1"))

	encoded, err := EncodePayload(Payload{Kind: KindSignal, Signal: &Signal{SDPType: "offer", SDP: "v=0"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	frame, _ := json.Marshal(map[string]interface{}{
		"type": protocol.TypePrivateMessage,
		"content": map[string]string{
			"username": "alice",
			"message":  encoded,
			"userid":   "aaa",
		},
	})
	sig.emit(t, protocol.TypePrivateMessage, string(frame))

	if len(peer.signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(peer.signals))
	}
	if peer.signals[0].SDPType != "offer" {
		t.Errorf("sdpType = %q", peer.signals[0].SDPType)
	}
}

func TestController_RelayedChatReachesCallback(t *testing.T) {
	sig := newFakeSignaler("aaa", "alice")
	c, _ := newTestController(sig)
	sig.emit(t, protocol.TypeStrangerData, strangerDataFrame("zzz", "bob", "pair-1"))

	var gotFrom, gotText string
	c.OnChat = func(from, text string) { gotFrom, gotText = from, text }

	sig.emit(t, protocol.TypePrivateMessage,
		`{"type":"private message","content":{"username":"bob","message":"hey","userid":"zzz"}}`)

	if gotFrom != "bob" || gotText != "hey" {
		t.Errorf("chat = %q from %q", gotText, gotFrom)
	}
}

func TestController_SwitchCameraKeepsOldSourceOnFailure(t *testing.T) {
	sig := newFakeSignaler("aaa", "alice")
	c, _ := newTestController(sig)

	// An already open source fails Open, so the switch must be refused.
	bad := NewSyntheticSource("cam-back", 1)
	if _, err := bad.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer bad.Close()

	if err := c.SwitchCamera(bad); err == nil {
		t.Fatal("expected switch to fail when the source cannot open")
	}
}
