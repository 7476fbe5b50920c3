package client

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	pion "github.com/pion/webrtc/v4"

	"github.com/unimeet/stranger-chat/internal/protocol"
)

// Signaler is the transport the controller drives. *SignalingClient is the
// production implementation.
type Signaler interface {
	Send(msg interface{}) error
	On(msgType string, handler func(json.RawMessage))
	ConnectionID() string
	Username() string
}

// peerLink is the slice of PeerSession the controller needs.
type peerLink interface {
	AddTrack(track pion.TrackLocal) error
	ReplaceTrack(track pion.TrackLocal) error
	Offer() error
	HandleSignal(sig Signal) error
	Close() error
}

// Controller drives a client session through the pairing lifecycle: it
// searches for a partner, brings up a WebRTC session when one is found,
// relays chat, and tears down and re-searches on next/leave.
type Controller struct {
	sig         Signaler
	stunServers []string

	// newPeer builds the WebRTC session for a pairing. Overridable in tests.
	newPeer func(sendSignal func(Signal) error) (peerLink, error)

	mu        sync.Mutex
	peerID    string
	peerName  string
	pairingID string
	peer      peerLink
	source    MediaSource

	// OnPaired is called when a partner is found.
	OnPaired func(peerName string)
	// OnChat is called for each chat message from the partner.
	OnChat func(from, text string)
	// OnPeerLeft is called when the partner leaves or skips.
	OnPeerLeft func()
}

// NewController creates a Controller on the given signaler and registers
// its event handlers. The media source may be nil for chat-only sessions.
func NewController(sig Signaler, source MediaSource, stunServers []string) *Controller {
	c := &Controller{
		sig:         sig,
		source:      source,
		stunServers: stunServers,
	}
	c.newPeer = func(sendSignal func(Signal) error) (peerLink, error) {
		return NewPeerSession(c.stunServers, sendSignal)
	}

	sig.On(protocol.TypeStrangerData, c.handleStrangerData)
	sig.On(protocol.TypeStrangerLeft, c.handleStrangerLeft)
	sig.On(protocol.TypePrivateMessage, c.handleRelayed)
	sig.On(protocol.TypeErrSelectingPair, func(json.RawMessage) {
		log.Println("client: pairing request rejected")
	})
	return c
}

// StartSearch asks the gateway to find a partner.
func (c *Controller) StartSearch() error {
	return c.sig.Send(struct {
		Type     string `json:"type"`
		Username string `json:"username"`
	}{protocol.TypeStartConnection, c.sig.Username()})
}

// Next abandons the current partner and asks for a new one. The gateway
// re-enqueues this side automatically, so no follow-up search is needed.
func (c *Controller) Next() error {
	c.mu.Lock()
	peerID := c.peerID
	c.mu.Unlock()

	if peerID == "" {
		return fmt.Errorf("client: not paired")
	}

	c.teardownPeer()
	return c.sig.Send(struct {
		Type             string `json:"type"`
		PeerConnectionID string `json:"peerConnectionId"`
	}{protocol.TypePairedUserLeft, peerID})
}

// LeaveQueue withdraws a pending search without disconnecting.
func (c *Controller) LeaveQueue() error {
	return c.sig.Send(struct {
		Type string `json:"type"`
	}{protocol.TypeSoloUserLeft})
}

// SendChat relays a chat message to the current partner.
func (c *Controller) SendChat(text string) error {
	encoded, err := EncodePayload(Payload{Kind: KindChat, Text: text})
	if err != nil {
		return err
	}
	return c.sendRelayed(encoded)
}

// SwitchCamera swaps the media source mid-session. The new source is opened
// and its track swapped in via ReplaceTrack; if either step fails the old
// source keeps streaming and the error is returned.
func (c *Controller) SwitchCamera(next MediaSource) error {
	c.mu.Lock()
	peer := c.peer
	old := c.source
	c.mu.Unlock()

	track, err := next.Open()
	if err != nil {
		return fmt.Errorf("client: open source %q: %w", next.Label(), err)
	}

	if peer != nil {
		if err := peer.ReplaceTrack(track); err != nil {
			_ = next.Close()
			return err
		}
	}

	c.mu.Lock()
	c.source = next
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Paired reports whether a partner is currently connected, with its name.
func (c *Controller) Paired() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerName, c.peerID != ""
}

// Close tears down the active peer session.
func (c *Controller) Close() error {
	c.teardownPeer()
	return nil
}

// sendRelayed wraps encoded payload text in a relayed message addressed to
// the current partner.
func (c *Controller) sendRelayed(encoded string) error {
	c.mu.Lock()
	peerID := c.peerID
	c.mu.Unlock()

	if peerID == "" {
		return fmt.Errorf("client: not paired")
	}

	return c.sig.Send(struct {
		Type    string                  `json:"type"`
		Content protocol.MessageContent `json:"content"`
		To      string                  `json:"to"`
	}{
		Type: protocol.TypePrivateMessage,
		Content: protocol.MessageContent{
			Username: c.sig.Username(),
			Message:  encoded,
			UserID:   c.sig.ConnectionID(),
		},
		To: peerID,
	})
}

// sendSignal relays one WebRTC signaling step to the partner.
func (c *Controller) sendSignal(sig Signal) error {
	encoded, err := EncodePayload(Payload{Kind: KindSignal, Signal: &sig})
	if err != nil {
		return err
	}
	return c.sendRelayed(encoded)
}

// handleStrangerData reacts to a pairing being established: it records the
// partner, brings up the WebRTC session, and sends the offer if this side
// is the initiator. The side with the lexicographically smaller connection
// id initiates, so exactly one offer is sent per pairing.
func (c *Controller) handleStrangerData(raw json.RawMessage) {
	var msg struct {
		PairedUserID     string `json:"pairedUserId"`
		StrangerUsername string `json:"strangerUsername"`
		PairingID        string `json:"pairingId"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("client: bad stranger data: %v", err)
		return
	}

	c.teardownPeer()

	peer, err := c.newPeer(c.sendSignal)
	if err != nil {
		log.Printf("client: peer session setup failed: %v", err)
		return
	}

	c.mu.Lock()
	c.peerID = msg.PairedUserID
	c.peerName = msg.StrangerUsername
	c.pairingID = msg.PairingID
	c.peer = peer
	source := c.source
	c.mu.Unlock()

	if source != nil {
		track, err := source.Open()
		if err != nil {
			log.Printf("client: open media source: %v", err)
		} else if err := peer.AddTrack(track); err != nil {
			log.Printf("client: add track: %v", err)
		}
	}

	if c.sig.ConnectionID() < msg.PairedUserID {
		if err := peer.Offer(); err != nil {
			log.Printf("client: send offer: %v", err)
		}
	}

	if c.OnPaired != nil {
		c.OnPaired(msg.StrangerUsername)
	}
}

// handleStrangerLeft reacts to the partner leaving.
func (c *Controller) handleStrangerLeft(json.RawMessage) {
	c.teardownPeer()
	if c.OnPeerLeft != nil {
		c.OnPeerLeft()
	}
}

// handleRelayed decodes a relayed frame from the partner and routes it as
// chat or signaling.
func (c *Controller) handleRelayed(raw json.RawMessage) {
	var msg struct {
		Content protocol.MessageContent `json:"content"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("client: bad relayed frame: %v", err)
		return
	}

	p := DecodePayload(msg.Content.Message)
	switch p.Kind {
	case KindChat:
		if c.OnChat != nil {
			c.OnChat(msg.Content.Username, p.Text)
		}
	case KindSignal:
		if p.Signal == nil {
			return
		}
		c.mu.Lock()
		peer := c.peer
		c.mu.Unlock()
		if peer == nil {
			return
		}
		if err := peer.HandleSignal(*p.Signal); err != nil {
			log.Printf("client: handle signal: %v", err)
		}
	default:
		log.Printf("client: unknown payload kind %q", p.Kind)
	}
}

// teardownPeer closes the active peer session and clears partner state. The
// media source stays open for the next pairing.
func (c *Controller) teardownPeer() {
	c.mu.Lock()
	peer := c.peer
	c.peer = nil
	c.peerID = ""
	c.peerName = ""
	c.pairingID = ""
	c.mu.Unlock()

	if peer != nil {
		_ = peer.Close()
	}
}
