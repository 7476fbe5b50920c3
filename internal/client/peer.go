package client

import (
	"fmt"
	"log"
	"sync"

	pion "github.com/pion/webrtc/v4"
)

// DefaultSTUNServers are used when no ICE servers are configured.
var DefaultSTUNServers = []string{"stun:stun.l.google.com:19302"}

// PeerSession wraps a WebRTC peer connection for one pairing. Signaling
// steps go out through the sendSignal callback, which the controller wires
// to the relay channel; incoming steps are fed in via HandleSignal.
type PeerSession struct {
	pc         *pion.PeerConnection
	sendSignal func(Signal) error

	mu        sync.Mutex
	sender    *pion.RTPSender
	pending   []pion.ICECandidateInit // candidates received before the remote description
	remoteSet bool
	closed    bool
}

// NewPeerSession creates a peer connection with the given STUN servers and
// registers the ICE candidate handler. Pass nil for stunServers to use
// DefaultSTUNServers.
func NewPeerSession(stunServers []string, sendSignal func(Signal) error) (*PeerSession, error) {
	if len(stunServers) == 0 {
		stunServers = DefaultSTUNServers
	}

	pc, err := pion.NewPeerConnection(pion.Configuration{
		ICEServers: []pion.ICEServer{{URLs: stunServers}},
	})
	if err != nil {
		return nil, fmt.Errorf("client: create peer connection: %w", err)
	}

	p := &PeerSession{pc: pc, sendSignal: sendSignal}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		if err := p.sendSignal(Signal{Candidate: &init}); err != nil {
			log.Printf("client: send ICE candidate: %v", err)
		}
	})

	return p, nil
}

// OnRemoteTrack registers a callback for incoming media tracks.
func (p *PeerSession) OnRemoteTrack(fn func(track *pion.TrackRemote)) {
	p.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		fn(track)
	})
}

// OnDisconnected registers a callback for ICE failure or closure.
func (p *PeerSession) OnDisconnected(fn func()) {
	p.pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		if state == pion.ICEConnectionStateFailed || state == pion.ICEConnectionStateClosed {
			fn()
		}
	})
}

// AddTrack attaches a local media track. The returned sender is retained so
// ReplaceTrack can swap the source later without renegotiation.
func (p *PeerSession) AddTrack(track pion.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("client: add track: %w", err)
	}
	p.mu.Lock()
	p.sender = sender
	p.mu.Unlock()
	return nil
}

// ReplaceTrack swaps the outgoing media track in place. The peer keeps
// receiving on the same sender, so no renegotiation is needed.
func (p *PeerSession) ReplaceTrack(track pion.TrackLocal) error {
	p.mu.Lock()
	sender := p.sender
	p.mu.Unlock()

	if sender == nil {
		return fmt.Errorf("client: no sender to replace track on")
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("client: replace track: %w", err)
	}
	return nil
}

// Offer creates an SDP offer, sets it as the local description, and sends
// it to the peer. Only the initiating side of a pairing calls this.
func (p *PeerSession) Offer() error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("client: create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("client: set local description: %w", err)
	}

	local := p.pc.LocalDescription()
	return p.sendSignal(Signal{SDPType: "offer", SDP: local.SDP})
}

// HandleSignal applies one signaling step from the peer: an offer produces
// an answer, an answer completes the exchange, and candidates are added
// (buffered until the remote description is set).
func (p *PeerSession) HandleSignal(sig Signal) error {
	switch {
	case sig.SDPType == "offer":
		desc := pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: sig.SDP}
		if err := p.pc.SetRemoteDescription(desc); err != nil {
			return fmt.Errorf("client: set remote offer: %w", err)
		}
		p.flushPending()

		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("client: create answer: %w", err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("client: set local description: %w", err)
		}
		local := p.pc.LocalDescription()
		return p.sendSignal(Signal{SDPType: "answer", SDP: local.SDP})

	case sig.SDPType == "answer":
		desc := pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: sig.SDP}
		if err := p.pc.SetRemoteDescription(desc); err != nil {
			return fmt.Errorf("client: set remote answer: %w", err)
		}
		p.flushPending()
		return nil

	case sig.Candidate != nil:
		p.mu.Lock()
		if !p.remoteSet {
			p.pending = append(p.pending, *sig.Candidate)
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()
		if err := p.pc.AddICECandidate(*sig.Candidate); err != nil {
			return fmt.Errorf("client: add ICE candidate: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("client: unexpected signal sdpType=%q", sig.SDPType)
	}
}

// flushPending applies candidates that arrived before the remote
// description was set.
func (p *PeerSession) flushPending() {
	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			log.Printf("client: add buffered ICE candidate: %v", err)
		}
	}
}

// Close tears down the peer connection. Safe to call multiple times.
func (p *PeerSession) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.pc.Close()
}
