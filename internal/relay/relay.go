// Package relay forwards opaque payloads between exactly the two members of
// an active pairing. The relay never inspects, validates, or rewrites
// payload content; it only checks addressing against the pairing table.
// Delivery is attempted once, best-effort, with no acknowledgment.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/unimeet/stranger-chat/internal/metrics"
)

// ErrNotPaired is returned when a relay is attempted for a connection with no
// active pairing, or when the supplied destination is not the current peer.
var ErrNotPaired = errors.New("relay: connection not paired")

// PairTable resolves a connection's active pairing. Implemented by the
// pairing engine.
type PairTable interface {
	PeerOf(connID string) (peerID, pairingID string, ok bool)
}

// Bus carries relayed payloads to whichever gateway holds the peer.
// Implemented by the NATS client.
type Bus interface {
	PublishRelay(pairingID string, data []byte) error
}

// Frame is the unit published on a pairing's relay subject. Payload is the
// sender's original frame, forwarded verbatim; From lets the receiving
// gateway skip echoing to the sender.
type Frame struct {
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// Relay forwards payloads between pairing members.
type Relay struct {
	pairs PairTable
	bus   Bus
}

// New creates a Relay over the given pairing table and delivery bus.
func New(pairs PairTable, bus Bus) *Relay {
	return &Relay{pairs: pairs, bus: bus}
}

// Relay forwards the sender's payload to its current peer. The `to` address
// supplied by the client must name the current peer (or be empty); anything
// else is refused as ErrNotPaired, exactly as if the peer had already left.
func (r *Relay) Relay(fromConnID, to string, payload []byte) error {
	peerID, pairingID, ok := r.pairs.PeerOf(fromConnID)
	if !ok {
		metrics.RelayedMessages.WithLabelValues("not_paired").Inc()
		return ErrNotPaired
	}
	if to != "" && to != peerID {
		metrics.RelayedMessages.WithLabelValues("not_paired").Inc()
		return ErrNotPaired
	}

	frame, err := json.Marshal(Frame{From: fromConnID, Payload: payload})
	if err != nil {
		return fmt.Errorf("relay: marshal frame: %w", err)
	}
	if err := r.bus.PublishRelay(pairingID, frame); err != nil {
		return fmt.Errorf("relay: publish to pairing %s: %w", pairingID, err)
	}

	metrics.RelayedMessages.WithLabelValues("forwarded").Inc()
	return nil
}
