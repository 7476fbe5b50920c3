package pairing

import (
	"encoding/json"
	"log"

	"github.com/unimeet/stranger-chat/internal/messaging"
)

// Lifecycle event types carried on pair.events.<conn_id> subjects.
const (
	EventEstablished = "pairing_established"
	EventPeerLeft    = "peer_left"
)

// Event is the payload published to a connection's pair.events subject.
type Event struct {
	Type      string `json:"type"`
	PairingID string `json:"pairing_id,omitempty"`
	PeerID    string `json:"peer_id,omitempty"`
	PeerName  string `json:"peer_name,omitempty"`
}

// NATSNotifier publishes engine notifications over NATS so the gateway
// holding each connection can forward them, wherever that gateway runs.
type NATSNotifier struct {
	nats *messaging.NATSClient
}

// NewNATSNotifier creates a Notifier backed by the given NATS client.
func NewNATSNotifier(nc *messaging.NATSClient) *NATSNotifier {
	return &NATSNotifier{nats: nc}
}

// PairingEstablished publishes a pairing_established event to the member's
// event subject. Publish failures are logged and not retried.
func (n *NATSNotifier) PairingEstablished(connID, peerID, peerName, pairingID string) {
	data, err := json.Marshal(Event{
		Type:      EventEstablished,
		PairingID: pairingID,
		PeerID:    peerID,
		PeerName:  peerName,
	})
	if err != nil {
		log.Printf("[pairing] marshal established event for %s: %v", connID, err)
		return
	}
	if err := n.nats.PublishPairEvent(connID, data); err != nil {
		log.Printf("[pairing] publish established event for %s: %v", connID, err)
	}
}

// PeerLeft publishes a peer_left event to the remaining member's subject.
func (n *NATSNotifier) PeerLeft(connID string) {
	data, err := json.Marshal(Event{Type: EventPeerLeft})
	if err != nil {
		log.Printf("[pairing] marshal peer_left event for %s: %v", connID, err)
		return
	}
	if err := n.nats.PublishPairEvent(connID, data); err != nil {
		log.Printf("[pairing] publish peer_left event for %s: %v", connID, err)
	}
}
