// Package protocol defines the WebSocket events exchanged between the pairing
// gateway and its clients. All frames are JSON with a "type" discriminator
// carrying the event name. The event names are a legacy contract shared with
// deployed browser clients and must not be renamed.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Event name constants
// ---------------------------------------------------------------------------

// Client -> Server events.
const (
	TypeStartConnection = "startConnection"       // enter the matching queue
	TypePairedUserLeft  = "pairedUserLeftTheChat" // leave the current pairing, search again
	TypeSoloUserLeft    = "soloUserLeftTheChat"   // abandon the queue before being paired
	TypePrivateMessage  = "private message"       // relayed chat/signaling payload
	TypePing            = "ping"
)

// Server -> Client events.
const (
	TypeSessionCreated   = "sessionCreated"      // connection registered, carries own id
	TypeStrangerData     = "getStrangerData"     // pairing established
	TypeStrangerLeft     = "strangerLeftTheChat" // peer disconnected or moved on
	TypeErrSelectingPair = "errSelectingPair"    // transient pairing/relay failure, retry
	TypeError            = "error"
	TypePong             = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event name and the raw JSON payload for deferred parsing
// into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server event structs
// ---------------------------------------------------------------------------

// StartConnectionMsg is sent by the client to enter the matching queue.
type StartConnectionMsg struct {
	Type string `json:"type"`
}

// PairedUserLeftMsg is sent by a paired client that wants a new partner. The
// peer connection id is echoed for logging; the server resolves the actual
// peer from its own pairing table.
type PairedUserLeftMsg struct {
	Type             string `json:"type"`
	PeerConnectionID string `json:"peerConnectionId"`
}

// SoloUserLeftMsg is sent by a queued client abandoning the search before a
// pairing was formed.
type SoloUserLeftMsg struct {
	Type string `json:"type"`
}

// MessageContent is the inner payload of a private message. The server never
// interprets it; chat text and peer-connection signaling both travel here.
type MessageContent struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	UserID   string `json:"userid"`
}

// PrivateMessageMsg is a relayed payload addressed to a specific peer
// connection id. The same shape is used in both directions: the server
// forwards the sender's frame verbatim to the peer.
type PrivateMessageMsg struct {
	Type    string         `json:"type"`
	Content MessageContent `json:"content"`
	To      string         `json:"to"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client event structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent once after a successful handshake so the client
// learns its own connection id.
type SessionCreatedMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	Username     string `json:"username"`
}

// StrangerDataMsg announces an established pairing: the peer's connection id,
// the peer's display name, and the pairing identifier.
type StrangerDataMsg struct {
	Type             string `json:"type"`
	PairedUserID     string `json:"pairedUserId"`
	StrangerUsername string `json:"strangerUsername"`
	PairingID        string `json:"pairingId"`
}

// StrangerLeftMsg tells a client its peer disconnected or moved on. The
// client returns to idle; searching again is its own decision.
type StrangerLeftMsg struct {
	Type string `json:"type"`
}

// ErrSelectingPairMsg signals a transient pairing or relay failure. The
// client should issue a fresh startConnection.
type ErrSelectingPairMsg struct {
	Type string `json:"type"`
}

// ErrorMsg is sent by the server to communicate a malformed frame.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client event.
// It returns the event name, the decoded struct, and any error encountered
// during parsing. An error is returned for unknown or server-only events.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeStartConnection:
		var m StartConnectionMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePairedUserLeft:
		var m PairedUserLeftMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSoloUserLeft:
		var m SoloUserLeftMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePrivateMessage:
		var m PrivateMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client event: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server event. The
// msgType is injected into the payload under the "type" key so payload
// structs never need their Type field pre-filled.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
