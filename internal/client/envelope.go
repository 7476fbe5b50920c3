package client

import (
	"encoding/json"
	"fmt"

	pion "github.com/pion/webrtc/v4"
)

// Payload kinds multiplexed inside the relayed message text. The gateway
// forwards message content verbatim, so chat text and WebRTC signaling
// share the same relay channel with a client-side envelope telling them
// apart.
const (
	KindChat   = "chat"
	KindSignal = "signal"
)

// Signal carries one WebRTC signaling step: a session description or an
// ICE candidate, never both.
type Signal struct {
	SDPType   string                 `json:"sdpType,omitempty"` // "offer" or "answer"
	SDP       string                 `json:"sdp,omitempty"`
	Candidate *pion.ICECandidateInit `json:"candidate,omitempty"`
}

// Payload is the client-side envelope embedded in a relayed message.
type Payload struct {
	Kind   string  `json:"kind"`
	Text   string  `json:"text,omitempty"`
	Signal *Signal `json:"signal,omitempty"`
}

// EncodePayload serializes a Payload for embedding in the message text of a
// relayed frame.
func EncodePayload(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("client: encode payload: %w", err)
	}
	return string(data), nil
}

// DecodePayload parses the message text of a relayed frame. Text that is
// not a valid envelope is treated as plain chat, so peers running older
// clients that send bare text still interoperate.
func DecodePayload(text string) Payload {
	var p Payload
	if err := json.Unmarshal([]byte(text), &p); err != nil || p.Kind == "" {
		return Payload{Kind: KindChat, Text: text}
	}
	return p
}
