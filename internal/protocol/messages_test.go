package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseClientMessage_StartConnection(t *testing.T) {
	input := []byte(`{"type":"startConnection"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeStartConnection {
		t.Fatalf("expected type %q, got %q", TypeStartConnection, msgType)
	}
	if _, ok := msg.(StartConnectionMsg); !ok {
		t.Fatalf("expected StartConnectionMsg, got %T", msg)
	}
}

func TestParseClientMessage_PrivateMessage(t *testing.T) {
	input := []byte(`{"type":"private message","content":{"username":"Alice","message":"hi there","userid":"conn-1"},"to":"conn-2"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypePrivateMessage {
		t.Fatalf("expected type %q, got %q", TypePrivateMessage, msgType)
	}

	pm, ok := msg.(PrivateMessageMsg)
	if !ok {
		t.Fatalf("expected PrivateMessageMsg, got %T", msg)
	}
	if pm.To != "conn-2" {
		t.Errorf("expected to %q, got %q", "conn-2", pm.To)
	}
	if pm.Content.Username != "Alice" {
		t.Errorf("expected username %q, got %q", "Alice", pm.Content.Username)
	}
	if pm.Content.Message != "hi there" {
		t.Errorf("expected message %q, got %q", "hi there", pm.Content.Message)
	}
	if pm.Content.UserID != "conn-1" {
		t.Errorf("expected userid %q, got %q", "conn-1", pm.Content.UserID)
	}
}

func TestParseClientMessage_PairedUserLeft(t *testing.T) {
	input := []byte(`{"type":"pairedUserLeftTheChat","peerConnectionId":"conn-9"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypePairedUserLeft {
		t.Fatalf("expected type %q, got %q", TypePairedUserLeft, msgType)
	}

	pl, ok := msg.(PairedUserLeftMsg)
	if !ok {
		t.Fatalf("expected PairedUserLeftMsg, got %T", msg)
	}
	if pl.PeerConnectionID != "conn-9" {
		t.Errorf("expected peerConnectionId %q, got %q", "conn-9", pl.PeerConnectionID)
	}
}

func TestParseClientMessage_SoloUserLeft(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"soloUserLeftTheChat"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSoloUserLeft {
		t.Fatalf("expected type %q, got %q", TypeSoloUserLeft, msgType)
	}
	if _, ok := msg.(SoloUserLeftMsg); !ok {
		t.Fatalf("expected SoloUserLeftMsg, got %T", msg)
	}
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"type":"getStrangerData"}`))
	if err == nil {
		t.Fatal("expected error for server-only event, got nil")
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"content":{"message":"x"}}`))
	if err == nil {
		t.Fatal("expected error for missing type, got nil")
	}
}

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"type":`))
	if err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeStrangerData, StrangerDataMsg{
		PairedUserID:     "conn-2",
		StrangerUsername: "Bob",
		PairingID:        "pair-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if m["type"] != TypeStrangerData {
		t.Errorf("expected type %q, got %v", TypeStrangerData, m["type"])
	}
	if m["pairedUserId"] != "conn-2" {
		t.Errorf("expected pairedUserId %q, got %v", "conn-2", m["pairedUserId"])
	}
	if m["strangerUsername"] != "Bob" {
		t.Errorf("expected strangerUsername %q, got %v", "Bob", m["strangerUsername"])
	}
	if m["pairingId"] != "pair-1" {
		t.Errorf("expected pairingId %q, got %v", "pair-1", m["pairingId"])
	}
}

func TestNewServerMessage_TypeOverridesPayloadField(t *testing.T) {
	// A payload struct carrying a stale Type field must not leak through.
	data, err := NewServerMessage(TypePong, PongMsg{Type: "something-else"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if m["type"] != TypePong {
		t.Errorf("expected type %q, got %v", TypePong, m["type"])
	}
}
