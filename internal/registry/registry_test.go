package registry

import (
	"errors"
	"sync"
	"testing"
)

func TestRegister_AssignsUniqueIDs(t *testing.T) {
	r := New()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := r.Register("user")
		if id == "" {
			t.Fatal("expected non-empty connection id")
		}
		if seen[id] {
			t.Fatalf("duplicate connection id: %s", id)
		}
		seen[id] = true
	}
	if r.Count() != 100 {
		t.Fatalf("expected 100 connections, got %d", r.Count())
	}
}

func TestRegister_InitialStateIdle(t *testing.T) {
	r := New()
	id := r.Register("alice")

	info, ok := r.Get(id)
	if !ok {
		t.Fatal("expected connection to exist")
	}
	if info.State != StateIdle {
		t.Errorf("expected state %q, got %q", StateIdle, info.State)
	}
	if info.Username != "alice" {
		t.Errorf("expected username %q, got %q", "alice", info.Username)
	}
}

func TestSetState_UnknownConnection(t *testing.T) {
	r := New()

	err := r.SetState("no-such-id", StateSearching)
	if !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
}

func TestSetState_Transitions(t *testing.T) {
	r := New()
	id := r.Register("bob")

	for _, state := range []State{StateSearching, StatePaired, StateIdle} {
		if err := r.SetState(id, state); err != nil {
			t.Fatalf("SetState(%q): %v", state, err)
		}
		info, _ := r.Get(id)
		if info.State != state {
			t.Errorf("expected state %q, got %q", state, info.State)
		}
	}
}

func TestRemove_Idempotent(t *testing.T) {
	r := New()
	id := r.Register("cara")

	if !r.Remove(id) {
		t.Error("first remove should report the id was present")
	}
	if r.Remove(id) {
		t.Error("second remove should be a no-op")
	}
	if _, ok := r.Get(id); ok {
		t.Error("connection should be gone after remove")
	}

	// A removed id is terminal: state changes fail as unknown.
	if err := r.SetState(id, StateSearching); !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("expected ErrUnknownConnection after remove, got %v", err)
	}
}

func TestConcurrentRegisterAndRemove(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	ids := make(chan string, 200)

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- r.Register("user")
		}()
	}
	wg.Wait()
	close(ids)

	for id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.Remove(id)
		}(id)
	}
	wg.Wait()

	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d entries", r.Count())
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	r := New()
	id := r.Register("dana")

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(snap))
	}
	snap[0].State = StatePaired

	info, _ := r.Get(id)
	if info.State != StateIdle {
		t.Error("mutating a snapshot must not affect the registry")
	}
}
