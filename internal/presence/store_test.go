package presence

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// newTestStore creates a Store connected to a local Redis instance and
// flushes leftover test keys before returning. Tests that call this helper
// require a running Redis on localhost:6379.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		iter := client.Scan(ctx, 0, KeyPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return &Store{client: client, serverName: "test-gw"}
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "test_c1", "alice"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	entry, err := store.Get(ctx, "test_c1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if entry == nil {
		t.Fatal("expected entry, got nil")
	}
	if entry.Username != "alice" || entry.State != "idle" || entry.Server != "test-gw" {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestGet_Missing(t *testing.T) {
	store := newTestStore(t)

	entry, err := store.Get(context.Background(), "test_missing")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if entry != nil {
		t.Errorf("expected nil for missing entry, got %+v", entry)
	}
}

func TestUpdateState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "test_c2", "bob"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := store.UpdateState(ctx, "test_c2", "paired"); err != nil {
		t.Fatalf("UpdateState() error: %v", err)
	}

	entry, err := store.Get(ctx, "test_c2")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if entry.State != "paired" {
		t.Errorf("state = %q, want paired", entry.State)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "test_c3", "cara"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := store.Delete(ctx, "test_c3"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	entry, err := store.Get(ctx, "test_c3")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if entry != nil {
		t.Errorf("expected entry gone after delete, got %+v", entry)
	}
}
