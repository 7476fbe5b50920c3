// Package presence mirrors live connection state into Redis for operational
// visibility across gateway instances. The in-memory registry stays
// authoritative; mirror writes are best-effort and never block or fail the
// pairing path.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for all presence hashes.
	KeyPrefix = "presence:"

	// TTL is the time-to-live for presence keys. State updates refresh it;
	// a crashed gateway's entries age out on their own.
	TTL = 1 * time.Hour
)

// Entry is a connection's mirrored presence record.
type Entry struct {
	ID         string `redis:"id"`
	Username   string `redis:"username"`
	State      string `redis:"state"` // idle | searching | paired
	Server     string `redis:"server"`
	CreatedAt  int64  `redis:"created_at"`
	LastActive int64  `redis:"last_active"`
}

// Store mirrors connection presence in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this gateway instance
}

// NewStore creates a presence store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create mirrors a freshly registered connection with idle state.
func (s *Store) Create(ctx context.Context, connID, username string) error {
	key := KeyPrefix + connID
	now := time.Now().Unix()

	entry := map[string]interface{}{
		"id":          connID,
		"username":    username,
		"state":       "idle",
		"server":      s.serverName,
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, entry)
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a mirrored entry. Returns nil if not found.
func (s *Store) Get(ctx context.Context, connID string) (*Entry, error) {
	key := KeyPrefix + connID
	var entry Entry
	err := s.client.HGetAll(ctx, key).Scan(&entry)
	if err != nil {
		return nil, err
	}
	if entry.ID == "" {
		return nil, nil
	}
	return &entry, nil
}

// UpdateState mirrors a lifecycle state change and refreshes the TTL.
func (s *Store) UpdateState(ctx context.Context, connID string, state string) error {
	key := KeyPrefix + connID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "state", state, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a connection's mirrored entry.
func (s *Store) Delete(ctx context.Context, connID string) error {
	return s.client.Del(ctx, KeyPrefix+connID).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
