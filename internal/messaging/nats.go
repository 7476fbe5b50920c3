// Package messaging provides a NATS client wrapper for the pairing service.
// Pairing lifecycle events and relayed payloads travel over NATS subjects so
// notification I/O never runs inside the engine's critical section and a
// pairing's members may terminate on different gateway instances.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns.
const (
	SubjectPairEvents = "pair.events" // + .<conn_id>    (lifecycle notifications)
	SubjectPairRelay  = "pair.relay"  // + .<pairing_id> (relayed payloads)
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "stranger-chat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// PublishPairEvent publishes a pairing lifecycle event to a connection's
// event subject.
func (c *NATSClient) PublishPairEvent(connID string, data []byte) error {
	return c.Publish(SubjectPairEvents+"."+connID, data)
}

// SubscribePairEvents subscribes to the lifecycle event subject of a
// connection. The gateway that terminates the connection holds this
// subscription for the connection's lifetime.
func (c *NATSClient) SubscribePairEvents(connID string, handler func(data []byte)) error {
	subject := SubjectPairEvents + "." + connID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribePairEvents drops a connection's lifecycle event subscription.
func (c *NATSClient) UnsubscribePairEvents(connID string) error {
	return c.unsubscribe(SubjectPairEvents + "." + connID)
}

// PublishRelay publishes a relayed payload to a pairing's relay subject.
func (c *NATSClient) PublishRelay(pairingID string, data []byte) error {
	return c.Publish(SubjectPairRelay+"."+pairingID, data)
}

// SubscribeRelay subscribes a connection to its pairing's relay subject. The
// subscription is keyed by connection id so both members of a pairing on the
// same gateway do not overwrite each other.
func (c *NATSClient) SubscribeRelay(pairingID string, connID string, handler func(data []byte)) error {
	subject := SubjectPairRelay + "." + pairingID
	key := "relaysub:" + connID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if old, ok := c.subs[key]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeRelay drops a connection's relay subscription.
func (c *NATSClient) UnsubscribeRelay(connID string) error {
	return c.unsubscribe("relaysub:" + connID)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes a stored subscription by key.
func (c *NATSClient) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for %s", key)
	}
	delete(c.subs, key)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}
