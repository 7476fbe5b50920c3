// Package client implements the client side of the pairing gateway: a
// WebSocket signaling client, a WebRTC peer session, and a controller that
// drives both through the pair/talk/next lifecycle.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/unimeet/stranger-chat/internal/protocol"
)

// SignalingClient is a WebSocket connection to the pairing gateway. It uses
// gobwas/ws (the same library the server uses), dispatches incoming frames
// to registered handlers, and captures the connection id from the
// sessionCreated handshake.
type SignalingClient struct {
	conn      net.Conn
	connID    string
	username  string
	mu        sync.Mutex
	handlers  map[string]func(json.RawMessage)
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the gateway at serverURL (ws://host:port/ws) with the
// given display name and starts the background read loop.
func Dial(ctx context.Context, serverURL, username string) (*SignalingClient, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("client: invalid server url: %w", err)
	}
	q := u.Query()
	q.Set("username", username)
	u.RawQuery = q.Encode()

	conn, _, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}

	c := &SignalingClient{
		conn:     conn,
		username: username,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}

	go c.readLoop()
	return c, nil
}

// Send sends a JSON message to the gateway. It is goroutine-safe.
func (c *SignalingClient) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("client: marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// On registers a handler for a server message type. Handlers receive the
// full raw JSON of the frame and are invoked from the read loop goroutine,
// so they should not block for extended periods. Registering a second
// handler for the same type replaces the first.
func (c *SignalingClient) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// ConnectionID returns the id assigned by the gateway, or an empty string
// if the sessionCreated frame has not arrived yet.
func (c *SignalingClient) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// Username returns the display name this client connected with.
func (c *SignalingClient) Username() string {
	return c.username
}

// Done returns a channel closed when the connection terminates.
func (c *SignalingClient) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection and stops the read loop. Safe to call
// multiple times.
func (c *SignalingClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// readLoop continuously reads frames from the gateway and dispatches them
// to registered handlers. It exits when the connection closes.
func (c *SignalingClient) readLoop() {
	defer c.Close()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		// Capture the connection id before user handlers run.
		if envelope.Type == protocol.TypeSessionCreated {
			var msg struct {
				ConnectionID string `json:"connectionId"`
			}
			if err := json.Unmarshal(data, &msg); err == nil && msg.ConnectionID != "" {
				c.mu.Lock()
				c.connID = msg.ConnectionID
				c.mu.Unlock()
			}
		}

		c.mu.Lock()
		handler := c.handlers[envelope.Type]
		c.mu.Unlock()
		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}
