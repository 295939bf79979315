// Package signal is the client's relay connection: one websocket,
// envelope codec and the usual ping/pong keepalive pumps.
package signal

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/confera/mesh/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client manages the websocket connection to the relay. Incoming
// envelopes are delivered on a channel that closes when the connection
// dies, which is also the consumer's disconnect notification.
type Client struct {
	serverURL string
	conn      *websocket.Conn
	incoming  chan protocol.Envelope
	outgoing  chan protocol.Envelope
	done      chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		incoming:  make(chan protocol.Envelope, 16),
		outgoing:  make(chan protocol.Envelope, 16),
		done:      make(chan struct{}),
	}
}

// Connect dials the relay and starts the pumps.
func (c *Client) Connect() error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid relay URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("relay dial: %w", err)
	}
	c.conn = conn

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	log.Info().Str("module", "client.signal").Str("url", u.String()).Msg("relay connected")
	return nil
}

func (c *Client) readPump() {
	defer func() {
		_ = c.conn.Close()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send enqueues one event for the relay. Best effort: a closed or
// backed-up connection drops the message, membership events resync
// any lost state.
func (c *Client) Send(event string, v any) {
	env, err := protocol.NewEnvelope(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "client.signal").Str("event", event).Msg("marshal")
		return
	}
	select {
	case c.outgoing <- env:
	case <-c.done:
	default:
		log.Warn().Str("module", "client.signal").Str("event", event).Msg("outgoing full, dropped")
	}
}

// Incoming delivers relay envelopes in arrival order. The channel
// closes when the connection is gone.
func (c *Client) Incoming() <-chan protocol.Envelope {
	return c.incoming
}

// Close shuts the connection down. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
}
