// Package signal is the relay service: it upgrades participant
// connections, routes opaque negotiation payloads by recipient handle
// and fans room events out to members. It never inspects signaling
// contents.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/confera/mesh/internal/app"
	"github.com/confera/mesh/internal/config"
	"github.com/confera/mesh/internal/core"
	"github.com/confera/mesh/internal/domain"
	"github.com/confera/mesh/internal/metrics"
	"github.com/confera/mesh/internal/protocol"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Orch    *app.Orchestrator
	Cfg     *config.Config
	Metrics *metrics.Relay
}

func NewController(orch *app.Orchestrator, cfg *config.Config, m *metrics.Relay) *Controller {
	return &Controller{Orch: orch, Cfg: cfg, Metrics: m}
}

// relayConn is one participant's websocket endpoint. All writes go
// through the buffered send channel so per-sender order is preserved
// and a slow recipient never blocks the relay.
type relayConn struct {
	handle domain.Handle
	conn   *websocket.Conn
	send   chan core.Frame

	chatLimit *rate.Limiter

	mu     sync.RWMutex
	closed bool
}

func (c *relayConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *relayConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleRelay upgrades the request and starts the connection pumps.
// The participant handle is minted here and lives exactly as long as
// the connection.
func (ctl *Controller) HandleRelay(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	handle := domain.Handle(uuid.NewString())
	conn := &relayConn{
		handle:    handle,
		conn:      ws,
		send:      make(chan core.Frame, 32),
		chatLimit: rate.NewLimiter(rate.Limit(ctl.Cfg.ChatRate), ctl.Cfg.ChatBurst),
	}
	log.Info().Str("module", "signal").Str("handle", string(handle)).Msg("new relay connection")

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.Bind(handle, conn, cancel)
	ctl.Metrics.ConnOpened()

	// Queue the welcome before reading anything, so the handle
	// assignment is always the first frame the client sees.
	ctl.sendEvent(conn, protocol.EventWelcome, protocol.Welcome{Handle: handle})

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, conn)
}
