package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/confera/mesh/internal/core"
	"github.com/confera/mesh/internal/domain"
	"github.com/confera/mesh/internal/protocol"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *relayConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, c *relayConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("handle", string(c.handle)).Msg("readPump closing")
		ctl.onDisconnect(c)
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	pongWait := ctl.Cfg.PingPeriod + writeWait*2
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.dispatch(c, data)
		}
	}
}

func (ctl *Controller) dispatch(c *relayConn, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad envelope")
		return
	}
	switch env.Event {
	case protocol.EventJoinRoom:
		ctl.handleJoinRoom(c, env.Data)
	case protocol.EventSignal:
		ctl.handleSignal(c, env.Data)
	case protocol.EventMediaState:
		ctl.handleMediaState(c, env.Data)
	case protocol.EventRaiseHand:
		ctl.handleRaiseHand(c, env.Data)
	case protocol.EventChat:
		ctl.handleChat(c, env.Data)
	case protocol.EventReaction:
		ctl.handleReaction(c, env.Data)
	case protocol.EventMuteAll:
		ctl.handleMuteAll(c)
	default:
		// Not counted: the event name is client-controlled and would
		// mint unbounded label values on the counter.
		log.Warn().Str("module", "signal").Str("event", env.Event).Msg("unknown event")
		return
	}
	ctl.Metrics.Relayed(env.Event)
}

// sendEvent marshals one event for a single recipient connection.
func (ctl *Controller) sendEvent(c *relayConn, event string, v any) {
	env, err := protocol.NewEnvelope(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendEvent marshal")
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendEvent marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		ctl.Metrics.Dropped()
	}
}

// broadcastEvent marshals once and fans out to the room, skipping
// except when non-empty.
func (ctl *Controller) broadcastEvent(room domain.RoomID, except domain.Handle, event string, v any) {
	env, err := protocol.NewEnvelope(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	ctl.Orch.Broadcast(room, except, core.Frame(b))
}
