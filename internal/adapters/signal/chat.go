package signal

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/confera/mesh/internal/domain"
	"github.com/confera/mesh/internal/protocol"
)

func (ctl *Controller) handleChat(c *relayConn, data []byte) {
	if !c.chatLimit.Allow() {
		ctl.Metrics.Dropped()
		return
	}
	var p protocol.ChatIn
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad chat payload")
		return
	}
	room, name, ok := ctl.Orch.Registry.RoomOf(c.handle)
	if !ok {
		return
	}
	msg := domain.ChatMessage{
		From: c.handle,
		Name: name,
		Text: domain.TruncateChat(p.Text),
		TS:   time.Now().UnixMilli(),
	}
	// Everyone gets exactly one copy, the sender included; clients
	// render the echo rather than inserting optimistically.
	ctl.broadcastEvent(room, "", protocol.EventChat, msg)
}

func (ctl *Controller) handleReaction(c *relayConn, data []byte) {
	if !c.chatLimit.Allow() {
		ctl.Metrics.Dropped()
		return
	}
	var p protocol.ReactionIn
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad reaction payload")
		return
	}
	room, _, ok := ctl.Orch.Registry.RoomOf(c.handle)
	if !ok {
		return
	}
	out := protocol.ReactionOut{Handle: c.handle, Emoji: p.Emoji, TS: time.Now().UnixMilli()}
	ctl.broadcastEvent(room, "", protocol.EventReaction, out)
}
