package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/confera/mesh/internal/domain"
	"github.com/confera/mesh/internal/protocol"
)

func (ctl *Controller) handleMediaState(c *relayConn, data []byte) {
	var p protocol.MediaState
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad media-state payload")
		return
	}
	room, _, ok := ctl.Orch.Registry.RoomOf(c.handle)
	if !ok {
		return
	}
	rec, ok := ctl.Orch.Directory.UpdateState(room, c.handle, domain.StatePatch{MicOn: &p.MicOn, CamOn: &p.CamOn})
	if !ok {
		// Stale event for a departed member, nothing to propagate.
		return
	}
	out := protocol.MediaState{Handle: c.handle, MicOn: rec.MicOn, CamOn: rec.CamOn}
	ctl.broadcastEvent(room, c.handle, protocol.EventMediaState, out)
}

func (ctl *Controller) handleRaiseHand(c *relayConn, data []byte) {
	var p protocol.RaiseHand
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad raise-hand payload")
		return
	}
	room, _, ok := ctl.Orch.Registry.RoomOf(c.handle)
	if !ok {
		return
	}
	rec, ok := ctl.Orch.Directory.UpdateState(room, c.handle, domain.StatePatch{HandRaised: &p.Hand})
	if !ok {
		return
	}
	// Echoed to the sender too: the canonical copy reconciles
	// optimistic local state.
	out := protocol.RaiseHand{Handle: c.handle, Hand: rec.HandRaised}
	ctl.broadcastEvent(room, "", protocol.EventRaiseHand, out)
}

func (ctl *Controller) handleMuteAll(c *relayConn) {
	room, _, ok := ctl.Orch.Registry.RoomOf(c.handle)
	if !ok {
		return
	}
	// Directory state is untouched; each client mutes itself and
	// reports back via media-state.
	ctl.broadcastEvent(room, "", protocol.EventMuteAll, nil)
}
