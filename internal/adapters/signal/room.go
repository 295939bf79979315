package signal

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/confera/mesh/internal/domain"
	"github.com/confera/mesh/internal/protocol"
)

func (ctl *Controller) handleJoinRoom(c *relayConn, data []byte) {
	var p protocol.JoinRoom
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad join-room payload")
		return
	}
	room := domain.RoomID(strings.TrimSpace(p.Room))
	if room == "" {
		return
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "User"
	}
	if len(name) > domain.MaxDisplayNameLen {
		name = name[:domain.MaxDisplayNameLen]
	}

	// A handle lives in at most one room; re-joining moves it.
	if prev, _, ok := ctl.Orch.Registry.RoomOf(c.handle); ok {
		ctl.announceLeave(c.handle, prev)
	}

	existing := ctl.Orch.Join(c.handle, room, name)
	log.Info().Str("module", "signal").Str("handle", string(c.handle)).Str("room", string(room)).Int("existing", len(existing)).Msg("join-room")

	// Snapshot goes to the caller only; incumbents learn about the
	// newcomer via user-joined and everyone gets the fresh count.
	ctl.sendEvent(c, protocol.EventExistingUsers, existing)

	joined := domain.ParticipantRecord{Handle: c.handle, Name: name, MicOn: true, CamOn: true}
	ctl.broadcastEvent(room, c.handle, protocol.EventUserJoined, joined)
	ctl.broadcastEvent(room, "", protocol.EventRoomCount, protocol.RoomCount{Count: ctl.Orch.Directory.MemberCount(room)})
}

func (ctl *Controller) handleSignal(c *relayConn, data []byte) {
	var p protocol.Signal
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad signal payload")
		return
	}
	if p.Target == "" {
		return
	}
	env, err := protocol.NewEnvelope(protocol.EventSignal, protocol.Signal{From: c.handle, Data: p.Data})
	if err != nil {
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	ctl.Orch.SendTo(p.Target, b)
}

func (ctl *Controller) onDisconnect(c *relayConn) {
	ctl.Metrics.ConnClosed()
	room, remaining, ok := ctl.Orch.OnDisconnect(c.handle)
	if !ok {
		return
	}
	ctl.broadcastEvent(room, "", protocol.EventUserLeft, protocol.UserLeft{Handle: c.handle})
	ctl.broadcastEvent(room, "", protocol.EventRoomCount, protocol.RoomCount{Count: remaining})
}

// announceLeave removes the handle from a room it is moving out of and
// notifies the remaining members. The connection stays up.
func (ctl *Controller) announceLeave(handle domain.Handle, room domain.RoomID) {
	remaining, ok := ctl.Orch.Directory.Leave(room, handle)
	if !ok {
		return
	}
	ctl.broadcastEvent(room, "", protocol.EventUserLeft, protocol.UserLeft{Handle: handle})
	ctl.broadcastEvent(room, "", protocol.EventRoomCount, protocol.RoomCount{Count: remaining})
}
