package app

import (
	"github.com/rs/zerolog/log"

	"github.com/confera/mesh/internal/core"
	"github.com/confera/mesh/internal/domain"
)

// Orchestrator glues the connection registry to the session directory.
// Delivery is best effort: a send to an offline or slow recipient is
// dropped, never retried; membership events resync state later.
type Orchestrator struct {
	Registry  *Registry
	Directory *core.Directory
}

// Join registers membership and returns the snapshot of members that
// existed before this join.
func (o *Orchestrator) Join(handle domain.Handle, room domain.RoomID, name string) []domain.ParticipantRecord {
	existing := o.Directory.Join(room, handle, name)
	o.Registry.SetRoom(handle, room, name)
	return existing
}

// SendTo forwards a frame to one handle. Unknown targets are dropped
// silently; signaling is superseded by subsequent messages.
func (o *Orchestrator) SendTo(target domain.Handle, f core.Frame) {
	conn, ok := o.Registry.Conn(target)
	if !ok {
		log.Debug().Str("module", "app.orchestrator").Str("target", string(target)).Msg("drop: target not connected")
		return
	}
	if err := conn.TrySend(f); err != nil {
		log.Debug().Err(err).Str("module", "app.orchestrator").Str("target", string(target)).Msg("drop: send failed")
	}
}

// Broadcast fans a frame out to every live connection in the room,
// skipping except when non-empty.
func (o *Orchestrator) Broadcast(room domain.RoomID, except domain.Handle, f core.Frame) {
	for _, m := range o.Registry.MembersOf(room) {
		if except != "" && m.Handle == except {
			continue
		}
		if err := m.Conn.TrySend(f); err != nil {
			log.Debug().Err(err).Str("module", "app.orchestrator").Str("handle", string(m.Handle)).Msg("drop: broadcast send failed")
		}
	}
}

// OnDisconnect removes the handle from its room and the registry.
// It returns the room and remaining count so the caller can announce
// the departure; ok is false when no room was ever joined.
func (o *Orchestrator) OnDisconnect(handle domain.Handle) (domain.RoomID, int, bool) {
	room, _, ok := o.Registry.RoomOf(handle)
	o.Registry.Cancel(handle)
	o.Registry.Unbind(handle)
	if !ok {
		return "", 0, false
	}
	remaining, left := o.Directory.Leave(room, handle)
	if !left {
		return room, remaining, false
	}
	return room, remaining, true
}
