// Package core holds the session directory: the single source of truth
// for who is in which room and their published state.
package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/confera/mesh/internal/domain"
)

// Directory maps rooms to their current member sets. Operations on a
// given room are linearized by a per-room mutex; operations on
// different rooms never block each other. The directory-level lock
// only guards the room map itself.
type Directory struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*room
}

type room struct {
	mu      sync.Mutex
	gone    bool
	order   []domain.Handle
	members map[domain.Handle]*domain.ParticipantRecord
}

func NewDirectory() *Directory {
	return &Directory{rooms: make(map[domain.RoomID]*room)}
}

func (d *Directory) roomFor(id domain.RoomID) *room {
	d.mu.RLock()
	r := d.rooms[id]
	d.mu.RUnlock()
	if r != nil {
		return r
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if r = d.rooms[id]; r == nil {
		r = &room{members: make(map[domain.Handle]*domain.ParticipantRecord)}
		d.rooms[id] = r
	}
	return r
}

func (d *Directory) lookup(id domain.RoomID) *room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rooms[id]
}

// Join adds handle to the room with the default published state,
// creating the room if absent, and returns the snapshot of members
// that existed before this join, in join order. Joining twice with
// the same handle refreshes the record but yields no duplicate entry.
func (d *Directory) Join(id domain.RoomID, handle domain.Handle, name string) []domain.ParticipantRecord {
	for {
		r := d.roomFor(id)
		r.mu.Lock()
		if r.gone {
			// Lost a race with the last leave; the map entry is being
			// removed, take a fresh room.
			r.mu.Unlock()
			continue
		}
		existing := r.snapshotLocked(handle)
		if _, ok := r.members[handle]; !ok {
			r.order = append(r.order, handle)
		}
		rec, err := domain.NewParticipant(handle, name)
		if err != nil {
			rec = &domain.ParticipantRecord{Handle: handle, Name: "Guest", MicOn: true, CamOn: true}
		}
		r.members[handle] = rec
		r.mu.Unlock()
		log.Info().Str("module", "core.directory").Str("room", string(id)).Str("handle", string(handle)).Msg("member joined")
		return existing
	}
}

// UpdateState merges the patch into the member's record and returns a
// copy of the result. A patch for a handle that is not a current
// member is silently ignored; stale events after leave are expected.
func (d *Directory) UpdateState(id domain.RoomID, handle domain.Handle, patch domain.StatePatch) (domain.ParticipantRecord, bool) {
	r := d.lookup(id)
	if r == nil {
		return domain.ParticipantRecord{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.members[handle]
	if !ok {
		return domain.ParticipantRecord{}, false
	}
	patch.Apply(rec)
	return *rec, true
}

// Leave removes handle from the room and returns the remaining member
// count. The room is deleted once empty; no history is retained.
func (d *Directory) Leave(id domain.RoomID, handle domain.Handle) (int, bool) {
	r := d.lookup(id)
	if r == nil {
		return 0, false
	}
	r.mu.Lock()
	if _, ok := r.members[handle]; !ok {
		n := len(r.members)
		r.mu.Unlock()
		return n, false
	}
	delete(r.members, handle)
	for i, h := range r.order {
		if h == handle {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	remaining := len(r.members)
	if remaining == 0 {
		r.gone = true
	}
	r.mu.Unlock()

	if remaining == 0 {
		d.mu.Lock()
		if d.rooms[id] == r {
			delete(d.rooms, id)
		}
		d.mu.Unlock()
		log.Info().Str("module", "core.directory").Str("room", string(id)).Msg("room emptied and removed")
	}
	return remaining, true
}

// Snapshot returns the current member records in join order.
func (d *Directory) Snapshot(id domain.RoomID) []domain.ParticipantRecord {
	r := d.lookup(id)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked("")
}

// MemberCount returns the room's current size, zero if the room is gone.
func (d *Directory) MemberCount(id domain.RoomID) int {
	r := d.lookup(id)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Stats reports room and participant totals for the metrics collector.
func (d *Directory) Stats() (rooms, participants int) {
	d.mu.RLock()
	list := make([]*room, 0, len(d.rooms))
	for _, r := range d.rooms {
		list = append(list, r)
	}
	d.mu.RUnlock()
	for _, r := range list {
		r.mu.Lock()
		if !r.gone {
			rooms++
			participants += len(r.members)
		}
		r.mu.Unlock()
	}
	return rooms, participants
}

// snapshotLocked copies member records in join order, skipping exclude.
func (r *room) snapshotLocked(exclude domain.Handle) []domain.ParticipantRecord {
	out := make([]domain.ParticipantRecord, 0, len(r.members))
	for _, h := range r.order {
		if h == exclude {
			continue
		}
		if rec, ok := r.members[h]; ok {
			out = append(out, *rec)
		}
	}
	return out
}
