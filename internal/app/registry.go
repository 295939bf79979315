package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/confera/mesh/internal/core"
	"github.com/confera/mesh/internal/domain"
)

type sessionEntry struct {
	Room   domain.RoomID
	Name   string
	Conn   core.SignalConnection
	Cancel context.CancelFunc
}

// Registry binds live relay connections to their handles. It owns the
// handle for the connection's lifetime; room membership itself lives
// in the directory.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.Handle]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.Handle]*sessionEntry)}
}

func (r *Registry) Bind(handle domain.Handle, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[handle] = &sessionEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("handle", string(handle)).Msg("bound connection")
}

// SetRoom records which room the connection joined and under what name.
func (r *Registry) SetRoom(handle domain.Handle, room domain.RoomID, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[handle]
	if !ok {
		return false
	}
	e.Room = room
	e.Name = name
	return true
}

// Conn returns the live connection for a handle, if any.
func (r *Registry) Conn(handle domain.Handle) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[handle]; ok {
		return e.Conn, true
	}
	return nil, false
}

// RoomOf returns the handle's room and display name. ok is false when
// the connection never joined a room or is already unbound.
func (r *Registry) RoomOf(handle domain.Handle) (domain.RoomID, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[handle]
	if !ok || e.Room == "" {
		return "", "", false
	}
	return e.Room, e.Name, true
}

func (r *Registry) Unbind(handle domain.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, handle)
	log.Info().Str("module", "app.registry").Str("handle", string(handle)).Msg("unbound connection")
}

type memberSnap struct {
	Handle domain.Handle
	Conn   core.SignalConnection
}

// MembersOf lists the live connections currently attached to a room.
func (r *Registry) MembersOf(room domain.RoomID) []memberSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]memberSnap, 0, len(r.sessions))
	for h, e := range r.sessions {
		if e.Room == room {
			out = append(out, memberSnap{Handle: h, Conn: e.Conn})
		}
	}
	return out
}

// Cancel fires the connection-scoped cancel func, if still bound.
func (r *Registry) Cancel(handle domain.Handle) bool {
	r.mu.RLock()
	e, ok := r.sessions[handle]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	return true
}
