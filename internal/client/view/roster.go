// Package view derives what the room looks like from relay events: one
// tile per participant plus the chat log. It holds no layout or
// rendering logic, only the state a renderer would consume.
package view

import (
	"sync"

	"github.com/confera/mesh/internal/domain"
)

// Tile is one participant's presentation state.
type Tile struct {
	Handle     domain.Handle
	Name       string
	MicOn      bool
	CamOn      bool
	HandRaised bool
	// Connected is false until the peer link reports media flowing;
	// always true for self.
	Connected bool
	Self      bool
}

// Roster is the client-side room state. All updates are keyed by
// handle; updates for a departed handle are no-ops. Safe for
// concurrent use.
type Roster struct {
	mu    sync.Mutex
	self  domain.Handle
	order []domain.Handle
	tiles map[domain.Handle]*Tile
	chat  []domain.ChatMessage
	count int
}

func NewRoster() *Roster {
	return &Roster{tiles: make(map[domain.Handle]*Tile)}
}

// SetSelf registers the local participant once the relay assigns a
// handle. The self tile is always connected.
func (r *Roster) SetSelf(handle domain.Handle, name string, micOn, camOn bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.self = handle
	r.upsertLocked(&Tile{
		Handle:    handle,
		Name:      name,
		MicOn:     micOn,
		CamOn:     camOn,
		Connected: true,
		Self:      true,
	})
}

// AddPeer inserts a remote participant from a membership event. A
// handle already present keeps its position and link state.
func (r *Roster) AddPeer(p domain.ParticipantRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tiles[p.Handle]; ok {
		t.Name = p.Name
		t.MicOn = p.MicOn
		t.CamOn = p.CamOn
		t.HandRaised = p.HandRaised
		return
	}
	r.upsertLocked(&Tile{
		Handle:     p.Handle,
		Name:       p.Name,
		MicOn:      p.MicOn,
		CamOn:      p.CamOn,
		HandRaised: p.HandRaised,
	})
}

func (r *Roster) upsertLocked(t *Tile) {
	if _, ok := r.tiles[t.Handle]; !ok {
		r.order = append(r.order, t.Handle)
	}
	r.tiles[t.Handle] = t
}

// RemovePeer drops a departed participant. Unknown handles are no-ops.
func (r *Roster) RemovePeer(handle domain.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tiles[handle]; !ok {
		return
	}
	delete(r.tiles, handle)
	for i, h := range r.order {
		if h == handle {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// SetMediaState applies a mic/cam update for a handle.
func (r *Roster) SetMediaState(handle domain.Handle, micOn, camOn bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tiles[handle]; ok {
		t.MicOn = micOn
		t.CamOn = camOn
	}
}

// SetHand applies a raise-hand update for a handle. The server echoes
// our own, so self reconciles through the same path.
func (r *Roster) SetHand(handle domain.Handle, hand bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tiles[handle]; ok {
		t.HandRaised = hand
	}
}

// SetConnected marks whether the peer link for a handle is live.
func (r *Roster) SetConnected(handle domain.Handle, connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tiles[handle]; ok && !t.Self {
		t.Connected = connected
	}
}

// SetCount records the server's room-count announcement, which may
// briefly differ from the local tile count mid-churn.
func (r *Roster) SetCount(n int) {
	r.mu.Lock()
	r.count = n
	r.mu.Unlock()
}

func (r *Roster) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// AppendChat records a chat message in relay-arrival order.
func (r *Roster) AppendChat(msg domain.ChatMessage) {
	r.mu.Lock()
	r.chat = append(r.chat, msg)
	r.mu.Unlock()
}

// Chat returns the message log, oldest first.
func (r *Roster) Chat() []domain.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ChatMessage, len(r.chat))
	copy(out, r.chat)
	return out
}

// Tiles returns the render order: the self tile first, then remote
// participants in join order. Tiles are copies.
func (r *Roster) Tiles() []Tile {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Tile, 0, len(r.order))
	if t, ok := r.tiles[r.self]; ok {
		out = append(out, *t)
	}
	for _, h := range r.order {
		if h == r.self {
			continue
		}
		out = append(out, *r.tiles[h])
	}
	return out
}
