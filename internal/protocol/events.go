// Package protocol defines the relay event catalogue shared by the
// server and the client. The relay never interprets the Data of a
// signal event; only the client-side negotiation code does.
package protocol

import (
	"encoding/json"

	"github.com/confera/mesh/internal/domain"
)

const (
	EventWelcome       = "welcome"
	EventJoinRoom      = "join-room"
	EventExistingUsers = "existing-users"
	EventUserJoined    = "user-joined"
	EventSignal        = "signal"
	EventMediaState    = "media-state"
	EventRaiseHand     = "raise-hand"
	EventChat          = "chat"
	EventReaction      = "reaction"
	EventRoomCount     = "room-count"
	EventUserLeft      = "user-left"
	EventMuteAll       = "mute-all"
)

// Envelope wraps every relay message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals v into an envelope for the given event.
func NewEnvelope(event string, v any) (Envelope, error) {
	if v == nil {
		return Envelope{Event: event}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: b}, nil
}

// Welcome is the first frame on every connection; it tells the client
// the handle the relay minted for it.
type Welcome struct {
	Handle domain.Handle `json:"socketId"`
}

// JoinRoom registers membership. Client to server only.
type JoinRoom struct {
	Room string `json:"room"`
	Name string `json:"name"`
}

// Signal carries an opaque negotiation payload. The client fills
// Target; the server rewrites it to From before forwarding.
type Signal struct {
	Target domain.Handle   `json:"target,omitempty"`
	From   domain.Handle   `json:"from,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// MediaState propagates mic/cam toggles. Handle is set by the server
// on the way out.
type MediaState struct {
	Handle domain.Handle `json:"socketId,omitempty"`
	MicOn  bool          `json:"micOn"`
	CamOn  bool          `json:"camOn"`
}

// RaiseHand propagates hand state. Echoed to the sender so optimistic
// local state reconciles against the canonical copy.
type RaiseHand struct {
	Handle domain.Handle `json:"socketId,omitempty"`
	Hand   bool          `json:"hand"`
}

// ChatIn is the client's half of a chat message; the server stamps
// sender and time and broadcasts a domain.ChatMessage.
type ChatIn struct {
	Text string `json:"text"`
}

// ReactionIn is an opaque emoji from the client.
type ReactionIn struct {
	Emoji string `json:"emoji"`
}

// ReactionOut is the stamped broadcast form.
type ReactionOut struct {
	Handle domain.Handle `json:"socketId"`
	Emoji  string        `json:"emoji"`
	TS     int64         `json:"ts"`
}

// RoomCount announces the membership size to the whole room.
type RoomCount struct {
	Count int `json:"count"`
}

// UserLeft announces a departure.
type UserLeft struct {
	Handle domain.Handle `json:"socketId"`
}

// SignalData is the negotiation payload inside a signal event: either
// a session description (Type offer/answer with SDP) or a trickled
// candidate (Candidate non-empty). The relay never parses this.
type SignalData struct {
	Type          string  `json:"type,omitempty"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// IsDescription reports whether the payload carries an offer or answer.
func (d SignalData) IsDescription() bool {
	return d.Type == "offer" || d.Type == "answer"
}

// IsCandidate reports whether the payload carries an ICE candidate.
func (d SignalData) IsCandidate() bool {
	return d.Candidate != ""
}
