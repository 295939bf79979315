// Package client wires the relay connection, peer link manager, media
// controller and roster into one conference session.
package client

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/confera/mesh/internal/client/media"
	"github.com/confera/mesh/internal/client/peer"
	"github.com/confera/mesh/internal/client/signal"
	"github.com/confera/mesh/internal/client/view"
	"github.com/confera/mesh/internal/domain"
	"github.com/confera/mesh/internal/protocol"
)

// Session is one participant's presence in one room, from dial to
// leave. Create with NewSession, start with Join, end with Leave.
type Session struct {
	room string
	name string

	relay  *signal.Client
	media  *media.Controller
	links  *peer.Manager
	roster *view.Roster

	mu     sync.Mutex
	handle domain.Handle

	onReaction func(protocol.ReactionOut)

	leave sync.Once
	done  chan struct{}
}

func NewSession(serverURL, room, name string, provider media.DeviceProvider, factory peer.TransportFactory) *Session {
	s := &Session{
		room:   room,
		name:   name,
		relay:  signal.NewClient(serverURL),
		media:  media.NewController(provider),
		roster: view.NewRoster(),
		done:   make(chan struct{}),
	}
	s.links = peer.NewManager(factory, s.sendSignal, s.media)

	s.links.OnTrack(func(h domain.Handle, _ *webrtc.TrackRemote) {
		s.roster.SetConnected(h, true)
	})
	s.links.OnLinkClosed(func(h domain.Handle) {
		s.roster.SetConnected(h, false)
	})

	s.media.OnState(func(micOn, camOn bool) {
		s.relay.Send(protocol.EventMediaState, protocol.MediaState{MicOn: micOn, CamOn: camOn})
		s.roster.SetMediaState(s.selfHandle(), micOn, camOn)
	})
	s.media.OnVideoChanged(func(t webrtc.TrackLocal) { s.links.SetVideoTrack(t) })
	s.media.OnAudioChanged(func(t webrtc.TrackLocal) { s.links.SetAudioTrack(t) })

	return s
}

// Roster exposes the presentation state for rendering.
func (s *Session) Roster() *view.Roster { return s.roster }

// OnReaction registers a callback for incoming reactions, which are
// transient and never stored in the roster.
func (s *Session) OnReaction(fn func(protocol.ReactionOut)) { s.onReaction = fn }

// Join acquires local media, connects to the relay and registers in
// the room. The event loop runs until the connection drops or Leave.
func (s *Session) Join() error {
	if err := s.media.Acquire(); err != nil {
		return err
	}
	if err := s.relay.Connect(); err != nil {
		s.media.StopAll()
		return fmt.Errorf("join: %w", err)
	}
	go s.loop()
	s.relay.Send(protocol.EventJoinRoom, protocol.JoinRoom{Room: s.room, Name: s.name})
	return nil
}

func (s *Session) selfHandle() domain.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

func (s *Session) sendSignal(target domain.Handle, data protocol.SignalData) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("module", "client").Msg("signal marshal")
		return
	}
	s.relay.Send(protocol.EventSignal, protocol.Signal{Target: target, Data: raw})
}

// loop consumes relay envelopes until the connection dies, then tears
// the session down. Events arriving after Leave are discarded.
func (s *Session) loop() {
	for env := range s.relay.Incoming() {
		select {
		case <-s.done:
			return
		default:
		}
		s.dispatch(env)
	}
	s.Leave()
}

func (s *Session) dispatch(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventWelcome:
		var w protocol.Welcome
		if !decode(env, &w) {
			return
		}
		s.mu.Lock()
		s.handle = w.Handle
		s.mu.Unlock()
		micOn, camOn := s.media.States()
		s.roster.SetSelf(w.Handle, s.name, micOn, camOn)

	case protocol.EventExistingUsers:
		var users []domain.ParticipantRecord
		if err := json.Unmarshal(env.Data, &users); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad snapshot")
			return
		}
		// The newcomer initiates toward every incumbent.
		for _, u := range users {
			s.roster.AddPeer(u)
			if err := s.links.EnsureLink(u.Handle, peer.RoleInitiator); err != nil {
				log.Error().Err(err).Str("module", "client").Str("handle", string(u.Handle)).Msg("link setup")
			}
		}

	case protocol.EventUserJoined:
		var u domain.ParticipantRecord
		if !decode(env, &u) {
			return
		}
		// The newcomer offers to us; the link is created on its first
		// signal.
		s.roster.AddPeer(u)

	case protocol.EventSignal:
		var sig protocol.Signal
		if !decode(env, &sig) {
			return
		}
		var data protocol.SignalData
		if err := json.Unmarshal(sig.Data, &data); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad signal payload")
			return
		}
		s.links.HandleSignal(sig.From, data)

	case protocol.EventMediaState:
		var m protocol.MediaState
		if !decode(env, &m) {
			return
		}
		s.roster.SetMediaState(m.Handle, m.MicOn, m.CamOn)

	case protocol.EventRaiseHand:
		var h protocol.RaiseHand
		if !decode(env, &h) {
			return
		}
		s.roster.SetHand(h.Handle, h.Hand)

	case protocol.EventChat:
		var msg domain.ChatMessage
		if !decode(env, &msg) {
			return
		}
		s.roster.AppendChat(msg)

	case protocol.EventReaction:
		var re protocol.ReactionOut
		if !decode(env, &re) {
			return
		}
		if s.onReaction != nil {
			s.onReaction(re)
		}

	case protocol.EventRoomCount:
		var rc protocol.RoomCount
		if !decode(env, &rc) {
			return
		}
		s.roster.SetCount(rc.Count)

	case protocol.EventUserLeft:
		var ul protocol.UserLeft
		if !decode(env, &ul) {
			return
		}
		if ul.Handle == s.selfHandle() {
			// Our own departure from a room we are moving out of.
			return
		}
		s.links.RemovePeer(ul.Handle)
		s.roster.RemovePeer(ul.Handle)

	case protocol.EventMuteAll:
		s.media.MuteMic()

	default:
		log.Debug().Str("module", "client").Str("event", env.Event).Msg("unhandled event")
	}
}

func decode(env protocol.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("event", env.Event).Msg("bad payload")
		return false
	}
	return true
}

// ToggleMic flips the microphone; the relay learns via the media-state
// callback.
func (s *Session) ToggleMic() bool { return s.media.ToggleMic() }

// ToggleCam flips the camera.
func (s *Session) ToggleCam() bool { return s.media.ToggleCam() }

// RaiseHand sends the new hand state; the roster updates on the
// server's echo so every participant sees the same canonical state.
func (s *Session) RaiseHand(hand bool) {
	s.relay.Send(protocol.EventRaiseHand, protocol.RaiseHand{Hand: hand})
}

// SendChat submits a message. It appears in the log only via the
// server's echo, which keeps ordering identical for everyone.
func (s *Session) SendChat(text string) {
	s.relay.Send(protocol.EventChat, protocol.ChatIn{Text: text})
}

// SendReaction submits a transient emoji reaction.
func (s *Session) SendReaction(emoji string) {
	s.relay.Send(protocol.EventReaction, protocol.ReactionIn{Emoji: emoji})
}

// MuteAll asks every participant in the room to mute, ourselves
// included via the server's broadcast.
func (s *Session) MuteAll() {
	s.relay.Send(protocol.EventMuteAll, nil)
}

// StartScreenShare makes display capture the outbound video in every
// link. Failure leaves existing links untouched.
func (s *Session) StartScreenShare() error { return s.media.StartScreenShare() }

// StopScreenShare restores the camera feed.
func (s *Session) StopScreenShare() { s.media.StopScreenShare() }

// SetDevices switches capture devices mid-call.
func (s *Session) SetDevices(audioID, videoID string) error {
	return s.media.SetDevices(audioID, videoID)
}

// Leave tears everything down exactly once: links, capture tracks,
// relay connection. Safe to call from any path, including the event
// loop's own shutdown.
func (s *Session) Leave() {
	s.leave.Do(func() {
		close(s.done)
		s.links.CloseAll()
		s.media.StopAll()
		s.relay.Close()
		log.Info().Str("module", "client").Str("room", s.room).Msg("left room")
	})
}

// Done closes when the session has fully torn down its event loop
// input, either by Leave or connection loss.
func (s *Session) Done() <-chan struct{} { return s.done }
