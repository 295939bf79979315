// Package rtc is the pion-backed media transport behind the peer link
// manager. Each Transport wraps one PeerConnection and translates
// between wire signaling payloads and pion types.
package rtc

import (
	"errors"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/confera/mesh/internal/client/peer"
	"github.com/confera/mesh/internal/domain"
	"github.com/confera/mesh/internal/protocol"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Factory returns a peer.TransportFactory bound to one ICE config.
func Factory(cfg webrtc.Configuration) peer.TransportFactory {
	return func(handle domain.Handle, audio, video webrtc.TrackLocal) (peer.MediaTransport, error) {
		t, err := NewTransport(cfg, handle, audio, video)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// Transport implements peer.MediaTransport on a pion PeerConnection.
//
// Rollback works by rebuilding the PeerConnection with the same tracks
// and handlers; pion's SetRemoteDescription path does not accept a
// rollback description the way browsers do, and a fresh connection
// that has sent no media yet is equivalent.
type Transport struct {
	cfg    webrtc.Configuration
	handle domain.Handle

	mu          sync.Mutex
	pc          *webrtc.PeerConnection
	audio       webrtc.TrackLocal
	video       webrtc.TrackLocal
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender
	closed      bool

	onICE     func(protocol.SignalData)
	onTrack   func(*webrtc.TrackRemote)
	onDisconn func()
}

func NewTransport(cfg webrtc.Configuration, handle domain.Handle, audio, video webrtc.TrackLocal) (*Transport, error) {
	t := &Transport{cfg: cfg, handle: handle, audio: audio, video: video}
	if err := t.buildPC(); err != nil {
		return nil, err
	}
	return t, nil
}

// buildPC creates the PeerConnection, attaches the current local
// tracks and rebinds all handlers. Caller holds t.mu except during
// construction.
func (t *Transport) buildPC() error {
	pc, err := webrtc.NewPeerConnection(t.cfg)
	if err != nil {
		return err
	}
	t.pc = pc
	t.audioSender = nil
	t.videoSender = nil

	if t.audio != nil {
		sender, err := pc.AddTrack(t.audio)
		if err != nil {
			_ = pc.Close()
			return err
		}
		t.audioSender = sender
		go drainRTCP(sender)
	}
	if t.video != nil {
		sender, err := pc.AddTrack(t.video)
		if err != nil {
			_ = pc.Close()
			return err
		}
		t.videoSender = sender
		go drainRTCP(sender)
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		t.mu.Lock()
		stale := t.pc != pc || t.closed
		fn := t.onICE
		t.mu.Unlock()
		if stale || fn == nil {
			return
		}
		ci := cand.ToJSON()
		fn(protocol.SignalData{
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "client.rtc").
			Str("handle", string(t.handle)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		t.mu.Lock()
		stale := t.pc != pc || t.closed
		fn := t.onTrack
		t.mu.Unlock()
		if stale || fn == nil {
			return
		}
		fn(track)
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "client.rtc").Str("handle", string(t.handle)).Str("peer_connection_state", s.String()).Msg("peer state")
		if s != webrtc.PeerConnectionStateFailed &&
			s != webrtc.PeerConnectionStateDisconnected &&
			s != webrtc.PeerConnectionStateClosed {
			return
		}
		t.mu.Lock()
		// A connection replaced by Rollback reports Closed; that must
		// not tear down the link it was rebuilt for.
		stale := t.pc != pc || t.closed
		fn := t.onDisconn
		t.mu.Unlock()
		if stale || fn == nil {
			return
		}
		fn()
	})

	return nil
}

// drainRTCP keeps the sender's RTCP stream read so interceptors run.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				log.Debug().Err(err).Str("module", "client.rtc").Msg("rtcp read ended")
			}
			return
		}
	}
}

func (t *Transport) CreateAndSetOffer() (protocol.SignalData, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return protocol.SignalData{}, errors.New("transport closed")
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SignalData{}, err
	}
	// Trickle ICE: the description goes out right away, candidates
	// follow through OnICECandidate.
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return protocol.SignalData{}, err
	}
	return protocol.SignalData{Type: "offer", SDP: offer.SDP}, nil
}

func (t *Transport) ApplyOfferAndCreateAnswer(data protocol.SignalData) (protocol.SignalData, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return protocol.SignalData{}, errors.New("transport closed")
	}
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  data.SDP,
	}); err != nil {
		return protocol.SignalData{}, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SignalData{}, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return protocol.SignalData{}, err
	}
	return protocol.SignalData{Type: "answer", SDP: answer.SDP}, nil
}

func (t *Transport) ApplyAnswer(data protocol.SignalData) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport closed")
	}
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  data.SDP,
	})
}

func (t *Transport) AddICECandidate(data protocol.SignalData) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport closed")
	}
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     data.Candidate,
		SDPMid:        data.SDPMid,
		SDPMLineIndex: data.SDPMLineIndex,
	})
}

// Rollback discards the outstanding local offer by replacing the
// PeerConnection outright.
func (t *Transport) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport closed")
	}
	old := t.pc
	if err := t.buildPC(); err != nil {
		t.pc = old
		return err
	}
	if err := old.Close(); err != nil {
		log.Error().Err(err).Str("module", "client.rtc").Str("handle", string(t.handle)).Msg("close superseded connection")
	}
	return nil
}

func (t *Transport) HasVideoSender() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.videoSender != nil
}

func (t *Transport) ReplaceVideo(track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.videoSender == nil {
		return errors.New("no video sender")
	}
	if err := t.videoSender.ReplaceTrack(track); err != nil {
		return err
	}
	t.video = track
	return nil
}

func (t *Transport) AddVideo(track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport closed")
	}
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return err
	}
	t.videoSender = sender
	t.video = track
	go drainRTCP(sender)
	return nil
}

func (t *Transport) ReplaceAudio(track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.audioSender == nil {
		return errors.New("no audio sender")
	}
	if err := t.audioSender.ReplaceTrack(track); err != nil {
		return err
	}
	t.audio = track
	return nil
}

func (t *Transport) OnICECandidate(fn func(protocol.SignalData)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *Transport) OnTrack(fn func(*webrtc.TrackRemote)) {
	t.mu.Lock()
	t.onTrack = fn
	t.mu.Unlock()
}

func (t *Transport) OnDisconnected(fn func()) {
	t.mu.Lock()
	t.onDisconn = fn
	t.mu.Unlock()
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	pc := t.pc
	t.mu.Unlock()

	if err := pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "client.rtc").Str("handle", string(t.handle)).Msg("close error")
	} else {
		log.Info().Str("module", "client.rtc").Str("handle", string(t.handle)).Msg("closed")
	}
}
