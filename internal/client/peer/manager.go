package peer

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/confera/mesh/internal/domain"
	"github.com/confera/mesh/internal/protocol"
)

// SignalSender delivers a negotiation payload to one remote handle via
// the relay. Delivery is best effort.
type SignalSender func(target domain.Handle, data protocol.SignalData)

// Manager keeps at most one link per remote handle and runs the
// negotiation state machine. Incoming relay messages and local
// UI/device actions both funnel through the mutex, so per-handle state
// is never raced even though either source can fire at any time.
type Manager struct {
	mu         sync.Mutex
	links      map[domain.Handle]*link
	factory    TransportFactory
	sendSignal SignalSender
	local      LocalTracks

	onClosed func(domain.Handle)
	onTrack  func(domain.Handle, *webrtc.TrackRemote)

	closed bool
}

func NewManager(factory TransportFactory, send SignalSender, local LocalTracks) *Manager {
	return &Manager{
		links:      make(map[domain.Handle]*link),
		factory:    factory,
		sendSignal: send,
		local:      local,
	}
}

// OnLinkClosed registers a callback fired after a link leaves the
// active set, from whatever cause.
func (m *Manager) OnLinkClosed(fn func(domain.Handle)) { m.onClosed = fn }

// OnTrack registers a callback for remote media arriving on any link.
func (m *Manager) OnTrack(fn func(domain.Handle, *webrtc.TrackRemote)) { m.onTrack = fn }

// EnsureLink creates the link for handle if absent. The initiator side
// immediately produces and sends an offer; a responder waits for one.
// Creation is idempotent: an existing link is reused no matter which
// role was requested, which covers membership and signaling events
// racing each other for the same handle.
func (m *Manager) EnsureLink(handle domain.Handle, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	_, err := m.ensureLocked(handle, role)
	return err
}

func (m *Manager) ensureLocked(handle domain.Handle, role Role) (*link, error) {
	if l, ok := m.links[handle]; ok {
		return l, nil
	}
	t, err := m.factory(handle, m.local.AudioTrack(), m.local.VideoTrack())
	if err != nil {
		return nil, err
	}
	l := &link{handle: handle, role: role, state: LinkUninitialized, transport: t}
	t.OnICECandidate(func(data protocol.SignalData) {
		m.sendSignal(handle, data)
	})
	t.OnDisconnected(func() {
		m.closeLink(handle)
	})
	t.OnTrack(func(track *webrtc.TrackRemote) {
		if m.onTrack != nil {
			m.onTrack(handle, track)
		}
	})
	m.links[handle] = l
	log.Info().Str("module", "client.peer").Str("handle", string(handle)).Str("role", role.String()).Msg("link created")

	if role == RoleInitiator {
		offer, err := t.CreateAndSetOffer()
		if err != nil {
			delete(m.links, handle)
			t.Close()
			return nil, err
		}
		l.awaitingAnswer = true
		l.state = LinkNegotiating
		m.sendSignal(handle, offer)
	}
	return l, nil
}

// HandleSignal feeds one relayed negotiation payload into the state
// machine. Unknown senders get a responder link on the spot. Stale
// answers and candidates are dropped, never surfaced as errors.
func (m *Manager) HandleSignal(from domain.Handle, data protocol.SignalData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	l, err := m.ensureLocked(from, RoleResponder)
	if err != nil {
		log.Error().Err(err).Str("module", "client.peer").Str("handle", string(from)).Msg("link create failed")
		return
	}
	if l.state == LinkClosed {
		return
	}

	switch {
	case data.Type == "offer":
		m.handleOffer(l, data)
	case data.Type == "answer":
		m.handleAnswer(l, data)
	case data.IsCandidate():
		m.handleCandidate(l, data)
	default:
		log.Warn().Str("module", "client.peer").Str("handle", string(from)).Msg("unrecognized signal payload")
	}
}

// handleOffer accepts a remote offer, resolving glare by always
// yielding: an outstanding local offer is rolled back first. The
// superseded offer costs nothing since the answer cycle that follows
// re-establishes the same media.
func (m *Manager) handleOffer(l *link, data protocol.SignalData) {
	if l.awaitingAnswer {
		if err := l.transport.Rollback(); err != nil {
			log.Error().Err(err).Str("module", "client.peer").Str("handle", string(l.handle)).Msg("rollback failed")
			m.closeLinkLocked(l)
			return
		}
		l.awaitingAnswer = false
		l.remoteSet = false
		log.Info().Str("module", "client.peer").Str("handle", string(l.handle)).Msg("glare: local offer rolled back")
	}
	l.state = LinkNegotiating
	answer, err := l.transport.ApplyOfferAndCreateAnswer(data)
	if err != nil {
		log.Error().Err(err).Str("module", "client.peer").Str("handle", string(l.handle)).Msg("apply offer failed")
		m.closeLinkLocked(l)
		return
	}
	l.remoteSet = true
	m.sendSignal(l.handle, answer)
	m.drainPending(l)
	l.state = LinkStable
}

func (m *Manager) handleAnswer(l *link, data protocol.SignalData) {
	if !l.awaitingAnswer {
		// Late or duplicate answer; the link has moved on.
		log.Debug().Str("module", "client.peer").Str("handle", string(l.handle)).Msg("ignoring unexpected answer")
		return
	}
	if err := l.transport.ApplyAnswer(data); err != nil {
		log.Error().Err(err).Str("module", "client.peer").Str("handle", string(l.handle)).Msg("apply answer failed")
		m.closeLinkLocked(l)
		return
	}
	l.awaitingAnswer = false
	l.remoteSet = true
	m.drainPending(l)
	l.state = LinkStable
}

func (m *Manager) handleCandidate(l *link, data protocol.SignalData) {
	if !l.remoteSet {
		l.pending = append(l.pending, data)
		return
	}
	// A stale candidate for a connection that already changed state is
	// not an error.
	if err := l.transport.AddICECandidate(data); err != nil {
		log.Debug().Err(err).Str("module", "client.peer").Str("handle", string(l.handle)).Msg("candidate dropped")
	}
}

// drainPending applies queued candidates in arrival order, exactly
// once, then discards the queue.
func (m *Manager) drainPending(l *link) {
	for _, c := range l.pending {
		if err := l.transport.AddICECandidate(c); err != nil {
			log.Debug().Err(err).Str("module", "client.peer").Str("handle", string(l.handle)).Msg("queued candidate dropped")
		}
	}
	l.pending = nil
}

// SetVideoTrack rewires the outbound video source into every link.
// Links that already have a video sender swap in place; a link without
// one gets a sender plus the renegotiation that addition requires.
func (m *Manager) SetVideoTrack(t webrtc.TrackLocal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || t == nil {
		return
	}
	for _, l := range m.links {
		if l.state == LinkClosed {
			continue
		}
		if l.transport.HasVideoSender() {
			if err := l.transport.ReplaceVideo(t); err != nil {
				log.Error().Err(err).Str("module", "client.peer").Str("handle", string(l.handle)).Msg("replace video failed")
			}
			continue
		}
		if err := l.transport.AddVideo(t); err != nil {
			log.Error().Err(err).Str("module", "client.peer").Str("handle", string(l.handle)).Msg("add video failed")
			continue
		}
		offer, err := l.transport.CreateAndSetOffer()
		if err != nil {
			log.Error().Err(err).Str("module", "client.peer").Str("handle", string(l.handle)).Msg("renegotiation offer failed")
			continue
		}
		l.awaitingAnswer = true
		l.state = LinkNegotiating
		m.sendSignal(l.handle, offer)
	}
}

// SetAudioTrack swaps the outbound audio source in every link. Audio
// senders exist from link creation, so no renegotiation is needed.
func (m *Manager) SetAudioTrack(t webrtc.TrackLocal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || t == nil {
		return
	}
	for _, l := range m.links {
		if l.state == LinkClosed {
			continue
		}
		if err := l.transport.ReplaceAudio(t); err != nil {
			log.Error().Err(err).Str("module", "client.peer").Str("handle", string(l.handle)).Msg("replace audio failed")
		}
	}
}

// RemovePeer closes the link for a departed handle. A handle with no
// link is a no-op.
func (m *Manager) RemovePeer(handle domain.Handle) {
	m.closeLink(handle)
}

func (m *Manager) closeLink(handle domain.Handle) {
	m.mu.Lock()
	l, ok := m.links[handle]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.closeLinkLocked(l)
	m.mu.Unlock()
}

// closeLinkLocked releases everything tied to the link and removes it
// from the active set. Safe to call more than once per handle.
func (m *Manager) closeLinkLocked(l *link) {
	if l.state == LinkClosed {
		return
	}
	l.state = LinkClosed
	l.pending = nil
	l.transport.Close()
	delete(m.links, l.handle)
	log.Info().Str("module", "client.peer").Str("handle", string(l.handle)).Msg("link closed")
	if m.onClosed != nil {
		m.onClosed(l.handle)
	}
}

// CloseAll tears down every active link. Further events are discarded;
// the manager cannot be reused.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, l := range m.links {
		m.closeLinkLocked(l)
	}
}

// Handles lists the remote sides of all active links.
func (m *Manager) Handles() []domain.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Handle, 0, len(m.links))
	for h := range m.links {
		out = append(out, h)
	}
	return out
}

// State reports the link state for a handle; ok is false when no link
// exists.
func (m *Manager) State(handle domain.Handle) (LinkState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[handle]
	if !ok {
		return LinkClosed, false
	}
	return l.state, true
}
