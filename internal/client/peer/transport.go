// Package peer owns one media link per remote participant and the
// negotiation state machine that keeps those links alive through
// offer/answer races, out-of-order candidates and mid-call track
// changes.
package peer

import (
	"github.com/pion/webrtc/v4"

	"github.com/confera/mesh/internal/domain"
	"github.com/confera/mesh/internal/protocol"
)

// MediaTransport abstracts the underlying peer connection so the state
// machine can be driven without a network. The production impl lives
// in internal/client/rtc.
type MediaTransport interface {
	// CreateAndSetOffer produces a local offer and installs it.
	CreateAndSetOffer() (protocol.SignalData, error)
	// ApplyOfferAndCreateAnswer installs the remote offer and returns
	// the installed local answer.
	ApplyOfferAndCreateAnswer(protocol.SignalData) (protocol.SignalData, error)
	// ApplyAnswer installs a remote answer to our outstanding offer.
	ApplyAnswer(protocol.SignalData) error
	// AddICECandidate applies a remote network-path candidate.
	AddICECandidate(protocol.SignalData) error
	// Rollback discards the outstanding local offer so a remote offer
	// can be accepted in its place.
	Rollback() error

	// HasVideoSender reports whether an outbound video slot exists.
	HasVideoSender() bool
	// ReplaceVideo swaps the outbound video source in place, without
	// renegotiation.
	ReplaceVideo(webrtc.TrackLocal) error
	// AddVideo attaches a first outbound video slot; the caller must
	// renegotiate afterwards.
	AddVideo(webrtc.TrackLocal) error
	// ReplaceAudio swaps the outbound audio source in place.
	ReplaceAudio(webrtc.TrackLocal) error

	OnICECandidate(func(protocol.SignalData))
	OnTrack(func(*webrtc.TrackRemote))
	OnDisconnected(func())

	Close()
}

// TransportFactory builds the transport for a new link, pre-wired with
// the current local tracks (either may be nil).
type TransportFactory func(handle domain.Handle, audio, video webrtc.TrackLocal) (MediaTransport, error)

// LocalTracks supplies the tracks a freshly created link should send.
type LocalTracks interface {
	AudioTrack() webrtc.TrackLocal
	VideoTrack() webrtc.TrackLocal
}
