// Package media owns the local capture tracks: acquisition, mute
// toggles, screen share and device swaps. It never talks to the relay
// directly; state changes surface through callbacks.
package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Track is an owned capture track. Toggling flips the enabled flag in
// place; the capture source checks it per packet, so a disabled track
// keeps its sender slots in every link and re-enables instantly.
type Track struct {
	kind  string
	local *webrtc.TrackLocalStaticRTP

	mu      sync.Mutex
	enabled bool
	ended   bool
	stop    func()
}

func newTrack(kind string, local *webrtc.TrackLocalStaticRTP, stop func()) *Track {
	return &Track{kind: kind, local: local, enabled: true, stop: stop}
}

func (t *Track) Kind() string { return t.kind }

// Local exposes the pion track for attaching to peer links.
func (t *Track) Local() *webrtc.TrackLocalStaticRTP { return t.local }

func (t *Track) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
}

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled && !t.ended
}

// Stop ends capture for good. Idempotent; a stopped track reports
// Ended and can only be replaced by re-acquisition.
func (t *Track) Stop() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	stop := t.stop
	t.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (t *Track) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}
