package media

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Controller owns the session's capture tracks and decides which
// source is the outbound video at any moment (screen wins over camera
// while sharing). It implements the local-tracks view the peer link
// manager reads at link creation.
type Controller struct {
	provider DeviceProvider

	mu          sync.Mutex
	audioDevice string
	videoDevice string
	mic         *Track
	cam         *Track
	screen      *Track
	sharing     bool

	// onState reports mic/cam as the room should see them; camOn is
	// true while sharing even if the camera itself is off.
	onState func(micOn, camOn bool)
	// onVideo / onAudio fire when the outbound source object changes
	// and links need rewiring. Never fired for plain toggles.
	onVideo func(webrtc.TrackLocal)
	onAudio func(webrtc.TrackLocal)
}

func NewController(provider DeviceProvider) *Controller {
	return &Controller{provider: provider}
}

func (c *Controller) OnState(fn func(micOn, camOn bool)) { c.onState = fn }

func (c *Controller) OnVideoChanged(fn func(webrtc.TrackLocal)) { c.onVideo = fn }

func (c *Controller) OnAudioChanged(fn func(webrtc.TrackLocal)) { c.onAudio = fn }

// Acquire obtains camera and microphone once, before any link exists.
// Display capture is never acquired here.
func (c *Controller) Acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mic != nil || c.cam != nil {
		return nil
	}
	mic, err := c.provider.Microphone(c.audioDevice)
	if err != nil {
		return fmt.Errorf("acquire microphone: %w", err)
	}
	cam, err := c.provider.Camera(c.videoDevice)
	if err != nil {
		mic.Stop()
		return fmt.Errorf("acquire camera: %w", err)
	}
	c.mic = mic
	c.cam = cam
	return nil
}

// AudioTrack is the current outbound audio source, nil before Acquire.
func (c *Controller) AudioTrack() webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mic == nil {
		return nil
	}
	return c.mic.Local()
}

// VideoTrack is the current outbound video source: the screen while
// sharing, the camera otherwise, nil before Acquire.
func (c *Controller) VideoTrack() webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoTrackLocked()
}

func (c *Controller) videoTrackLocked() webrtc.TrackLocal {
	if c.sharing && c.screen != nil {
		return c.screen.Local()
	}
	if c.cam == nil {
		return nil
	}
	return c.cam.Local()
}

// ToggleMic flips the mic in place and reports the new state.
func (c *Controller) ToggleMic() bool {
	c.mu.Lock()
	var on bool
	if c.mic != nil {
		on = !c.mic.Enabled()
		c.mic.SetEnabled(on)
	}
	mic, cam := c.statesLocked()
	c.mu.Unlock()
	c.notifyState(mic, cam)
	return on
}

// ToggleCam flips the camera in place and reports the new state.
func (c *Controller) ToggleCam() bool {
	c.mu.Lock()
	var on bool
	if c.cam != nil {
		on = !c.cam.Enabled()
		c.cam.SetEnabled(on)
	}
	mic, cam := c.statesLocked()
	c.mu.Unlock()
	c.notifyState(mic, cam)
	return on
}

// MuteMic forces the mic off, used for the room-wide mute request.
func (c *Controller) MuteMic() {
	c.mu.Lock()
	if c.mic != nil {
		c.mic.SetEnabled(false)
	}
	mic, cam := c.statesLocked()
	c.mu.Unlock()
	c.notifyState(mic, cam)
}

// statesLocked reports (micOn, camOn) as seen by the room.
func (c *Controller) statesLocked() (bool, bool) {
	micOn := c.mic != nil && c.mic.Enabled()
	camOn := c.sharing || (c.cam != nil && c.cam.Enabled())
	return micOn, camOn
}

// States reports the advertised mic/cam state.
func (c *Controller) States() (micOn, camOn bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statesLocked()
}

func (c *Controller) notifyState(micOn, camOn bool) {
	if c.onState != nil {
		c.onState(micOn, camOn)
	}
}

func (c *Controller) notifyVideo(t webrtc.TrackLocal) {
	if c.onVideo != nil && t != nil {
		c.onVideo(t)
	}
}

// StartScreenShare acquires display capture and makes it the outbound
// video. Failure leaves the camera feed untouched.
func (c *Controller) StartScreenShare() error {
	c.mu.Lock()
	if c.sharing {
		c.mu.Unlock()
		return nil
	}
	screen, err := c.provider.Screen()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("acquire screen: %w", err)
	}
	c.screen = screen
	c.sharing = true
	out := c.videoTrackLocked()
	mic, cam := c.statesLocked()
	c.mu.Unlock()

	c.notifyVideo(out)
	c.notifyState(mic, cam)
	log.Info().Str("module", "client.media").Msg("screen share started")
	return nil
}

// StopScreenShare returns the outbound video to the camera. A camera
// that ended while sharing is re-acquired; if that also fails the
// links keep the last source and only the advertised state changes.
func (c *Controller) StopScreenShare() {
	c.mu.Lock()
	if !c.sharing {
		c.mu.Unlock()
		return
	}
	c.sharing = false
	if c.screen != nil {
		c.screen.Stop()
		c.screen = nil
	}
	if c.cam == nil || c.cam.Ended() {
		cam, err := c.provider.Camera(c.videoDevice)
		if err != nil {
			log.Error().Err(err).Str("module", "client.media").Msg("camera re-acquire failed")
		} else {
			c.cam = cam
		}
	}
	out := c.videoTrackLocked()
	mic, cam := c.statesLocked()
	c.mu.Unlock()

	c.notifyVideo(out)
	c.notifyState(mic, cam)
	log.Info().Str("module", "client.media").Msg("screen share stopped")
}

// Sharing reports whether display capture is the outbound video.
func (c *Controller) Sharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sharing
}

// SetDevices re-acquires capture under new device constraints and
// pushes the new sources into the links. Enabled flags carry over.
// Empty IDs keep the current device for that kind.
func (c *Controller) SetDevices(audioID, videoID string) error {
	c.mu.Lock()
	var newAudio, newVideo webrtc.TrackLocal

	if audioID != "" && audioID != c.audioDevice {
		mic, err := c.provider.Microphone(audioID)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("switch microphone: %w", err)
		}
		if c.mic != nil {
			mic.SetEnabled(c.mic.Enabled())
			c.mic.Stop()
		}
		c.mic = mic
		c.audioDevice = audioID
		newAudio = mic.Local()
	}

	if videoID != "" && videoID != c.videoDevice {
		cam, err := c.provider.Camera(videoID)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("switch camera: %w", err)
		}
		if c.cam != nil {
			cam.SetEnabled(c.cam.Enabled())
			c.cam.Stop()
		}
		c.cam = cam
		c.videoDevice = videoID
		if !c.sharing {
			newVideo = cam.Local()
		}
	}
	c.mu.Unlock()

	if newAudio != nil && c.onAudio != nil {
		c.onAudio(newAudio)
	}
	c.notifyVideo(newVideo)
	return nil
}

// StopAll ends every capture track. Idempotent.
func (c *Controller) StopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range []*Track{c.mic, c.cam, c.screen} {
		if t != nil {
			t.Stop()
		}
	}
	c.sharing = false
}
