package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// DeviceProvider abstracts capture acquisition. deviceID selects among
// several devices of a kind; empty means the default device.
type DeviceProvider interface {
	Microphone(deviceID string) (*Track, error)
	Camera(deviceID string) (*Track, error)
	Screen() (*Track, error)
}

const (
	opusPayloadType = 111
	vp8PayloadType  = 96

	// 20 ms of 48 kHz Opus per packet.
	audioFrame   = 20 * time.Millisecond
	audioTSDelta = 960

	// ~30 fps video, 90 kHz clock.
	videoFrame   = 33 * time.Millisecond
	videoTSDelta = 3000
)

// SyntheticProvider produces placeholder RTP streams so the headless
// client (and tests) can drive real peer connections without capture
// hardware. Each acquired track gets its own pacing goroutine that
// honours the track's enabled flag packet by packet.
type SyntheticProvider struct{}

func (SyntheticProvider) Microphone(deviceID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		fmt.Sprintf("audio-%s", uuid.NewString()),
		fmt.Sprintf("mic-%s", deviceID),
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	return startSynthetic("audio", local, opusPayloadType, audioFrame, audioTSDelta), nil
}

func (SyntheticProvider) Camera(deviceID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		fmt.Sprintf("video-%s", uuid.NewString()),
		fmt.Sprintf("cam-%s", deviceID),
	)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	return startSynthetic("video", local, vp8PayloadType, videoFrame, videoTSDelta), nil
}

func (SyntheticProvider) Screen() (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		fmt.Sprintf("screen-%s", uuid.NewString()),
		"screen",
	)
	if err != nil {
		return nil, fmt.Errorf("create screen track: %w", err)
	}
	return startSynthetic("screen", local, vp8PayloadType, videoFrame, videoTSDelta), nil
}

func startSynthetic(kind string, local *webrtc.TrackLocalStaticRTP, payloadType uint8, frame time.Duration, tsDelta uint32) *Track {
	done := make(chan struct{})
	var once sync.Once
	t := newTrack(kind, local, func() { once.Do(func() { close(done) }) })

	go func() {
		ticker := time.NewTicker(frame)
		defer ticker.Stop()
		var seq uint16
		var ts uint32
		payload := make([]byte, 64)
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				seq++
				ts += tsDelta
				if !t.Enabled() {
					continue
				}
				pkt := &rtp.Packet{
					Header: rtp.Header{
						Version:        2,
						PayloadType:    payloadType,
						SequenceNumber: seq,
						Timestamp:      ts,
					},
					Payload: payload,
				}
				if err := local.WriteRTP(pkt); err != nil {
					log.Debug().Err(err).Str("module", "client.media").Str("kind", kind).Msg("rtp write ended")
					return
				}
			}
		}
	}()
	return t
}
