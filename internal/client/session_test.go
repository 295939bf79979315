package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relaysignal "github.com/confera/mesh/internal/adapters/signal"
	"github.com/confera/mesh/internal/app"
	"github.com/confera/mesh/internal/client/media"
	"github.com/confera/mesh/internal/client/peer"
	"github.com/confera/mesh/internal/config"
	"github.com/confera/mesh/internal/core"
	"github.com/confera/mesh/internal/domain"
	"github.com/confera/mesh/internal/metrics"
	"github.com/confera/mesh/internal/protocol"
)

// memTransport fakes negotiation: descriptions and candidates are
// accepted verbatim, so two sessions can complete an offer/answer
// cycle through a real relay without any ICE.
type memTransport struct {
	mu        sync.Mutex
	remoteSet bool
	closed    bool
}

func (m *memTransport) CreateAndSetOffer() (protocol.SignalData, error) {
	return protocol.SignalData{Type: "offer", SDP: "v=0 offer"}, nil
}

func (m *memTransport) ApplyOfferAndCreateAnswer(protocol.SignalData) (protocol.SignalData, error) {
	m.mu.Lock()
	m.remoteSet = true
	m.mu.Unlock()
	return protocol.SignalData{Type: "answer", SDP: "v=0 answer"}, nil
}

func (m *memTransport) ApplyAnswer(protocol.SignalData) error {
	m.mu.Lock()
	m.remoteSet = true
	m.mu.Unlock()
	return nil
}

func (m *memTransport) AddICECandidate(protocol.SignalData) error { return nil }

func (m *memTransport) Rollback() error { return nil }

func (m *memTransport) HasVideoSender() bool { return true }

func (m *memTransport) ReplaceVideo(webrtc.TrackLocal) error { return nil }

func (m *memTransport) AddVideo(webrtc.TrackLocal) error { return nil }

func (m *memTransport) ReplaceAudio(webrtc.TrackLocal) error { return nil }

func (m *memTransport) OnICECandidate(func(protocol.SignalData)) {}

func (m *memTransport) OnTrack(func(*webrtc.TrackRemote)) {}

func (m *memTransport) OnDisconnected(func()) {}

func (m *memTransport) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func memFactory(domain.Handle, webrtc.TrackLocal, webrtc.TrackLocal) (peer.MediaTransport, error) {
	return &memTransport{}, nil
}

func startRelay(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		ReadLimit:  65536,
		PingPeriod: 54 * time.Second,
		ChatRate:   100,
		ChatBurst:  100,
	}
	directory := core.NewDirectory()
	orch := &app.Orchestrator{Registry: app.NewRegistry(), Directory: directory}
	m := metrics.NewRelay(prometheus.NewRegistry(), directory.Stats)
	ctl := relaysignal.NewController(orch, cfg, m)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := gin.New()
	r.GET("/api/ws/relay", func(c *gin.Context) { ctl.HandleRelay(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/relay"
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond, msg)
}

func TestTwoParticipantScenario(t *testing.T) {
	srv := startRelay(t)
	room := "ABCD-EFGH-1234"

	p1 := NewSession(wsURL(srv), room, "P1", media.SyntheticProvider{}, memFactory)
	require.NoError(t, p1.Join())
	defer p1.Leave()

	// P1 alone: self tile only, no links.
	eventually(t, func() bool {
		tiles := p1.Roster().Tiles()
		return len(tiles) == 1 && tiles[0].Self
	}, "P1 should see only itself")
	assert.Empty(t, p1.links.Handles())

	p2 := NewSession(wsURL(srv), room, "P2", media.SyntheticProvider{}, memFactory)
	require.NoError(t, p2.Join())
	defer p2.Leave()

	// P2 got one snapshot entry and initiated; P1 answered the offer.
	eventually(t, func() bool {
		return len(p2.links.Handles()) == 1 && len(p1.links.Handles()) == 1
	}, "one link on each side")

	h1 := p1.selfHandle()
	h2 := p2.selfHandle()
	require.NotEmpty(t, h1)
	require.NotEmpty(t, h2)
	assert.Equal(t, []domain.Handle{h2}, p1.links.Handles())
	assert.Equal(t, []domain.Handle{h1}, p2.links.Handles())

	eventually(t, func() bool {
		st1, ok1 := p1.links.State(h2)
		st2, ok2 := p2.links.State(h1)
		return ok1 && ok2 && st1 == peer.LinkStable && st2 == peer.LinkStable
	}, "both links stable")

	// Rosters: P1 learned of P2 via user-joined, P2 via the snapshot.
	eventually(t, func() bool {
		return len(p1.Roster().Tiles()) == 2 && len(p2.Roster().Tiles()) == 2
	}, "both rosters complete")
	eventually(t, func() bool {
		return p1.Roster().Count() == 2 && p2.Roster().Count() == 2
	}, "room-count propagated")

	tiles := p2.Roster().Tiles()
	assert.True(t, tiles[0].Self, "self tile first")
	assert.Equal(t, "P1", tiles[1].Name)
}

func TestChatEchoReachesEveryone(t *testing.T) {
	srv := startRelay(t)

	p1 := NewSession(wsURL(srv), "room-chat", "P1", media.SyntheticProvider{}, memFactory)
	require.NoError(t, p1.Join())
	defer p1.Leave()
	p2 := NewSession(wsURL(srv), "room-chat", "P2", media.SyntheticProvider{}, memFactory)
	require.NoError(t, p2.Join())
	defer p2.Leave()

	eventually(t, func() bool {
		return len(p1.Roster().Tiles()) == 2 && len(p2.Roster().Tiles()) == 2
	}, "rosters complete")

	p1.SendChat("hello")
	p2.SendChat("hi back")

	for _, s := range []*Session{p1, p2} {
		eventually(t, func() bool { return len(s.Roster().Chat()) == 2 }, "both messages delivered")
		msgs := s.Roster().Chat()
		texts := []string{msgs[0].Text, msgs[1].Text}
		assert.ElementsMatch(t, []string{"hello", "hi back"}, texts)
	}
	// The sender sees its own message exactly once, via the echo.
	msgs := p1.Roster().Chat()
	own := 0
	for _, m := range msgs {
		if m.Text == "hello" {
			own++
			assert.Equal(t, p1.selfHandle(), m.From)
			assert.Equal(t, "P1", m.Name)
			assert.NotZero(t, m.TS)
		}
	}
	assert.Equal(t, 1, own)
}

func TestLeavePropagates(t *testing.T) {
	srv := startRelay(t)

	p1 := NewSession(wsURL(srv), "room-leave", "P1", media.SyntheticProvider{}, memFactory)
	require.NoError(t, p1.Join())
	defer p1.Leave()
	p2 := NewSession(wsURL(srv), "room-leave", "P2", media.SyntheticProvider{}, memFactory)
	require.NoError(t, p2.Join())

	eventually(t, func() bool { return len(p1.links.Handles()) == 1 }, "link up")
	h2 := p2.selfHandle()

	p2.Leave()

	eventually(t, func() bool { return len(p1.links.Handles()) == 0 }, "departed link removed")
	eventually(t, func() bool { return len(p1.Roster().Tiles()) == 1 }, "departed tile removed")
	eventually(t, func() bool { return p1.Roster().Count() == 1 }, "count updated")

	// Stale events for the departed handle are no-ops.
	p1.links.RemovePeer(h2)
	p1.Roster().RemovePeer(h2)
}

func TestLeaveIsExactlyOnce(t *testing.T) {
	srv := startRelay(t)

	p1 := NewSession(wsURL(srv), "room-once", "P1", media.SyntheticProvider{}, memFactory)
	require.NoError(t, p1.Join())

	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		go func() {
			p1.Leave()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Leave deadlocked")
		}
	}
	select {
	case <-p1.Done():
	default:
		t.Fatal("Done should be closed after Leave")
	}
}

func TestRaiseHandEchoUpdatesSelf(t *testing.T) {
	srv := startRelay(t)

	p1 := NewSession(wsURL(srv), "room-hand", "P1", media.SyntheticProvider{}, memFactory)
	require.NoError(t, p1.Join())
	defer p1.Leave()

	eventually(t, func() bool { return len(p1.Roster().Tiles()) == 1 }, "joined")

	p1.RaiseHand(true)
	eventually(t, func() bool {
		tiles := p1.Roster().Tiles()
		return len(tiles) == 1 && tiles[0].HandRaised
	}, "own hand state arrives via echo")
}

func TestMuteAllMutesEveryMic(t *testing.T) {
	srv := startRelay(t)

	p1 := NewSession(wsURL(srv), "room-mute", "P1", media.SyntheticProvider{}, memFactory)
	require.NoError(t, p1.Join())
	defer p1.Leave()
	p2 := NewSession(wsURL(srv), "room-mute", "P2", media.SyntheticProvider{}, memFactory)
	require.NoError(t, p2.Join())
	defer p2.Leave()

	eventually(t, func() bool {
		return len(p1.Roster().Tiles()) == 2 && len(p2.Roster().Tiles()) == 2
	}, "rosters complete")

	p1.MuteAll()

	eventually(t, func() bool {
		m1, _ := p1.media.States()
		m2, _ := p2.media.States()
		return !m1 && !m2
	}, "both mics muted, requester included")
}

func TestReactionDelivered(t *testing.T) {
	srv := startRelay(t)

	p1 := NewSession(wsURL(srv), "room-react", "P1", media.SyntheticProvider{}, memFactory)
	var got []protocol.ReactionOut
	var mu sync.Mutex
	p1.OnReaction(func(r protocol.ReactionOut) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	})
	require.NoError(t, p1.Join())
	defer p1.Leave()
	p2 := NewSession(wsURL(srv), "room-react", "P2", media.SyntheticProvider{}, memFactory)
	require.NoError(t, p2.Join())
	defer p2.Leave()

	eventually(t, func() bool { return len(p1.Roster().Tiles()) == 2 }, "rosters complete")

	p2.SendReaction("🎉")

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 1
	}, "reaction delivered")
	mu.Lock()
	assert.Equal(t, "🎉", got[0].Emoji)
	assert.Equal(t, p2.selfHandle(), got[0].Handle)
	mu.Unlock()
}
