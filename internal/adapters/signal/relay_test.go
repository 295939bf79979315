package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confera/mesh/internal/app"
	"github.com/confera/mesh/internal/config"
	"github.com/confera/mesh/internal/core"
	"github.com/confera/mesh/internal/domain"
	"github.com/confera/mesh/internal/metrics"
	"github.com/confera/mesh/internal/protocol"
)

func newTestRelay(t *testing.T) *httptest.Server {
	srv, _ := newTestRelayWithMetrics(t)
	return srv
}

func newTestRelayWithMetrics(t *testing.T) (*httptest.Server, *prometheus.Registry) {
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
	reg := prometheus.NewRegistry()
	m := metrics.NewRelay(reg, directory.Stats)
	ctl := NewController(orch, cfg, m)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := gin.New()
	r.GET("/api/ws/relay", func(c *gin.Context) { ctl.HandleRelay(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, reg
}

// wsClient is a raw relay participant for round-trip tests.
type wsClient struct {
	t      *testing.T
	conn   *websocket.Conn
	handle domain.Handle
}

func dialRelay(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/relay"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &wsClient{t: t, conn: conn}
	var w protocol.Welcome
	c.expect(protocol.EventWelcome, &w)
	require.NotEmpty(t, w.Handle)
	c.handle = w.Handle
	return c
}

func (c *wsClient) send(event string, v any) {
	c.t.Helper()
	env, err := protocol.NewEnvelope(event, v)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(env))
}

func (c *wsClient) next() protocol.Envelope {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var env protocol.Envelope
	require.NoError(c.t, c.conn.ReadJSON(&env))
	return env
}

// expect reads frames until the wanted event arrives, decoding into v.
// Other events arriving first are skipped; per-connection order still
// holds within one event type.
func (c *wsClient) expect(event string, v any) {
	c.t.Helper()
	for i := 0; i < 16; i++ {
		env := c.next()
		if env.Event != event {
			continue
		}
		if v != nil {
			require.NoError(c.t, json.Unmarshal(env.Data, v))
		}
		return
	}
	c.t.Fatalf("event %q never arrived", event)
}

func (c *wsClient) join(room, name string) {
	c.t.Helper()
	c.send(protocol.EventJoinRoom, protocol.JoinRoom{Room: room, Name: name})
}

func TestJoinSnapshotAndJoinBroadcast(t *testing.T) {
	srv := newTestRelay(t)

	c1 := dialRelay(t, srv)
	c1.join("r", "P1")

	var snap []domain.ParticipantRecord
	c1.expect(protocol.EventExistingUsers, &snap)
	assert.Empty(t, snap, "first joiner sees nobody")
	var count protocol.RoomCount
	c1.expect(protocol.EventRoomCount, &count)
	assert.Equal(t, 1, count.Count)

	c2 := dialRelay(t, srv)
	c2.join("r", "P2")

	c2.expect(protocol.EventExistingUsers, &snap)
	require.Len(t, snap, 1)
	assert.Equal(t, c1.handle, snap[0].Handle)
	assert.Equal(t, "P1", snap[0].Name)
	assert.True(t, snap[0].MicOn)
	assert.True(t, snap[0].CamOn)

	var joined domain.ParticipantRecord
	c1.expect(protocol.EventUserJoined, &joined)
	assert.Equal(t, c2.handle, joined.Handle)
	assert.Equal(t, "P2", joined.Name)

	c1.expect(protocol.EventRoomCount, &count)
	assert.Equal(t, 2, count.Count)
}

func TestSignalRoutingRewritesSender(t *testing.T) {
	srv := newTestRelay(t)
	c1 := dialRelay(t, srv)
	c1.join("r", "P1")
	c2 := dialRelay(t, srv)
	c2.join("r", "P2")
	var joined domain.ParticipantRecord
	c1.expect(protocol.EventUserJoined, &joined)

	payload, _ := json.Marshal(protocol.SignalData{Type: "offer", SDP: "v=0"})
	c2.send(protocol.EventSignal, protocol.Signal{Target: c1.handle, Data: payload})

	var sig protocol.Signal
	c1.expect(protocol.EventSignal, &sig)
	assert.Equal(t, c2.handle, sig.From, "server stamps the sender")
	assert.Empty(t, sig.Target)
	var data protocol.SignalData
	require.NoError(t, json.Unmarshal(sig.Data, &data))
	assert.Equal(t, "offer", data.Type)
	assert.Equal(t, "v=0", data.SDP)
}

func TestSignalToUnknownTargetIsDropped(t *testing.T) {
	srv := newTestRelay(t)
	c1 := dialRelay(t, srv)
	c1.join("r", "P1")

	payload, _ := json.Marshal(protocol.SignalData{Type: "offer"})
	c1.send(protocol.EventSignal, protocol.Signal{Target: "nobody", Data: payload})

	// The relay stays healthy; the next operation round-trips.
	c1.send(protocol.EventChat, protocol.ChatIn{Text: "still alive"})
	var msg domain.ChatMessage
	c1.expect(protocol.EventChat, &msg)
	assert.Equal(t, "still alive", msg.Text)
}

func TestChatEchoStampsAndTruncates(t *testing.T) {
	srv := newTestRelay(t)
	c1 := dialRelay(t, srv)
	c1.join("r", "P1")
	c2 := dialRelay(t, srv)
	c2.join("r", "P2")
	var joined domain.ParticipantRecord
	c1.expect(protocol.EventUserJoined, &joined)

	long := strings.Repeat("x", domain.MaxChatLen+500)
	c1.send(protocol.EventChat, protocol.ChatIn{Text: long})

	for _, c := range []*wsClient{c1, c2} {
		var msg domain.ChatMessage
		c.expect(protocol.EventChat, &msg)
		assert.Equal(t, c1.handle, msg.From)
		assert.Equal(t, "P1", msg.Name)
		assert.Equal(t, domain.MaxChatLen, utf8.RuneCountInString(msg.Text))
		assert.NotZero(t, msg.TS)
	}

	// Multibyte text under the character limit passes untouched, even
	// though it exceeds the limit in bytes.
	wide := strings.Repeat("é", 600)
	c1.send(protocol.EventChat, protocol.ChatIn{Text: wide})
	var msg domain.ChatMessage
	c2.expect(protocol.EventChat, &msg)
	assert.Equal(t, wide, msg.Text)
}

func TestMediaStateExcludesSenderRaiseHandIncludes(t *testing.T) {
	srv := newTestRelay(t)
	c1 := dialRelay(t, srv)
	c1.join("r", "P1")
	c2 := dialRelay(t, srv)
	c2.join("r", "P2")
	var joined domain.ParticipantRecord
	c1.expect(protocol.EventUserJoined, &joined)

	c1.send(protocol.EventMediaState, protocol.MediaState{MicOn: false, CamOn: true})

	var state protocol.MediaState
	c2.expect(protocol.EventMediaState, &state)
	assert.Equal(t, c1.handle, state.Handle)
	assert.False(t, state.MicOn)
	assert.True(t, state.CamOn)

	// raise-hand is echoed to the sender too.
	c1.send(protocol.EventRaiseHand, protocol.RaiseHand{Hand: true})
	var hand protocol.RaiseHand
	c1.expect(protocol.EventRaiseHand, &hand)
	assert.Equal(t, c1.handle, hand.Handle)
	assert.True(t, hand.Hand)
	c2.expect(protocol.EventRaiseHand, &hand)
	assert.True(t, hand.Hand)
}

func TestDisconnectBroadcastsUserLeft(t *testing.T) {
	srv := newTestRelay(t)
	c1 := dialRelay(t, srv)
	c1.join("r", "P1")
	c2 := dialRelay(t, srv)
	c2.join("r", "P2")
	var joined domain.ParticipantRecord
	c1.expect(protocol.EventUserJoined, &joined)

	require.NoError(t, c2.conn.Close())

	var left protocol.UserLeft
	c1.expect(protocol.EventUserLeft, &left)
	assert.Equal(t, c2.handle, left.Handle)

	var count protocol.RoomCount
	c1.expect(protocol.EventRoomCount, &count)
	assert.Equal(t, 1, count.Count)
}

func TestRejoinMovesBetweenRooms(t *testing.T) {
	srv := newTestRelay(t)
	c1 := dialRelay(t, srv)
	c1.join("alpha", "P1")
	c2 := dialRelay(t, srv)
	c2.join("alpha", "P2")
	var joined domain.ParticipantRecord
	c1.expect(protocol.EventUserJoined, &joined)

	// P2 switches rooms; alpha sees a departure.
	c2.join("beta", "P2")

	var left protocol.UserLeft
	c1.expect(protocol.EventUserLeft, &left)
	assert.Equal(t, c2.handle, left.Handle)

	var snap []domain.ParticipantRecord
	c2.expect(protocol.EventExistingUsers, &snap)
	assert.Empty(t, snap, "beta was empty")
}

func TestMuteAllReachesEveryoneIncludingSender(t *testing.T) {
	srv := newTestRelay(t)
	c1 := dialRelay(t, srv)
	c1.join("r", "P1")
	c2 := dialRelay(t, srv)
	c2.join("r", "P2")
	var joined domain.ParticipantRecord
	c1.expect(protocol.EventUserJoined, &joined)

	c1.send(protocol.EventMuteAll, nil)

	c1.expect(protocol.EventMuteAll, nil)
	c2.expect(protocol.EventMuteAll, nil)
}

func TestUnknownEventNeverBecomesMetricLabel(t *testing.T) {
	srv, reg := newTestRelayWithMetrics(t)
	c1 := dialRelay(t, srv)
	c1.join("r", "P1")

	// Client-controlled event names must not mint counter labels.
	c1.send("made-up-event-xyz", nil)
	c1.send(protocol.EventChat, protocol.ChatIn{Text: "ping"})
	var msg domain.ChatMessage
	c1.expect(protocol.EventChat, &msg)

	families, err := reg.Gather()
	require.NoError(t, err)
	labels := map[string]bool{}
	for _, mf := range families {
		if mf.GetName() != "confera_relay_messages_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "event" {
					labels[lp.GetValue()] = true
				}
			}
		}
	}
	assert.True(t, labels[protocol.EventJoinRoom])
	assert.True(t, labels[protocol.EventChat])
	assert.False(t, labels["made-up-event-xyz"])
}

func TestJoinDefaultsBlankName(t *testing.T) {
	srv := newTestRelay(t)
	c1 := dialRelay(t, srv)
	c1.join("r", "   ")
	c2 := dialRelay(t, srv)
	c2.join("r", "P2")

	var snap []domain.ParticipantRecord
	c2.expect(protocol.EventExistingUsers, &snap)
	require.Len(t, snap, 1)
	assert.Equal(t, "User", snap[0].Name)
}
