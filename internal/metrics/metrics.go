// Package metrics exposes prometheus collectors for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Relay struct {
	relayedTotal  *prometheus.CounterVec
	droppedTotal  prometheus.Counter
	connectedConn prometheus.Gauge
}

// NewRelay registers the relay collectors. stats is polled for the
// room/participant gauges on every scrape.
func NewRelay(reg prometheus.Registerer, stats func() (rooms, participants int)) *Relay {
	m := &Relay{
		relayedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "confera_relay_messages_total",
			Help: "Relay messages processed, by event",
		}, []string{"event"}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "confera_relay_dropped_messages_total",
			Help: "Messages dropped: offline target, backpressure or rate limit",
		}),
		connectedConn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "confera_relay_connections",
			Help: "Currently open relay connections",
		}),
	}
	reg.MustRegister(m.relayedTotal, m.droppedTotal, m.connectedConn)
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "confera_rooms",
		Help: "Rooms with at least one member",
	}, func() float64 {
		rooms, _ := stats()
		return float64(rooms)
	}))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "confera_participants",
		Help: "Participants currently in rooms",
	}, func() float64 {
		_, participants := stats()
		return float64(participants)
	}))
	return m
}

func (m *Relay) Relayed(event string) {
	if m == nil {
		return
	}
	m.relayedTotal.WithLabelValues(event).Inc()
}

func (m *Relay) Dropped() {
	if m == nil {
		return
	}
	m.droppedTotal.Inc()
}

func (m *Relay) ConnOpened() {
	if m == nil {
		return
	}
	m.connectedConn.Inc()
}

func (m *Relay) ConnClosed() {
	if m == nil {
		return
	}
	m.connectedConn.Dec()
}
