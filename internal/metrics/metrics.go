// Package metrics exposes Prometheus collectors for the realtime board service.
// A nil *Realtime is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RoomStats reports the live room state for gauge collection.
type RoomStats interface {
	Rooms() int
	Connections() int
}

// Realtime groups the realtime collectors.
type Realtime struct {
	messagesTotal     *prometheus.CounterVec
	messageDuration   *prometheus.HistogramVec
	connectionsTotal  prometheus.Counter
	slowConsumers     prometheus.Counter
	broadcastsTotal   *prometheus.CounterVec
	mutationConflicts *prometheus.CounterVec
	eventsDropped     prometheus.Counter
}

// NewRealtime registers the collectors on reg. stats may be nil.
func NewRealtime(reg prometheus.Registerer, stats RoomStats) *Realtime {
	f := promauto.With(reg)
	m := &Realtime{
		messagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskflow_ws_messages_total",
				Help: "Inbound realtime messages by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		messageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskflow_ws_message_duration_milliseconds",
				Help:    "Time spent handling inbound realtime messages",
				Buckets: []float64{1, 5, 25, 100, 500, 2500},
			},
			[]string{"type"},
		),
		connectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "taskflow_ws_connections_accepted_total",
			Help: "Total number of accepted realtime connections",
		}),
		slowConsumers: f.NewCounter(prometheus.CounterOpts{
			Name: "taskflow_ws_slow_consumers_total",
			Help: "Connections closed because their outbound queue was full",
		}),
		broadcastsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskflow_board_broadcasts_total",
				Help: "Board updates published, by delivery path",
			},
			[]string{"path"},
		),
		mutationConflicts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskflow_mutation_conflicts_total",
				Help: "Version conflicts seen while writing boards",
			},
			[]string{"op"},
		),
		eventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "taskflow_board_events_dropped_total",
			Help: "Board events dropped because the notification queue was saturated",
		}),
	}
	if stats != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "taskflow_rooms",
			Help: "Boards with at least one live connection",
		}, func() float64 { return float64(stats.Rooms()) })
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "taskflow_room_connections",
			Help: "Connections joined to at least one board",
		}, func() float64 { return float64(stats.Connections()) })
	}
	return m
}

func (m *Realtime) RecordMessage(msgType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(msgType, outcome).Inc()
	m.messageDuration.WithLabelValues(msgType).Observe(float64(d.Microseconds()) / 1000)
}

func (m *Realtime) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
}

func (m *Realtime) SlowConsumer() {
	if m == nil {
		return
	}
	m.slowConsumers.Inc()
}

func (m *Realtime) Broadcast(path string) {
	if m == nil {
		return
	}
	m.broadcastsTotal.WithLabelValues(path).Inc()
}

func (m *Realtime) Conflict(op string) {
	if m == nil {
		return
	}
	m.mutationConflicts.WithLabelValues(op).Inc()
}

func (m *Realtime) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}
