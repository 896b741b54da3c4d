package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct{ rooms, conns int }

func (f fakeStats) Rooms() int       { return f.rooms }
func (f fakeStats) Connections() int { return f.conns }

func TestRealtimeCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRealtime(reg, fakeStats{rooms: 2, conns: 5})

	m.RecordMessage("card-moved", "ok", 3*time.Millisecond)
	m.RecordMessage("card-moved", "ok", time.Millisecond)
	m.SlowConsumer()
	m.Conflict("move")
	m.Broadcast("local")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesTotal.WithLabelValues("card-moved", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.slowConsumers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutationConflicts.WithLabelValues("move")))

	families, err := reg.Gather()
	require.NoError(t, err)
	var rooms float64
	for _, mf := range families {
		if mf.GetName() == "taskflow_rooms" {
			rooms = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 2.0, rooms)
}

func TestNilRealtimeIsNoop(t *testing.T) {
	var m *Realtime
	assert.NotPanics(t, func() {
		m.RecordMessage("join-board", "ok", time.Millisecond)
		m.ConnectionAccepted()
		m.SlowConsumer()
		m.Broadcast("redis")
		m.Conflict("replace")
		m.EventDropped()
	})
}
