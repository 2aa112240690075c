package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter("relay_polls_total", nil)
	r.IncrementCounter("relay_polls_total", nil)
	r.AddToCounter("relay_forwarded_total", 5, map[string]string{"channel": "chan-1"})

	snap := r.GetSnapshot()
	require.Len(t, snap.Counters, 2)

	byName := map[string]float64{}
	for _, c := range snap.Counters {
		byName[c.Name] = c.Value
	}
	assert.Equal(t, float64(5), byName["relay_forwarded_total"])
	assert.Equal(t, float64(2), byName["relay_polls_total"])
}

func TestCounterLabelsAreIndependent(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter("relay_polls_total", map[string]string{"channel": "chan-1"})
	r.IncrementCounter("relay_polls_total", map[string]string{"channel": "chan-2"})

	snap := r.GetSnapshot()
	assert.Len(t, snap.Counters, 2)
}

func TestGauge(t *testing.T) {
	r := NewRegistry()

	r.SetGauge("relay_channels_active", 3, nil)
	r.SetGauge("relay_channels_active", 2, nil)

	snap := r.GetSnapshot()
	require.Len(t, snap.Gauges, 1)
	assert.Equal(t, float64(2), snap.Gauges[0].Value)
}

func TestTimer(t *testing.T) {
	r := NewRegistry()

	r.RecordTimer("relay_poll_duration", 10*time.Millisecond, nil)
	r.RecordTimer("relay_poll_duration", 30*time.Millisecond, nil)

	snap := r.GetSnapshot()
	require.Len(t, snap.Timers, 1)

	timer := snap.Timers[0]
	assert.Equal(t, int64(2), timer.Count)
	assert.InDelta(t, 10.0, timer.Min, 0.5)
	assert.InDelta(t, 30.0, timer.Max, 0.5)
	assert.InDelta(t, 20.0, timer.Average, 0.5)
}

func TestSnapshotUptime(t *testing.T) {
	r := NewRegistry()
	snap := r.GetSnapshot()
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)
}
