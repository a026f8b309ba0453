package monitor

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_DisabledByDefault(t *testing.T) {
	m := New()
	assert.False(t, m.Enabled())
	assert.False(t, m.Record(Event{Command: "greet"}))
	assert.Empty(t, m.Snapshot())
}

func TestMonitor_StartStopLifecycle(t *testing.T) {
	m := New()
	m.Start()
	require.True(t, m.Record(Event{Command: "a"}))
	require.True(t, m.Record(Event{Command: "b"}))

	m.Stop()
	assert.False(t, m.Record(Event{Command: "c"}))

	events := m.Snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].Command)
	assert.Equal(t, "b", events[1].Command)

	// Restarting discards the previous log.
	m.Start()
	assert.Empty(t, m.Snapshot())
}

func TestMonitor_StartWhileRunningClears(t *testing.T) {
	m := New()
	m.Start()
	m.Record(Event{Command: "a"})
	m.Start()
	assert.Equal(t, 0, m.Len())
	assert.True(t, m.Enabled())
}

func TestMonitor_TimestampsNonDecreasing(t *testing.T) {
	m := New()
	m.Start()
	m.Record(Event{Command: "late", Timestamp: 2000})
	m.Record(Event{Command: "skewed", Timestamp: 1000})
	m.Record(Event{Command: "auto"})

	events := m.Snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, int64(2000), events[1].Timestamp)
	assert.GreaterOrEqual(t, events[2].Timestamp, events[1].Timestamp)
}

func TestMonitor_SnapshotIsACopy(t *testing.T) {
	m := New()
	m.Start()
	m.Record(Event{Command: "a", Args: json.RawMessage(`{"x":1}`)})

	snap := m.Snapshot()
	snap[0].Command = "mutated"
	assert.Equal(t, "a", m.Snapshot()[0].Command)
}

func TestMonitor_Sink(t *testing.T) {
	var got []Event
	m := New(WithSink(func(e Event) { got = append(got, e) }))

	m.Record(Event{Command: "ignored"})
	m.Start()
	m.Record(Event{Command: "kept", Error: "denied", DurationMs: Duration(1500 * time.Microsecond)})

	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].Command)
	require.NotNil(t, got[0].DurationMs)
	assert.InDelta(t, 1.5, *got[0].DurationMs, 0.001)
}

func TestMonitor_MaxEvents(t *testing.T) {
	m := New(WithMaxEvents(2))
	m.Start()
	m.Record(Event{Command: "a"})
	m.Record(Event{Command: "b"})
	m.Record(Event{Command: "c"})

	events := m.Snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].Command)
	assert.Equal(t, "c", events[1].Command)
}

func TestMonitor_ConcurrentRecord(t *testing.T) {
	m := New()
	m.Start()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Record(Event{Command: "tick"})
				_ = m.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, m.Len())

	events := m.Snapshot()
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Timestamp, events[i-1].Timestamp)
	}
}
