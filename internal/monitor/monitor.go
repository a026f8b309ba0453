// Package monitor captures the host's internal command traffic while a
// client has asked for it.
package monitor

import (
	"encoding/json"
	"sync"
	"time"
)

// Event is one observed command invocation.
type Event struct {
	Timestamp  int64           `json:"timestamp"`
	Command    string          `json:"command"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs *float64        `json:"duration_ms,omitempty"`
}

// Sink receives every event the monitor keeps.
type Sink func(Event)

// Monitor is an on/off event log. Starting it discards the previous log;
// stopping it keeps the log readable.
type Monitor struct {
	mu        sync.Mutex
	enabled   bool
	events    []Event
	maxEvents int
	lastTS    int64
	sink      Sink
	now       func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSink forwards kept events to sink, outside the monitor's lock.
func WithSink(sink Sink) Option {
	return func(m *Monitor) { m.sink = sink }
}

// WithMaxEvents bounds the log; the oldest events are dropped first. Zero
// means unbounded.
func WithMaxEvents(n int) Option {
	return func(m *Monitor) { m.maxEvents = n }
}

// New creates a disabled monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start enables capture and discards any previous log, even when the
// monitor was already running.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
	m.events = nil
}

// Stop disables capture. The log is kept.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enabled reports whether events are being captured.
func (m *Monitor) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Record appends e when capture is enabled and reports whether it was kept.
// A zero timestamp is filled in; timestamps never go backwards.
func (m *Monitor) Record(e Event) bool {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return false
	}
	if e.Timestamp == 0 {
		e.Timestamp = m.now().UnixMilli()
	}
	if e.Timestamp < m.lastTS {
		e.Timestamp = m.lastTS
	}
	m.lastTS = e.Timestamp
	m.events = append(m.events, e)
	if m.maxEvents > 0 && len(m.events) > m.maxEvents {
		m.events = append([]Event(nil), m.events[len(m.events)-m.maxEvents:]...)
	}
	sink := m.sink
	m.mu.Unlock()

	if sink != nil {
		sink(e)
	}
	return true
}

// Snapshot returns a copy of the log in insertion order.
func (m *Monitor) Snapshot() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Len returns the number of logged events.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// Duration converts d to the millisecond form events carry.
func Duration(d time.Duration) *float64 {
	ms := float64(d.Microseconds()) / 1000
	return &ms
}
