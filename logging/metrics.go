package logging

import (
	"sort"
	"sync"
)

// Metrics is a concurrency-safe set of named counters and gauges shared by
// the simulation, the transport and the router. The zero value is ready to use.
type Metrics struct {
	mu     sync.Mutex
	values map[string]uint64
}

// TelemetryAdd increments the named counter by delta.
func (m *Metrics) TelemetryAdd(key string, delta uint64) {
	if m == nil || key == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]uint64)
	}
	m.values[key] += delta
}

// TelemetryStore sets the named gauge to value.
func (m *Metrics) TelemetryStore(key string, value uint64) {
	if m == nil || key == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]uint64)
	}
	m.values[key] = value
}

// Snapshot returns a copy of every recorded value.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.values))
	for key, value := range m.values {
		out[key] = value
	}
	return out
}

// Keys lists the recorded names in lexical order.
func (m *Metrics) Keys() []string {
	snapshot := m.Snapshot()
	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// RecordRouter copies router counters into the metrics set.
func (m *Metrics) RecordRouter(stats RouterStats) {
	m.TelemetryStore("logging_events_total", stats.EventsTotal)
	m.TelemetryStore("logging_dropped_total", stats.DroppedTotal)
	m.TelemetryStore("logging_filtered_total", stats.FilteredTotal)
}
