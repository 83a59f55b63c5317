package logging

import "sync"

// Metrics is a coarse counter/gauge map shared by the simulation loop, the
// command buffer and the journal. Keys are free-form strings; callers agree
// on them out of band.
type Metrics struct {
	mu     sync.RWMutex
	values map[string]uint64
}

func NewMetrics() *Metrics {
	return &Metrics{values: make(map[string]uint64)}
}

// Add increments a counter by delta.
func (m *Metrics) Add(key string, delta uint64) {
	if m == nil || key == "" {
		return
	}
	m.mu.Lock()
	m.values[key] += delta
	m.mu.Unlock()
}

// Store overwrites a gauge with the given value.
func (m *Metrics) Store(key string, value uint64) {
	if m == nil || key == "" {
		return
	}
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
}

// Value reads one counter or gauge; missing keys read as zero.
func (m *Metrics) Value(key string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key]
}

// Snapshot copies the current counter map for diagnostics payloads.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.values) == 0 {
		return nil
	}
	copied := make(map[string]uint64, len(m.values))
	for k, v := range m.values {
		copied[k] = v
	}
	return copied
}
