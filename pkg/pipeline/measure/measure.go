package measure

import (
	"sync"
)

// DefaultMeasure is the built-in Measure implementation. It key metrics by
// stage name; since a Stage runs exactly one worker there is no concurrency
// hint to pass at registration time.
type DefaultMeasure struct {
	mu     sync.Mutex
	stages map[string]Metric
}

// NewDefaultMeasure creates an empty measure with no stages registered.
func NewDefaultMeasure() *DefaultMeasure {
	return &DefaultMeasure{
		stages: make(map[string]Metric),
	}
}

// AddMetric registers name and returns its (initially empty) Metric.
func (m *DefaultMeasure) AddMetric(name string) Metric {
	m.mu.Lock()
	defer m.mu.Unlock()

	mt := &DefaultMetric{
		mu:            &sync.Mutex{},
		allTransports: make(map[string]*TransportInfo),
	}
	m.stages[name] = mt

	return mt
}

// GetMetric returns the Metric registered for name, or nil if none was.
func (m *DefaultMeasure) GetMetric(name string) Metric {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stages[name]
}

// AllMetrics returns every registered stage's Metric, keyed by name.
func (m *DefaultMeasure) AllMetrics() map[string]Metric {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Metric, len(m.stages))
	for k, v := range m.stages {
		out[k] = v
	}

	return out
}

var _ Measure = (*DefaultMeasure)(nil)
