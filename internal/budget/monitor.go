// Package budget tracks live usage against a rental's prepaid buffer.
package budget

import (
	"math"
	"sync"

	"agentlease-backend/internal/domain"
)

type Level string

const (
	LevelOK        Level = "OK"
	LevelWarning   Level = "WARNING"
	LevelCritical  Level = "CRITICAL"
	LevelExhausted Level = "EXHAUSTED"
)

const (
	DefaultWarningThreshold  = 0.8
	DefaultCriticalThreshold = 0.95
)

// Status is a point-in-time view of budget consumption.
type Status struct {
	Used        float64 `json:"used"`
	Remaining   float64 `json:"remaining"`
	PercentUsed float64 `json:"percent_used"`
	Level       Level   `json:"level"`
}

type usageEvent struct {
	Cost         float64
	Tokens       int64
	Instructions int64
}

// Monitor accumulates usage events for one rental against a fixed buffer.
// It is safe for concurrent use.
type Monitor struct {
	mu       sync.Mutex
	buffer   float64
	warning  float64
	critical float64

	events       []usageEvent
	used         float64
	tokens       int64
	instructions int64
}

// NewMonitor creates a monitor over the given buffer, in stable units.
// Thresholds are fractions of the buffer; warning must stay below critical.
func NewMonitor(buffer, warningThreshold, criticalThreshold float64) (*Monitor, error) {
	if buffer < 0 || math.IsNaN(buffer) || math.IsInf(buffer, 0) {
		return nil, domain.Validationf("buffer must be a non-negative finite amount, got %v", buffer)
	}
	if warningThreshold <= 0 || criticalThreshold <= 0 || warningThreshold >= criticalThreshold {
		return nil, domain.Validationf("thresholds must satisfy 0 < warning (%v) < critical (%v)", warningThreshold, criticalThreshold)
	}
	return &Monitor{
		buffer:   buffer,
		warning:  warningThreshold,
		critical: criticalThreshold,
	}, nil
}

// RecordUsage adds one usage event to the accumulator.
func (m *Monitor) RecordUsage(cost float64, tokens, instructions int64) error {
	if cost < 0 || math.IsNaN(cost) || math.IsInf(cost, 0) {
		return domain.Validationf("usage cost must be a non-negative finite amount, got %v", cost)
	}
	if tokens < 0 {
		return domain.Validationf("token count must be non-negative, got %d", tokens)
	}
	if instructions < 0 {
		return domain.Validationf("instruction count must be non-negative, got %d", instructions)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, usageEvent{Cost: cost, Tokens: tokens, Instructions: instructions})
	m.used += cost
	m.tokens += tokens
	m.instructions += instructions
	return nil
}

// GetStatus computes the current consumption level. Remaining never goes
// negative; usage beyond the buffer is capped at settlement, not billed.
func (m *Monitor) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	var percent float64
	switch {
	case m.buffer > 0:
		percent = m.used / m.buffer
	case m.used > 0:
		// Zero-buffer rentals are exhausted by any positive usage.
		percent = 1
	}

	level := LevelOK
	switch {
	case percent >= 1:
		level = LevelExhausted
	case percent >= m.critical:
		level = LevelCritical
	case percent >= m.warning:
		level = LevelWarning
	}

	return Status{
		Used:        m.used,
		Remaining:   math.Max(0, m.buffer-m.used),
		PercentUsed: percent,
		Level:       level,
	}
}

// ShouldStop reports whether the runtime should stop admitting further
// instructions before the buffer hard-fails.
func (m *Monitor) ShouldStop() bool {
	level := m.GetStatus().Level
	return level == LevelCritical || level == LevelExhausted
}

// GetUsageSummary returns an immutable usage report suitable for passing to
// settlement.
func (m *Monitor) GetUsageSummary() domain.Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.Usage{
		Instructions: m.instructions,
		Tokens:       m.tokens,
		CostStable:   m.used,
	}
}

// Events returns a defensive copy of the recorded event costs, oldest
// first.
func (m *Monitor) Events() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Cost
	}
	return out
}
