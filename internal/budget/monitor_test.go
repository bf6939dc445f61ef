package budget

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMonitor(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		m, err := NewMonitor(100, 0.8, 0.95)
		require.NoError(t, err)
		assert.NotNil(t, m)
	})

	t.Run("Negative Buffer", func(t *testing.T) {
		_, err := NewMonitor(-1, 0.8, 0.95)
		assert.Error(t, err)
	})

	t.Run("NaN Buffer", func(t *testing.T) {
		_, err := NewMonitor(math.NaN(), 0.8, 0.95)
		assert.Error(t, err)
	})

	t.Run("Warning Above Critical", func(t *testing.T) {
		_, err := NewMonitor(100, 0.95, 0.8)
		assert.Error(t, err)
	})

	t.Run("Warning Equals Critical", func(t *testing.T) {
		_, err := NewMonitor(100, 0.9, 0.9)
		assert.Error(t, err)
	})
}

func TestMonitorLevels(t *testing.T) {
	cases := []struct {
		name  string
		used  float64
		level Level
	}{
		{"Fresh", 0, LevelOK},
		{"Below Warning", 79.99, LevelOK},
		{"At Warning", 80, LevelWarning},
		{"At Critical", 95, LevelCritical},
		{"At Buffer", 100, LevelExhausted},
		{"Over Buffer", 150, LevelExhausted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := NewMonitor(100, 0.8, 0.95)
			require.NoError(t, err)
			if tc.used > 0 {
				require.NoError(t, m.RecordUsage(tc.used, 10, 5))
			}

			status := m.GetStatus()
			assert.Equal(t, tc.level, status.Level)
			assert.Equal(t, tc.used, status.Used)
			assert.GreaterOrEqual(t, status.Remaining, 0.0)
		})
	}
}

func TestMonitorOverrunRemaining(t *testing.T) {
	m, err := NewMonitor(100, 0.8, 0.95)
	require.NoError(t, err)
	require.NoError(t, m.RecordUsage(150, 0, 0))

	status := m.GetStatus()
	assert.Equal(t, 0.0, status.Remaining)
	assert.Equal(t, 1.5, status.PercentUsed)
	assert.Equal(t, LevelExhausted, status.Level)
}

func TestMonitorZeroBuffer(t *testing.T) {
	m, err := NewMonitor(0, 0.8, 0.95)
	require.NoError(t, err)

	assert.Equal(t, LevelOK, m.GetStatus().Level)

	require.NoError(t, m.RecordUsage(0.01, 1, 1))
	status := m.GetStatus()
	assert.Equal(t, LevelExhausted, status.Level)
	assert.Equal(t, 0.0, status.Remaining)
}

func TestMonitorAccumulation(t *testing.T) {
	m, err := NewMonitor(100, 0.8, 0.95)
	require.NoError(t, err)

	require.NoError(t, m.RecordUsage(30, 1000, 3))
	require.NoError(t, m.RecordUsage(20, 500, 2))

	summary := m.GetUsageSummary()
	assert.Equal(t, 50.0, summary.CostStable)
	assert.Equal(t, int64(1500), summary.Tokens)
	assert.Equal(t, int64(5), summary.Instructions)

	events := m.Events()
	require.Len(t, events, 2)
	assert.Equal(t, []float64{30, 20}, events)

	// Mutating the returned slice must not affect the monitor.
	events[0] = 9999
	assert.Equal(t, []float64{30, 20}, m.Events())
}

func TestMonitorRecordUsageValidation(t *testing.T) {
	m, err := NewMonitor(100, 0.8, 0.95)
	require.NoError(t, err)

	assert.Error(t, m.RecordUsage(-1, 0, 0))
	assert.Error(t, m.RecordUsage(math.Inf(1), 0, 0))
	assert.Error(t, m.RecordUsage(1, -1, 0))
	assert.Error(t, m.RecordUsage(1, 0, -1))

	// Rejected events leave the accumulator untouched.
	assert.Equal(t, 0.0, m.GetStatus().Used)
}

func TestShouldStop(t *testing.T) {
	m, err := NewMonitor(100, 0.8, 0.95)
	require.NoError(t, err)

	assert.False(t, m.ShouldStop())

	require.NoError(t, m.RecordUsage(85, 0, 0))
	assert.False(t, m.ShouldStop(), "warning level keeps running")

	require.NoError(t, m.RecordUsage(10, 0, 0))
	assert.True(t, m.ShouldStop(), "critical level stops")
}
