package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func snapshot(cur, pre, sysCur, sysPre uint64) *containerStatsResponse {
	s := &containerStatsResponse{}
	s.CPUStats.CPUUsage.TotalUsage = cur
	s.CPUStats.SystemCPUUsage = sysCur
	s.PreCPUStats.CPUUsage.TotalUsage = pre
	s.PreCPUStats.SystemCPUUsage = sysPre
	return s
}

func TestCalculateCPUPercent(t *testing.T) {
	t.Run("half of system delta", func(t *testing.T) {
		s := snapshot(1_500_000, 1_000_000, 2_000_000, 1_000_000)
		assert.InDelta(t, 50.0, calculateCPUPercent(s), 0.001)
	})

	t.Run("zero system delta returns zero", func(t *testing.T) {
		s := snapshot(2_000_000, 1_000_000, 1_000_000, 1_000_000)
		assert.Zero(t, calculateCPUPercent(s))
	})

	t.Run("first sample without precpu", func(t *testing.T) {
		// Свежезапущенный контейнер: precpu нулевой, дельты равны
		s := snapshot(1_000_000, 0, 10_000_000, 0)
		assert.InDelta(t, 10.0, calculateCPUPercent(s), 0.001)
	})

	t.Run("clamped at hundred", func(t *testing.T) {
		s := snapshot(5_000_000, 0, 1_000_000, 0)
		assert.Equal(t, 100.0, calculateCPUPercent(s))
	})

	t.Run("counter reset yields zero", func(t *testing.T) {
		s := snapshot(100, 1_000_000, 2_000_000, 1_000_000)
		assert.Zero(t, calculateCPUPercent(s))
	})
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortID("0123456789abcdef0123"))
	assert.Equal(t, "abc", shortID("abc"))
}
