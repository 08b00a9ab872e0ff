package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/neurohost/internal/domain"
)

type scriptedBackend struct {
	launchErr error
	stopErr   error
	statsErr  error

	statsCalls int
	stats      Stats
	failFirstN int // первые N вызовов Stats падают с statsErr
}

func (s *scriptedBackend) Launch(ctx context.Context, spec LaunchSpec) (*Unit, error) {
	if s.launchErr != nil {
		return nil, s.launchErr
	}
	return &Unit{BotID: spec.BotID, PID: 4242, StartedAt: time.Now()}, nil
}

func (s *scriptedBackend) Stop(ctx context.Context, unit *Unit, timeout time.Duration) (bool, error) {
	if s.stopErr != nil {
		return false, s.stopErr
	}
	return true, nil
}

func (s *scriptedBackend) Stats(ctx context.Context, unit *Unit) (Stats, error) {
	s.statsCalls++
	if s.statsCalls <= s.failFirstN {
		return Stats{}, s.statsErr
	}
	if s.statsErr != nil && s.failFirstN == 0 {
		return Stats{}, s.statsErr
	}
	return s.stats, nil
}

func TestReliableBackendPassthrough(t *testing.T) {
	inner := &scriptedBackend{stats: Stats{Alive: true, CPUPercent: 42.0}}
	w := NewReliableBackend(inner)

	unit, err := w.Launch(context.Background(), LaunchSpec{BotID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, "b1", unit.BotID)

	stats, err := w.Stats(context.Background(), unit)
	require.NoError(t, err)
	assert.Equal(t, 42.0, stats.CPUPercent)

	stopped, err := w.Stop(context.Background(), unit, time.Second)
	require.NoError(t, err)
	assert.True(t, stopped)
}

func TestReliableBackendRetriesTransientStats(t *testing.T) {
	inner := &scriptedBackend{
		statsErr:   ErrUnavailable,
		failFirstN: 2,
		stats:      Stats{Alive: true},
	}
	w := NewReliableBackend(inner)

	stats, err := w.Stats(context.Background(), &Unit{BotID: "b1"})
	require.NoError(t, err)
	assert.True(t, stats.Alive)
	assert.Equal(t, 3, inner.statsCalls)
}

func TestReliableBackendDoesNotRetryDomainError(t *testing.T) {
	inner := &scriptedBackend{statsErr: ErrLaunchIO}
	w := NewReliableBackend(inner)

	_, err := w.Stats(context.Background(), &Unit{BotID: "b1"})
	require.Error(t, err)
	assert.Equal(t, 1, inner.statsCalls)
}

func TestReliableBackendOpensCircuit(t *testing.T) {
	inner := &scriptedBackend{launchErr: ErrUnavailable}
	w := NewReliableBackend(inner)

	// Гоняем до открытия предохранителя (порог — 5 подряд)
	var err error
	for i := 0; i < 10; i++ {
		_, err = w.Launch(context.Background(), LaunchSpec{BotID: "b1"})
		require.Error(t, err)
	}
	assert.True(t, errors.Is(err, domain.ErrBackendUnavailable))
}
