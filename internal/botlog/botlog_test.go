package botlog

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStorage struct {
	mu      sync.Mutex
	batches [][]Entry
}

func (m *memStorage) WriteBatch(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	m.batches = append(m.batches, cp)
	return nil
}

func (m *memStorage) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestRecorderFlushesOnStop(t *testing.T) {
	storage := &memStorage{}
	rec := NewRecorder(storage, 100, time.Hour, zap.NewNop())
	rec.Start()

	for i := 0; i < 7; i++ {
		rec.Record(Entry{ID: "e", BotID: "b1", Text: "Traceback (most recent call last):"})
	}
	rec.Stop()

	require.Equal(t, 7, storage.total())
	for _, batch := range storage.batches {
		for _, e := range batch {
			assert.False(t, e.Timestamp.IsZero())
		}
	}
}

func TestRecorderBatchesAtLimit(t *testing.T) {
	storage := &memStorage{}
	rec := NewRecorder(storage, 1000, time.Hour, zap.NewNop())
	rec.Start()

	for i := 0; i < 250; i++ {
		rec.Record(Entry{BotID: "b1", Text: "boom"})
	}
	rec.Stop()

	require.Equal(t, 250, storage.total())
	// Две полные сотни плюс хвост на финальном сбросе
	assert.GreaterOrEqual(t, len(storage.batches), 3)
}

func TestRecorderDropsAfterStop(t *testing.T) {
	storage := &memStorage{}
	rec := NewRecorder(storage, 10, time.Hour, zap.NewNop())
	rec.Start()
	rec.Stop()

	// Не должно паниковать на закрытом канале
	rec.Record(Entry{BotID: "b1", Text: "late"})
	assert.Equal(t, 0, storage.total())
}

func TestIsRealError(t *testing.T) {
	real := []string{
		"ERROR: connection refused",
		"2026-01-02 critical failure in handler",
		"Traceback (most recent call last):",
		"asyncio exception in task",
		"something completely unrecognized",
		"KeyError: 'chat_id'",
	}
	for _, line := range real {
		assert.True(t, IsRealError(line), line)
	}

	benign := []string{
		"2026-01-02 INFO polling started",
		"DEBUG heartbeat ok",
		"HTTP Request: POST https://api.telegram.org/bot/getUpdates",
		"   ",
		"",
	}
	for _, line := range benign {
		assert.False(t, IsRealError(line), line)
	}
}

func TestTruncate(t *testing.T) {
	short := "short line"
	assert.Equal(t, short, Truncate(short))

	long := strings.Repeat("a", 700)
	assert.Len(t, Truncate(long), MaxEntryBytes)

	// Многобайтовая руна на границе не режется пополам
	padded := strings.Repeat("a", MaxEntryBytes-1) + "щщ"
	got := Truncate(padded)
	assert.LessOrEqual(t, len(got), MaxEntryBytes)
	for _, r := range got {
		assert.NotEqual(t, '�', r)
	}
}
