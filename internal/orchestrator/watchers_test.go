package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/neurohost/internal/backend"
	"github.com/xela07ax/neurohost/internal/notify"
)

func (c *capturedSink) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.entries {
		out = append(out, e.Text)
	}
	return out
}

func TestLogWatcherForwardsRealErrorsAcrossReads(t *testing.T) {
	rig := newRig(t)

	path := filepath.Join(t.TempDir(), "stderr.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	old := logPollInterval
	logPollInterval = 20 * time.Millisecond
	t.Cleanup(func() { logPollInterval = old })

	ctx, cancel := context.WithCancel(context.Background())
	h := &unitHandle{
		unit:   &backend.Unit{BotID: "bot-1", StderrPath: path},
		bk:     rig.bk,
		cancel: func() {},
	}

	done := make(chan struct{})
	go func() {
		rig.orch.runLogWatcher(ctx, "bot-1", "owner-1", h)
		close(done)
	}()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()

	// Обычный вывод отбрасывается, ошибка уходит в журнал; хвост без
	// перевода строки должен остаться в буфере до следующего чтения
	_, err = f.WriteString("INFO ready\nERROR: db connection lost\nTRACEBACK (most")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rig.sink.texts()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "ERROR: db connection lost", rig.sink.texts()[0])

	// Дописанный хвост склеивается с буфером в целую строку
	_, err = f.WriteString(" recent call last)\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rig.sink.texts()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "TRACEBACK (most recent call last)", rig.sink.texts()[1])

	assert.Contains(t, rig.events.kinds(), notify.EventBotError)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("log watcher did not stop on context cancel")
	}
}

func TestReadFromTracksOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stderr.log")
	require.NoError(t, os.WriteFile(path, []byte("first\nsecond"), 0o644))

	chunk, n, err := readFrom(path, 0)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", chunk)
	assert.Equal(t, int64(12), n)

	// Повторное чтение с тем же смещением пусто, с нулевым — всё заново
	chunk, n, err = readFrom(path, 12)
	require.NoError(t, err)
	assert.Empty(t, chunk)
	assert.Zero(t, n)

	// Отсутствующий файл не считается ошибкой: юнит мог ещё не записать
	chunk, n, err = readFrom(filepath.Join(t.TempDir(), "absent.log"), 0)
	require.NoError(t, err)
	assert.Empty(t, chunk)
	assert.Zero(t, n)
}
