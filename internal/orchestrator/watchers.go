package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/neurohost/internal/botlog"
	"github.com/xela07ax/neurohost/internal/domain"
	"github.com/xela07ax/neurohost/internal/notify"
)

const exitPollInterval = 1 * time.Second

// Период опроса хвоста stderr; в тестах укорачивается
var logPollInterval = 2 * time.Second

// clearHandle снимает юнит с регистра, только если он всё ещё тот самый:
// между смертью юнита и реакцией наблюдателя бот могли перезапустить.
func (o *Orchestrator) clearHandle(botID string, h *unitHandle) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cur, ok := o.units[botID]
	if !ok || cur != h {
		return false
	}
	delete(o.units, botID)
	return true
}

// runExitWatcher следит за живостью юнита и по смерти передаёт exit code
// политике рестартов. Завершается сам: либо юнит умер, либо контекст
// отменён остановкой.
func (o *Orchestrator) runExitWatcher(ctx context.Context, botID string, h *unitHandle) {
	ticker := time.NewTicker(exitPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats, err := h.bk.Stats(ctx, h.unit)
		if err != nil {
			if errors.Is(err, domain.ErrBackendUnavailable) || errors.Is(err, context.Canceled) {
				continue // бэкенд деградировал, юнит скорее всего жив
			}
			o.logger.Warn("exit watcher stats failed", zap.String("bot_id", botID), zap.Error(err))
			continue
		}
		if stats.Alive {
			continue
		}

		if !o.clearHandle(botID, h) {
			return // юнит уже снят конкурентной остановкой
		}
		h.cancel()
		o.metrics.RunningBots.Dec()

		// Контекст наблюдателя уже отменён, завершаем на фоновом
		bg, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := o.repo.UpdateStatus(bg, botID, domain.StatusStopped); err != nil {
			o.logger.Error("failed to mark crashed bot stopped", zap.String("bot_id", botID), zap.Error(err))
		}

		if stats.ExitCode == 0 {
			o.logger.Info("unit exited cleanly", zap.String("bot_id", botID))
			cancel()
			return
		}

		o.policy.OnExit(bg, botID, stats.ExitCode)
		cancel()
		return
	}
}

// runLogWatcher тащит хвост stderr юнита с запомненного смещения,
// классифицирует строки и пересылает реальные ошибки в журнал и
// владельцу. Работает только для процессного бэкенда: у контейнеров
// stderr уходит в драйвер логов докера.
func (o *Orchestrator) runLogWatcher(ctx context.Context, botID, ownerID string, h *unitHandle) {
	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()

	var offset int64
	var partial string // незавершённая строка между чтениями

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		chunk, n, err := readFrom(h.unit.StderrPath, offset)
		if err != nil {
			o.logger.Warn("log watcher read failed", zap.String("bot_id", botID), zap.Error(err))
			continue
		}
		if n == 0 {
			continue
		}
		offset += n

		lines := strings.Split(partial+chunk, "\n")
		partial = lines[len(lines)-1]
		lines = lines[:len(lines)-1]

		var errLines []string
		for _, line := range lines {
			if botlog.IsRealError(line) {
				errLines = append(errLines, line)
			}
		}
		if len(errLines) == 0 {
			continue
		}

		text := botlog.Truncate(strings.Join(errLines, "\n"))
		o.sink.Record(botlog.Entry{
			ID:    uuid.NewString(),
			BotID: botID,
			Text:  text,
		})
		o.events.Publish(ctx, notify.Event{
			Kind:    notify.EventBotError,
			BotID:   botID,
			OwnerID: ownerID,
			Message: text,
		})
	}
}

// readFrom читает файл с заданного смещения. Файл открывается на каждое
// чтение: дескриптор не держится между тиками, ротация переживается.
func readFrom(path string, offset int64) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", 0, nil
		}
		return "", 0, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", 0, fmt.Errorf("seek: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", 0, err
	}
	return string(data), int64(len(data)), nil
}
