package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xela07ax/neurohost/internal/domain"
	"github.com/xela07ax/neurohost/internal/ledger"
	"github.com/xela07ax/neurohost/internal/notify"
)

// RunEnforcement — периодический цикл тарификации: каждый тик по всем
// работающим ботам применяется drain, проверяется депеция и низкий
// остаток. Блокируется до отмены контекста.
func (o *Orchestrator) RunEnforcement(ctx context.Context) {
	o.logger.Info("enforcement loop started", zap.Duration("period", o.cfg.TickPeriod))

	ticker := time.NewTicker(o.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("enforcement loop stopped")
			return
		case <-ticker.C:
			o.enforceTick(ctx)
		}
	}
}

// enforceTick обходит парк. Ошибка одного бота не трогает остальных:
// воркер логирует её и возвращает nil в группу.
func (o *Orchestrator) enforceTick(ctx context.Context) {
	started := time.Now()

	bots, err := o.repo.GetRunning(ctx)
	if err != nil {
		o.logger.Error("enforcement: cannot list running bots", zap.Error(err))
		return
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.TickParallelism)

	for _, bot := range bots {
		botID := bot.ID
		g.Go(func() error {
			if err := o.enforceBot(gCtx, botID); err != nil {
				o.logger.Error("enforcement failed for bot", zap.String("bot_id", botID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	o.metrics.TickDuration.Observe(time.Since(started).Seconds())
}

// enforceBot применяет один цикл тарификации к одному боту.
// Бот перечитывается под блокировкой: с момента выборки парка его
// могли остановить, усыпить или пополнить.
func (o *Orchestrator) enforceBot(ctx context.Context, botID string) error {
	m := o.lockBot(botID)
	m.Lock()
	defer m.Unlock()

	bot, err := o.repo.GetBot(ctx, botID)
	if err != nil {
		return err
	}
	if bot.Status != domain.StatusRunning {
		return nil
	}

	now := time.Now().UTC()
	elapsed := int64(now.Sub(bot.LastChecked).Seconds())
	if elapsed <= 0 {
		return nil
	}

	// Выборка CPU: ошибки бэкенда не валят тарификацию, cpu=0
	var cpu float64
	if h, ok := o.handleFor(botID); ok {
		stats, err := h.bk.Stats(ctx, h.unit)
		if err != nil {
			o.logger.Warn("enforcement: stats unavailable", zap.String("bot_id", botID), zap.Error(err))
		} else if stats.Alive {
			cpu = stats.CPUPercent
		}
	}

	powerBefore := bot.PowerRemaining
	ledger.ApplyDrain(bot, elapsed, cpu)

	if err := o.repo.UpdateResources(ctx, botID, bot.RemainingSeconds, bot.PowerRemaining, now); err != nil {
		return err
	}
	o.metrics.PowerDrained.Add(powerBefore - bot.PowerRemaining)

	// Одноразовое предупреждение о низком остатке
	if ledger.IsLow(bot) && !bot.WarnedLow {
		o.events.Publish(ctx, notify.Event{
			Kind:    notify.EventLowTime,
			BotID:   botID,
			OwnerID: bot.OwnerID,
			Message: fmt.Sprintf("bot %s has %d seconds of hosting time left", bot.Name, bot.RemainingSeconds),
		})
		if err := o.repo.SetWarnedLow(ctx, botID, true); err != nil {
			o.logger.Error("failed to persist low warning", zap.String("bot_id", botID), zap.Error(err))
		}
	}

	// Единственное место, где депеция применяется проактивно,
	// независимо от того, жив процесс или нет
	if ledger.IsDepleted(bot) {
		if err := o.sleepLocked(ctx, botID, domain.SleepReasonExpired); err != nil {
			return err
		}
		o.events.Publish(ctx, notify.Event{
			Kind:    notify.EventBotSlept,
			BotID:   botID,
			OwnerID: bot.OwnerID,
			Message: fmt.Sprintf("bot %s exhausted its resources and was put to sleep", bot.Name),
		})
	}
	return nil
}
