package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/neurohost/internal/botlog"
	"github.com/xela07ax/neurohost/internal/domain"
	"github.com/xela07ax/neurohost/internal/ledger"
	"github.com/xela07ax/neurohost/internal/notify"
)

// restartPolicy решает судьбу бота после неожиданного выхода юнита.
// Правила проверяются в фиксированном порядке, первое сработавшее
// завершает обработку:
//
//  1. Anti-loop: счётчик рестартов достиг лимита — сон "anti_loop".
//  2. Cooldown: с прошлого рестарта не прошло окно — пропуск без
//     списаний, бот остаётся остановленным.
//  3. Auto-recovery: ресурсы исчерпаны, суточный слот владельца и
//     пер-ботовый флаг свободны — бесплатная стипендия и перезапуск.
//     Если стипендия выдана, но запуск не удался, обработка завершается:
//     бот остаётся остановленным со стипендией, счётчик не трогается.
//  4. Депеция или сон — сон "expired_or_no_power".
//  5. Charge and retry: списать стоимость рестарта, подождать паузу
//     и перезапустить.
//
// Счётчик рестартов сбрасывается только успешным стартом по инициативе
// владельца. Перезапуск по правилу 5 счётчик не сбрасывает, иначе
// anti-loop никогда бы не сработал.
type restartPolicy struct {
	o *Orchestrator

	// Перекрываются в тестах
	now   func() time.Time
	delay func(d time.Duration)
}

func newRestartPolicy(o *Orchestrator) *restartPolicy {
	return &restartPolicy{
		o:     o,
		now:   func() time.Time { return time.Now().UTC() },
		delay: time.Sleep,
	}
}

// journal пишет служебную запись в журнал ошибок бота
func (p *restartPolicy) journal(botID, text string) {
	p.o.sink.Record(botlog.Entry{
		ID:        uuid.NewString(),
		BotID:     botID,
		Text:      "[RESTART] " + text,
		Timestamp: p.now(),
	})
}

// OnExit вызывается наблюдателем после ненулевого выхода юнита.
// Юнит к этому моменту уже снят с регистра, статус в базе - stopped.
func (p *restartPolicy) OnExit(ctx context.Context, botID string, exitCode int) {
	o := p.o

	m := o.lockBot(botID)
	m.Lock()
	defer m.Unlock()

	bot, err := o.repo.GetBot(ctx, botID)
	if err != nil {
		o.logger.Error("crashed bot vanished from storage", zap.String("bot_id", botID), zap.Error(err))
		return
	}

	o.logger.Warn("unit exited unexpectedly",
		zap.String("bot_id", botID),
		zap.Int("exit_code", exitCode),
		zap.Int("restart_count", bot.RestartCount))

	// Правило 1: anti-loop предохранитель
	if bot.RestartCount >= o.cfg.AntiLoopLimit {
		o.metrics.RestartDecisions.WithLabelValues("anti_loop").Inc()
		if err := o.sleepLocked(ctx, botID, domain.SleepReasonAntiLoop); err != nil {
			o.logger.Error("anti-loop sleep failed", zap.String("bot_id", botID), zap.Error(err))
			return
		}
		p.journal(botID, fmt.Sprintf("anti-loop tripped after %d restarts, bot put to sleep", bot.RestartCount))
		o.events.Publish(ctx, notify.Event{
			Kind:    notify.EventBotSlept,
			BotID:   botID,
			OwnerID: bot.OwnerID,
			Message: fmt.Sprintf("bot %s keeps crashing and was put to sleep", bot.Name),
		})
		return
	}

	// Правило 2: cooldown, пропуск без списаний
	if bot.LastRestartAt != nil && p.now().Sub(*bot.LastRestartAt) < o.cfg.RestartCooldown {
		o.metrics.RestartDecisions.WithLabelValues("cooldown_skip").Inc()
		p.journal(botID, fmt.Sprintf("restart skipped: cooldown (last restart %s ago)",
			p.now().Sub(*bot.LastRestartAt).Truncate(time.Second)))
		return
	}

	// Правило 3: бесплатное авто-восстановление
	if bot.Depleted() && !bot.AutoRecoveryUsed {
		claimed, err := o.owners.TryClaimDailyRecovery(ctx, bot.OwnerID)
		if err != nil {
			o.logger.Error("recovery claim failed", zap.String("bot_id", botID), zap.Error(err))
		}
		if err == nil && claimed {
			if done := p.autoRecover(ctx, bot); done {
				return
			}
			// Стипендию выдать не удалось: проваливаемся в правило 4
		}
	}

	// Правило 4: ресурсов нет и восстановление недоступно
	if bot.Depleted() || bot.SleepMode {
		o.metrics.RestartDecisions.WithLabelValues("depleted_sleep").Inc()
		if err := o.sleepLocked(ctx, botID, domain.SleepReasonNoPower); err != nil {
			o.logger.Error("depletion sleep failed", zap.String("bot_id", botID), zap.Error(err))
			return
		}
		p.journal(botID, "crashed with depleted resources, bot put to sleep")
		o.events.Publish(ctx, notify.Event{
			Kind:    notify.EventBotSlept,
			BotID:   botID,
			OwnerID: bot.OwnerID,
			Message: fmt.Sprintf("bot %s ran out of resources and was put to sleep", bot.Name),
		})
		return
	}

	// Правило 5: списать стоимость и перезапустить
	p.chargeAndRetry(ctx, bot, exitCode)
}

// autoRecover выдаёт стипендию и перезапускает бесплатно. Суточный слот
// владельца уже захвачен вызывающим. Возвращает false, только если сама
// стипендия не выдана (ошибки персистентности): тогда бот всё ещё без
// ресурсов и обработку продолжает правило 4. Неудачный запуск ПОСЛЕ
// выдачи стипендии завершает обработку: бот остаётся остановленным с
// зачисленными ресурсами, счётчик рестартов не меняется.
func (p *restartPolicy) autoRecover(ctx context.Context, bot *domain.Bot) bool {
	o := p.o

	if err := o.repo.MarkAutoRecoveryUsed(ctx, bot.ID); err != nil {
		o.logger.Error("failed to mark auto recovery", zap.String("bot_id", bot.ID), zap.Error(err))
		return false
	}
	bot.AutoRecoveryUsed = true

	// Считаем на локальных копиях: в бота пишем только после того,
	// как база приняла зачисление
	remaining := bot.RemainingSeconds + RecoveryTimeGrant
	if remaining > bot.TotalSeconds {
		remaining = bot.TotalSeconds
	}
	power := bot.PowerRemaining + RecoveryPowerGrant
	if power > bot.PowerMax {
		power = bot.PowerMax
	}

	if err := o.repo.SetTimePower(ctx, bot.ID, bot.TotalSeconds, remaining, power, false); err != nil {
		o.logger.Error("failed to persist recovery grant", zap.String("bot_id", bot.ID), zap.Error(err))
		return false
	}
	bot.RemainingSeconds = remaining
	bot.PowerRemaining = power
	bot.WarnedLow = false

	if bot.SleepMode {
		if err := o.repo.ClearSleep(ctx, bot.ID); err != nil {
			o.logger.Error("failed to clear sleep on recovery", zap.String("bot_id", bot.ID), zap.Error(err))
			return true // ресурсы уже зачислены, бот остаётся спящим до ручного вмешательства
		}
		bot.SleepMode = false
		bot.SleepReason = ""
	}

	if err := o.launchLocked(ctx, bot, false); err != nil {
		o.metrics.RestartDecisions.WithLabelValues("recovery_launch_failed").Inc()
		o.logger.Error("auto-recovery launch failed", zap.String("bot_id", bot.ID), zap.Error(err))
		p.journal(bot.ID, "auto-recovery granted but relaunch failed, bot remains stopped")
		return true
	}

	o.metrics.RestartDecisions.WithLabelValues("auto_recovery").Inc()
	p.journal(bot.ID, fmt.Sprintf("auto-recovery: +%ds, +%.1f power, free restart", RecoveryTimeGrant, RecoveryPowerGrant))
	o.events.Publish(ctx, notify.Event{
		Kind:    notify.EventRecovered,
		BotID:   bot.ID,
		OwnerID: bot.OwnerID,
		Message: fmt.Sprintf("bot %s crashed without resources and was recovered for free", bot.Name),
	})
	return true
}

func (p *restartPolicy) chargeAndRetry(ctx context.Context, bot *domain.Bot, exitCode int) {
	o := p.o
	now := p.now()

	ledger.ChargeRestart(bot, o.cfg.RestartPowerCost, o.cfg.RestartTimeCost)
	if err := o.repo.SetTimePower(ctx, bot.ID, bot.TotalSeconds, bot.RemainingSeconds, bot.PowerRemaining, bot.WarnedLow); err != nil {
		o.logger.Error("failed to persist restart charge", zap.String("bot_id", bot.ID), zap.Error(err))
		return
	}
	count, err := o.repo.IncrementRestart(ctx, bot.ID, now)
	if err != nil {
		o.logger.Error("failed to increment restart count", zap.String("bot_id", bot.ID), zap.Error(err))
		return
	}
	bot.RestartCount = count
	bot.LastRestartAt = &now

	p.journal(bot.ID, fmt.Sprintf("exit code %d: charged %.1f power / %ds, restart %d",
		exitCode, o.cfg.RestartPowerCost, o.cfg.RestartTimeCost, count))

	// Пауза против плотных crash-loop
	p.delay(o.cfg.RestartDelay)

	if err := o.launchLocked(ctx, bot, false); err != nil {
		o.metrics.RestartDecisions.WithLabelValues("restart_failed").Inc()
		o.logger.Error("policy relaunch failed", zap.String("bot_id", bot.ID), zap.Error(err))
		p.journal(bot.ID, "relaunch failed, bot remains stopped")
		return
	}

	o.metrics.RestartDecisions.WithLabelValues("restarted").Inc()
	o.events.Publish(ctx, notify.Event{
		Kind:    notify.EventBotRestarted,
		BotID:   bot.ID,
		OwnerID: bot.OwnerID,
		Message: fmt.Sprintf("bot %s crashed (exit %d) and was restarted automatically", bot.Name, exitCode),
	})
}
