package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/neurohost/internal/domain"
	"github.com/xela07ax/neurohost/internal/infra"
)

// listenSignalResilient — живучая подписка на управляющие сигналы Redis:
// переподключение, логирование и разбор формата "bot_id:arg".
func listenSignalResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error,
	onMessage func(botID, arg string),
) {
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		// Синхронизация при каждом успешном коннекте
		if err := onReconnect(); err != nil {
			logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // канал закрыт, идем на переподключение
				}

				parts := strings.SplitN(msg.Payload, ":", 2)
				if len(parts) != 2 || parts[0] == "" {
					logger.Error("invalid signal format", zap.String("payload", msg.Payload))
					continue
				}
				onMessage(parts[0], parts[1])
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}

// ListenSignals подписывается на внешние управляющие сигналы: усыпление
// ("bot_id:reason") и остановка ("bot_id:stop"). Ими пользуются админские
// инструменты и другие сервисы платформы. Блокируется до отмены контекста.
func (o *Orchestrator) ListenSignals(ctx context.Context, rdb *redis.Client) {
	go listenSignalResilient(ctx, rdb, o.logger, infra.RedisChanSleepSignal,
		func() error { return o.ResyncRunning(ctx) },
		func(botID, reason string) {
			if err := o.ForceSleep(ctx, botID, reason); err != nil {
				o.logger.Error("sleep signal failed", zap.String("bot_id", botID), zap.Error(err))
			}
		})

	listenSignalResilient(ctx, rdb, o.logger, infra.RedisChanStopSignal,
		func() error { return nil },
		func(botID, _ string) {
			m := o.lockBot(botID)
			m.Lock()
			defer m.Unlock()
			o.stopUnitLocked(ctx, botID)
			if err := o.repo.UpdateStatus(ctx, botID, domain.StatusStopped); err != nil {
				o.logger.Error("stop signal failed", zap.String("bot_id", botID), zap.Error(err))
			}
		})
}
