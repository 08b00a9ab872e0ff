package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/neurohost/internal/infra"
)

// EventKind — тип уведомления владельцу бота.
type EventKind string

const (
	EventBotError     EventKind = "bot_error"     // реальная ошибка из stderr
	EventBotRestarted EventKind = "bot_restarted" // авторестарт после падения
	EventBotSlept     EventKind = "bot_slept"     // усыплён (причина в payload)
	EventLowTime      EventKind = "low_time"      // остаток времени на исходе
	EventRecovered    EventKind = "recovered"     // сработало авто- или ручное восстановление
)

// Event уходит в шину как JSON. Подписчики (телеграм-мост, веб-сокеты
// консоли) разбирают его сами.
type Event struct {
	Kind      EventKind `json:"kind"`
	BotID     string    `json:"bot_id"`
	OwnerID   string    `json:"owner_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier публикует события владельцам через Redis Pub/Sub.
//
// Доставка best-effort: уведомления не должны ронять lifecycle-операции,
// поэтому ошибки публикации логируются и глотаются. Подписчиков может
// не быть вовсе, это нормально.
type Notifier struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewNotifier(rdb *redis.Client, logger *zap.Logger) *Notifier {
	return &Notifier{
		rdb:    rdb,
		logger: logger.Named("notifier"),
	}
}

func (n *Notifier) Publish(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("failed to marshal event", zap.Error(err))
		return
	}

	err = retry.New(
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
	).Do(func() error {
		return n.rdb.Publish(ctx, infra.RedisChanNotify, payload).Err()
	})
	if err != nil {
		n.logger.Warn("notification dropped",
			zap.String("kind", string(event.Kind)),
			zap.String("bot_id", event.BotID),
			zap.Error(err))
	}
}
