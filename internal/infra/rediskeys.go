package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "neurohost"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanNotify — уведомления владельцам; вычитывается чат-слоем.
	RedisChanNotify = RedisNamespace + ":notify"

	// RedisChanSleepSignal — внешние команды принудительного сна: "botID:reason".
	RedisChanSleepSignal = RedisNamespace + ":bots:sleep-signal"

	// RedisChanStopSignal — внешние команды остановки: "botID:stop".
	RedisChanStopSignal = RedisNamespace + ":bots:stop-signal"
)
