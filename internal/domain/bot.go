package domain

import "time"

type BotStatus string

const (
	StatusStopped BotStatus = "stopped" // Юнит не запущен
	StatusRunning BotStatus = "running" // Есть живой ExecutionUnit
)

// BackendKind определяет стратегию изоляции, выбранную при создании бота.
type BackendKind string

const (
	BackendProcess   BackendKind = "process"   // Отдельный OS-процесс в своей process group
	BackendContainer BackendKind = "container" // Изолированный контейнер (kernel-enforced лимиты)
)

// Причины перевода в сон. Пишутся в sleep_reason и уходят владельцу в уведомлении.
const (
	SleepReasonAntiLoop = "anti_loop"           // Слишком много рестартов без успешного старта
	SleepReasonExpired  = "expired"             // Ресурсы исчерпаны (обнаружено enforcement-тиком)
	SleepReasonNoPower  = "expired_or_no_power" // Ресурсы исчерпаны (обнаружено при падении)
	SleepReasonAdmin    = "admin"               // Принудительный сон по команде оператора
)

// Bot — один размещённый ворклоад. Поля ресурсного леджера мутируются
// только под пер-ботовой блокировкой оркестратора.
type Bot struct {
	ID      string      `json:"id"`       // UUID
	OwnerID string      `json:"owner_id"` // UUID владельца
	Name    string      `json:"name"`
	Status  BotStatus   `json:"status"`
	Backend BackendKind `json:"backend"`

	// Сон: sleep_mode=true всегда означает status=stopped и отсутствие живого юнита
	SleepMode   bool   `json:"sleep_mode"`
	SleepReason string `json:"sleep_reason,omitempty"`

	// Ресурсный леджер
	TotalSeconds     int64   `json:"total_seconds"`     // Всего выдано времени хостинга
	RemainingSeconds int64   `json:"remaining_seconds"` // 0 <= remaining <= total
	PowerMax         float64 `json:"power_max"`         // Потолок энергии по тарифу, (0,100]
	PowerRemaining   float64 `json:"power_remaining"`   // 0 <= power <= power_max

	// Учёт рестартов
	RestartCount     int        `json:"restart_count"`
	LastRestartAt    *time.Time `json:"last_restart_at,omitempty"`
	AutoRecoveryUsed bool       `json:"auto_recovery_used"`

	// Служебное
	LastChecked time.Time `json:"last_checked"` // Когда последний раз применялся drain
	WarnedLow   bool      `json:"warned_low"`   // Предупреждение о низком ресурсе уже отправлено

	// Где лежит код и что запускать
	CodeDir    string `json:"code_dir"`
	Entrypoint string `json:"entrypoint"`
	// Зашифрованный токен бота; расшифровывается только на время запуска
	TokenEncrypted string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Деплеция: любой из двух ресурсов на нуле.
func (b *Bot) Depleted() bool {
	return b.RemainingSeconds <= 0 || b.PowerRemaining <= 0
}

// BotSnapshot — read-model для getStatus: леджер плюс живая выборка с бэкенда.
type BotSnapshot struct {
	Bot        *Bot    `json:"bot"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
	UnitAlive  bool    `json:"unit_alive"`
}
