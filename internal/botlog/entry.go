package botlog

import "time"

// Entry — одна запись журнала ошибок бота. Сюда попадают только строки
// stderr, классифицированные как реальные ошибки, и служебные события
// рестартов.
type Entry struct {
	ID        string    `json:"id"`     // UUID записи
	BotID     string    `json:"bot_id"` // Чей журнал
	Text      string    `json:"text"`   // Строка stderr, обрезанная до лимита
	Timestamp time.Time `json:"timestamp"`
}
