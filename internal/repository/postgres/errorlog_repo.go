package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/neurohost/internal/botlog"
)

type ErrorLogRepo struct {
	pool *pgxpool.Pool
}

func NewErrorLogRepo(pool *pgxpool.Pool) *ErrorLogRepo {
	return &ErrorLogRepo{pool: pool}
}

// WriteBatch пакетно вставляет записи журнала. Вызывается воркером
// рекордера, поэтому держим один раунд-трип на пачку.
func (r *ErrorLogRepo) WriteBatch(ctx context.Context, entries []botlog.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	// Количество колонок в таблице bot_error_logs
	numFields := 4
	placeholderStr := ""
	vals := make([]interface{}, 0, len(entries)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range entries {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d),", p+1, p+2, p+3, p+4)
		vals = append(vals, e.ID, e.BotID, e.Text, e.Timestamp)
	}

	query := fmt.Sprintf(
		"INSERT INTO bot_error_logs (id, bot_id, text, timestamp) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	if err != nil {
		return fmt.Errorf("postgres: write log batch: %w", err)
	}
	return nil
}

// GetRecent возвращает последние записи журнала бота, новые сверху
func (r *ErrorLogRepo) GetRecent(ctx context.Context, botID string, limit, offset int) ([]botlog.Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, bot_id, text, timestamp
		FROM bot_error_logs
		WHERE bot_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3`,
		botID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: get logs: %w", err)
	}
	defer rows.Close()

	var entries []botlog.Entry
	for rows.Next() {
		var e botlog.Entry
		if err := rows.Scan(&e.ID, &e.BotID, &e.Text, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
