package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/neurohost/internal/domain"
)

const botColumns = `
	id, owner_id, name, status, backend,
	sleep_mode, sleep_reason,
	total_seconds, remaining_seconds, power_max, power_remaining,
	restart_count, last_restart_at, auto_recovery_used,
	last_checked, warned_low,
	code_dir, entrypoint, token_encrypted,
	created_at, updated_at`

type BotRepo struct {
	pool *pgxpool.Pool
}

// NewBotRepo создает новый экземпляр репозитория поверх общего пула
func NewBotRepo(pool *pgxpool.Pool) *BotRepo {
	return &BotRepo{pool: pool}
}

// Ping проверяет доступность базы при старте
func (r *BotRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanBot(row pgx.Row) (*domain.Bot, error) {
	b := &domain.Bot{}
	err := row.Scan(
		&b.ID, &b.OwnerID, &b.Name, &b.Status, &b.Backend,
		&b.SleepMode, &b.SleepReason,
		&b.TotalSeconds, &b.RemainingSeconds, &b.PowerMax, &b.PowerRemaining,
		&b.RestartCount, &b.LastRestartAt, &b.AutoRecoveryUsed,
		&b.LastChecked, &b.WarnedLow,
		&b.CodeDir, &b.Entrypoint, &b.TokenEncrypted,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: scan bot: %w", err)
	}
	return b, nil
}

func (r *BotRepo) GetBot(ctx context.Context, id string) (*domain.Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE id = $1`
	return scanBot(r.pool.QueryRow(ctx, query, id))
}

func (r *BotRepo) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE owner_id = $1 ORDER BY created_at`
	return r.queryBots(ctx, query, ownerID)
}

// GetRunning возвращает всех ботов в статусе running: рабочее множество
// enforcement-цикла и выжившие юниты для ресинка после рестарта сервиса.
func (r *BotRepo) GetRunning(ctx context.Context) ([]*domain.Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE status = 'running'`
	return r.queryBots(ctx, query)
}

func (r *BotRepo) queryBots(ctx context.Context, query string, args ...interface{}) ([]*domain.Bot, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query bots: %w", err)
	}
	defer rows.Close()

	var bots []*domain.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

func (r *BotRepo) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bots WHERE owner_id = $1`, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count bots: %w", err)
	}
	return n, nil
}

func (r *BotRepo) Create(ctx context.Context, b *domain.Bot) error {
	query := `
		INSERT INTO bots (` + botColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		        $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err := r.pool.Exec(ctx, query,
		b.ID, b.OwnerID, b.Name, b.Status, b.Backend,
		b.SleepMode, b.SleepReason,
		b.TotalSeconds, b.RemainingSeconds, b.PowerMax, b.PowerRemaining,
		b.RestartCount, b.LastRestartAt, b.AutoRecoveryUsed,
		b.LastChecked, b.WarnedLow,
		b.CodeDir, b.Entrypoint, b.TokenEncrypted,
		b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create bot: %w", err)
	}
	return nil
}

func (r *BotRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM bots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete bot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus меняет основной статус (running/stopped)
func (r *BotRepo) UpdateStatus(ctx context.Context, id string, status domain.BotStatus) error {
	return r.exec(ctx, `UPDATE bots SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
}

// UpdateResources атомарно записывает результат одного цикла тарификации.
// last_checked двигается вместе со счётчиками, чтобы упавший между двумя
// апдейтами процесс не списал один интервал дважды.
func (r *BotRepo) UpdateResources(ctx context.Context, id string, remainingSeconds int64, powerRemaining float64, checkedAt time.Time) error {
	return r.exec(ctx, `
		UPDATE bots SET
			remaining_seconds = $1,
			power_remaining = $2,
			last_checked = $3,
			updated_at = NOW()
		WHERE id = $4`,
		remainingSeconds, powerRemaining, checkedAt, id)
}

// SetSleepMode усыпляет бота одним оператором: статус, флаг и причина
func (r *BotRepo) SetSleepMode(ctx context.Context, id string, reason string) error {
	return r.exec(ctx, `
		UPDATE bots SET
			status = 'stopped',
			sleep_mode = TRUE,
			sleep_reason = $1,
			updated_at = NOW()
		WHERE id = $2`,
		reason, id)
}

func (r *BotRepo) ClearSleep(ctx context.Context, id string) error {
	return r.exec(ctx, `
		UPDATE bots SET
			sleep_mode = FALSE,
			sleep_reason = '',
			updated_at = NOW()
		WHERE id = $1`, id)
}

// IncrementRestart увеличивает счётчик и возвращает новое значение,
// чтобы политика рестартов видела актуальное число без гонки чтения.
func (r *BotRepo) IncrementRestart(ctx context.Context, id string, at time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		UPDATE bots SET
			restart_count = restart_count + 1,
			last_restart_at = $1,
			updated_at = NOW()
		WHERE id = $2
		RETURNING restart_count`,
		at, id).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: increment restart: %w", err)
	}
	return count, nil
}

func (r *BotRepo) ResetRestartCount(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE bots SET restart_count = 0, updated_at = NOW() WHERE id = $1`, id)
}

func (r *BotRepo) SetWarnedLow(ctx context.Context, id string, warned bool) error {
	return r.exec(ctx, `UPDATE bots SET warned_low = $1, updated_at = NOW() WHERE id = $2`, warned, id)
}

func (r *BotRepo) MarkAutoRecoveryUsed(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE bots SET auto_recovery_used = TRUE, updated_at = NOW() WHERE id = $1`, id)
}

// SetTimePower пишет ледджер целиком: пополнения и восстановления
// задают новые значения, а не дельты.
func (r *BotRepo) SetTimePower(ctx context.Context, id string, totalSeconds, remainingSeconds int64, powerRemaining float64, warnedLow bool) error {
	return r.exec(ctx, `
		UPDATE bots SET
			total_seconds = $1,
			remaining_seconds = $2,
			power_remaining = $3,
			warned_low = $4,
			updated_at = NOW()
		WHERE id = $5`,
		totalSeconds, remainingSeconds, powerRemaining, warnedLow, id)
}

func (r *BotRepo) exec(ctx context.Context, query string, args ...interface{}) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetFleetStats — сводка по всему парку для админского дашборда
func (r *BotRepo) GetFleetStats(ctx context.Context) (*domain.FleetStats, error) {
	s := &domain.FleetStats{}

	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'running'),
			COUNT(*) FILTER (WHERE sleep_mode),
			COALESCE(SUM(remaining_seconds), 0) / 3600.0,
			COALESCE(AVG(power_remaining), 0)
		FROM bots`).Scan(
		&s.TotalBots,
		&s.RunningBots,
		&s.SleepingBots,
		&s.TotalRemainingHours,
		&s.AvgPowerRemaining,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: fleet stats: %w", err)
	}

	err = r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM bots
		WHERE last_restart_at > NOW() - INTERVAL '60 minutes'`).Scan(&s.RestartsLastHour)
	if err != nil {
		return nil, fmt.Errorf("postgres: fleet stats: %w", err)
	}

	return s, nil
}
