package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/neurohost/internal/domain"
)

type OwnerRepo struct {
	pool *pgxpool.Pool
}

func NewOwnerRepo(pool *pgxpool.Pool) *OwnerRepo {
	return &OwnerRepo{pool: pool}
}

func (r *OwnerRepo) GetByUsername(ctx context.Context, username string) (*domain.Owner, error) {
	query := `
		SELECT id, username, password_hash, plan, role, last_recovery_date, created_at, updated_at
		FROM owners WHERE username = $1`

	o := &domain.Owner{}
	err := r.pool.QueryRow(ctx, query, username).Scan(
		&o.ID, &o.Username, &o.PasswordHash, &o.Plan, &o.Role, &o.LastRecoveryDate, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get owner: %w", err)
	}
	return o, nil
}

func (r *OwnerRepo) GetByID(ctx context.Context, id string) (*domain.Owner, error) {
	query := `
		SELECT id, username, password_hash, plan, role, last_recovery_date, created_at, updated_at
		FROM owners WHERE id = $1`

	o := &domain.Owner{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&o.ID, &o.Username, &o.PasswordHash, &o.Plan, &o.Role, &o.LastRecoveryDate, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get owner: %w", err)
	}
	return o, nil
}

// TryClaimDailyRecovery атомарно захватывает суточный слот восстановления.
// Конкурентные вызовы за один день проходят только у первого: условие
// в WHERE и апдейт выполняются одним оператором, без гонки чтения-записи.
func (r *OwnerRepo) TryClaimDailyRecovery(ctx context.Context, ownerID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE owners SET
			last_recovery_date = CURRENT_DATE,
			updated_at = NOW()
		WHERE id = $1
		  AND (last_recovery_date IS NULL OR last_recovery_date < CURRENT_DATE)`,
		ownerID)
	if err != nil {
		return false, fmt.Errorf("postgres: claim recovery: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
