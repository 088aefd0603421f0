package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/agentos-kernel-prototype/internal/domain"
)

// OperatorRepo — хранилище учетных записей операторов консоли.
type OperatorRepo struct {
	pool *pgxpool.Pool
}

func NewOperatorRepo(pool *pgxpool.Pool) *OperatorRepo {
	return &OperatorRepo{pool: pool}
}

// EnsureSchema создает таблицу операторов, если ее еще нет.
func (r *OperatorRepo) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS operators (
			id            TEXT PRIMARY KEY,
			username      TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			scopes        JSONB NOT NULL DEFAULT '{}',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	_, err := r.pool.Exec(ctx, query)
	return err
}

func (r *OperatorRepo) GetOperatorByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	query := `
		SELECT id, username, password_hash, scopes, created_at
		FROM operators WHERE username = $1`

	op := &domain.Operator{}
	err := r.pool.QueryRow(ctx, query, username).Scan(
		&op.ID, &op.Username, &op.PasswordHash, &op.Scopes, &op.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return op, nil
}

// CreateOperator регистрирует оператора. Хэш пароля готовит вызывающий
// (bcrypt), сюда приходит уже хэш.
func (r *OperatorRepo) CreateOperator(ctx context.Context, op *domain.Operator) error {
	query := `
		INSERT INTO operators (id, username, password_hash, scopes, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.pool.Exec(ctx, query, op.ID, op.Username, op.PasswordHash, op.Scopes, op.CreatedAt)
	return err
}
