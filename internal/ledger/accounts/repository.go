package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const accountColumns = `id, owner_id, number, name, type, normal_balance, balance, active, system, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var acc Account
	err := row.Scan(&acc.ID, &acc.OwnerID, &acc.Number, &acc.Name, &acc.Type, &acc.NormalBalance, &acc.Balance, &acc.Active, &acc.System, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acc, nil
}

// CreateAccount inserts a new account with a zero balance.
func (r *Repository) CreateAccount(ctx context.Context, input CreateAccountInput) (*Account, error) {
	now := time.Now()
	row := r.pool.QueryRow(ctx, `INSERT INTO accounts (owner_id, number, name, type, normal_balance, balance, active, system, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 0, TRUE, $6, $7, $7) RETURNING `+accountColumns,
		input.OwnerID, input.Number, input.Name, input.Type, input.NormalBalance, input.System, now)
	return scanAccount(row)
}

// GetAccount returns an account by id, scoped to owner.
func (r *Repository) GetAccount(ctx context.Context, ownerID, id int64) (*Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id=$1 AND id=$2`, ownerID, id)
	return scanAccount(row)
}

// GetAccountByNumber returns an account by number, scoped to owner.
func (r *Repository) GetAccountByNumber(ctx context.Context, ownerID int64, number string) (*Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id=$1 AND number=$2`, ownerID, number)
	return scanAccount(row)
}

// ListAccounts returns the chart of accounts ordered by number.
func (r *Repository) ListAccounts(ctx context.Context, ownerID int64, activeOnly bool) ([]Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id=$1`
	if activeOnly {
		query += ` AND active`
	}
	query += ` ORDER BY number`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		var acc Account
		if err := rows.Scan(&acc.ID, &acc.OwnerID, &acc.Number, &acc.Name, &acc.Type, &acc.NormalBalance, &acc.Balance, &acc.Active, &acc.System, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SetAccountActive flips the active flag.
func (r *Repository) SetAccountActive(ctx context.Context, ownerID, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE accounts SET active=$1, updated_at=NOW() WHERE owner_id=$2 AND id=$3`, active, ownerID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}
