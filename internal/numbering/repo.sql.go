package numbering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/detailops/detailops/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Increment advances the counter row for (owner, series) and returns the
// issued value. The row is locked for the duration of the transaction so
// two concurrent callers can never read the same value. A missing row is
// seeded with defaults; the first issue of a new calendar year resets the
// counter when the series is configured to do so.
func (r *Repository) Increment(ctx context.Context, ownerID int64, series string, now time.Time) (Sequence, int64, error) {
	var seq Sequence
	var value int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT owner_id, series, prefix, current, start, width, include_year, yearly_reset, year, updated_at
FROM number_sequences WHERE owner_id=$1 AND series=$2 FOR UPDATE`, ownerID, series)
		err := row.Scan(&seq.OwnerID, &seq.Series, &seq.Prefix, &seq.Current, &seq.Start, &seq.Width, &seq.IncludeYear, &seq.YearlyReset, &seq.Year, &seq.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			seq = Sequence{OwnerID: ownerID, Series: series, Prefix: series, Start: 1, Width: 4, Year: now.Year()}
			value = seq.Start
			_, err = tx.Exec(ctx, `INSERT INTO number_sequences (owner_id, series, prefix, current, start, width, include_year, yearly_reset, year, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				ownerID, series, seq.Prefix, value, seq.Start, seq.Width, seq.IncludeYear, seq.YearlyReset, seq.Year, now)
			if err != nil {
				return retryable(err)
			}
			seq.Current = value
			return nil
		}
		if err != nil {
			return err
		}
		if seq.YearlyReset && now.Year() != seq.Year {
			value = seq.Start
		} else {
			value = seq.Current + 1
		}
		_, err = tx.Exec(ctx, `UPDATE number_sequences SET current=$1, year=$2, updated_at=$3 WHERE owner_id=$4 AND series=$5`,
			value, now.Year(), now, ownerID, series)
		if err != nil {
			return retryable(err)
		}
		seq.Current = value
		seq.Year = now.Year()
		return nil
	})
	if err != nil {
		return Sequence{}, 0, err
	}
	return seq, value, nil
}

// Configure creates or updates a series row without disturbing the
// current counter value.
func (r *Repository) Configure(ctx context.Context, cfg SeriesConfig) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO number_sequences (owner_id, series, prefix, current, start, width, include_year, yearly_reset, year, updated_at)
VALUES ($1, $2, $3, $4 - 1, $4, $5, $6, $7, $8, NOW())
ON CONFLICT (owner_id, series) DO UPDATE
SET prefix=$3, start=$4, width=$5, include_year=$6, yearly_reset=$7`,
		cfg.OwnerID, cfg.Series, cfg.Prefix, cfg.Start, cfg.Width, cfg.IncludeYear, cfg.YearlyReset, time.Now().Year())
	return err
}

// retryable maps serialization failures and duplicate-seed races onto the
// retry sentinel so the service's bounded retry loop can handle them.
func retryable(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %s", ErrRetryable, pgErr.Code)
		}
	}
	return err
}
