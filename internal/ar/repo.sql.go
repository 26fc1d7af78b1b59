package ar

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
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

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const entryColumns = `id, owner_id, customer_id, sale_id, invoice_number, invoice_date, due_date, original_amount, amount_paid, terminal_status, is_overdue, notes, created_at, updated_at`

func scanEntry(row pgx.Row) (LedgerEntry, error) {
	var e LedgerEntry
	err := row.Scan(&e.ID, &e.OwnerID, &e.CustomerID, &e.SaleID, &e.InvoiceNumber, &e.InvoiceDate, &e.DueDate, &e.OriginalAmount, &e.AmountPaid, &e.Terminal, &e.IsOverdue, &e.Notes, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LedgerEntry{}, ErrEntryNotFound
		}
		return LedgerEntry{}, err
	}
	return e, nil
}

// InsertEntry opens a new receivable with nothing paid.
func (r *Repository) InsertEntry(ctx context.Context, input CreateEntryInput) (LedgerEntry, error) {
	return scanEntry(r.pool.QueryRow(ctx, `INSERT INTO ar_ledger_entries (owner_id, customer_id, sale_id, invoice_number, invoice_date, due_date, original_amount, amount_paid, is_overdue, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0, FALSE, $8, NOW(), NOW()) RETURNING `+entryColumns,
		input.OwnerID, input.CustomerID, input.SaleID, input.InvoiceNumber, input.InvoiceDate, input.DueDate, input.OriginalAmount, input.Notes))
}

// GetEntry returns an entry scoped to owner.
func (r *Repository) GetEntry(ctx context.Context, ownerID, entryID int64) (LedgerEntry, error) {
	return scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM ar_ledger_entries WHERE owner_id=$1 AND id=$2`, ownerID, entryID))
}

// ListEntries lists receivables newest first.
func (r *Repository) ListEntries(ctx context.Context, ownerID int64, filter ListFilter) ([]LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ar_ledger_entries WHERE owner_id=$1`
	args := []any{ownerID}
	if filter.CustomerID != 0 {
		args = append(args, filter.CustomerID)
		query += ` AND customer_id=$2`
	}
	if filter.OverdueOnly {
		query += ` AND is_overdue`
	}
	args = append(args, filter.Limit)
	query += ` ORDER BY invoice_date DESC, id DESC LIMIT $` + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// ListOutstanding returns non-terminal entries with a balance.
func (r *Repository) ListOutstanding(ctx context.Context, ownerID int64) ([]LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM ar_ledger_entries
WHERE owner_id=$1 AND terminal_status IS NULL AND original_amount - amount_paid > 0.005 ORDER BY invoice_date`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// ListPayments returns the payment history of an entry, oldest first.
func (r *Repository) ListPayments(ctx context.Context, ownerID, entryID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.entry_id, p.payment_date, p.amount, p.method, p.reference_number, p.notes, p.created_at
FROM ar_payment_history p
JOIN ar_ledger_entries e ON e.id = p.entry_id
WHERE e.owner_id=$1 AND p.entry_id=$2 ORDER BY p.id`, ownerID, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.EntryID, &p.Date, &p.Amount, &p.Method, &p.ReferenceNumber, &p.Notes, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkOverdue flags entries past due with a balance and clears the flag
// where it no longer applies. Running it twice changes nothing.
func (r *Repository) MarkOverdue(ctx context.Context, ownerID int64, asOf time.Time) (int64, error) {
	day := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, asOf.Location())
	tag, err := r.pool.Exec(ctx, `UPDATE ar_ledger_entries
SET is_overdue = (due_date < $2 AND terminal_status IS NULL AND original_amount - amount_paid > 0.005), updated_at = NOW()
WHERE owner_id=$1
  AND is_overdue IS DISTINCT FROM (due_date < $2 AND terminal_status IS NULL AND original_amount - amount_paid > 0.005)`, ownerID, day)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) GetEntryForUpdate(ctx context.Context, ownerID, entryID int64) (LedgerEntry, error) {
	return scanEntry(t.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM ar_ledger_entries WHERE owner_id=$1 AND id=$2 FOR UPDATE`, ownerID, entryID))
}

func (t *txRepo) InsertPayment(ctx context.Context, payment Payment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO ar_payment_history (entry_id, payment_date, amount, method, reference_number, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW()) RETURNING id`,
		payment.EntryID, payment.Date, payment.Amount, payment.Method, payment.ReferenceNumber, payment.Notes).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateEntryAmounts(ctx context.Context, entryID int64, amountPaid float64, terminal *Status) error {
	_, err := t.tx.Exec(ctx, `UPDATE ar_ledger_entries SET amount_paid=$1, terminal_status=COALESCE($2, terminal_status), updated_at=NOW() WHERE id=$3`,
		amountPaid, terminal, entryID)
	return err
}

func collectEntries(rows pgx.Rows) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.CustomerID, &e.SaleID, &e.InvoiceNumber, &e.InvoiceDate, &e.DueDate, &e.OriginalAmount, &e.AmountPaid, &e.Terminal, &e.IsOverdue, &e.Notes, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
