package journal

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/detailops/detailops/internal/ledger/shared"
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

const entryColumns = `id, owner_id, number, date, description, reference, source_id, posted, posted_at, created_at, updated_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.OwnerID, &e.Number, &e.Date, &e.Description, &e.Reference, &e.SourceID, &e.Posted, &e.PostedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, shared.ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	return e, nil
}

// GetEntry returns an entry with its lines.
func (r *Repository) GetEntry(ctx context.Context, ownerID, entryID int64) (JournalEntry, error) {
	entry, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE owner_id=$1 AND id=$2`, ownerID, entryID))
	if err != nil {
		return JournalEntry{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, entry_id, account_id, debit, credit, created_at FROM journal_lines WHERE entry_id=$1 ORDER BY id`, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.Debit, &line.Credit, &line.CreatedAt); err != nil {
			return JournalEntry{}, err
		}
		entry.Lines = append(entry.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// ListEntries returns recent entries without lines.
func (r *Repository) ListEntries(ctx context.Context, ownerID int64, limit int) ([]JournalEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE owner_id=$1 ORDER BY date DESC, id DESC LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Number, &e.Date, &e.Description, &e.Reference, &e.SourceID, &e.Posted, &e.PostedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AccountBalances lists active accounts with their stored balance.
func (r *Repository) AccountBalances(ctx context.Context, ownerID int64) ([]AccountBalanceRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, number, name, normal_balance, balance FROM accounts WHERE owner_id=$1 AND active ORDER BY number`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountBalanceRow
	for rows.Next() {
		var row AccountBalanceRow
		if err := rows.Scan(&row.AccountID, &row.Number, &row.Name, &row.NormalBalance, &row.Balance); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AccountLedger returns the net activity (debit − credit) before the
// requested position plus one page of posted lines in (date, entry id)
// order. From and To are optional bounds; a zero time leaves that side
// open. The cursor is keyed on (date, id) so backdated entries are
// neither skipped nor double-counted when id order diverges from date
// order.
func (r *Repository) AccountLedger(ctx context.Context, ownerID, accountID int64, filter LedgerFilter) (float64, []LedgerLine, bool, error) {
	var from, to, afterDate *time.Time
	if !filter.From.IsZero() {
		from = &filter.From
	}
	if !filter.To.IsZero() {
		to = &filter.To
	}
	if filter.AfterID != 0 {
		var d time.Time
		err := r.pool.QueryRow(ctx, `SELECT date FROM journal_entries WHERE owner_id=$1 AND id=$2`, ownerID, filter.AfterID).Scan(&d)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, nil, false, shared.ErrEntryNotFound
			}
			return 0, nil, false, err
		}
		afterDate = &d
	}

	// Opening folds in everything before the lower bound plus every
	// in-window line at or before the cursor, so page N's running
	// balance carries pages 1..N−1.
	var opening float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit - l.credit), 0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
WHERE e.owner_id=$1 AND l.account_id=$2 AND e.posted
  AND (($3::date IS NOT NULL AND e.date < $3)
    OR ($4::date IS NOT NULL AND ($3::date IS NULL OR e.date >= $3)
        AND (e.date, e.id) <= ($4::date, $5::bigint)))`,
		ownerID, accountID, from, afterDate, filter.AfterID).Scan(&opening)
	if err != nil {
		return 0, nil, false, err
	}
	rows, err := r.pool.Query(ctx, `SELECT e.id, e.number, e.date, e.description, l.debit, l.credit
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
WHERE e.owner_id=$1 AND l.account_id=$2 AND e.posted
  AND ($3::date IS NULL OR e.date >= $3)
  AND ($4::date IS NULL OR e.date <= $4)
  AND ($5::date IS NULL OR (e.date, e.id) > ($5::date, $6::bigint))
ORDER BY e.date, e.id
LIMIT $7`, ownerID, accountID, from, to, afterDate, filter.AfterID, filter.Limit+1)
	if err != nil {
		return 0, nil, false, err
	}
	defer rows.Close()
	var lines []LedgerLine
	for rows.Next() {
		var line LedgerLine
		if err := rows.Scan(&line.EntryID, &line.EntryNumber, &line.Date, &line.Description, &line.Debit, &line.Credit); err != nil {
			return 0, nil, false, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, false, err
	}
	hasMore := len(lines) > filter.Limit
	if hasMore {
		lines = lines[:filter.Limit]
	}
	return opening, lines, hasMore, nil
}

func (t *txRepo) InsertEntry(ctx context.Context, input CreateEntryInput, number string) (JournalEntry, error) {
	now := time.Now()
	return scanEntry(t.tx.QueryRow(ctx, `INSERT INTO journal_entries (owner_id, number, date, description, reference, source_id, posted, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $7) RETURNING `+entryColumns,
		input.OwnerID, number, input.Date, input.Description, input.Reference, input.SourceID, now))
}

func (t *txRepo) InsertLines(ctx context.Context, entryID int64, lines []LineInput) error {
	for _, line := range lines {
		if _, err := t.tx.Exec(ctx, `INSERT INTO journal_lines (entry_id, account_id, debit, credit, created_at) VALUES ($1, $2, $3, $4, NOW())`,
			entryID, line.AccountID, line.Debit, line.Credit); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) GetEntryForUpdate(ctx context.Context, ownerID, entryID int64) (JournalEntry, error) {
	return scanEntry(t.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE owner_id=$1 AND id=$2 FOR UPDATE`, ownerID, entryID))
}

func (t *txRepo) GetEntryLines(ctx context.Context, entryID int64) ([]JournalLine, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, entry_id, account_id, debit, credit, created_at FROM journal_lines WHERE entry_id=$1 ORDER BY id`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.Debit, &line.Credit, &line.CreatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// GetAccountRefsForUpdate locks the referenced accounts in id order so
// concurrent postings touching the same accounts cannot deadlock.
func (t *txRepo) GetAccountRefsForUpdate(ctx context.Context, ownerID int64, ids []int64) (map[int64]AccountRef, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, normal_balance, active FROM accounts WHERE owner_id=$1 AND id = ANY($2) ORDER BY id FOR UPDATE`, ownerID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	refs := make(map[int64]AccountRef, len(ids))
	for rows.Next() {
		var ref AccountRef
		if err := rows.Scan(&ref.ID, &ref.NormalBalance, &ref.Active); err != nil {
			return nil, err
		}
		refs[ref.ID] = ref
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return refs, nil
}

func (t *txRepo) ApplyAccountDelta(ctx context.Context, ownerID, accountID int64, delta float64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE owner_id=$2 AND id=$3`, delta, ownerID, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrInactiveAccount
	}
	return nil
}

func (t *txRepo) MarkPosted(ctx context.Context, entryID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE journal_entries SET posted = TRUE, posted_at = $1, updated_at = $1 WHERE id=$2`, at, entryID)
	return err
}
