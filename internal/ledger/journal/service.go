package journal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/detailops/detailops/internal/ledger/accounts"
	"github.com/detailops/detailops/internal/ledger/shared"
	internalShared "github.com/detailops/detailops/internal/shared"
)

// AccountRef is the slice of an account the posting path needs.
type AccountRef struct {
	ID            int64
	NormalBalance accounts.NormalBalance
	Active        bool
}

// AccountBalanceRow feeds the trial balance report.
type AccountBalanceRow struct {
	AccountID     int64
	Number        string
	Name          string
	NormalBalance accounts.NormalBalance
	Balance       float64
}

// TxRepository exposes the operations that must share one transaction.
type TxRepository interface {
	InsertEntry(ctx context.Context, input CreateEntryInput, number string) (JournalEntry, error)
	InsertLines(ctx context.Context, entryID int64, lines []LineInput) error
	GetEntryForUpdate(ctx context.Context, ownerID, entryID int64) (JournalEntry, error)
	GetEntryLines(ctx context.Context, entryID int64) ([]JournalLine, error)
	GetAccountRefsForUpdate(ctx context.Context, ownerID int64, ids []int64) (map[int64]AccountRef, error)
	ApplyAccountDelta(ctx context.Context, ownerID, accountID int64, delta float64) error
	MarkPosted(ctx context.Context, entryID int64, at time.Time) error
}

// RepositoryPort defines data access methods for the journal.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetEntry(ctx context.Context, ownerID, entryID int64) (JournalEntry, error)
	ListEntries(ctx context.Context, ownerID int64, limit int) ([]JournalEntry, error)
	AccountBalances(ctx context.Context, ownerID int64) ([]AccountBalanceRow, error)
	AccountLedger(ctx context.Context, ownerID, accountID int64, filter LedgerFilter) (float64, []LedgerLine, bool, error)
}

// NumberingPort issues document numbers.
type NumberingPort interface {
	NextNumber(ctx context.Context, ownerID int64, series string) (string, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// SeriesJournal is the numbering series for journal entries.
const SeriesJournal = "JE"

// Service implements the journal engine.
type Service struct {
	repo      RepositoryPort
	numbering NumberingPort
	audit     AuditPort
	now       func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, numbering NumberingPort, audit AuditPort) *Service {
	return &Service{repo: repo, numbering: numbering, audit: audit, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateEntry validates and stores an unposted entry. Account existence
// and activity are checked inside the same transaction that inserts.
func (s *Service) CreateEntry(ctx context.Context, input CreateEntryInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	if input.Date.IsZero() {
		input.Date = s.now()
	}
	number := ""
	if s.numbering != nil {
		n, err := s.numbering.NextNumber(ctx, input.OwnerID, SeriesJournal)
		if err != nil {
			return JournalEntry{}, fmt.Errorf("ledger: issue entry number: %w", err)
		}
		number = n
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		refs, err := tx.GetAccountRefsForUpdate(ctx, input.OwnerID, lineAccountIDs(input.Lines))
		if err != nil {
			return err
		}
		for _, line := range input.Lines {
			ref, ok := refs[line.AccountID]
			if !ok || !ref.Active {
				return shared.ErrInactiveAccount
			}
		}
		inserted, err := tx.InsertEntry(ctx, input, number)
		if err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, inserted.ID, input.Lines); err != nil {
			return err
		}
		entry = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// PostEntry applies the entry's lines to account balances, exactly once.
// The whole posting is one transaction; a failed line leaves every
// balance untouched.
func (s *Service) PostEntry(ctx context.Context, ownerID, entryID int64) (JournalEntry, error) {
	if entryID == 0 {
		return JournalEntry{}, errors.New("ledger: entry id required")
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, ownerID, entryID)
		if err != nil {
			return err
		}
		if current.Posted {
			return shared.ErrAlreadyPosted
		}
		lines, err := tx.GetEntryLines(ctx, current.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return shared.ErrNoLines
		}
		var debit, credit float64
		ids := make([]int64, 0, len(lines))
		for _, line := range lines {
			debit += line.Debit
			credit += line.Credit
			ids = append(ids, line.AccountID)
		}
		if math.Abs(debit-credit) > balanceTolerance {
			return fmt.Errorf("%w: stored entry %d unbalanced", internalShared.ErrIntegrity, current.ID)
		}
		refs, err := tx.GetAccountRefsForUpdate(ctx, ownerID, ids)
		if err != nil {
			return err
		}
		deltas := make(map[int64]float64, len(refs))
		for _, line := range lines {
			ref, ok := refs[line.AccountID]
			if !ok || !ref.Active {
				return shared.ErrInactiveAccount
			}
			if ref.NormalBalance == accounts.NormalDebit {
				deltas[line.AccountID] += line.Debit - line.Credit
			} else {
				deltas[line.AccountID] += line.Credit - line.Debit
			}
		}
		for accountID, delta := range deltas {
			if delta == 0 {
				continue
			}
			if err := tx.ApplyAccountDelta(ctx, ownerID, accountID, delta); err != nil {
				return err
			}
		}
		now := s.now()
		if err := tx.MarkPosted(ctx, current.ID, now); err != nil {
			return err
		}
		current.Posted = true
		current.PostedAt = &now
		current.Lines = lines
		entry = current
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, internalShared.AuditLog{
			OwnerID:  ownerID,
			Action:   "journal.post",
			Entity:   "journal_entry",
			EntityID: fmt.Sprintf("%d", entry.ID),
			Meta: map[string]any{
				"number":    entry.Number,
				"reference": string(entry.Reference),
			},
			At: s.now(),
		})
	}
	return entry, nil
}

// GetEntry returns an entry with its lines.
func (s *Service) GetEntry(ctx context.Context, ownerID, entryID int64) (JournalEntry, error) {
	return s.repo.GetEntry(ctx, ownerID, entryID)
}

// ListEntries returns recent entries for the owner.
func (s *Service) ListEntries(ctx context.Context, ownerID int64, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListEntries(ctx, ownerID, limit)
}

// GetTrialBalance buckets every active account's balance into the debit
// or credit column by normal balance. Totals matching is a postcondition
// of correct posting history; a mismatch is surfaced, never absorbed.
func (s *Service) GetTrialBalance(ctx context.Context, ownerID int64) (TrialBalance, error) {
	rows, err := s.repo.AccountBalances(ctx, ownerID)
	if err != nil {
		return TrialBalance{}, err
	}
	tb := TrialBalance{Rows: make([]TrialBalanceRow, 0, len(rows))}
	for _, row := range rows {
		out := TrialBalanceRow{
			AccountID:     row.AccountID,
			AccountNumber: row.Number,
			AccountName:   row.Name,
		}
		// A negative balance swings the account to its opposite column.
		if (row.NormalBalance == accounts.NormalDebit) == (row.Balance >= 0) {
			out.DebitBalance = math.Abs(row.Balance)
		} else {
			out.CreditBalance = math.Abs(row.Balance)
		}
		tb.TotalDebit += out.DebitBalance
		tb.TotalCredit += out.CreditBalance
		tb.Rows = append(tb.Rows, out)
	}
	if math.Abs(tb.TotalDebit-tb.TotalCredit) > balanceTolerance {
		return TrialBalance{}, fmt.Errorf("%w: debit %.2f credit %.2f", shared.ErrTrialImbalance, tb.TotalDebit, tb.TotalCredit)
	}
	return tb, nil
}

// GetAccountLedger returns a page of the account's posted activity with a
// running balance, ordered by date then entry id. The returned cursor
// restarts the sequence exactly where the page ended.
func (s *Service) GetAccountLedger(ctx context.Context, ownerID, accountID int64, filter LedgerFilter) (LedgerPage, error) {
	if accountID == 0 {
		return LedgerPage{}, errors.New("ledger: account id required")
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	opening, lines, hasMore, err := s.repo.AccountLedger(ctx, ownerID, accountID, filter)
	if err != nil {
		return LedgerPage{}, err
	}
	page := LedgerPage{Opening: opening, Lines: lines, HasMore: hasMore}
	running := opening
	for i := range page.Lines {
		running += page.Lines[i].Debit - page.Lines[i].Credit
		page.Lines[i].Running = running
	}
	if n := len(page.Lines); n > 0 {
		page.NextAfter = page.Lines[n-1].EntryID
	}
	return page, nil
}

func lineAccountIDs(lines []LineInput) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	out := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.AccountID]; ok {
			continue
		}
		seen[line.AccountID] = struct{}{}
		out = append(out, line.AccountID)
	}
	return out
}
