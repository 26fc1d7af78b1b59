package journal

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/detailops/detailops/internal/ledger/accounts"
	ledgershared "github.com/detailops/detailops/internal/ledger/shared"
	"github.com/detailops/detailops/internal/shared"
)

type fakeAccount struct {
	id            int64
	ownerID       int64
	number        string
	name          string
	normalBalance accounts.NormalBalance
	balance       float64
	active        bool
}

type memoryJournalRepo struct {
	accounts    map[int64]*fakeAccount
	entries     map[int64]JournalEntry
	lines       map[int64][]JournalLine
	nextEntryID int64
	nextLineID  int64
}

func newMemoryJournalRepo() *memoryJournalRepo {
	return &memoryJournalRepo{
		accounts: make(map[int64]*fakeAccount),
		entries:  make(map[int64]JournalEntry),
		lines:    make(map[int64][]JournalLine),
	}
}

func (r *memoryJournalRepo) addAccount(id int64, nb accounts.NormalBalance) *fakeAccount {
	acc := &fakeAccount{id: id, ownerID: 1, normalBalance: nb, active: true}
	r.accounts[id] = acc
	return acc
}

func (r *memoryJournalRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryJournalTx{repo: r})
}

func (r *memoryJournalRepo) GetEntry(ctx context.Context, ownerID, entryID int64) (JournalEntry, error) {
	entry, ok := r.entries[entryID]
	if !ok || entry.OwnerID != ownerID {
		return JournalEntry{}, ledgershared.ErrEntryNotFound
	}
	entry.Lines = append([]JournalLine(nil), r.lines[entryID]...)
	return entry, nil
}

func (r *memoryJournalRepo) ListEntries(ctx context.Context, ownerID int64, limit int) ([]JournalEntry, error) {
	var out []JournalEntry
	for _, entry := range r.entries {
		if entry.OwnerID == ownerID && len(out) < limit {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *memoryJournalRepo) AccountBalances(ctx context.Context, ownerID int64) ([]AccountBalanceRow, error) {
	var rows []AccountBalanceRow
	for _, acc := range r.accounts {
		if acc.ownerID != ownerID || !acc.active {
			continue
		}
		rows = append(rows, AccountBalanceRow{
			AccountID:     acc.id,
			Number:        acc.number,
			Name:          acc.name,
			NormalBalance: acc.normalBalance,
			Balance:       acc.balance,
		})
	}
	return rows, nil
}

func (r *memoryJournalRepo) AccountLedger(ctx context.Context, ownerID, accountID int64, filter LedgerFilter) (float64, []LedgerLine, bool, error) {
	var all []LedgerLine
	for entryID, lines := range r.lines {
		entry := r.entries[entryID]
		if entry.OwnerID != ownerID || !entry.Posted {
			continue
		}
		for _, line := range lines {
			if line.AccountID != accountID {
				continue
			}
			all = append(all, LedgerLine{
				EntryID:     entryID,
				EntryNumber: entry.Number,
				Date:        entry.Date,
				Description: entry.Description,
				Debit:       line.Debit,
				Credit:      line.Credit,
			})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Date.Equal(all[j].Date) {
			return all[i].Date.Before(all[j].Date)
		}
		return all[i].EntryID < all[j].EntryID
	})

	var cursorDate time.Time
	if filter.AfterID != 0 {
		entry, ok := r.entries[filter.AfterID]
		if !ok {
			return 0, nil, false, ledgershared.ErrEntryNotFound
		}
		cursorDate = entry.Date
	}
	atOrBeforeCursor := func(line LedgerLine) bool {
		if filter.AfterID == 0 {
			return false
		}
		if !line.Date.Equal(cursorDate) {
			return line.Date.Before(cursorDate)
		}
		return line.EntryID <= filter.AfterID
	}

	var opening float64
	var page []LedgerLine
	for _, line := range all {
		switch {
		case !filter.From.IsZero() && line.Date.Before(filter.From):
			opening += line.Debit - line.Credit
		case atOrBeforeCursor(line):
			opening += line.Debit - line.Credit
		case !filter.To.IsZero() && line.Date.After(filter.To):
			// beyond the upper bound
		default:
			page = append(page, line)
		}
	}
	hasMore := false
	if filter.Limit > 0 && len(page) > filter.Limit {
		page = page[:filter.Limit]
		hasMore = true
	}
	return opening, page, hasMore, nil
}

type memoryJournalTx struct {
	repo *memoryJournalRepo
}

func (tx *memoryJournalTx) InsertEntry(ctx context.Context, input CreateEntryInput, number string) (JournalEntry, error) {
	tx.repo.nextEntryID++
	entry := JournalEntry{
		ID:          tx.repo.nextEntryID,
		OwnerID:     input.OwnerID,
		Number:      number,
		Date:        input.Date,
		Description: input.Description,
		Reference:   input.Reference,
		SourceID:    input.SourceID,
	}
	tx.repo.entries[entry.ID] = entry
	return entry, nil
}

func (tx *memoryJournalTx) InsertLines(ctx context.Context, entryID int64, lines []LineInput) error {
	for _, in := range lines {
		tx.repo.nextLineID++
		tx.repo.lines[entryID] = append(tx.repo.lines[entryID], JournalLine{
			ID:        tx.repo.nextLineID,
			EntryID:   entryID,
			AccountID: in.AccountID,
			Debit:     in.Debit,
			Credit:    in.Credit,
		})
	}
	return nil
}

func (tx *memoryJournalTx) GetEntryForUpdate(ctx context.Context, ownerID, entryID int64) (JournalEntry, error) {
	entry, ok := tx.repo.entries[entryID]
	if !ok || entry.OwnerID != ownerID {
		return JournalEntry{}, ledgershared.ErrEntryNotFound
	}
	return entry, nil
}

func (tx *memoryJournalTx) GetEntryLines(ctx context.Context, entryID int64) ([]JournalLine, error) {
	return append([]JournalLine(nil), tx.repo.lines[entryID]...), nil
}

func (tx *memoryJournalTx) GetAccountRefsForUpdate(ctx context.Context, ownerID int64, ids []int64) (map[int64]AccountRef, error) {
	refs := make(map[int64]AccountRef, len(ids))
	for _, id := range ids {
		if acc, ok := tx.repo.accounts[id]; ok && acc.ownerID == ownerID {
			refs[id] = AccountRef{ID: acc.id, NormalBalance: acc.normalBalance, Active: acc.active}
		}
	}
	return refs, nil
}

func (tx *memoryJournalTx) ApplyAccountDelta(ctx context.Context, ownerID, accountID int64, delta float64) error {
	acc, ok := tx.repo.accounts[accountID]
	if !ok || acc.ownerID != ownerID {
		return ledgershared.ErrInactiveAccount
	}
	acc.balance += delta
	return nil
}

func (tx *memoryJournalTx) MarkPosted(ctx context.Context, entryID int64, at time.Time) error {
	entry := tx.repo.entries[entryID]
	entry.Posted = true
	entry.PostedAt = &at
	tx.repo.entries[entryID] = entry
	return nil
}

var (
	_ RepositoryPort = (*memoryJournalRepo)(nil)
	_ TxRepository   = (*memoryJournalTx)(nil)
)

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type fixedNumbering struct {
	next int
}

func (n *fixedNumbering) NextNumber(ctx context.Context, ownerID int64, series string) (string, error) {
	n.next++
	return series + "-000" + string(rune('0'+n.next)), nil
}

func newJournalFixture() (*memoryJournalRepo, *Service, *recordingAudit) {
	repo := newMemoryJournalRepo()
	audit := &recordingAudit{}
	svc := NewService(repo, &fixedNumbering{}, audit)
	return repo, svc, audit
}

func TestCreateAndPostEntryMovesBalances(t *testing.T) {
	repo, svc, audit := newJournalFixture()
	cash := repo.addAccount(1, accounts.NormalDebit)
	revenue := repo.addAccount(2, accounts.NormalCredit)

	entry, err := svc.CreateEntry(context.Background(), CreateEntryInput{
		OwnerID:     1,
		Description: "Exterior detail, paid cash",
		Reference:   ReferenceManual,
		Lines: []LineInput{
			{AccountID: 1, Debit: 150},
			{AccountID: 2, Credit: 150},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "JE-0001", entry.Number)
	require.False(t, entry.Posted)
	require.Zero(t, cash.balance)

	posted, err := svc.PostEntry(context.Background(), 1, entry.ID)
	require.NoError(t, err)
	require.True(t, posted.Posted)
	require.NotNil(t, posted.PostedAt)

	require.Equal(t, 150.0, cash.balance)
	require.Equal(t, 150.0, revenue.balance)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "journal.post", audit.logs[0].Action)
}

func TestCreateEntryRejectsUnbalancedLines(t *testing.T) {
	repo, svc, _ := newJournalFixture()
	repo.addAccount(1, accounts.NormalDebit)
	repo.addAccount(2, accounts.NormalCredit)

	_, err := svc.CreateEntry(context.Background(), CreateEntryInput{
		OwnerID:   1,
		Reference: ReferenceManual,
		Lines: []LineInput{
			{AccountID: 1, Debit: 100},
			{AccountID: 2, Credit: 90},
		},
	})
	require.ErrorIs(t, err, ledgershared.ErrUnbalanced)
}

func TestCreateEntryToleratesRoundingGap(t *testing.T) {
	repo, svc, _ := newJournalFixture()
	repo.addAccount(1, accounts.NormalDebit)
	repo.addAccount(2, accounts.NormalCredit)

	_, err := svc.CreateEntry(context.Background(), CreateEntryInput{
		OwnerID:   1,
		Reference: ReferenceManual,
		Lines: []LineInput{
			{AccountID: 1, Debit: 33.335},
			{AccountID: 2, Credit: 33.33},
		},
	})
	require.NoError(t, err)
}

func TestCreateEntryRejectsEmptyAndZeroLines(t *testing.T) {
	repo, svc, _ := newJournalFixture()
	repo.addAccount(1, accounts.NormalDebit)

	_, err := svc.CreateEntry(context.Background(), CreateEntryInput{
		OwnerID:   1,
		Reference: ReferenceManual,
	})
	require.ErrorIs(t, err, ledgershared.ErrNoLines)

	_, err = svc.CreateEntry(context.Background(), CreateEntryInput{
		OwnerID:   1,
		Reference: ReferenceManual,
		Lines:     []LineInput{{AccountID: 1}},
	})
	require.Error(t, err)
}

func TestCreateEntryRejectsInactiveAccount(t *testing.T) {
	repo, svc, _ := newJournalFixture()
	repo.addAccount(1, accounts.NormalDebit)
	closed := repo.addAccount(2, accounts.NormalCredit)
	closed.active = false

	_, err := svc.CreateEntry(context.Background(), CreateEntryInput{
		OwnerID:   1,
		Reference: ReferenceManual,
		Lines: []LineInput{
			{AccountID: 1, Debit: 50},
			{AccountID: 2, Credit: 50},
		},
	})
	require.ErrorIs(t, err, ledgershared.ErrInactiveAccount)
}

func TestPostEntryExactlyOnce(t *testing.T) {
	repo, svc, _ := newJournalFixture()
	cash := repo.addAccount(1, accounts.NormalDebit)
	revenue := repo.addAccount(2, accounts.NormalCredit)

	entry, err := svc.CreateEntry(context.Background(), CreateEntryInput{
		OwnerID:   1,
		Reference: ReferenceManual,
		Lines: []LineInput{
			{AccountID: 1, Debit: 75},
			{AccountID: 2, Credit: 75},
		},
	})
	require.NoError(t, err)

	_, err = svc.PostEntry(context.Background(), 1, entry.ID)
	require.NoError(t, err)
	_, err = svc.PostEntry(context.Background(), 1, entry.ID)
	require.ErrorIs(t, err, ledgershared.ErrAlreadyPosted)

	// Balances moved exactly once.
	require.Equal(t, 75.0, cash.balance)
	require.Equal(t, 75.0, revenue.balance)
}

func TestPostEntryNormalBalanceDirections(t *testing.T) {
	repo, svc, _ := newJournalFixture()
	cash := repo.addAccount(1, accounts.NormalDebit)
	payable := repo.addAccount(2, accounts.NormalCredit)
	expense := repo.addAccount(3, accounts.NormalDebit)
	revenue := repo.addAccount(4, accounts.NormalCredit)

	// Buy supplies on credit, then sell a service for cash.
	entry, err := svc.CreateEntry(context.Background(), CreateEntryInput{
		OwnerID:   1,
		Reference: ReferenceBill,
		Lines: []LineInput{
			{AccountID: 3, Debit: 40},
			{AccountID: 2, Credit: 40},
		},
	})
	require.NoError(t, err)
	_, err = svc.PostEntry(context.Background(), 1, entry.ID)
	require.NoError(t, err)

	entry, err = svc.CreateEntry(context.Background(), CreateEntryInput{
		OwnerID:   1,
		Reference: ReferenceSale,
		Lines: []LineInput{
			{AccountID: 1, Debit: 120},
			{AccountID: 4, Credit: 120},
		},
	})
	require.NoError(t, err)
	_, err = svc.PostEntry(context.Background(), 1, entry.ID)
	require.NoError(t, err)

	require.Equal(t, 40.0, expense.balance)
	require.Equal(t, 40.0, payable.balance)
	require.Equal(t, 120.0, cash.balance)
	require.Equal(t, 120.0, revenue.balance)
}

func TestPostEntryScopedToOwner(t *testing.T) {
	repo, svc, _ := newJournalFixture()
	repo.addAccount(1, accounts.NormalDebit)
	repo.addAccount(2, accounts.NormalCredit)

	entry, err := svc.CreateEntry(context.Background(), CreateEntryInput{
		OwnerID:   1,
		Reference: ReferenceManual,
		Lines: []LineInput{
			{AccountID: 1, Debit: 10},
			{AccountID: 2, Credit: 10},
		},
	})
	require.NoError(t, err)

	_, err = svc.PostEntry(context.Background(), 99, entry.ID)
	require.ErrorIs(t, err, ledgershared.ErrEntryNotFound)
}

func TestTrialBalanceBucketsByNormalBalance(t *testing.T) {
	repo, svc, _ := newJournalFixture()
	cash := repo.addAccount(1, accounts.NormalDebit)
	cash.number, cash.name = "1000", "Cash"
	revenue := repo.addAccount(2, accounts.NormalCredit)
	revenue.number, revenue.name = "4000", "Detailing Revenue"
	cash.balance = 250
	revenue.balance = 250

	tb, err := svc.GetTrialBalance(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 250.0, tb.TotalDebit)
	require.Equal(t, 250.0, tb.TotalCredit)
	require.Len(t, tb.Rows, 2)
}

func TestTrialBalanceNegativeBalanceSwitchesColumn(t *testing.T) {
	repo, svc, _ := newJournalFixture()
	cash := repo.addAccount(1, accounts.NormalDebit)
	cash.balance = -30
	bank := repo.addAccount(2, accounts.NormalCredit)
	bank.balance = -30

	tb, err := svc.GetTrialBalance(context.Background(), 1)
	require.NoError(t, err)
	for _, row := range tb.Rows {
		switch row.AccountID {
		case 1:
			require.Equal(t, 30.0, row.CreditBalance)
			require.Zero(t, row.DebitBalance)
		case 2:
			require.Equal(t, 30.0, row.DebitBalance)
			require.Zero(t, row.CreditBalance)
		}
	}
}

func TestTrialBalanceSurfacesImbalance(t *testing.T) {
	repo, svc, _ := newJournalFixture()
	cash := repo.addAccount(1, accounts.NormalDebit)
	cash.balance = 100

	_, err := svc.GetTrialBalance(context.Background(), 1)
	require.ErrorIs(t, err, ledgershared.ErrTrialImbalance)
}

func TestAccountLedgerRunningBalanceAndCursor(t *testing.T) {
	repo, svc, _ := newJournalFixture()
	repo.addAccount(1, accounts.NormalDebit)
	repo.addAccount(2, accounts.NormalCredit)

	for _, amount := range []float64{100, 40, 60} {
		entry, err := svc.CreateEntry(context.Background(), CreateEntryInput{
			OwnerID:   1,
			Reference: ReferenceManual,
			Lines: []LineInput{
				{AccountID: 1, Debit: amount},
				{AccountID: 2, Credit: amount},
			},
		})
		require.NoError(t, err)
		_, err = svc.PostEntry(context.Background(), 1, entry.ID)
		require.NoError(t, err)
	}

	page, err := svc.GetAccountLedger(context.Background(), 1, 1, LedgerFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Lines, 2)
	require.True(t, page.HasMore)
	require.Equal(t, 100.0, page.Lines[0].Running)
	require.Equal(t, 140.0, page.Lines[1].Running)

	next, err := svc.GetAccountLedger(context.Background(), 1, 1, LedgerFilter{Limit: 2, AfterID: page.NextAfter})
	require.NoError(t, err)
	require.Len(t, next.Lines, 1)
	require.False(t, next.HasMore)
	require.Equal(t, 140.0, next.Opening)
	require.Equal(t, 200.0, next.Lines[0].Running)
}

func postDatedEntry(t *testing.T, svc *Service, date time.Time, amount float64) JournalEntry {
	t.Helper()
	entry, err := svc.CreateEntry(context.Background(), CreateEntryInput{
		OwnerID:   1,
		Date:      date,
		Reference: ReferenceManual,
		Lines: []LineInput{
			{AccountID: 1, Debit: amount},
			{AccountID: 2, Credit: amount},
		},
	})
	require.NoError(t, err)
	_, err = svc.PostEntry(context.Background(), 1, entry.ID)
	require.NoError(t, err)
	return entry
}

func TestAccountLedgerUnboundedWindowReturnsEverything(t *testing.T) {
	repo, svc, _ := newJournalFixture()
	repo.addAccount(1, accounts.NormalDebit)
	repo.addAccount(2, accounts.NormalCredit)

	postDatedEntry(t, svc, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), 100)
	postDatedEntry(t, svc, time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC), 40)
	postDatedEntry(t, svc, time.Date(2025, time.June, 3, 0, 0, 0, 0, time.UTC), 60)

	// No from/to bounds: the whole history comes back.
	page, err := svc.GetAccountLedger(context.Background(), 1, 1, LedgerFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Lines, 3)
	require.False(t, page.HasMore)
	require.Zero(t, page.Opening)
	require.Equal(t, 200.0, page.Lines[2].Running)
}

func TestAccountLedgerBackdatedEntryPaging(t *testing.T) {
	repo, svc, _ := newJournalFixture()
	repo.addAccount(1, accounts.NormalDebit)
	repo.addAccount(2, accounts.NormalCredit)

	// Entry ids ascend 1,2,3 but dates run June 3, 1, 2: the page
	// sequence must follow dates and still visit every entry once.
	postDatedEntry(t, svc, time.Date(2025, time.June, 3, 0, 0, 0, 0, time.UTC), 100)
	postDatedEntry(t, svc, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), 40)
	postDatedEntry(t, svc, time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC), 60)

	var (
		filter LedgerFilter
		dates  []time.Time
		seen   int
		last   float64
	)
	filter.Limit = 1
	for {
		page, err := svc.GetAccountLedger(context.Background(), 1, 1, filter)
		require.NoError(t, err)
		for _, line := range page.Lines {
			require.Equal(t, page.Opening+line.Debit, line.Running)
			dates = append(dates, line.Date)
			last = line.Running
			seen++
		}
		if !page.HasMore {
			break
		}
		filter.AfterID = page.NextAfter
	}
	require.Equal(t, 3, seen)
	require.Equal(t, 200.0, last)
	require.True(t, sort.SliceIsSorted(dates, func(i, j int) bool { return dates[i].Before(dates[j]) }))
}

func TestAccountLedgerDateWindowOpening(t *testing.T) {
	repo, svc, _ := newJournalFixture()
	repo.addAccount(1, accounts.NormalDebit)
	repo.addAccount(2, accounts.NormalCredit)

	postDatedEntry(t, svc, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), 100)
	postDatedEntry(t, svc, time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC), 40)
	postDatedEntry(t, svc, time.Date(2025, time.June, 3, 0, 0, 0, 0, time.UTC), 60)

	page, err := svc.GetAccountLedger(context.Background(), 1, 1, LedgerFilter{
		From:  time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC),
		To:    time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC),
		Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, page.Lines, 1)
	require.Equal(t, 100.0, page.Opening)
	require.Equal(t, 140.0, page.Lines[0].Running)
}

func TestAccountLedgerUnknownCursor(t *testing.T) {
	repo, svc, _ := newJournalFixture()
	repo.addAccount(1, accounts.NormalDebit)
	repo.addAccount(2, accounts.NormalCredit)
	postDatedEntry(t, svc, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), 100)

	_, err := svc.GetAccountLedger(context.Background(), 1, 1, LedgerFilter{Limit: 10, AfterID: 99})
	require.ErrorIs(t, err, ledgershared.ErrEntryNotFound)
}
