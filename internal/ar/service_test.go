package ar

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/detailops/detailops/internal/shared"
)

type memoryARRepo struct {
	entries          map[int64]LedgerEntry
	payments         map[int64][]Payment
	nextEntryID      int64
	nextPaymentID    int64
	outstandingCalls int
}

func newMemoryARRepo() *memoryARRepo {
	return &memoryARRepo{
		entries:  make(map[int64]LedgerEntry),
		payments: make(map[int64][]Payment),
	}
}

func (r *memoryARRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryARTx{repo: r})
}

func (r *memoryARRepo) InsertEntry(ctx context.Context, input CreateEntryInput) (LedgerEntry, error) {
	r.nextEntryID++
	entry := LedgerEntry{
		ID:             r.nextEntryID,
		OwnerID:        input.OwnerID,
		CustomerID:     input.CustomerID,
		SaleID:         input.SaleID,
		InvoiceNumber:  input.InvoiceNumber,
		InvoiceDate:    input.InvoiceDate,
		DueDate:        input.DueDate,
		OriginalAmount: input.OriginalAmount,
		Notes:          input.Notes,
	}
	r.entries[entry.ID] = entry
	return entry, nil
}

func (r *memoryARRepo) GetEntry(ctx context.Context, ownerID, entryID int64) (LedgerEntry, error) {
	entry, ok := r.entries[entryID]
	if !ok || entry.OwnerID != ownerID {
		return LedgerEntry{}, ErrEntryNotFound
	}
	return entry, nil
}

func (r *memoryARRepo) ListEntries(ctx context.Context, ownerID int64, filter ListFilter) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for _, entry := range r.entries {
		if entry.OwnerID == ownerID && len(out) < filter.Limit {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *memoryARRepo) ListOutstanding(ctx context.Context, ownerID int64) ([]LedgerEntry, error) {
	r.outstandingCalls++
	var out []LedgerEntry
	for _, entry := range r.entries {
		if entry.OwnerID == ownerID && entry.Outstanding() {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *memoryARRepo) ListPayments(ctx context.Context, ownerID, entryID int64) ([]Payment, error) {
	return append([]Payment(nil), r.payments[entryID]...), nil
}

func (r *memoryARRepo) MarkOverdue(ctx context.Context, ownerID int64, asOf time.Time) (int64, error) {
	var flagged int64
	for id, entry := range r.entries {
		if entry.OwnerID != ownerID || !entry.Outstanding() || entry.IsOverdue {
			continue
		}
		if entry.DueDate.Before(asOf) {
			entry.IsOverdue = true
			r.entries[id] = entry
			flagged++
		}
	}
	return flagged, nil
}

type memoryARTx struct {
	repo *memoryARRepo
}

func (tx *memoryARTx) GetEntryForUpdate(ctx context.Context, ownerID, entryID int64) (LedgerEntry, error) {
	return tx.repo.GetEntry(ctx, ownerID, entryID)
}

func (tx *memoryARTx) InsertPayment(ctx context.Context, payment Payment) (int64, error) {
	tx.repo.nextPaymentID++
	payment.ID = tx.repo.nextPaymentID
	tx.repo.payments[payment.EntryID] = append(tx.repo.payments[payment.EntryID], payment)
	return payment.ID, nil
}

func (tx *memoryARTx) UpdateEntryAmounts(ctx context.Context, entryID int64, amountPaid float64, terminal *Status) error {
	entry := tx.repo.entries[entryID]
	entry.AmountPaid = amountPaid
	entry.Terminal = terminal
	tx.repo.entries[entryID] = entry
	return nil
}

var (
	_ RepositoryPort = (*memoryARRepo)(nil)
	_ TxRepository   = (*memoryARTx)(nil)
)

type staticNumbering struct{}

func (staticNumbering) NextNumber(ctx context.Context, ownerID int64, series string) (string, error) {
	return series + "-0001", nil
}

func newARFixture(t *testing.T) (*memoryARRepo, *Service) {
	t.Helper()
	repo := newMemoryARRepo()
	svc := NewService(repo, staticNumbering{}, nil)
	return repo, svc
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCreateFromSaleDefaults(t *testing.T) {
	_, svc := newARFixture(t)
	svc.WithNow(func() time.Time { return day(2025, time.June, 1) })

	entry, err := svc.CreateFromSale(context.Background(), CreateEntryInput{
		OwnerID:        1,
		CustomerID:     7,
		OriginalAmount: 100,
	})
	require.NoError(t, err)
	require.Equal(t, "INV-0001", entry.InvoiceNumber)
	require.Equal(t, day(2025, time.June, 1), entry.InvoiceDate)
	require.Equal(t, day(2025, time.July, 1), entry.DueDate)
	require.Equal(t, StatusOpen, entry.EffectiveStatus(day(2025, time.June, 2)))
}

func TestCreateFromSaleValidation(t *testing.T) {
	_, svc := newARFixture(t)

	_, err := svc.CreateFromSale(context.Background(), CreateEntryInput{CustomerID: 7, OriginalAmount: 10})
	require.Error(t, err)
	_, err = svc.CreateFromSale(context.Background(), CreateEntryInput{OwnerID: 1, OriginalAmount: 10})
	require.Error(t, err)
	_, err = svc.CreateFromSale(context.Background(), CreateEntryInput{OwnerID: 1, CustomerID: 7, OriginalAmount: 0})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRecordPaymentPartialThenFull(t *testing.T) {
	repo, svc := newARFixture(t)
	entry, err := svc.CreateFromSale(context.Background(), CreateEntryInput{
		OwnerID: 1, CustomerID: 7, OriginalAmount: 100,
	})
	require.NoError(t, err)

	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{
		OwnerID: 1, EntryID: entry.ID, Amount: 40, Method: "cash",
	})
	require.NoError(t, err)

	current := repo.entries[entry.ID]
	require.Equal(t, 40.0, current.AmountPaid)
	require.Equal(t, StatusPartial, current.EffectiveStatus(current.InvoiceDate))
	require.Equal(t, 60.0, current.AmountDue())

	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{
		OwnerID: 1, EntryID: entry.ID, Amount: 60, Method: "card",
	})
	require.NoError(t, err)

	current = repo.entries[entry.ID]
	require.NotNil(t, current.Terminal)
	require.Equal(t, StatusPaid, *current.Terminal)
	require.Zero(t, current.AmountDue())

	history, err := svc.ListPayments(context.Background(), 1, entry.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestRecordPaymentRejectsOverpayment(t *testing.T) {
	repo, svc := newARFixture(t)
	entry, err := svc.CreateFromSale(context.Background(), CreateEntryInput{
		OwnerID: 1, CustomerID: 7, OriginalAmount: 100,
	})
	require.NoError(t, err)

	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{
		OwnerID: 1, EntryID: entry.ID, Amount: 100.50,
	})
	require.ErrorIs(t, err, ErrOverpayment)
	require.Empty(t, repo.payments[entry.ID])
}

func TestRecordPaymentRoundingClosesEntry(t *testing.T) {
	repo, svc := newARFixture(t)
	entry, err := svc.CreateFromSale(context.Background(), CreateEntryInput{
		OwnerID: 1, CustomerID: 7, OriginalAmount: 99.99,
	})
	require.NoError(t, err)

	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{
		OwnerID: 1, EntryID: entry.ID, Amount: 99.988,
	})
	require.NoError(t, err)

	current := repo.entries[entry.ID]
	require.NotNil(t, current.Terminal)
	require.Equal(t, StatusPaid, *current.Terminal)
	require.Equal(t, 99.99, current.AmountPaid)
}

func TestRecordPaymentOnClosedEntry(t *testing.T) {
	_, svc := newARFixture(t)
	entry, err := svc.CreateFromSale(context.Background(), CreateEntryInput{
		OwnerID: 1, CustomerID: 7, OriginalAmount: 50,
	})
	require.NoError(t, err)
	require.NoError(t, svc.WriteOff(context.Background(), 1, entry.ID, "uncollectable"))

	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{
		OwnerID: 1, EntryID: entry.ID, Amount: 10,
	})
	require.ErrorIs(t, err, ErrEntryClosed)
}

func TestWriteOffKeepsPaymentsAndCloses(t *testing.T) {
	repo, svc := newARFixture(t)
	entry, err := svc.CreateFromSale(context.Background(), CreateEntryInput{
		OwnerID: 1, CustomerID: 7, OriginalAmount: 100,
	})
	require.NoError(t, err)
	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{
		OwnerID: 1, EntryID: entry.ID, Amount: 30,
	})
	require.NoError(t, err)

	require.NoError(t, svc.WriteOff(context.Background(), 1, entry.ID, "gone"))
	current := repo.entries[entry.ID]
	require.Equal(t, StatusWrittenOff, *current.Terminal)
	require.Equal(t, 30.0, current.AmountPaid)

	err = svc.WriteOff(context.Background(), 1, entry.ID, "again")
	require.ErrorIs(t, err, ErrEntryClosed)
}

func TestEffectiveStatusOverdue(t *testing.T) {
	entry := LedgerEntry{OriginalAmount: 100, DueDate: day(2025, time.May, 1)}
	require.Equal(t, StatusOverdue, entry.EffectiveStatus(day(2025, time.May, 2)))
	require.Equal(t, StatusOpen, entry.EffectiveStatus(day(2025, time.May, 1)))
}

func TestRefreshOverdueStatus(t *testing.T) {
	repo, svc := newARFixture(t)
	svc.WithNow(func() time.Time { return day(2025, time.June, 15) })

	_, err := svc.CreateFromSale(context.Background(), CreateEntryInput{
		OwnerID: 1, CustomerID: 7, OriginalAmount: 100,
		InvoiceDate: day(2025, time.April, 1), DueDate: day(2025, time.May, 1),
	})
	require.NoError(t, err)
	_, err = svc.CreateFromSale(context.Background(), CreateEntryInput{
		OwnerID: 1, CustomerID: 7, OriginalAmount: 50,
		InvoiceDate: day(2025, time.June, 10), DueDate: day(2025, time.July, 10),
	})
	require.NoError(t, err)

	flagged, err := svc.RefreshOverdueStatus(context.Background(), 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, flagged)

	flagged, err = svc.RefreshOverdueStatus(context.Background(), 1)
	require.NoError(t, err)
	require.Zero(t, flagged)

	require.True(t, repo.entries[1].IsOverdue)
	require.False(t, repo.entries[2].IsOverdue)
}

func TestListEntriesStatusFilter(t *testing.T) {
	_, svc := newARFixture(t)
	svc.WithNow(func() time.Time { return day(2025, time.June, 15) })

	overdueEntry, err := svc.CreateFromSale(context.Background(), CreateEntryInput{
		OwnerID: 1, CustomerID: 7, OriginalAmount: 100,
		InvoiceDate: day(2025, time.April, 1), DueDate: day(2025, time.May, 1),
	})
	require.NoError(t, err)
	openEntry, err := svc.CreateFromSale(context.Background(), CreateEntryInput{
		OwnerID: 1, CustomerID: 7, OriginalAmount: 50,
		InvoiceDate: day(2025, time.June, 10), DueDate: day(2025, time.July, 10),
	})
	require.NoError(t, err)
	paidEntry, err := svc.CreateFromSale(context.Background(), CreateEntryInput{
		OwnerID: 1, CustomerID: 8, OriginalAmount: 25,
		InvoiceDate: day(2025, time.June, 1), DueDate: day(2025, time.July, 1),
	})
	require.NoError(t, err)
	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{
		OwnerID: 1, EntryID: paidEntry.ID, Amount: 25,
	})
	require.NoError(t, err)

	// The derived status narrows the listing even before any overdue
	// sweep has stored the flag.
	filtered, err := svc.ListEntries(context.Background(), 1, ListFilter{Status: StatusOverdue})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, overdueEntry.ID, filtered[0].ID)

	filtered, err = svc.ListEntries(context.Background(), 1, ListFilter{Status: StatusOpen})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, openEntry.ID, filtered[0].ID)

	filtered, err = svc.ListEntries(context.Background(), 1, ListFilter{Status: StatusPaid})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, paidEntry.ID, filtered[0].ID)

	_, err = svc.ListEntries(context.Background(), 1, ListFilter{Status: Status("SETTLED")})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestComputeAgingBucketsByInvoiceDate(t *testing.T) {
	_, svc := newARFixture(t)
	asOf := day(2025, time.June, 30)
	svc.WithNow(func() time.Time { return asOf })

	seed := []struct {
		age    int
		amount float64
	}{
		{age: 10, amount: 100},
		{age: 45, amount: 200},
		{age: 75, amount: 300},
		{age: 120, amount: 400},
	}
	for _, item := range seed {
		_, err := svc.CreateFromSale(context.Background(), CreateEntryInput{
			OwnerID:        1,
			CustomerID:     7,
			OriginalAmount: item.amount,
			InvoiceDate:    asOf.AddDate(0, 0, -item.age),
			DueDate:        asOf.AddDate(0, 0, 30),
		})
		require.NoError(t, err)
	}

	summary, err := svc.ComputeAging(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 100.0, summary.Current.Amount)
	require.Equal(t, 200.0, summary.Days31to60.Amount)
	require.Equal(t, 300.0, summary.Days61to90.Amount)
	require.Equal(t, 400.0, summary.Over90.Amount)
	require.Equal(t, 1000.0, summary.Total)
	require.Equal(t, 1, summary.Over90.Count)
}

func TestComputeAgingByDueDate(t *testing.T) {
	_, svc := newARFixture(t)
	asOf := day(2025, time.June, 30)
	svc.WithNow(func() time.Time { return asOf })
	svc.WithAgingReference(AgeByDueDate)

	_, err := svc.CreateFromSale(context.Background(), CreateEntryInput{
		OwnerID:        1,
		CustomerID:     7,
		OriginalAmount: 100,
		InvoiceDate:    asOf.AddDate(0, 0, -80),
		DueDate:        asOf.AddDate(0, 0, -50),
	})
	require.NoError(t, err)

	summary, err := svc.ComputeAging(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 100.0, summary.Days31to60.Amount)
	require.Zero(t, summary.Days61to90.Amount)
}

func TestComputeAgingExcludesClosedEntries(t *testing.T) {
	_, svc := newARFixture(t)
	entry, err := svc.CreateFromSale(context.Background(), CreateEntryInput{
		OwnerID: 1, CustomerID: 7, OriginalAmount: 100,
	})
	require.NoError(t, err)
	require.NoError(t, svc.WriteOff(context.Background(), 1, entry.ID, ""))

	summary, err := svc.ComputeAging(context.Background(), 1)
	require.NoError(t, err)
	require.Zero(t, summary.Total)
}

func TestComputeAgingUsesCacheUntilInvalidated(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	repo, svc := newARFixture(t)
	svc.WithCache(client)

	entry, err := svc.CreateFromSale(context.Background(), CreateEntryInput{
		OwnerID: 1, CustomerID: 7, OriginalAmount: 100,
	})
	require.NoError(t, err)

	_, err = svc.ComputeAging(context.Background(), 1)
	require.NoError(t, err)
	_, err = svc.ComputeAging(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, repo.outstandingCalls)

	// A payment invalidates the snapshot, forcing a recompute.
	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{
		OwnerID: 1, EntryID: entry.ID, Amount: 25,
	})
	require.NoError(t, err)

	summary, err := svc.ComputeAging(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 2, repo.outstandingCalls)
	require.Equal(t, 75.0, summary.Total)
}
