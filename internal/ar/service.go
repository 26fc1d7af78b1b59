package ar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/detailops/detailops/internal/shared"
)

// TxRepository exposes the operations that must share one transaction.
type TxRepository interface {
	GetEntryForUpdate(ctx context.Context, ownerID, entryID int64) (LedgerEntry, error)
	InsertPayment(ctx context.Context, payment Payment) (int64, error)
	UpdateEntryAmounts(ctx context.Context, entryID int64, amountPaid float64, terminal *Status) error
}

// RepositoryPort defines data access methods for AR.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	InsertEntry(ctx context.Context, input CreateEntryInput) (LedgerEntry, error)
	GetEntry(ctx context.Context, ownerID, entryID int64) (LedgerEntry, error)
	ListEntries(ctx context.Context, ownerID int64, filter ListFilter) ([]LedgerEntry, error)
	ListOutstanding(ctx context.Context, ownerID int64) ([]LedgerEntry, error)
	ListPayments(ctx context.Context, ownerID, entryID int64) ([]Payment, error)
	MarkOverdue(ctx context.Context, ownerID int64, asOf time.Time) (int64, error)
}

// NumberingPort issues document numbers.
type NumberingPort interface {
	NextNumber(ctx context.Context, ownerID int64, series string) (string, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// SeriesInvoice is the numbering series for AR invoices.
const SeriesInvoice = "INV"

const agingCacheTTL = 5 * time.Minute

// Service handles receivables business logic.
type Service struct {
	repo      RepositoryPort
	numbering NumberingPort
	audit     AuditPort
	cache     *redis.Client
	aging     AgingReference
	flight    singleflight.Group
	now       func() time.Time
}

// NewService builds Service instance. Aging defaults to counting from the
// invoice date; cache is optional.
func NewService(repo RepositoryPort, numbering NumberingPort, audit AuditPort) *Service {
	return &Service{repo: repo, numbering: numbering, audit: audit, aging: AgeByInvoiceDate, now: time.Now}
}

// WithCache enables redis-backed aging snapshots.
func (s *Service) WithCache(client *redis.Client) {
	s.cache = client
}

// WithAgingReference overrides the aging reference date policy.
func (s *Service) WithAgingReference(ref AgingReference) {
	if ref == AgeByInvoiceDate || ref == AgeByDueDate {
		s.aging = ref
	}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateFromSale opens a receivable for a completed sale.
func (s *Service) CreateFromSale(ctx context.Context, input CreateEntryInput) (LedgerEntry, error) {
	if input.OwnerID == 0 {
		return LedgerEntry{}, errors.New("ar: owner required")
	}
	if input.CustomerID == 0 {
		return LedgerEntry{}, errors.New("ar: customer required")
	}
	if input.OriginalAmount <= 0 {
		return LedgerEntry{}, ErrInvalidAmount
	}
	if input.InvoiceDate.IsZero() {
		input.InvoiceDate = s.now()
	}
	if input.DueDate.IsZero() {
		input.DueDate = input.InvoiceDate.AddDate(0, 0, 30)
	}
	if input.InvoiceNumber == "" && s.numbering != nil {
		number, err := s.numbering.NextNumber(ctx, input.OwnerID, SeriesInvoice)
		if err != nil {
			return LedgerEntry{}, fmt.Errorf("ar: issue invoice number: %w", err)
		}
		input.InvoiceNumber = number
	}
	entry, err := s.repo.InsertEntry(ctx, input)
	if err != nil {
		return LedgerEntry{}, err
	}
	s.invalidateAging(ctx, input.OwnerID)
	return entry, nil
}

// RecordPayment applies a payment to an entry. The history insert and the
// parent balance update land in one transaction; paying more than the
// outstanding balance is rejected before any mutation.
func (s *Service) RecordPayment(ctx context.Context, input RecordPaymentInput) (Payment, error) {
	if input.Amount <= 0 {
		return Payment{}, ErrInvalidAmount
	}
	if input.Date.IsZero() {
		input.Date = s.now()
	}
	var payment Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, input.OwnerID, input.EntryID)
		if err != nil {
			return err
		}
		if entry.Terminal != nil {
			return ErrEntryClosed
		}
		due := entry.AmountDue()
		if input.Amount > due+centEpsilon {
			return fmt.Errorf("%w: due %.2f, got %.2f", ErrOverpayment, due, input.Amount)
		}
		payment = Payment{
			EntryID:         entry.ID,
			Date:            input.Date,
			Amount:          input.Amount,
			Method:          input.Method,
			ReferenceNumber: input.ReferenceNumber,
			Notes:           input.Notes,
		}
		id, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}
		payment.ID = id
		newPaid := entry.AmountPaid + input.Amount
		var terminal *Status
		if entry.OriginalAmount-newPaid <= centEpsilon {
			paid := StatusPaid
			terminal = &paid
			newPaid = entry.OriginalAmount
		}
		return tx.UpdateEntryAmounts(ctx, entry.ID, newPaid, terminal)
	})
	if err != nil {
		return Payment{}, err
	}
	s.invalidateAging(ctx, input.OwnerID)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			OwnerID:  input.OwnerID,
			Action:   "ar.payment",
			Entity:   "ar_entry",
			EntityID: fmt.Sprintf("%d", input.EntryID),
			Meta:     map[string]any{"amount": input.Amount, "method": input.Method},
			At:       s.now(),
		})
	}
	return payment, nil
}

// WriteOff closes an entry's remaining balance as uncollectable.
func (s *Service) WriteOff(ctx context.Context, ownerID, entryID int64, notes string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, ownerID, entryID)
		if err != nil {
			return err
		}
		if entry.Terminal != nil {
			return ErrEntryClosed
		}
		status := StatusWrittenOff
		return tx.UpdateEntryAmounts(ctx, entry.ID, entry.AmountPaid, &status)
	})
	if err != nil {
		return err
	}
	s.invalidateAging(ctx, ownerID)
	return nil
}

// GetEntry returns a single receivable.
func (s *Service) GetEntry(ctx context.Context, ownerID, entryID int64) (LedgerEntry, error) {
	return s.repo.GetEntry(ctx, ownerID, entryID)
}

// ListEntries lists receivables with optional filters. A status filter
// matches the derived EffectiveStatus, so OPEN, PARTIAL and OVERDUE
// narrow correctly without a prior overdue sweep; the page may carry
// fewer than limit entries when the filter applies.
func (s *Service) ListEntries(ctx context.Context, ownerID int64, filter ListFilter) ([]LedgerEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Status != "" && !filter.Status.Known() {
		return nil, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, filter.Status)
	}
	entries, err := s.repo.ListEntries(ctx, ownerID, filter)
	if err != nil || filter.Status == "" {
		return entries, err
	}
	now := s.now()
	filtered := make([]LedgerEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.EffectiveStatus(now) == filter.Status {
			filtered = append(filtered, entry)
		}
	}
	return filtered, nil
}

// ListPayments returns the payment history of an entry.
func (s *Service) ListPayments(ctx context.Context, ownerID, entryID int64) ([]Payment, error) {
	return s.repo.ListPayments(ctx, ownerID, entryID)
}

// RefreshOverdueStatus flags every open entry whose due date passed.
// Idempotent and safe to run before every read.
func (s *Service) RefreshOverdueStatus(ctx context.Context, ownerID int64) (int64, error) {
	return s.repo.MarkOverdue(ctx, ownerID, s.now())
}

// ComputeAging buckets every outstanding entry by days since the
// configured reference date. Concurrent computations for the same owner
// collapse into one; results are cached briefly.
func (s *Service) ComputeAging(ctx context.Context, ownerID int64) (AgingSummary, error) {
	key := fmt.Sprintf("ar:aging:%d", ownerID)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key).Bytes(); err == nil {
			var cached AgingSummary
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}
	result, err, _ := s.flight.Do(key, func() (any, error) {
		summary, err := s.computeAging(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if raw, err := json.Marshal(summary); err == nil {
				_ = s.cache.Set(ctx, key, raw, agingCacheTTL).Err()
			}
		}
		return summary, nil
	})
	if err != nil {
		return AgingSummary{}, err
	}
	return result.(AgingSummary), nil
}

func (s *Service) computeAging(ctx context.Context, ownerID int64) (AgingSummary, error) {
	entries, err := s.repo.ListOutstanding(ctx, ownerID)
	if err != nil {
		return AgingSummary{}, err
	}
	asOf := s.now()
	summary := AgingSummary{
		Current:    AgingBucket{Label: "current"},
		Days31to60: AgingBucket{Label: "31-60"},
		Days61to90: AgingBucket{Label: "61-90"},
		Over90:     AgingBucket{Label: "over_90"},
	}
	for _, entry := range entries {
		if !entry.Outstanding() {
			continue
		}
		reference := entry.InvoiceDate
		if s.aging == AgeByDueDate {
			reference = entry.DueDate
		}
		days := int(asOf.Sub(reference).Hours() / 24)
		due := entry.AmountDue()
		bucket := &summary.Current
		switch {
		case days <= 30:
		case days <= 60:
			bucket = &summary.Days31to60
		case days <= 90:
			bucket = &summary.Days61to90
		default:
			bucket = &summary.Over90
		}
		bucket.Count++
		bucket.Amount += due
		summary.Total += due
	}
	return summary, nil
}

func (s *Service) invalidateAging(ctx context.Context, ownerID int64) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, fmt.Sprintf("ar:aging:%d", ownerID)).Err()
}
