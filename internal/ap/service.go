package ap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/detailops/detailops/internal/shared"
)

// TxRepository exposes the operations that must share one transaction.
type TxRepository interface {
	GetEntryForUpdate(ctx context.Context, ownerID, entryID int64) (LedgerEntry, error)
	InsertPayment(ctx context.Context, payment Payment) (int64, error)
	UpdateEntryAmounts(ctx context.Context, entryID int64, amountPaid float64, terminal *Status) error
}

// RepositoryPort defines data access methods for AP.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	InsertEntry(ctx context.Context, input CreateBillInput) (LedgerEntry, error)
	GetEntry(ctx context.Context, ownerID, entryID int64) (LedgerEntry, error)
	ListEntries(ctx context.Context, ownerID int64, filter ListFilter) ([]LedgerEntry, error)
	ListOutstanding(ctx context.Context, ownerID int64) ([]LedgerEntry, error)
	ListPayments(ctx context.Context, ownerID, entryID int64) ([]Payment, error)
	MarkOverdue(ctx context.Context, ownerID int64, asOf time.Time) (int64, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles payables business logic.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	aging AgingReference
	now   func() time.Time
}

// NewService builds Service instance. Aging defaults to counting from the
// due date.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, aging: AgeByDueDate, now: time.Now}
}

// WithAgingReference overrides the aging reference date policy.
func (s *Service) WithAgingReference(ref AgingReference) {
	if ref == AgeByBillDate || ref == AgeByDueDate {
		s.aging = ref
	}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateFromBill enters a vendor bill as an open payable.
func (s *Service) CreateFromBill(ctx context.Context, input CreateBillInput) (LedgerEntry, error) {
	if input.OwnerID == 0 {
		return LedgerEntry{}, errors.New("ap: owner required")
	}
	if input.VendorID == 0 {
		return LedgerEntry{}, errors.New("ap: vendor required")
	}
	if input.BillNumber == "" {
		return LedgerEntry{}, errors.New("ap: bill number required")
	}
	if input.OriginalAmount <= 0 {
		return LedgerEntry{}, ErrInvalidAmount
	}
	if input.BillDate.IsZero() {
		input.BillDate = s.now()
	}
	if input.DueDate.IsZero() {
		input.DueDate = input.BillDate.AddDate(0, 0, 30)
	}
	return s.repo.InsertEntry(ctx, input)
}

// RecordPayment applies a payment to a bill. History insert and parent
// balance update share one transaction; overpayment is rejected before
// any mutation.
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
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			OwnerID:  input.OwnerID,
			Action:   "ap.payment",
			Entity:   "ap_entry",
			EntityID: fmt.Sprintf("%d", input.EntryID),
			Meta:     map[string]any{"amount": input.Amount, "method": input.Method},
			At:       s.now(),
		})
	}
	return payment, nil
}

// GetEntry returns a single bill.
func (s *Service) GetEntry(ctx context.Context, ownerID, entryID int64) (LedgerEntry, error) {
	return s.repo.GetEntry(ctx, ownerID, entryID)
}

// ListEntries lists bills with optional filters.
func (s *Service) ListEntries(ctx context.Context, ownerID int64, filter ListFilter) ([]LedgerEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return s.repo.ListEntries(ctx, ownerID, filter)
}

// ListPayments returns the payment history of a bill.
func (s *Service) ListPayments(ctx context.Context, ownerID, entryID int64) ([]Payment, error) {
	return s.repo.ListPayments(ctx, ownerID, entryID)
}

// RefreshOverdueStatus flags every open bill whose due date passed.
// Idempotent and safe to run before every read.
func (s *Service) RefreshOverdueStatus(ctx context.Context, ownerID int64) (int64, error) {
	return s.repo.MarkOverdue(ctx, ownerID, s.now())
}

// ComputeAging buckets every outstanding bill by days since the
// configured reference date.
func (s *Service) ComputeAging(ctx context.Context, ownerID int64) (AgingSummary, error) {
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
		reference := entry.DueDate
		if s.aging == AgeByBillDate {
			reference = entry.BillDate
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
