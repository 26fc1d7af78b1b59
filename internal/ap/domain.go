package ap

import (
	"errors"
	"time"
)

// Status enumerates payable entry states. Only terminal states are
// stored; open, partial and overdue are derived at read time.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusPartial    Status = "PARTIAL"
	StatusPaid       Status = "PAID"
	StatusOverdue    Status = "OVERDUE"
	StatusWrittenOff Status = "WRITTEN_OFF"
	StatusCancelled  Status = "CANCELLED"
)

// AgingReference selects which date days-outstanding counts from.
type AgingReference string

const (
	AgeByBillDate AgingReference = "BILL_DATE"
	// AgeByDueDate measures payment lag (AP default).
	AgeByDueDate AgingReference = "DUE_DATE"
)

var (
	ErrEntryNotFound = errors.New("ap: entry not found")
	ErrOverpayment   = errors.New("ap: payment exceeds amount due")
	ErrEntryClosed   = errors.New("ap: entry is closed")
	ErrInvalidAmount = errors.New("ap: amount must be positive")
)

const centEpsilon = 0.005

// LedgerEntry is one vendor bill balance. AttachmentURL is an opaque
// reference issued by the file-storage collaborator; the core never
// inspects it.
type LedgerEntry struct {
	ID             int64
	OwnerID        int64
	VendorID       int64
	BillNumber     string
	BillDate       time.Time
	DueDate        time.Time
	OriginalAmount float64
	AmountPaid     float64
	Terminal       *Status
	IsOverdue      bool
	AttachmentURL  string
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AmountDue is the outstanding balance, never negative.
func (e LedgerEntry) AmountDue() float64 {
	due := e.OriginalAmount - e.AmountPaid
	if due < 0 {
		return 0
	}
	return due
}

// EffectiveStatus derives the display status from amounts, due date and
// any stored terminal state.
func (e LedgerEntry) EffectiveStatus(asOf time.Time) Status {
	if e.Terminal != nil {
		return *e.Terminal
	}
	due := e.AmountDue()
	if due <= centEpsilon {
		return StatusPaid
	}
	day := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, asOf.Location())
	if e.DueDate.Before(day) {
		return StatusOverdue
	}
	if e.AmountPaid > centEpsilon {
		return StatusPartial
	}
	return StatusOpen
}

// Outstanding reports whether the entry still carries a balance.
func (e LedgerEntry) Outstanding() bool {
	return e.Terminal == nil && e.AmountDue() > centEpsilon
}

// Payment is one append-only payment history record.
type Payment struct {
	ID              int64
	EntryID         int64
	Date            time.Time
	Amount          float64
	Method          string
	ReferenceNumber string
	Notes           string
	CreatedAt       time.Time
}

// AgingBucket is one days-outstanding band.
type AgingBucket struct {
	Label  string
	Count  int
	Amount float64
}

// AgingSummary buckets every outstanding bill by days since the
// reference date.
type AgingSummary struct {
	Current    AgingBucket
	Days31to60 AgingBucket
	Days61to90 AgingBucket
	Over90     AgingBucket
	Total      float64
}

// CreateBillInput groups fields to enter a vendor bill.
type CreateBillInput struct {
	OwnerID        int64
	VendorID       int64
	BillNumber     string
	BillDate       time.Time
	DueDate        time.Time
	OriginalAmount float64
	AttachmentURL  string
	Notes          string
}

// RecordPaymentInput groups fields to apply a payment.
type RecordPaymentInput struct {
	OwnerID         int64
	EntryID         int64
	Amount          float64
	Date            time.Time
	Method          string
	ReferenceNumber string
	Notes           string
}

// ListFilter narrows bill listings.
type ListFilter struct {
	VendorID    int64
	OverdueOnly bool
	Limit       int
}
