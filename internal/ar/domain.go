package ar

import (
	"errors"
	"time"
)

// Status enumerates receivable entry states. Only terminal states are
// stored; open, partial and overdue are derived from the amounts and the
// due date at read time.
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
	// AgeByInvoiceDate measures collection lag (AR default).
	AgeByInvoiceDate AgingReference = "INVOICE_DATE"
	// AgeByDueDate measures payment lag.
	AgeByDueDate AgingReference = "DUE_DATE"
)

var (
	ErrEntryNotFound = errors.New("ar: entry not found")
	ErrOverpayment   = errors.New("ar: payment exceeds amount due")
	ErrEntryClosed   = errors.New("ar: entry is closed")
	ErrInvalidAmount = errors.New("ar: amount must be positive")
)

// centEpsilon absorbs float rounding when deciding a balance hit zero.
const centEpsilon = 0.005

// LedgerEntry is one receivable invoice balance. AmountPaid never exceeds
// OriginalAmount; a fully paid entry is never re-opened.
type LedgerEntry struct {
	ID             int64
	OwnerID        int64
	CustomerID     int64
	SaleID         *int64
	InvoiceNumber  string
	InvoiceDate    time.Time
	DueDate        time.Time
	OriginalAmount float64
	AmountPaid     float64
	Terminal       *Status
	IsOverdue      bool
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
	if e.DueDate.Before(truncateDay(asOf)) {
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

// Known reports whether s is one of the recognised entry states.
func (s Status) Known() bool {
	switch s {
	case StatusOpen, StatusPartial, StatusPaid, StatusOverdue, StatusWrittenOff, StatusCancelled:
		return true
	}
	return false
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
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

// AgingSummary buckets every outstanding entry by days since the
// reference date.
type AgingSummary struct {
	Current    AgingBucket
	Days31to60 AgingBucket
	Days61to90 AgingBucket
	Over90     AgingBucket
	Total      float64
}

// CreateEntryInput groups fields to open a receivable.
type CreateEntryInput struct {
	OwnerID        int64
	CustomerID     int64
	SaleID         *int64
	InvoiceNumber  string
	InvoiceDate    time.Time
	DueDate        time.Time
	OriginalAmount float64
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

// ListFilter narrows entry listings.
type ListFilter struct {
	CustomerID  int64
	Status      Status
	OverdueOnly bool
	Limit       int
}
