package journal

import (
	"time"

	"github.com/google/uuid"
)

// Reference ties an entry back to the document that caused it.
type Reference string

const (
	ReferenceManual Reference = "MANUAL"
	ReferenceSale   Reference = "SALE"
	ReferenceBill   Reference = "BILL"
)

// JournalEntry captures posting metadata. Entries are immutable once
// Posted is set; posting is the only operation that touches account
// balances and it happens exactly once per entry.
type JournalEntry struct {
	ID          int64
	OwnerID     int64
	Number      string
	Date        time.Time
	Description string
	Reference   Reference
	SourceID    uuid.UUID
	Posted      bool
	PostedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Lines       []JournalLine
}

// JournalLine stores debit or credit amount for an account. A line may
// carry both sides but at least one must be nonzero.
type JournalLine struct {
	ID        int64
	EntryID   int64
	AccountID int64
	Debit     float64
	Credit    float64
	CreatedAt time.Time
}

// TrialBalanceRow buckets one active account's balance into the debit or
// credit column according to its normal balance.
type TrialBalanceRow struct {
	AccountID     int64
	AccountNumber string
	AccountName   string
	DebitBalance  float64
	CreditBalance float64
}

// TrialBalance is the full report with totals.
type TrialBalance struct {
	Rows        []TrialBalanceRow
	TotalDebit  float64
	TotalCredit float64
}

// LedgerLine is one row of an account ledger: the entry's effect on the
// account plus the running balance after it.
type LedgerLine struct {
	EntryID     int64
	EntryNumber string
	Date        time.Time
	Description string
	Debit       float64
	Credit      float64
	Running     float64
}

// LedgerPage is a restartable slice of an account ledger. Pass NextAfter
// back as the cursor to continue where the page ended.
type LedgerPage struct {
	Opening   float64
	Lines     []LedgerLine
	NextAfter int64
	HasMore   bool
}

// LedgerFilter bounds and pages an account ledger read.
type LedgerFilter struct {
	From    time.Time
	To      time.Time
	AfterID int64
	Limit   int
}
