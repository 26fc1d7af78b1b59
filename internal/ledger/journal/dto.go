package journal

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/detailops/detailops/internal/ledger/shared"
)

// balanceTolerance is the largest acceptable |debit − credit| gap, in
// currency units, caused by per-line rounding.
const balanceTolerance = 0.01

// LineInput describes one journal line of a create request.
type LineInput struct {
	AccountID int64
	Debit     float64
	Credit    float64
}

// CreateEntryInput groups fields required to create a journal entry.
type CreateEntryInput struct {
	OwnerID     int64
	Date        time.Time
	Description string
	Reference   Reference
	SourceID    uuid.UUID
	Lines       []LineInput
}

// Validate ensures the entry is balanced and every line is usable. It
// rejects before any mutation; account existence is checked in-transaction.
func (in CreateEntryInput) Validate() error {
	if in.OwnerID == 0 {
		return fmt.Errorf("ledger: owner required")
	}
	if len(in.Lines) == 0 {
		return shared.ErrNoLines
	}
	if in.Reference == "" {
		return fmt.Errorf("ledger: reference required")
	}
	var debit, credit float64
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("ledger: line %d missing account", idx)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("ledger: line %d negative amount", idx)
		}
		if line.Debit == 0 && line.Credit == 0 {
			return fmt.Errorf("ledger: line %d has no amount", idx)
		}
		debit += line.Debit
		credit += line.Credit
	}
	if math.Abs(debit-credit) > balanceTolerance {
		return shared.ErrUnbalanced
	}
	return nil
}
