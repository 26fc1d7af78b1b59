package sales

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/detailops/detailops/internal/ledger/journal"
)

// PostingConfig maps completed sales onto ledger accounts.
type PostingConfig struct {
	ReceivableAccountID int64
	RevenueAccountID    int64
	TaxPayableAccountID int64
	COGSAccountID       int64
	InventoryAccountID  int64
}

// saleNamespace keys deterministic journal source ids, so reposting the
// same sale produces the same SourceID.
var saleNamespace = uuid.MustParse("7f1f35a4-9f0f-4cf2-9a57-3f5d1f1f6b2d")

// NewPostingHook returns a CompletionHook that records revenue and cost
// of goods journal entries for a completed sale and posts them.
func NewPostingHook(ledger *journal.Service, cfg PostingConfig) CompletionHook {
	return func(ctx context.Context, sale Sale) error {
		revenue := sale.Subtotal - sale.DiscountAmount
		lines := []journal.LineInput{
			{AccountID: cfg.ReceivableAccountID, Debit: sale.TotalAmount},
			{AccountID: cfg.RevenueAccountID, Credit: revenue},
		}
		if sale.TaxAmount > 0 {
			if cfg.TaxPayableAccountID == 0 {
				return fmt.Errorf("sales: tax payable account not configured for sale %s", sale.SaleNumber)
			}
			lines = append(lines, journal.LineInput{AccountID: cfg.TaxPayableAccountID, Credit: sale.TaxAmount})
		}
		if sale.TotalCost > 0 {
			lines = append(lines,
				journal.LineInput{AccountID: cfg.COGSAccountID, Debit: sale.TotalCost},
				journal.LineInput{AccountID: cfg.InventoryAccountID, Credit: sale.TotalCost},
			)
		}
		entry, err := ledger.CreateEntry(ctx, journal.CreateEntryInput{
			OwnerID:     sale.OwnerID,
			Date:        sale.Date,
			Description: fmt.Sprintf("Sale %s", sale.SaleNumber),
			Reference:   journal.ReferenceSale,
			SourceID:    uuid.NewSHA1(saleNamespace, []byte(fmt.Sprintf("sale:%d", sale.ID))),
			Lines:       lines,
		})
		if err != nil {
			return err
		}
		_, err = ledger.PostEntry(ctx, sale.OwnerID, entry.ID)
		return err
	}
}
