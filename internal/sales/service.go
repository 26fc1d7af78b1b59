package sales

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/detailops/detailops/internal/ar"
	"github.com/detailops/detailops/internal/inventory"
	"github.com/detailops/detailops/internal/shared"
	"github.com/detailops/detailops/internal/terms"
)

// SeriesSale is the numbering series for sale numbers.
const SeriesSale = "SALE"

const stockEpsilon = 1e-9

// TxRepository is the transactional surface of one lifecycle step. It
// deliberately spans sale, reservation, product and receivable tables
// so the whole step commits or rolls back as one unit.
type TxRepository interface {
	InsertSale(ctx context.Context, sale Sale) (int64, error)
	InsertSaleItem(ctx context.Context, item SaleItem) (int64, error)
	DeleteSaleItem(ctx context.Context, ownerID, saleID, itemID int64) error
	UpdateSaleItemQuantity(ctx context.Context, ownerID, itemID int64, quantity float64) error
	UpdateSaleTotals(ctx context.Context, sale Sale) error
	GetSaleForUpdate(ctx context.Context, ownerID, saleID int64) (Sale, error)
	GetSaleItems(ctx context.Context, ownerID, saleID int64) ([]SaleItem, error)
	UpdateSaleStatus(ctx context.Context, ownerID, saleID int64, status SaleStatus, completedAt *time.Time) error

	InsertReservation(ctx context.Context, res inventory.Reservation) (int64, error)
	ListSaleReservationsForUpdate(ctx context.Context, ownerID, saleID int64) ([]inventory.Reservation, error)
	UpdateReservationStatus(ctx context.Context, reservationID int64, status inventory.ReservationStatus) error
	SumOtherReserved(ctx context.Context, ownerID, productID, excludeSaleID int64) (float64, error)

	GetProductForUpdate(ctx context.Context, ownerID, productID int64) (inventory.Product, error)
	UpdateProductStock(ctx context.Context, ownerID, productID int64, quantity float64) error
	InsertInventoryTransaction(ctx context.Context, tx inventory.Transaction) error

	InsertAREntry(ctx context.Context, entry ar.LedgerEntry) (int64, error)
}

// RepositoryPort is the storage contract for the sale lifecycle.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetSale(ctx context.Context, ownerID, saleID int64) (Sale, error)
	ListSales(ctx context.Context, ownerID int64, status *SaleStatus, limit, offset int) ([]Sale, error)
	GetRecipeComponents(ctx context.Context, ownerID int64, serviceIDs []int64) ([]RecipeComponent, error)
	GetCustomerTerms(ctx context.Context, ownerID, customerID int64) (*terms.Terms, error)
}

// NumberingPort issues sale and invoice numbers.
type NumberingPort interface {
	NextNumber(ctx context.Context, ownerID int64, series string) (string, error)
}

// AuditPort records lifecycle transitions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CompletionHook runs after a sale commits, outside its transaction.
// Used to post revenue and cost journal entries; failures are logged
// and never un-complete the sale.
type CompletionHook func(ctx context.Context, sale Sale) error

type Service struct {
	repo        RepositoryPort
	numbering   NumberingPort
	audit       AuditPort
	policy      CompletionPolicy
	hook        CompletionHook
	idempotency *shared.IdempotencyStore
	log         *slog.Logger
	now         func() time.Time
}

func NewService(repo RepositoryPort, numbering NumberingPort, audit AuditPort, policy CompletionPolicy, log *slog.Logger) *Service {
	if policy == "" {
		policy = PolicyBlock
	}
	return &Service{
		repo:      repo,
		numbering: numbering,
		audit:     audit,
		policy:    policy,
		log:       log,
		now:       time.Now,
	}
}

// SetCompletionHook installs the post-completion callback.
func (s *Service) SetCompletionHook(hook CompletionHook) { s.hook = hook }

// WithIdempotency guards CompleteSale against external retries.
func (s *Service) WithIdempotency(store *shared.IdempotencyStore) { s.idempotency = store }

// SaveDraft persists a new draft sale with its items, assigns a sale
// number and places soft reservations for every product the items will
// consume, recipes expanded per item.
func (s *Service) SaveDraft(ctx context.Context, input SaveDraftInput) (Sale, error) {
	if len(input.Items) == 0 {
		return Sale{}, ErrNoItems
	}
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return Sale{}, fmt.Errorf("%w: item %q", ErrInvalidQuantity, item.Description)
		}
		if err := validateItemKind(item); err != nil {
			return Sale{}, err
		}
	}

	date := input.Date
	if date.IsZero() {
		date = s.now()
	}

	recipes, err := s.loadRecipes(ctx, input.OwnerID, input.Items)
	if err != nil {
		return Sale{}, err
	}

	number, err := s.numbering.NextNumber(ctx, input.OwnerID, SeriesSale)
	if err != nil {
		return Sale{}, fmt.Errorf("sales: assign sale number: %w", err)
	}

	sale := Sale{
		OwnerID:        input.OwnerID,
		CustomerID:     input.CustomerID,
		SaleNumber:     number,
		Date:           date,
		Status:         SaleStatusDraft,
		TaxRate:        input.TaxRate,
		DiscountAmount: input.DiscountAmount,
		PaymentDueDate: input.PaymentDueDate,
	}
	for _, in := range input.Items {
		sale.Items = append(sale.Items, SaleItem{
			Kind:           in.Kind,
			ProductID:      in.ProductID,
			ServiceID:      in.ServiceID,
			Description:    in.Description,
			Quantity:       in.Quantity,
			UnitPrice:      in.UnitPrice,
			DiscountAmount: in.DiscountAmount,
			UnitCost:       in.UnitCost,
		})
	}
	sale.Recompute()

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertSale(ctx, sale)
		if err != nil {
			return err
		}
		sale.ID = id
		for i := range sale.Items {
			sale.Items[i].SaleID = id
			itemID, err := tx.InsertSaleItem(ctx, sale.Items[i])
			if err != nil {
				return err
			}
			sale.Items[i].ID = itemID
			if err := s.reserveForItem(ctx, tx, &sale, sale.Items[i], recipes); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Sale{}, err
	}

	s.recordAudit(ctx, sale.OwnerID, "sale.draft_saved", sale.ID, map[string]any{
		"sale_number": sale.SaleNumber,
		"total":       sale.TotalAmount,
	})
	return sale, nil
}

// AddLineItem appends an item to a draft sale, re-derives its totals
// and reserves the new item's product demand.
func (s *Service) AddLineItem(ctx context.Context, ownerID, saleID int64, input ItemInput) (Sale, error) {
	if input.Quantity <= 0 {
		return Sale{}, ErrInvalidQuantity
	}
	if err := validateItemKind(input); err != nil {
		return Sale{}, err
	}
	recipes, err := s.loadRecipes(ctx, ownerID, []ItemInput{input})
	if err != nil {
		return Sale{}, err
	}

	var sale Sale
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, err = s.lockDraft(ctx, tx, ownerID, saleID)
		if err != nil {
			return err
		}
		item := SaleItem{
			SaleID:         saleID,
			Kind:           input.Kind,
			ProductID:      input.ProductID,
			ServiceID:      input.ServiceID,
			Description:    input.Description,
			Quantity:       input.Quantity,
			UnitPrice:      input.UnitPrice,
			DiscountAmount: input.DiscountAmount,
			UnitCost:       input.UnitCost,
		}
		itemID, err := tx.InsertSaleItem(ctx, item)
		if err != nil {
			return err
		}
		item.ID = itemID
		sale.Items = append(sale.Items, item)
		sale.Recompute()
		if err := tx.UpdateSaleTotals(ctx, sale); err != nil {
			return err
		}
		return s.reserveForItem(ctx, tx, &sale, item, recipes)
	})
	if err != nil {
		return Sale{}, err
	}
	return sale, nil
}

// RemoveLineItem deletes a draft item, re-derives totals and rebuilds
// the draft's reservations against the remaining items.
func (s *Service) RemoveLineItem(ctx context.Context, ownerID, saleID, itemID int64) (Sale, error) {
	var sale Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, err = s.lockDraft(ctx, tx, ownerID, saleID)
		if err != nil {
			return err
		}
		found := false
		kept := make([]SaleItem, 0, len(sale.Items))
		for _, item := range sale.Items {
			if item.ID == itemID {
				found = true
				continue
			}
			kept = append(kept, item)
		}
		if !found {
			return ErrItemNotFound
		}
		if err := tx.DeleteSaleItem(ctx, ownerID, saleID, itemID); err != nil {
			return err
		}
		sale.Items = kept
		sale.Recompute()
		if err := tx.UpdateSaleTotals(ctx, sale); err != nil {
			return err
		}
		return s.rebalanceReservations(ctx, tx, &sale)
	})
	if err != nil {
		return Sale{}, err
	}
	return sale, nil
}

// UpdateQuantity changes a draft item's quantity, re-derives totals and
// rebuilds the draft's reservations.
func (s *Service) UpdateQuantity(ctx context.Context, ownerID, saleID, itemID int64, quantity float64) (Sale, error) {
	if quantity <= 0 {
		return Sale{}, ErrInvalidQuantity
	}
	var sale Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, err = s.lockDraft(ctx, tx, ownerID, saleID)
		if err != nil {
			return err
		}
		found := false
		for i := range sale.Items {
			if sale.Items[i].ID == itemID {
				sale.Items[i].Quantity = quantity
				found = true
				break
			}
		}
		if !found {
			return ErrItemNotFound
		}
		if err := tx.UpdateSaleItemQuantity(ctx, ownerID, itemID, quantity); err != nil {
			return err
		}
		sale.Recompute()
		if err := tx.UpdateSaleTotals(ctx, sale); err != nil {
			return err
		}
		return s.rebalanceReservations(ctx, tx, &sale)
	})
	if err != nil {
		return Sale{}, err
	}
	return sale, nil
}

// CompleteSale commits the sale's reservations, decrements stock, marks
// the sale completed and opens the receivable, all in one transaction.
// Under PolicyBlock it refuses when other sales' outstanding holds
// would be starved; under PolicyWarn only a negative stock level
// refuses, and the starved products come back as warnings.
func (s *Service) CompleteSale(ctx context.Context, ownerID, saleID int64) (Sale, []StockWarning, error) {
	idemKey := fmt.Sprintf("SALE_COMPLETE:%d:%d", ownerID, saleID)
	idemInserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "sales.complete"); err != nil {
			return Sale{}, nil, err
		}
		idemInserted = true
	}

	invoiceNumber, err := s.numbering.NextNumber(ctx, ownerID, ar.SeriesInvoice)
	if err != nil {
		if idemInserted {
			_ = s.idempotency.Delete(ctx, idemKey)
		}
		return Sale{}, nil, fmt.Errorf("sales: assign invoice number: %w", err)
	}

	var (
		sale     Sale
		warnings []StockWarning
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, err = s.lockDraft(ctx, tx, ownerID, saleID)
		if err != nil {
			return err
		}

		reservations, err := tx.ListSaleReservationsForUpdate(ctx, ownerID, saleID)
		if err != nil {
			return err
		}
		commit := make(map[int64]float64)
		for _, res := range reservations {
			if res.Status == inventory.ReservationReserved {
				commit[res.ProductID] += res.QuantityReserved
			}
		}

		productIDs := make([]int64, 0, len(commit))
		for id := range commit {
			productIDs = append(productIDs, id)
		}
		// Lock products in id order so concurrent completions cannot
		// deadlock each other.
		sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

		warnings = warnings[:0]
		products := make(map[int64]inventory.Product, len(productIDs))
		for _, productID := range productIDs {
			product, err := tx.GetProductForUpdate(ctx, ownerID, productID)
			if err != nil {
				return err
			}
			products[productID] = product
			needed := commit[productID]
			if product.QuantityInStock-needed < -stockEpsilon {
				return fmt.Errorf("%w: product %d needs %.2f, on hand %.2f",
					ErrInsufficientStock, productID, needed, product.QuantityInStock)
			}
			otherHolds, err := tx.SumOtherReserved(ctx, ownerID, productID, saleID)
			if err != nil {
				return err
			}
			available := product.QuantityInStock - otherHolds
			if available+stockEpsilon < needed {
				if s.policy == PolicyBlock {
					return fmt.Errorf("%w: product %d needs %.2f, available %.2f after other holds",
						ErrInsufficientStock, productID, needed, available)
				}
				warnings = append(warnings, StockWarning{ProductID: productID, Needed: needed, Available: available})
			}
		}

		for _, res := range reservations {
			if res.Status != inventory.ReservationReserved {
				continue
			}
			if err := tx.UpdateReservationStatus(ctx, res.ID, inventory.ReservationCommitted); err != nil {
				return err
			}
		}
		now := s.now()
		for _, productID := range productIDs {
			product := products[productID]
			newQty := product.QuantityInStock - commit[productID]
			if math.Abs(newQty) < stockEpsilon {
				newQty = 0
			}
			if err := tx.UpdateProductStock(ctx, ownerID, productID, newQty); err != nil {
				return err
			}
			if err := tx.InsertInventoryTransaction(ctx, inventory.Transaction{
				OwnerID:        ownerID,
				ProductID:      productID,
				Type:           inventory.TransactionTypeSale,
				QuantityChange: -commit[productID],
				QuantityAfter:  newQty,
				Notes:          fmt.Sprintf("sale %s completed", sale.SaleNumber),
				At:             now,
			}); err != nil {
				return err
			}
		}

		if err := tx.UpdateSaleStatus(ctx, ownerID, saleID, SaleStatusCompleted, &now); err != nil {
			return err
		}
		sale.Status = SaleStatusCompleted
		sale.CompletedAt = &now

		dueDate, err := s.resolveDueDate(ctx, sale)
		if err != nil {
			return err
		}
		if _, err := tx.InsertAREntry(ctx, ar.LedgerEntry{
			OwnerID:        ownerID,
			CustomerID:     sale.CustomerID,
			SaleID:         &saleID,
			InvoiceNumber:  invoiceNumber,
			InvoiceDate:    sale.Date,
			DueDate:        dueDate,
			OriginalAmount: sale.TotalAmount,
		}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if idemInserted {
			_ = s.idempotency.Delete(ctx, idemKey)
		}
		return Sale{}, nil, err
	}

	s.recordAudit(ctx, ownerID, "sale.completed", saleID, map[string]any{
		"sale_number": sale.SaleNumber,
		"invoice":     invoiceNumber,
		"total":       sale.TotalAmount,
	})
	for _, w := range warnings {
		s.log.Warn("sale completed past other holds",
			"sale_id", saleID, "product_id", w.ProductID,
			"needed", w.Needed, "available", w.Available)
	}
	if s.hook != nil {
		if err := s.hook(ctx, sale); err != nil {
			s.log.Error("sale completion hook failed", "sale_id", saleID, "error", err)
		}
	}
	return sale, warnings, nil
}

// CancelSale releases any outstanding reservations and marks the draft
// cancelled. Completed sales cannot be cancelled.
func (s *Service) CancelSale(ctx context.Context, ownerID, saleID int64) (Sale, error) {
	var sale Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, err = s.lockDraft(ctx, tx, ownerID, saleID)
		if err != nil {
			return err
		}
		if err := s.releaseOutstanding(ctx, tx, &sale, "cancelled"); err != nil {
			return err
		}
		if err := tx.UpdateSaleStatus(ctx, ownerID, saleID, SaleStatusCancelled, nil); err != nil {
			return err
		}
		sale.Status = SaleStatusCancelled
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, ownerID, "sale.cancelled", saleID, map[string]any{"sale_number": sale.SaleNumber})
	return sale, nil
}

// GetSale loads one sale with its items.
func (s *Service) GetSale(ctx context.Context, ownerID, saleID int64) (Sale, error) {
	return s.repo.GetSale(ctx, ownerID, saleID)
}

// ListSales pages through an owner's sales, newest first.
func (s *Service) ListSales(ctx context.Context, ownerID int64, status *SaleStatus, limit, offset int) ([]Sale, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListSales(ctx, ownerID, status, limit, offset)
}

func (s *Service) lockDraft(ctx context.Context, tx TxRepository, ownerID, saleID int64) (Sale, error) {
	sale, err := tx.GetSaleForUpdate(ctx, ownerID, saleID)
	if err != nil {
		return Sale{}, err
	}
	if sale.Status != SaleStatusDraft {
		return Sale{}, fmt.Errorf("%w: sale %d is %s", ErrNotDraft, saleID, sale.Status)
	}
	items, err := tx.GetSaleItems(ctx, ownerID, saleID)
	if err != nil {
		return Sale{}, err
	}
	sale.Items = items
	return sale, nil
}

// loadRecipes returns components keyed by service id for the service
// items in the input set.
func (s *Service) loadRecipes(ctx context.Context, ownerID int64, items []ItemInput) (map[int64][]RecipeComponent, error) {
	var serviceIDs []int64
	seen := make(map[int64]bool)
	for _, item := range items {
		if item.Kind == ItemKindService && item.ServiceID != nil && !seen[*item.ServiceID] {
			seen[*item.ServiceID] = true
			serviceIDs = append(serviceIDs, *item.ServiceID)
		}
	}
	recipes := make(map[int64][]RecipeComponent)
	if len(serviceIDs) == 0 {
		return recipes, nil
	}
	components, err := s.repo.GetRecipeComponents(ctx, ownerID, serviceIDs)
	if err != nil {
		return nil, err
	}
	for _, c := range components {
		recipes[c.ServiceID] = append(recipes[c.ServiceID], c)
	}
	return recipes, nil
}

// itemDemand expands one item into per-product demand, recipe applied.
func itemDemand(item SaleItem, recipes map[int64][]RecipeComponent) []productNeed {
	switch item.Kind {
	case ItemKindProduct:
		return []productNeed{{ProductID: *item.ProductID, Quantity: item.Quantity}}
	case ItemKindService:
		needs := make([]productNeed, 0, len(recipes[*item.ServiceID]))
		for _, c := range recipes[*item.ServiceID] {
			needs = append(needs, productNeed{ProductID: c.ProductID, Quantity: c.QuantityPerUnit * item.Quantity})
		}
		return needs
	}
	return nil
}

type productNeed struct {
	ProductID int64
	Quantity  float64
}

// reserveForItem locks each consumed product, refuses inactive ones and
// writes one reservation plus its audit row per component.
func (s *Service) reserveForItem(ctx context.Context, tx TxRepository, sale *Sale, item SaleItem, recipes map[int64][]RecipeComponent) error {
	now := s.now()
	for _, need := range itemDemand(item, recipes) {
		product, err := tx.GetProductForUpdate(ctx, sale.OwnerID, need.ProductID)
		if err != nil {
			return err
		}
		if !product.Active {
			return fmt.Errorf("%w: product %d", inventory.ErrInactiveProduct, need.ProductID)
		}
		if _, err := tx.InsertReservation(ctx, inventory.Reservation{
			OwnerID:          sale.OwnerID,
			SaleID:           sale.ID,
			SaleItemID:       item.ID,
			ProductID:        need.ProductID,
			QuantityReserved: need.Quantity,
			Status:           inventory.ReservationReserved,
			CreatedAt:        now,
			UpdatedAt:        now,
		}); err != nil {
			return err
		}
		if err := tx.InsertInventoryTransaction(ctx, inventory.Transaction{
			OwnerID:        sale.OwnerID,
			ProductID:      need.ProductID,
			Type:           inventory.TransactionTypeReservation,
			QuantityChange: 0,
			QuantityAfter:  product.QuantityInStock,
			Notes:          fmt.Sprintf("reserved %.2f for sale %s", need.Quantity, sale.SaleNumber),
			At:             now,
		}); err != nil {
			return err
		}
	}
	return nil
}

// rebalanceReservations releases a draft's outstanding holds and
// re-reserves against the current item set.
func (s *Service) rebalanceReservations(ctx context.Context, tx TxRepository, sale *Sale) error {
	if err := s.releaseOutstanding(ctx, tx, sale, "rebalanced"); err != nil {
		return err
	}
	inputs := make([]ItemInput, 0, len(sale.Items))
	for _, item := range sale.Items {
		inputs = append(inputs, ItemInput{Kind: item.Kind, ProductID: item.ProductID, ServiceID: item.ServiceID})
	}
	recipes, err := s.loadRecipes(ctx, sale.OwnerID, inputs)
	if err != nil {
		return err
	}
	for _, item := range sale.Items {
		if err := s.reserveForItem(ctx, tx, sale, item, recipes); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) releaseOutstanding(ctx context.Context, tx TxRepository, sale *Sale, reason string) error {
	reservations, err := tx.ListSaleReservationsForUpdate(ctx, sale.OwnerID, sale.ID)
	if err != nil {
		return err
	}
	now := s.now()
	for _, res := range reservations {
		if res.Status != inventory.ReservationReserved {
			continue
		}
		if err := tx.UpdateReservationStatus(ctx, res.ID, inventory.ReservationReleased); err != nil {
			return err
		}
		product, err := tx.GetProductForUpdate(ctx, sale.OwnerID, res.ProductID)
		if err != nil {
			return err
		}
		if err := tx.InsertInventoryTransaction(ctx, inventory.Transaction{
			OwnerID:        sale.OwnerID,
			ProductID:      res.ProductID,
			Type:           inventory.TransactionTypeRelease,
			QuantityChange: 0,
			QuantityAfter:  product.QuantityInStock,
			Notes:          fmt.Sprintf("released %.2f, sale %s %s", res.QuantityReserved, sale.SaleNumber, reason),
			At:             now,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) resolveDueDate(ctx context.Context, sale Sale) (time.Time, error) {
	if sale.PaymentDueDate != nil {
		return *sale.PaymentDueDate, nil
	}
	t, err := s.repo.GetCustomerTerms(ctx, sale.OwnerID, sale.CustomerID)
	if err != nil {
		return time.Time{}, err
	}
	if t == nil {
		net30 := terms.Net(30)
		return net30.DueDate(sale.Date), nil
	}
	return t.DueDate(sale.Date), nil
}

func validateItemKind(item ItemInput) error {
	switch item.Kind {
	case ItemKindProduct:
		if item.ProductID == nil {
			return fmt.Errorf("%w: product item requires product_id", shared.ErrValidation)
		}
	case ItemKindService:
		if item.ServiceID == nil {
			return fmt.Errorf("%w: service item requires service_id", shared.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown item kind %q", shared.ErrValidation, item.Kind)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, ownerID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		OwnerID:  ownerID,
		Action:   action,
		Entity:   "sale",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.log.Warn("audit record failed", "action", action, "error", err)
	}
}
