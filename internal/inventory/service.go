package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/detailops/detailops/internal/shared"
)

// TxRepository exposes the operations that must share one transaction.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, ownerID, productID int64) (Product, error)
	GetReservationForUpdate(ctx context.Context, ownerID, reservationID int64) (Reservation, error)
	InsertReservation(ctx context.Context, res Reservation) (int64, error)
	UpdateReservationStatus(ctx context.Context, reservationID int64, status ReservationStatus) error
	UpdateProductStock(ctx context.Context, ownerID, productID int64, qty float64) error
	InsertTransaction(ctx context.Context, tx Transaction) error
}

// RepositoryPort defines data access methods for the engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, ownerID, productID int64) (Product, error)
	SumReserved(ctx context.Context, ownerID, productID int64) (float64, error)
	ListReservationsBySale(ctx context.Context, ownerID, saleID int64) ([]Reservation, error)
	ListTransactions(ctx context.Context, ownerID, productID int64, limit int) ([]Transaction, error)
	ListLowStock(ctx context.Context, ownerID int64) ([]Product, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates stock reservations and movements.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Reserve places a soft hold on stock. Policy is soft: over-reservation
// is allowed and surfaced through CheckAvailability so the caller can
// warn before commit.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) (Reservation, error) {
	if input.OwnerID == 0 || input.ProductID == 0 {
		return Reservation{}, errors.New("inventory: owner and product required")
	}
	if input.Quantity <= 0 {
		return Reservation{}, ErrInvalidQuantity
	}
	var res Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, input.OwnerID, input.ProductID)
		if err != nil {
			return err
		}
		if !product.Active {
			return ErrInactiveProduct
		}
		now := s.now()
		res = Reservation{
			OwnerID:          input.OwnerID,
			SaleID:           input.SaleID,
			SaleItemID:       input.SaleItemID,
			ProductID:        input.ProductID,
			QuantityReserved: input.Quantity,
			Status:           ReservationReserved,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		id, err := tx.InsertReservation(ctx, res)
		if err != nil {
			return err
		}
		res.ID = id
		return tx.InsertTransaction(ctx, Transaction{
			OwnerID:        input.OwnerID,
			ProductID:      input.ProductID,
			Type:           TransactionTypeReservation,
			QuantityChange: 0,
			QuantityAfter:  product.QuantityInStock,
			Notes:          fmt.Sprintf("reserved %.2f for sale %d", input.Quantity, input.SaleID),
			At:             now,
		})
	})
	if err != nil {
		return Reservation{}, err
	}
	return res, nil
}

// Commit deducts the reserved quantity from stock, exactly once. The
// status flip, the stock decrement and the audit transaction land in one
// database transaction.
func (s *Service) Commit(ctx context.Context, ownerID, reservationID int64) error {
	var committed Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res, err := tx.GetReservationForUpdate(ctx, ownerID, reservationID)
		if err != nil {
			return err
		}
		if res.Status != ReservationReserved {
			return ErrInvalidState
		}
		product, err := tx.GetProductForUpdate(ctx, ownerID, res.ProductID)
		if err != nil {
			return err
		}
		newQty := product.QuantityInStock - res.QuantityReserved
		if newQty < 0 {
			return fmt.Errorf("%w: product %d", ErrNegativeStock, res.ProductID)
		}
		if err := tx.UpdateReservationStatus(ctx, res.ID, ReservationCommitted); err != nil {
			return err
		}
		if err := tx.UpdateProductStock(ctx, ownerID, res.ProductID, newQty); err != nil {
			return err
		}
		committed = res
		return tx.InsertTransaction(ctx, Transaction{
			OwnerID:        ownerID,
			ProductID:      res.ProductID,
			Type:           TransactionTypeSale,
			QuantityChange: -res.QuantityReserved,
			QuantityAfter:  newQty,
			Notes:          fmt.Sprintf("sale %d", res.SaleID),
			At:             s.now(),
		})
	})
	if err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			OwnerID:  ownerID,
			Action:   "inventory.commit",
			Entity:   "reservation",
			EntityID: fmt.Sprintf("%d", reservationID),
			Meta: map[string]any{
				"product_id": committed.ProductID,
				"qty":        committed.QuantityReserved,
			},
			At: s.now(),
		})
	}
	return nil
}

// Release drops a reservation without touching stock. Releasing an
// already-released reservation is a no-op.
func (s *Service) Release(ctx context.Context, ownerID, reservationID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res, err := tx.GetReservationForUpdate(ctx, ownerID, reservationID)
		if err != nil {
			return err
		}
		switch res.Status {
		case ReservationReleased:
			return nil
		case ReservationCommitted:
			return ErrInvalidState
		}
		if err := tx.UpdateReservationStatus(ctx, res.ID, ReservationReleased); err != nil {
			return err
		}
		product, err := tx.GetProductForUpdate(ctx, ownerID, res.ProductID)
		if err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, Transaction{
			OwnerID:        ownerID,
			ProductID:      res.ProductID,
			Type:           TransactionTypeRelease,
			QuantityChange: 0,
			QuantityAfter:  product.QuantityInStock,
			Notes:          fmt.Sprintf("released hold for sale %d", res.SaleID),
			At:             s.now(),
		})
	})
}

// CheckAvailability reports whether needed quantity is covered by stock
// net of outstanding holds. Purely informational, never mutates.
func (s *Service) CheckAvailability(ctx context.Context, ownerID, productID int64, needed float64) (Availability, error) {
	product, err := s.repo.GetProduct(ctx, ownerID, productID)
	if err != nil {
		return Availability{}, err
	}
	reserved, err := s.repo.SumReserved(ctx, ownerID, productID)
	if err != nil {
		return Availability{}, err
	}
	available := product.QuantityInStock - reserved
	return Availability{
		ProductID:  productID,
		Available:  available,
		Needed:     needed,
		Sufficient: available >= needed,
	}, nil
}

// Adjust applies a manual stock correction, logged as an adjustment.
func (s *Service) Adjust(ctx context.Context, ownerID, productID int64, qtyChange float64, notes string) (Transaction, error) {
	if qtyChange == 0 {
		return Transaction{}, ErrInvalidQuantity
	}
	var logged Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, ownerID, productID)
		if err != nil {
			return err
		}
		newQty := product.QuantityInStock + qtyChange
		if newQty < 0 {
			return fmt.Errorf("%w: product %d", ErrNegativeStock, productID)
		}
		if err := tx.UpdateProductStock(ctx, ownerID, productID, newQty); err != nil {
			return err
		}
		logged = Transaction{
			OwnerID:        ownerID,
			ProductID:      productID,
			Type:           TransactionTypeAdjustment,
			QuantityChange: qtyChange,
			QuantityAfter:  newQty,
			Notes:          notes,
			At:             s.now(),
		}
		return tx.InsertTransaction(ctx, logged)
	})
	if err != nil {
		return Transaction{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			OwnerID:  ownerID,
			Action:   "inventory.adjust",
			Entity:   "product",
			EntityID: fmt.Sprintf("%d", productID),
			Meta:     map[string]any{"qty": qtyChange, "notes": notes},
			At:       s.now(),
		})
	}
	return logged, nil
}

// Receive books purchased stock in, logged as a purchase movement.
func (s *Service) Receive(ctx context.Context, ownerID, productID int64, qty float64, notes string) (Transaction, error) {
	if qty <= 0 {
		return Transaction{}, ErrInvalidQuantity
	}
	var logged Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, ownerID, productID)
		if err != nil {
			return err
		}
		newQty := product.QuantityInStock + qty
		if err := tx.UpdateProductStock(ctx, ownerID, productID, newQty); err != nil {
			return err
		}
		logged = Transaction{
			OwnerID:        ownerID,
			ProductID:      productID,
			Type:           TransactionTypePurchase,
			QuantityChange: qty,
			QuantityAfter:  newQty,
			Notes:          notes,
			At:             s.now(),
		}
		return tx.InsertTransaction(ctx, logged)
	})
	if err != nil {
		return Transaction{}, err
	}
	return logged, nil
}

// ListReservationsBySale returns a sale's reservations.
func (s *Service) ListReservationsBySale(ctx context.Context, ownerID, saleID int64) ([]Reservation, error) {
	return s.repo.ListReservationsBySale(ctx, ownerID, saleID)
}

// GetStockTrail lists recent inventory transactions for a product.
func (s *Service) GetStockTrail(ctx context.Context, ownerID, productID int64, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListTransactions(ctx, ownerID, productID, limit)
}

// ListLowStock returns active products at or below their threshold.
func (s *Service) ListLowStock(ctx context.Context, ownerID int64) ([]Product, error) {
	return s.repo.ListLowStock(ctx, ownerID)
}
