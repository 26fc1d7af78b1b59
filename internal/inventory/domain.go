package inventory

import (
	"errors"
	"time"
)

// TransactionType enumerates stock movement categories.
type TransactionType string

const (
	TransactionTypePurchase    TransactionType = "PURCHASE"
	TransactionTypeSale        TransactionType = "SALE"
	TransactionTypeAdjustment  TransactionType = "ADJUSTMENT"
	TransactionTypeReservation TransactionType = "RESERVATION"
	TransactionTypeRelease     TransactionType = "RELEASE"
)

// ReservationStatus enumerates the reservation lifecycle.
type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "RESERVED"
	ReservationCommitted ReservationStatus = "COMMITTED"
	ReservationReleased  ReservationStatus = "RELEASED"
)

var (
	ErrProductNotFound     = errors.New("inventory: product not found")
	ErrReservationNotFound = errors.New("inventory: reservation not found")
	ErrInvalidState        = errors.New("inventory: reservation not in expected state")
	ErrInvalidQuantity     = errors.New("inventory: quantity must be positive")
	ErrNegativeStock       = errors.New("inventory: stock would go negative")
	ErrInactiveProduct     = errors.New("inventory: product inactive")
)

// Product is the stock-bearing slice of the catalog entity. Catalog CRUD
// lives outside the core; this engine only mutates QuantityInStock.
type Product struct {
	ID                int64
	OwnerID           int64
	Name              string
	Category          string
	Price             float64
	Cost              *float64
	QuantityInStock   float64
	LowStockThreshold float64
	VendorID          *int64
	Active            bool
}

// Transaction is one row of the append-only stock audit trail.
// QuantityAfter must equal the prior row's QuantityAfter plus
// QuantityChange for the same product.
type Transaction struct {
	ID             int64
	OwnerID        int64
	ProductID      int64
	Type           TransactionType
	QuantityChange float64
	QuantityAfter  float64
	Notes          string
	At             time.Time
}

// Reservation is a soft hold on stock for one sale item. Available stock
// for new reservations is on-hand minus the sum of RESERVED holds.
type Reservation struct {
	ID               int64
	OwnerID          int64
	SaleID           int64
	SaleItemID       int64
	ProductID        int64
	QuantityReserved float64
	Status           ReservationStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Availability reports whether needed quantity can currently be covered.
type Availability struct {
	ProductID  int64
	Available  float64
	Needed     float64
	Sufficient bool
}

// ReserveInput groups fields to place a reservation.
type ReserveInput struct {
	OwnerID    int64
	SaleID     int64
	SaleItemID int64
	ProductID  int64
	Quantity   float64
}
