package sales

import (
	"errors"
	"time"
)

// SaleStatus enumerates the sale lifecycle. COMPLETED and CANCELLED are
// terminal; nothing re-opens a sale.
type SaleStatus string

const (
	SaleStatusDraft     SaleStatus = "DRAFT"
	SaleStatusCompleted SaleStatus = "COMPLETED"
	SaleStatusCancelled SaleStatus = "CANCELLED"
)

// ItemKind distinguishes direct product sales from service sales that
// consume products through a recipe.
type ItemKind string

const (
	ItemKindProduct ItemKind = "PRODUCT"
	ItemKindService ItemKind = "SERVICE"
)

// CompletionPolicy decides how CompleteSale treats insufficient stock.
type CompletionPolicy string

const (
	// PolicyBlock refuses completion when committed quantities exceed
	// stock net of other sales' outstanding holds.
	PolicyBlock CompletionPolicy = "BLOCK"
	// PolicyWarn only refuses completion when stock itself would go
	// negative, ignoring other sales' holds.
	PolicyWarn CompletionPolicy = "WARN"
)

var (
	ErrSaleNotFound      = errors.New("sales: sale not found")
	ErrItemNotFound      = errors.New("sales: sale item not found")
	ErrNotDraft          = errors.New("sales: sale is not a draft")
	ErrNoItems           = errors.New("sales: sale requires at least one item")
	ErrInvalidQuantity   = errors.New("sales: quantity must be positive")
	ErrInsufficientStock = errors.New("sales: insufficient stock to complete")
)

// Sale aggregates items with the derived money fields. The invariant
// TotalAmount = Subtotal − DiscountAmount + TaxAmount holds after every
// item mutation.
type Sale struct {
	ID             int64
	OwnerID        int64
	CustomerID     int64
	SaleNumber     string
	Date           time.Time
	Status         SaleStatus
	Subtotal       float64
	TaxRate        float64
	TaxAmount      float64
	DiscountAmount float64
	TotalAmount    float64
	TotalCost      float64
	PaymentDueDate *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Items          []SaleItem
}

// SaleItem is one line of a sale. LineTotal = Quantity × UnitPrice −
// DiscountAmount.
type SaleItem struct {
	ID             int64
	SaleID         int64
	Kind           ItemKind
	ProductID      *int64
	ServiceID      *int64
	Description    string
	Quantity       float64
	UnitPrice      float64
	DiscountAmount float64
	LineTotal      float64
	UnitCost       float64
}

// RecipeComponent maps a service to a product it consumes per unit sold.
type RecipeComponent struct {
	ServiceID       int64
	ProductID       int64
	QuantityPerUnit float64
}

// ItemInput describes one line of a draft being saved.
type ItemInput struct {
	Kind           ItemKind
	ProductID      *int64
	ServiceID      *int64
	Description    string
	Quantity       float64
	UnitPrice      float64
	DiscountAmount float64
	UnitCost       float64
}

// SaveDraftInput groups fields to persist a draft sale.
type SaveDraftInput struct {
	OwnerID        int64
	CustomerID     int64
	Date           time.Time
	TaxRate        float64
	DiscountAmount float64
	PaymentDueDate *time.Time
	Items          []ItemInput
}

// StockWarning reports one product short on availability.
type StockWarning struct {
	ProductID int64
	Needed    float64
	Available float64
}

// Recompute derives LineTotal for every item and the sale aggregates per
// the money invariants.
func (s *Sale) Recompute() {
	var subtotal, cost float64
	for i := range s.Items {
		item := &s.Items[i]
		item.LineTotal = item.Quantity*item.UnitPrice - item.DiscountAmount
		subtotal += item.LineTotal
		cost += item.Quantity * item.UnitCost
	}
	s.Subtotal = subtotal
	taxable := subtotal - s.DiscountAmount
	if taxable < 0 {
		taxable = 0
	}
	s.TaxAmount = taxable * s.TaxRate / 100
	s.TotalAmount = subtotal - s.DiscountAmount + s.TaxAmount
	s.TotalCost = cost
}
