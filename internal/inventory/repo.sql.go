package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/detailops/detailops/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const productColumns = `id, owner_id, name, category, price, cost, quantity_in_stock, low_stock_threshold, vendor_id, active`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Category, &p.Price, &p.Cost, &p.QuantityInStock, &p.LowStockThreshold, &p.VendorID, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// GetProduct returns a product scoped to owner.
func (r *Repository) GetProduct(ctx context.Context, ownerID, productID int64) (Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE owner_id=$1 AND id=$2`, ownerID, productID))
}

// SumReserved totals outstanding holds for a product.
func (r *Repository) SumReserved(ctx context.Context, ownerID, productID int64) (float64, error) {
	var total float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity_reserved), 0) FROM sale_inventory_reservations
WHERE owner_id=$1 AND product_id=$2 AND status=$3`, ownerID, productID, ReservationReserved).Scan(&total)
	return total, err
}

// ListReservationsBySale returns every reservation placed for a sale.
func (r *Repository) ListReservationsBySale(ctx context.Context, ownerID, saleID int64) ([]Reservation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, owner_id, sale_id, sale_item_id, product_id, quantity_reserved, status, created_at, updated_at
FROM sale_inventory_reservations WHERE owner_id=$1 AND sale_id=$2 ORDER BY id`, ownerID, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		var res Reservation
		if err := rows.Scan(&res.ID, &res.OwnerID, &res.SaleID, &res.SaleItemID, &res.ProductID, &res.QuantityReserved, &res.Status, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTransactions returns the newest audit rows for a product.
func (r *Repository) ListTransactions(ctx context.Context, ownerID, productID int64, limit int) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, owner_id, product_id, type, quantity_change, quantity_after, notes, occurred_at
FROM inventory_transactions WHERE owner_id=$1 AND product_id=$2 ORDER BY id DESC LIMIT $3`, ownerID, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.ProductID, &t.Type, &t.QuantityChange, &t.QuantityAfter, &t.Notes, &t.At); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListLowStock returns active products at or below their threshold.
func (r *Repository) ListLowStock(ctx context.Context, ownerID int64) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products
WHERE owner_id=$1 AND active AND quantity_in_stock <= low_stock_threshold ORDER BY name`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Category, &p.Price, &p.Cost, &p.QuantityInStock, &p.LowStockThreshold, &p.VendorID, &p.Active); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *txRepo) GetProductForUpdate(ctx context.Context, ownerID, productID int64) (Product, error) {
	return scanProduct(t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE owner_id=$1 AND id=$2 FOR UPDATE`, ownerID, productID))
}

func (t *txRepo) GetReservationForUpdate(ctx context.Context, ownerID, reservationID int64) (Reservation, error) {
	var res Reservation
	err := t.tx.QueryRow(ctx, `SELECT id, owner_id, sale_id, sale_item_id, product_id, quantity_reserved, status, created_at, updated_at
FROM sale_inventory_reservations WHERE owner_id=$1 AND id=$2 FOR UPDATE`, ownerID, reservationID).
		Scan(&res.ID, &res.OwnerID, &res.SaleID, &res.SaleItemID, &res.ProductID, &res.QuantityReserved, &res.Status, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reservation{}, ErrReservationNotFound
		}
		return Reservation{}, err
	}
	return res, nil
}

func (t *txRepo) InsertReservation(ctx context.Context, res Reservation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sale_inventory_reservations (owner_id, sale_id, sale_item_id, product_id, quantity_reserved, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		res.OwnerID, res.SaleID, res.SaleItemID, res.ProductID, res.QuantityReserved, res.Status, res.CreatedAt, res.UpdatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateReservationStatus(ctx context.Context, reservationID int64, status ReservationStatus) error {
	_, err := t.tx.Exec(ctx, `UPDATE sale_inventory_reservations SET status=$1, updated_at=NOW() WHERE id=$2`, status, reservationID)
	return err
}

func (t *txRepo) UpdateProductStock(ctx context.Context, ownerID, productID int64, qty float64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET quantity_in_stock=$1, updated_at=NOW() WHERE owner_id=$2 AND id=$3`, qty, ownerID, productID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (t *txRepo) InsertTransaction(ctx context.Context, tx Transaction) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO inventory_transactions (owner_id, product_id, type, quantity_change, quantity_after, notes, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tx.OwnerID, tx.ProductID, tx.Type, tx.QuantityChange, tx.QuantityAfter, tx.Notes, tx.At)
	return err
}
