package sales

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/detailops/detailops/internal/ar"
	"github.com/detailops/detailops/internal/inventory"
	"github.com/detailops/detailops/internal/platform/db"
	"github.com/detailops/detailops/internal/terms"
)

// Repository is the pgx implementation of RepositoryPort. Its
// transactional arm reaches into the reservation, product and
// receivable tables so a lifecycle step is one database transaction.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const saleColumns = `id, owner_id, customer_id, sale_number, sale_date, status, subtotal, tax_rate, tax_amount, discount_amount, total_amount, total_cost, payment_due_date, completed_at, created_at, updated_at`

const saleItemColumns = `id, sale_id, kind, product_id, service_id, description, quantity, unit_price, discount_amount, line_total, unit_cost`

func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (r *Repository) GetSale(ctx context.Context, ownerID, saleID int64) (Sale, error) {
	sale, err := scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE owner_id=$1 AND id=$2`, ownerID, saleID))
	if err != nil {
		return Sale{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+saleItemColumns+` FROM sale_items WHERE sale_id=$1 ORDER BY id`, saleID)
	if err != nil {
		return Sale{}, err
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanSaleItem(rows)
		if err != nil {
			return Sale{}, err
		}
		sale.Items = append(sale.Items, item)
	}
	if err := rows.Err(); err != nil {
		return Sale{}, err
	}
	return sale, nil
}

func (r *Repository) ListSales(ctx context.Context, ownerID int64, status *SaleStatus, limit, offset int) ([]Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE owner_id=$1`
	args := []any{ownerID}
	if status != nil {
		query += ` AND status=$2`
		args = append(args, *status)
	}
	query += ` ORDER BY sale_date DESC, id DESC LIMIT $` + itoa(len(args)+1) + ` OFFSET $` + itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sale)
	}
	return out, rows.Err()
}

func (r *Repository) GetRecipeComponents(ctx context.Context, ownerID int64, serviceIDs []int64) ([]RecipeComponent, error) {
	rows, err := r.pool.Query(ctx, `SELECT sr.service_id, sr.product_id, sr.quantity_per_unit
FROM service_recipes sr JOIN services s ON s.id = sr.service_id
WHERE s.owner_id=$1 AND sr.service_id = ANY($2) ORDER BY sr.service_id, sr.product_id`, ownerID, serviceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RecipeComponent
	for rows.Next() {
		var c RecipeComponent
		if err := rows.Scan(&c.ServiceID, &c.ProductID, &c.QuantityPerUnit); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) GetCustomerTerms(ctx context.Context, ownerID, customerID int64) (*terms.Terms, error) {
	var (
		kind         *string
		netDays      *int
		discountPct  *float64
		discountDays *int
	)
	err := r.pool.QueryRow(ctx, `SELECT payment_terms_kind, payment_net_days, payment_discount_pct, payment_discount_days
FROM customers WHERE owner_id=$1 AND id=$2`, ownerID, customerID).
		Scan(&kind, &netDays, &discountPct, &discountDays)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if kind == nil {
		return nil, nil
	}
	t := terms.Terms{Kind: terms.Kind(*kind)}
	if netDays != nil {
		t.NetDays = *netDays
	}
	if discountPct != nil {
		t.DiscountPct = *discountPct
	}
	if discountDays != nil {
		t.DiscountDays = *discountDays
	}
	return &t, nil
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sales (owner_id, customer_id, sale_number, sale_date, status, subtotal, tax_rate, tax_amount, discount_amount, total_amount, total_cost, payment_due_date, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW()) RETURNING id`,
		sale.OwnerID, sale.CustomerID, sale.SaleNumber, sale.Date, sale.Status,
		sale.Subtotal, sale.TaxRate, sale.TaxAmount, sale.DiscountAmount,
		sale.TotalAmount, sale.TotalCost, sale.PaymentDueDate).Scan(&id)
	return id, err
}

func (t *txRepo) InsertSaleItem(ctx context.Context, item SaleItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sale_items (sale_id, kind, product_id, service_id, description, quantity, unit_price, discount_amount, line_total, unit_cost)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		item.SaleID, item.Kind, item.ProductID, item.ServiceID, item.Description,
		item.Quantity, item.UnitPrice, item.DiscountAmount, item.LineTotal, item.UnitCost).Scan(&id)
	return id, err
}

func (t *txRepo) DeleteSaleItem(ctx context.Context, ownerID, saleID, itemID int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM sale_items si USING sales s
WHERE si.id=$1 AND si.sale_id=$2 AND s.id=si.sale_id AND s.owner_id=$3`, itemID, saleID, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (t *txRepo) UpdateSaleItemQuantity(ctx context.Context, ownerID, itemID int64, quantity float64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE sale_items si SET quantity=$1, line_total=$1*si.unit_price-si.discount_amount
FROM sales s WHERE si.id=$2 AND s.id=si.sale_id AND s.owner_id=$3`, quantity, itemID, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (t *txRepo) UpdateSaleTotals(ctx context.Context, sale Sale) error {
	_, err := t.tx.Exec(ctx, `UPDATE sales SET subtotal=$1, tax_amount=$2, discount_amount=$3, total_amount=$4, total_cost=$5, updated_at=NOW()
WHERE owner_id=$6 AND id=$7`,
		sale.Subtotal, sale.TaxAmount, sale.DiscountAmount, sale.TotalAmount, sale.TotalCost, sale.OwnerID, sale.ID)
	return err
}

func (t *txRepo) GetSaleForUpdate(ctx context.Context, ownerID, saleID int64) (Sale, error) {
	return scanSale(t.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE owner_id=$1 AND id=$2 FOR UPDATE`, ownerID, saleID))
}

func (t *txRepo) GetSaleItems(ctx context.Context, ownerID, saleID int64) ([]SaleItem, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+prefixColumns("si.", saleItemColumns)+` FROM sale_items si
JOIN sales s ON s.id = si.sale_id WHERE s.owner_id=$1 AND si.sale_id=$2 ORDER BY si.id`, ownerID, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SaleItem
	for rows.Next() {
		item, err := scanSaleItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (t *txRepo) UpdateSaleStatus(ctx context.Context, ownerID, saleID int64, status SaleStatus, completedAt *time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE sales SET status=$1, completed_at=$2, updated_at=NOW() WHERE owner_id=$3 AND id=$4`,
		status, completedAt, ownerID, saleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSaleNotFound
	}
	return nil
}

func (t *txRepo) InsertReservation(ctx context.Context, res inventory.Reservation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sale_inventory_reservations (owner_id, sale_id, sale_item_id, product_id, quantity_reserved, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		res.OwnerID, res.SaleID, res.SaleItemID, res.ProductID, res.QuantityReserved, res.Status, res.CreatedAt, res.UpdatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) ListSaleReservationsForUpdate(ctx context.Context, ownerID, saleID int64) ([]inventory.Reservation, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, owner_id, sale_id, sale_item_id, product_id, quantity_reserved, status, created_at, updated_at
FROM sale_inventory_reservations WHERE owner_id=$1 AND sale_id=$2 ORDER BY id FOR UPDATE`, ownerID, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.Reservation
	for rows.Next() {
		var res inventory.Reservation
		if err := rows.Scan(&res.ID, &res.OwnerID, &res.SaleID, &res.SaleItemID, &res.ProductID,
			&res.QuantityReserved, &res.Status, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (t *txRepo) UpdateReservationStatus(ctx context.Context, reservationID int64, status inventory.ReservationStatus) error {
	_, err := t.tx.Exec(ctx, `UPDATE sale_inventory_reservations SET status=$1, updated_at=NOW() WHERE id=$2`, status, reservationID)
	return err
}

func (t *txRepo) SumOtherReserved(ctx context.Context, ownerID, productID, excludeSaleID int64) (float64, error) {
	var total float64
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity_reserved), 0) FROM sale_inventory_reservations
WHERE owner_id=$1 AND product_id=$2 AND sale_id<>$3 AND status=$4`,
		ownerID, productID, excludeSaleID, inventory.ReservationReserved).Scan(&total)
	return total, err
}

func (t *txRepo) GetProductForUpdate(ctx context.Context, ownerID, productID int64) (inventory.Product, error) {
	var p inventory.Product
	err := t.tx.QueryRow(ctx, `SELECT id, owner_id, name, category, price, cost, quantity_in_stock, low_stock_threshold, vendor_id, active
FROM products WHERE owner_id=$1 AND id=$2 FOR UPDATE`, ownerID, productID).
		Scan(&p.ID, &p.OwnerID, &p.Name, &p.Category, &p.Price, &p.Cost, &p.QuantityInStock, &p.LowStockThreshold, &p.VendorID, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.Product{}, inventory.ErrProductNotFound
		}
		return inventory.Product{}, err
	}
	return p, nil
}

func (t *txRepo) UpdateProductStock(ctx context.Context, ownerID, productID int64, quantity float64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET quantity_in_stock=$1, updated_at=NOW() WHERE owner_id=$2 AND id=$3`,
		quantity, ownerID, productID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return inventory.ErrProductNotFound
	}
	return nil
}

func (t *txRepo) InsertInventoryTransaction(ctx context.Context, txn inventory.Transaction) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO inventory_transactions (owner_id, product_id, type, quantity_change, quantity_after, notes, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		txn.OwnerID, txn.ProductID, txn.Type, txn.QuantityChange, txn.QuantityAfter, txn.Notes, txn.At)
	return err
}

func (t *txRepo) InsertAREntry(ctx context.Context, entry ar.LedgerEntry) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO ar_ledger_entries (owner_id, customer_id, sale_id, invoice_number, invoice_date, due_date, original_amount, amount_paid, is_overdue, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0, FALSE, $8, NOW(), NOW()) RETURNING id`,
		entry.OwnerID, entry.CustomerID, entry.SaleID, entry.InvoiceNumber, entry.InvoiceDate,
		entry.DueDate, entry.OriginalAmount, entry.Notes).Scan(&id)
	return id, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (Sale, error) {
	var s Sale
	err := row.Scan(&s.ID, &s.OwnerID, &s.CustomerID, &s.SaleNumber, &s.Date, &s.Status,
		&s.Subtotal, &s.TaxRate, &s.TaxAmount, &s.DiscountAmount, &s.TotalAmount, &s.TotalCost,
		&s.PaymentDueDate, &s.CompletedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrSaleNotFound
		}
		return Sale{}, err
	}
	return s, nil
}

func scanSaleItem(row rowScanner) (SaleItem, error) {
	var it SaleItem
	err := row.Scan(&it.ID, &it.SaleID, &it.Kind, &it.ProductID, &it.ServiceID, &it.Description,
		&it.Quantity, &it.UnitPrice, &it.DiscountAmount, &it.LineTotal, &it.UnitCost)
	return it, err
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func prefixColumns(prefix, columns string) string {
	cols := strings.Split(columns, ", ")
	for i, col := range cols {
		cols[i] = prefix + col
	}
	return strings.Join(cols, ", ")
}
