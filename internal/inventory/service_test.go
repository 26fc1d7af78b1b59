package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryStockRepo struct {
	products     map[int64]Product
	reservations map[int64]Reservation
	transactions []Transaction
	nextResID    int64
}

func newMemoryStockRepo() *memoryStockRepo {
	return &memoryStockRepo{
		products:     make(map[int64]Product),
		reservations: make(map[int64]Reservation),
	}
}

func (r *memoryStockRepo) addProduct(id int64, stock float64) {
	r.products[id] = Product{ID: id, OwnerID: 1, Name: "Product", QuantityInStock: stock, Active: true}
}

func (r *memoryStockRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryStockTx{repo: r})
}

func (r *memoryStockRepo) GetProduct(ctx context.Context, ownerID, productID int64) (Product, error) {
	product, ok := r.products[productID]
	if !ok || product.OwnerID != ownerID {
		return Product{}, ErrProductNotFound
	}
	return product, nil
}

func (r *memoryStockRepo) SumReserved(ctx context.Context, ownerID, productID int64) (float64, error) {
	var sum float64
	for _, res := range r.reservations {
		if res.OwnerID == ownerID && res.ProductID == productID && res.Status == ReservationReserved {
			sum += res.QuantityReserved
		}
	}
	return sum, nil
}

func (r *memoryStockRepo) ListReservationsBySale(ctx context.Context, ownerID, saleID int64) ([]Reservation, error) {
	var out []Reservation
	for _, res := range r.reservations {
		if res.OwnerID == ownerID && res.SaleID == saleID {
			out = append(out, res)
		}
	}
	return out, nil
}

func (r *memoryStockRepo) ListTransactions(ctx context.Context, ownerID, productID int64, limit int) ([]Transaction, error) {
	var out []Transaction
	for _, tx := range r.transactions {
		if tx.OwnerID == ownerID && tx.ProductID == productID && len(out) < limit {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (r *memoryStockRepo) ListLowStock(ctx context.Context, ownerID int64) ([]Product, error) {
	var out []Product
	for _, product := range r.products {
		if product.OwnerID == ownerID && product.Active && product.QuantityInStock <= product.LowStockThreshold {
			out = append(out, product)
		}
	}
	return out, nil
}

type memoryStockTx struct {
	repo *memoryStockRepo
}

func (tx *memoryStockTx) GetProductForUpdate(ctx context.Context, ownerID, productID int64) (Product, error) {
	return tx.repo.GetProduct(ctx, ownerID, productID)
}

func (tx *memoryStockTx) GetReservationForUpdate(ctx context.Context, ownerID, reservationID int64) (Reservation, error) {
	res, ok := tx.repo.reservations[reservationID]
	if !ok || res.OwnerID != ownerID {
		return Reservation{}, ErrReservationNotFound
	}
	return res, nil
}

func (tx *memoryStockTx) InsertReservation(ctx context.Context, res Reservation) (int64, error) {
	tx.repo.nextResID++
	res.ID = tx.repo.nextResID
	tx.repo.reservations[res.ID] = res
	return res.ID, nil
}

func (tx *memoryStockTx) UpdateReservationStatus(ctx context.Context, reservationID int64, status ReservationStatus) error {
	res := tx.repo.reservations[reservationID]
	res.Status = status
	tx.repo.reservations[reservationID] = res
	return nil
}

func (tx *memoryStockTx) UpdateProductStock(ctx context.Context, ownerID, productID int64, qty float64) error {
	product := tx.repo.products[productID]
	product.QuantityInStock = qty
	tx.repo.products[productID] = product
	return nil
}

func (tx *memoryStockTx) InsertTransaction(ctx context.Context, rec Transaction) error {
	tx.repo.transactions = append(tx.repo.transactions, rec)
	return nil
}

var (
	_ RepositoryPort = (*memoryStockRepo)(nil)
	_ TxRepository   = (*memoryStockTx)(nil)
)

func TestReserveDoesNotTouchStock(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.addProduct(1, 10)
	svc := NewService(repo, nil)

	res, err := svc.Reserve(context.Background(), ReserveInput{OwnerID: 1, SaleID: 5, SaleItemID: 7, ProductID: 1, Quantity: 4})
	require.NoError(t, err)
	require.Equal(t, ReservationReserved, res.Status)
	require.Equal(t, 10.0, repo.products[1].QuantityInStock)

	avail, err := svc.CheckAvailability(context.Background(), 1, 1, 7)
	require.NoError(t, err)
	require.Equal(t, 6.0, avail.Available)
	require.False(t, avail.Sufficient)
}

func TestReserveAllowsOverReservation(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.addProduct(1, 3)
	svc := NewService(repo, nil)

	_, err := svc.Reserve(context.Background(), ReserveInput{OwnerID: 1, ProductID: 1, Quantity: 10})
	require.NoError(t, err)

	avail, err := svc.CheckAvailability(context.Background(), 1, 1, 1)
	require.NoError(t, err)
	require.Equal(t, -7.0, avail.Available)
}

func TestReserveValidation(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.addProduct(1, 10)
	inactive := repo.products[1]
	inactive.ID = 2
	inactive.Active = false
	repo.products[2] = inactive
	svc := NewService(repo, nil)

	_, err := svc.Reserve(context.Background(), ReserveInput{OwnerID: 1, ProductID: 1, Quantity: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = svc.Reserve(context.Background(), ReserveInput{OwnerID: 1, ProductID: 2, Quantity: 1})
	require.ErrorIs(t, err, ErrInactiveProduct)
	_, err = svc.Reserve(context.Background(), ReserveInput{OwnerID: 1, ProductID: 99, Quantity: 1})
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestCommitDeductsStockExactlyOnce(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.addProduct(1, 10)
	svc := NewService(repo, nil)

	res, err := svc.Reserve(context.Background(), ReserveInput{OwnerID: 1, SaleID: 5, ProductID: 1, Quantity: 4})
	require.NoError(t, err)

	require.NoError(t, svc.Commit(context.Background(), 1, res.ID))
	require.Equal(t, 6.0, repo.products[1].QuantityInStock)

	err = svc.Commit(context.Background(), 1, res.ID)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, 6.0, repo.products[1].QuantityInStock)
}

func TestCommitRefusesNegativeStock(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.addProduct(1, 3)
	svc := NewService(repo, nil)

	res, err := svc.Reserve(context.Background(), ReserveInput{OwnerID: 1, ProductID: 1, Quantity: 5})
	require.NoError(t, err)

	err = svc.Commit(context.Background(), 1, res.ID)
	require.ErrorIs(t, err, ErrNegativeStock)
	require.Equal(t, 3.0, repo.products[1].QuantityInStock)
	require.Equal(t, ReservationReserved, repo.reservations[res.ID].Status)
}

func TestReleaseIsIdempotentAndNeverTouchesStock(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.addProduct(1, 10)
	svc := NewService(repo, nil)

	res, err := svc.Reserve(context.Background(), ReserveInput{OwnerID: 1, ProductID: 1, Quantity: 4})
	require.NoError(t, err)

	require.NoError(t, svc.Release(context.Background(), 1, res.ID))
	require.NoError(t, svc.Release(context.Background(), 1, res.ID))
	require.Equal(t, 10.0, repo.products[1].QuantityInStock)

	avail, err := svc.CheckAvailability(context.Background(), 1, 1, 10)
	require.NoError(t, err)
	require.True(t, avail.Sufficient)
}

func TestReleaseCommittedFails(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.addProduct(1, 10)
	svc := NewService(repo, nil)

	res, err := svc.Reserve(context.Background(), ReserveInput{OwnerID: 1, ProductID: 1, Quantity: 4})
	require.NoError(t, err)
	require.NoError(t, svc.Commit(context.Background(), 1, res.ID))

	err = svc.Release(context.Background(), 1, res.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestAdjustGuardsNegativeStockAndLogsTrail(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.addProduct(1, 5)
	svc := NewService(repo, nil)

	_, err := svc.Adjust(context.Background(), 1, 1, -7, "shrinkage")
	require.ErrorIs(t, err, ErrNegativeStock)

	logged, err := svc.Adjust(context.Background(), 1, 1, -2, "shrinkage")
	require.NoError(t, err)
	require.Equal(t, TransactionTypeAdjustment, logged.Type)
	require.Equal(t, 3.0, logged.QuantityAfter)

	_, err = svc.Adjust(context.Background(), 1, 1, 0, "noop")
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestReceiveIncreasesStock(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.addProduct(1, 2)
	svc := NewService(repo, nil)

	logged, err := svc.Receive(context.Background(), 1, 1, 24, "PO-18 delivery")
	require.NoError(t, err)
	require.Equal(t, TransactionTypePurchase, logged.Type)
	require.Equal(t, 26.0, repo.products[1].QuantityInStock)

	_, err = svc.Receive(context.Background(), 1, 1, -3, "")
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestStockTrailBalances(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.addProduct(1, 0)
	svc := NewService(repo, nil)

	_, err := svc.Receive(context.Background(), 1, 1, 10, "initial stock")
	require.NoError(t, err)
	res, err := svc.Reserve(context.Background(), ReserveInput{OwnerID: 1, SaleID: 1, ProductID: 1, Quantity: 4})
	require.NoError(t, err)
	require.NoError(t, svc.Commit(context.Background(), 1, res.ID))

	trail, err := svc.GetStockTrail(context.Background(), 1, 1, 10)
	require.NoError(t, err)
	require.Len(t, trail, 3)

	// Each row's quantity-after must chain from the previous one.
	var running float64
	for _, tx := range trail {
		running += tx.QuantityChange
		require.Equal(t, running, tx.QuantityAfter)
	}
	require.Equal(t, 6.0, running)
}

func TestListLowStock(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.products[1] = Product{ID: 1, OwnerID: 1, QuantityInStock: 2, LowStockThreshold: 5, Active: true}
	repo.products[2] = Product{ID: 2, OwnerID: 1, QuantityInStock: 50, LowStockThreshold: 5, Active: true}
	repo.products[3] = Product{ID: 3, OwnerID: 1, QuantityInStock: 0, LowStockThreshold: 5, Active: false}
	svc := NewService(repo, nil)

	low, err := svc.ListLowStock(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.EqualValues(t, 1, low[0].ID)
}
