package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/detailops/detailops/internal/inventory"
	jobmetrics "github.com/detailops/detailops/internal/jobs"
)

// LowStockScanJob reports products at or under their low-stock
// threshold per owner. The report is a structured log line; alerting
// sits outside this service.
type LowStockScanJob struct {
	inventory *inventory.Service
	pool      *pgxpool.Pool
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewLowStockScanJob constructs the scan job. Metrics may be nil.
func NewLowStockScanJob(inv *inventory.Service, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{inventory: inv, pool: pool, logger: logger, metrics: metrics}
}

// Handle processes TaskLowStockScan tasks.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("low_stock_scan")
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(asynq.SkipRetry)
	}
	return tracker.End(j.scan(ctx))
}

func (j *LowStockScanJob) scan(ctx context.Context) error {
	rows, err := j.pool.Query(ctx, `SELECT DISTINCT owner_id FROM products WHERE active ORDER BY owner_id`)
	if err != nil {
		return err
	}
	defer rows.Close()
	var owners []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		owners = append(owners, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, ownerID := range owners {
		products, err := j.inventory.ListLowStock(ctx, ownerID)
		if err != nil {
			j.logger.Error("low stock scan", slog.Int64("owner_id", ownerID), slog.Any("error", err))
			return err
		}
		j.metrics.SetLowStock(ownerID, len(products))
		for _, p := range products {
			j.logger.Warn("low stock",
				slog.Int64("owner_id", ownerID),
				slog.Int64("product_id", p.ID),
				slog.String("name", p.Name),
				slog.Float64("on_hand", p.QuantityInStock),
				slog.Float64("threshold", p.LowStockThreshold))
		}
	}
	return nil
}
