package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/detailops/detailops/internal/ap"
	"github.com/detailops/detailops/internal/ar"
	jobmetrics "github.com/detailops/detailops/internal/jobs"
)

// OverdueSweepJob walks every owner and re-derives the overdue flag on
// open receivables and payables.
type OverdueSweepJob struct {
	receivables *ar.Service
	payables    *ap.Service
	pool        *pgxpool.Pool
	logger      *slog.Logger
	metrics     *jobmetrics.Metrics
}

// NewOverdueSweepJob constructs the sweep job. Metrics may be nil.
func NewOverdueSweepJob(receivables *ar.Service, payables *ap.Service, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverdueSweepJob {
	return &OverdueSweepJob{receivables: receivables, payables: payables, pool: pool, logger: logger, metrics: metrics}
}

// Handle processes TaskOverdueSweep tasks.
func (j *OverdueSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("overdue_sweep")
	var payload OverdueSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(asynq.SkipRetry)
	}
	return tracker.End(j.sweep(ctx))
}

func (j *OverdueSweepJob) sweep(ctx context.Context) error {
	owners, err := j.listOwners(ctx)
	if err != nil {
		return err
	}
	for _, ownerID := range owners {
		arCount, err := j.receivables.RefreshOverdueStatus(ctx, ownerID)
		if err != nil {
			j.logger.Error("overdue sweep receivables", slog.Int64("owner_id", ownerID), slog.Any("error", err))
			return err
		}
		apCount, err := j.payables.RefreshOverdueStatus(ctx, ownerID)
		if err != nil {
			j.logger.Error("overdue sweep payables", slog.Int64("owner_id", ownerID), slog.Any("error", err))
			return err
		}
		if arCount > 0 || apCount > 0 {
			j.logger.Info("overdue sweep",
				slog.Int64("owner_id", ownerID),
				slog.Int64("receivables_flagged", arCount),
				slog.Int64("payables_flagged", apCount))
		}
	}
	return nil
}

func (j *OverdueSweepJob) listOwners(ctx context.Context) ([]int64, error) {
	rows, err := j.pool.Query(ctx, `SELECT owner_id FROM ar_ledger_entries
UNION SELECT owner_id FROM ap_ledger_entries ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var owners []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}
