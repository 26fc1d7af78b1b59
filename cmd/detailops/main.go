package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/detailops/detailops/internal/ap"
	"github.com/detailops/detailops/internal/app"
	"github.com/detailops/detailops/internal/ar"
	"github.com/detailops/detailops/internal/inventory"
	"github.com/detailops/detailops/internal/ledger/accounts"
	"github.com/detailops/detailops/internal/ledger/journal"
	"github.com/detailops/detailops/internal/numbering"
	"github.com/detailops/detailops/internal/observability"
	"github.com/detailops/detailops/internal/platform/cache"
	"github.com/detailops/detailops/internal/platform/db"
	"github.com/detailops/detailops/internal/sales"
	"github.com/detailops/detailops/internal/shared"
	"github.com/detailops/detailops/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, aging cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	auditLogger := shared.NewAuditLogger(dbpool)

	numberingService := numbering.NewService(numbering.NewRepository(dbpool))
	accountsService := accounts.NewService(accounts.NewRepository(dbpool))
	journalService := journal.NewService(journal.NewRepository(dbpool), numberingService, auditLogger)
	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), auditLogger)

	arService := ar.NewService(ar.NewRepository(dbpool), numberingService, auditLogger)
	if redisClient != nil {
		arService.WithCache(redisClient)
	}
	arService.WithAgingReference(arAgingReference(cfg.ARAgingReference))

	apService := ap.NewService(ap.NewRepository(dbpool), auditLogger)
	apService.WithAgingReference(apAgingReference(cfg.APAgingReference))

	salesService := sales.NewService(
		sales.NewRepository(dbpool),
		numberingService,
		auditLogger,
		sales.CompletionPolicy(strings.ToUpper(cfg.CompletionPolicy)),
		logger,
	)
	salesService.WithIdempotency(shared.NewIdempotencyStore(dbpool))
	if cfg.PostingEnabled() {
		salesService.SetCompletionHook(sales.NewPostingHook(journalService, sales.PostingConfig{
			ReceivableAccountID: cfg.PostingReceivableAccount,
			RevenueAccountID:    cfg.PostingRevenueAccount,
			TaxPayableAccountID: cfg.PostingTaxAccount,
			COGSAccountID:       cfg.PostingCOGSAccount,
			InventoryAccountID:  cfg.PostingInventoryAccount,
		}))
		logger.Info("sale posting hook enabled")
	} else {
		logger.Info("sale posting hook disabled, account mapping incomplete")
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		AccountsHandler:  accounts.NewHandler(logger, accountsService),
		JournalHandler:   journal.NewHandler(logger, journalService),
		InventoryHandler: inventory.NewHandler(logger, inventoryService),
		SalesHandler:     sales.NewHandler(logger, salesService),
		ARHandler:        ar.NewHandler(logger, arService),
		APHandler:        ap.NewHandler(logger, apService),
		NumberingHandler: numbering.NewHandler(logger, numberingService),
		JobsHandler:      jobs.NewHandler(inspector, jobsClient, logger),
		Metrics:          observability.NewMetrics(),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func arAgingReference(raw string) ar.AgingReference {
	if strings.EqualFold(raw, "due_date") {
		return ar.AgeByDueDate
	}
	return ar.AgeByInvoiceDate
}

func apAgingReference(raw string) ap.AgingReference {
	if strings.EqualFold(raw, "bill_date") {
		return ap.AgeByBillDate
	}
	return ap.AgeByDueDate
}
