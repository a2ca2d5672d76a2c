// Command backfill scores transactions left pending after a failed
// post-commit risk evaluation. Run it from cron; each invocation processes
// one batch.
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/riteshkumar/banking-core/internal/config"
	"github.com/riteshkumar/banking-core/internal/logger"
	"github.com/riteshkumar/banking-core/internal/notify"
	"github.com/riteshkumar/banking-core/internal/repository"
	"github.com/riteshkumar/banking-core/internal/service"
)

func main() {
	os.Exit(run())
}

// run returns the exit code: 1 when the batch aborted, 2 when some
// transactions could not be finalized.
func run() int {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel).With().Str("job", "risk_backfill").Logger()

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Error().Err(err).Msg("failed to open database connection")
		return 1
	}
	defer db.Close()
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.PingContext(ctx); err != nil {
		log.Error().Err(err).Msg("failed to ping database")
		return 1
	}

	transactor := repository.NewTransactor(db)
	accountRepo := repository.NewAccountRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	alertRepo := repository.NewAlertRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	var notifier notify.Notifier = notify.NopNotifier{}
	if len(cfg.KafkaBrokers) > 0 {
		kn := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaAlertTopic)
		defer kn.Close()
		notifier = kn
	}

	riskService := service.NewRiskService(accountRepo, transactionRepo, log)
	fraudService := service.NewFraudService(transactor, transactionRepo, alertRepo, auditRepo, notifier, cfg.OperationTimeout, log)
	ledgerService := service.NewLedgerService(transactor, accountRepo, transactionRepo, auditRepo, riskService, fraudService,
		service.LedgerConfig{MaxAmount: cfg.MaxTransactionAmount, Timeout: cfg.OperationTimeout}, log)

	result, err := service.NewBackfillService(transactionRepo, ledgerService, log).
		Run(ctx, cfg.BackfillBatchSize, cfg.BackfillGrace)
	if err != nil {
		log.Error().Err(err).Msg("backfill aborted")
		return 1
	}
	if result.Failed > 0 {
		return 2
	}
	return 0
}
