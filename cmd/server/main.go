package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/riteshkumar/banking-core/internal/auth"
	"github.com/riteshkumar/banking-core/internal/config"
	"github.com/riteshkumar/banking-core/internal/handler"
	"github.com/riteshkumar/banking-core/internal/logger"
	"github.com/riteshkumar/banking-core/internal/metrics"
	"github.com/riteshkumar/banking-core/internal/notify"
	"github.com/riteshkumar/banking-core/internal/repository"
	"github.com/riteshkumar/banking-core/internal/service"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialise logger
	log := logger.New(cfg.LogLevel)

	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET must be set")
	}

	// Connect to the database
	db, err := connectDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	log.Info().Msg("connected to database successfully")

	if err := repository.Migrate(context.Background(), db); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	// Initialise repo
	transactor := repository.NewTransactor(db)
	accountRepo := repository.NewAccountRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	alertRepo := repository.NewAlertRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	notifier, closeNotifier := newNotifier(cfg, log)
	defer closeNotifier()

	// Initialise services
	accountService := service.NewAccountService(transactor, accountRepo, auditRepo, log)
	auditService := service.NewAuditService(auditRepo, log)
	riskService := service.NewRiskService(accountRepo, transactionRepo, log)
	fraudService := service.NewFraudService(transactor, transactionRepo, alertRepo, auditRepo, notifier, cfg.OperationTimeout, log)
	ledgerService := service.NewLedgerService(transactor, accountRepo, transactionRepo, auditRepo, riskService, fraudService,
		service.LedgerConfig{MaxAmount: cfg.MaxTransactionAmount, Timeout: cfg.OperationTimeout}, log)

	// Initialise handlers
	accountHandler := handler.NewAccountHandler(accountService, log)
	transactionHandler := handler.NewTransactionHandler(ledgerService, fraudService, log)
	alertHandler := handler.NewAlertHandler(fraudService, log)
	auditHandler := handler.NewAuditHandler(auditService, log)

	// Setup router
	router := mux.NewRouter()
	router.Use(handler.LoggingMiddleware(log))

	// Add health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Register routes behind authentication
	api := router.PathPrefix("/api").Subrouter()
	api.Use(handler.AuthMiddleware(auth.NewVerifier(cfg.JWTSecret)))
	accountHandler.RegisterRoutes(api)
	transactionHandler.RegisterRoutes(api)
	alertHandler.RegisterRoutes(api)
	auditHandler.RegisterRoutes(api)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a go routine
	go func() {
		log.Info().Str("port", cfg.ServerPort).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited gracefully")
}

// newNotifier publishes alert events to Kafka when brokers are configured.
func newNotifier(cfg config.Config, log zerolog.Logger) (notify.Notifier, func()) {
	if len(cfg.KafkaBrokers) == 0 {
		log.Info().Msg("no kafka brokers configured, alert notifications disabled")
		return notify.NopNotifier{}, func() {}
	}

	kn := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaAlertTopic)
	log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaAlertTopic).Msg("publishing alert events to kafka")
	return kn, func() {
		if err := kn.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka writer")
		}
	}
}

// connectDB establishes a connection to the Postgres database
func connectDB(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(10 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
