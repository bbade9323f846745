package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/wafra/backend/internal/config"
	"github.com/wafra/backend/internal/database"
	"github.com/wafra/backend/internal/handlers"
	"github.com/wafra/backend/internal/jobs"
	mW "github.com/wafra/backend/internal/middleware"
	"github.com/wafra/backend/internal/services"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := database.InitDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()
	log.Info().Msg("database connection established")

	redisClient := database.InitRedis(cfg.Redis, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Core services, wired once at composition time.
	ledger := services.NewLedgerService(db, log)
	wallet := services.NewWalletService(db, ledger, log)
	recompute := services.NewTransactionStatusService(db)
	funds := services.NewFundsService(db, ledger, wallet, recompute, log)
	offers := services.NewOfferService(db, ledger, wallet, funds, log)
	vaults := services.NewVaultService(db, ledger, wallet, funds, cfg.Vesting.Days, log)
	vesting := services.NewVestingService(db, ledger, wallet, funds,
		cfg.Vesting.StrictReconcile, cfg.Vesting.BatchSize, log)

	walletHandler := handlers.NewWalletHandler(wallet, funds)
	investHandler := handlers.NewInvestHandler(offers, redisClient)
	vaultHandler := handlers.NewVaultHandler(vaults, vesting)

	scheduler := jobs.NewScheduler(vesting, cfg.Vesting, log)
	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer scheduler.Stop()

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.Auth(cfg.JWT.SecretKey))

		r.Post("/wallet/deposits", walletHandler.RecordDeposit)
		r.Post("/wallet/releases", walletHandler.ReleaseFunds)
		r.Post("/wallet/rejections", walletHandler.RejectDeposit)
		r.Get("/wallet/balances", walletHandler.GetBalances)
		r.Get("/wallet/lock-reconciliation", walletHandler.GetLockReconciliation)

		r.Post("/offers/{offerID}/invest", investHandler.Invest)
		r.Get("/offers/{offerID}/capacity", investHandler.GetCapacity)
		r.Post("/offers/{offerID}/status", investHandler.TransitionStatus)

		r.Post("/vaults/{code}/deposits", vaultHandler.Deposit)
		r.Post("/vaults/{code}/withdrawals", vaultHandler.RequestWithdrawal)
		r.Post("/vaults/{code}/withdrawals/process", vaultHandler.ProcessPending)

		r.Post("/vesting/release", vaultHandler.ReleaseVesting)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
