package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	webAdapter "fulfillment-engine/internal/adapters/web"
	"fulfillment-engine/internal/app"
	"fulfillment-engine/internal/core"
	"fulfillment-engine/internal/db"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	log, err := newLogger()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	ledger := core.NewStockLedger(pool)
	directory := core.NewLocationDirectory(pool, 0)
	ruleEngine := core.NewRuleEngine(pool, ledger, directory, 0)
	reservations := core.NewReservationService(pool, ledger, directory, nil)
	allocations := core.NewAllocationService(pool, ledger, reservations, nil)

	sweeper := core.NewExpirySweeper(reservations, sweepInterval(), log.Named("sweeper"), nil)
	go sweeper.Run(ctx)

	svc := app.NewFulfillmentService(ledger, directory, ruleEngine, reservations, allocations)

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Warn("JWT_SECRET is not set; API authentication is disabled")
	}
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	handler := webAdapter.NewHandler(svc, allowedOrigins, jwtSecret, log.Named("http"))

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("server starting", zap.String("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server", zap.Error(err))
	}
	log.Info("server stopped")
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("APP_ENV") == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func sweepInterval() time.Duration {
	raw := os.Getenv("EXPIRY_SWEEP_INTERVAL_SECONDS")
	if raw == "" {
		return 0 // sweeper default
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
