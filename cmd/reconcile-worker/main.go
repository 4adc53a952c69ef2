package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/noorcart/noorcart-backend/internal/checkout"
	"github.com/noorcart/noorcart-backend/internal/orders"
	"github.com/noorcart/noorcart-backend/internal/payments"
	"github.com/noorcart/noorcart-backend/internal/payments/checkoutgw"
	"github.com/noorcart/noorcart-backend/internal/payments/kpay"
	"github.com/noorcart/noorcart-backend/internal/payments/wallet"
	"github.com/noorcart/noorcart-backend/pkg/config"
	"github.com/noorcart/noorcart-backend/pkg/db"
	"github.com/noorcart/noorcart-backend/pkg/logger"
	"github.com/noorcart/noorcart-backend/pkg/metrics"
	"github.com/noorcart/noorcart-backend/pkg/migrate"
	"github.com/noorcart/noorcart-backend/pkg/redis"
)

const (
	lockKeyFormat = "nc:reconcile-worker:lock:%s"
	sweepLimit    = 50
)

// The worker sweeps payment sessions that stopped moving: shoppers who
// closed the tab mid-payment, webhooks the gateway never delivered. Each
// pass asks the gateway for the authoritative status and settles whatever
// it can confirm. Only one instance sweeps at a time, guarded by a redis
// lock.
func main() {
	logg := logger.New(logger.Options{ServiceName: "reconcile-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "reconcile-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	paymentMetrics := metrics.NewPaymentMetrics(registry)

	sessions := checkout.NewRepository(dbClient.DB())
	products := checkout.NewProductLoader(dbClient.DB())
	diagnostics := checkout.NewDiagnosticsLog(dbClient.DB(), logg)

	checkoutSvc, err := checkout.NewService(dbClient, sessions, products, diagnostics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	materializer, err := orders.NewMaterializer(dbClient, orders.NewRepository(dbClient.DB()), sessions, products, nil, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create order materializer", err)
		os.Exit(1)
	}

	adapters := buildAdapters(context.Background(), cfg, logg, paymentMetrics)
	reconciler, err := payments.NewReconciler(
		payments.NewRegistry(adapters...),
		sessions,
		checkoutSvc,
		materializer,
		redisClient,
		paymentMetrics,
		logg,
		cfg.Poll,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment reconciler", err)
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := cfg.Poll.StaleInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ctx := logg.WithFields(rootCtx, map[string]any{
		"env":      cfg.App.Env,
		"interval": interval.String(),
	})
	logg.Info(ctx, "starting reconcile worker")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logg.Info(ctx, "reconcile worker stopped")
			return
		case <-ticker.C:
			runSweep(ctx, cfg, redisClient, reconciler, logg, interval)
		}
	}
}

// runSweep executes one locked pass. The lock expires on its own after
// the interval, so a crashed holder never wedges the sweep.
func runSweep(ctx context.Context, cfg *config.Config, redisClient *redis.Client, reconciler *payments.Reconciler, logg *logger.Logger, interval time.Duration) {
	lockKey := fmt.Sprintf(lockKeyFormat, cfg.App.Env)
	acquired, err := redisClient.SetNX(ctx, lockKey, time.Now().UTC().Format(time.RFC3339), interval)
	if err != nil {
		logg.Error(ctx, "failed to acquire sweep lock", err)
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := redisClient.Del(ctx, lockKey); err != nil {
			logg.Error(ctx, "failed to release sweep lock", err)
		}
	}()

	if err := reconciler.ObserveStaleSessions(ctx, cfg.Poll.StaleAfter); err != nil {
		logg.Error(ctx, "failed to observe stale sessions", err)
	}

	settled, err := reconciler.ReconcileStale(ctx, cfg.Poll.StaleAfter, sweepLimit)
	if err != nil {
		logg.Error(ctx, "stale session sweep failed", err)
		return
	}
	if settled > 0 {
		logg.Info(logg.WithFields(ctx, map[string]any{"settled": settled}), "stale sessions settled")
	}
}

func buildAdapters(ctx context.Context, cfg *config.Config, logg *logger.Logger, paymentMetrics *metrics.PaymentMetrics) []payments.Adapter {
	var adapters []payments.Adapter

	if cfg.CheckoutGW.AppID != "" {
		client, err := checkoutgw.NewClient(ctx, cfg.CheckoutGW, logg, paymentMetrics)
		if err != nil {
			logg.Error(ctx, "checkout gateway misconfigured, skipping", err)
		} else if adapter, err := checkoutgw.NewAdapter(client, cfg.CheckoutGW.ReturnURL); err != nil {
			logg.Error(ctx, "checkout gateway adapter rejected, skipping", err)
		} else {
			adapters = append(adapters, adapter)
		}
	}

	if cfg.KPay.TranportalID != "" {
		client, err := kpay.NewClient(ctx, cfg.KPay, logg, paymentMetrics)
		if err != nil {
			logg.Error(ctx, "kpay gateway misconfigured, skipping", err)
		} else if adapter, err := kpay.NewAdapter(client); err != nil {
			logg.Error(ctx, "kpay gateway adapter rejected, skipping", err)
		} else {
			adapters = append(adapters, adapter)
		}
	}

	if cfg.Wallet.MerchantID != "" {
		client, err := wallet.NewClient(ctx, cfg.Wallet, logg, paymentMetrics)
		if err != nil {
			logg.Error(ctx, "wallet gateway misconfigured, skipping", err)
		} else if adapter, err := wallet.NewAdapter(client); err != nil {
			logg.Error(ctx, "wallet gateway adapter rejected, skipping", err)
		} else {
			adapters = append(adapters, adapter)
		}
	}

	if len(adapters) == 0 {
		logg.Warn(ctx, "no payment gateways configured")
	}
	return adapters
}
