package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/noorcart/noorcart-backend/api/routes"
	"github.com/noorcart/noorcart-backend/internal/checkout"
	"github.com/noorcart/noorcart-backend/internal/orders"
	"github.com/noorcart/noorcart-backend/internal/payments"
	"github.com/noorcart/noorcart-backend/internal/payments/checkoutgw"
	"github.com/noorcart/noorcart-backend/internal/payments/kpay"
	"github.com/noorcart/noorcart-backend/internal/payments/wallet"
	"github.com/noorcart/noorcart-backend/internal/tokens"
	"github.com/noorcart/noorcart-backend/pkg/config"
	"github.com/noorcart/noorcart-backend/pkg/db"
	"github.com/noorcart/noorcart-backend/pkg/logger"
	"github.com/noorcart/noorcart-backend/pkg/metrics"
	"github.com/noorcart/noorcart-backend/pkg/migrate"
	"github.com/noorcart/noorcart-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	vault := buildVault(cfg, dbClient, logg)
	var tokenSaver orders.TokenSaver
	if vault != nil {
		tokenSaver = vault
	}

	materializer, err := orders.NewMaterializer(dbClient, orders.NewRepository(dbClient.DB()), sessions, products, tokenSaver, logg)
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

	go observeStaleSessions(rootCtx, reconciler, cfg.Poll, logg)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:          cfg,
			Logger:          logg,
			DB:              dbClient,
			Redis:           redisClient,
			CheckoutService: checkoutSvc,
			Reconciler:      reconciler,
			OrdersRepo:      orders.NewRepository(dbClient.DB()),
			Vault:           vault,
			MetricsRegistry: registry,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "error during shutdown", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}

// buildAdapters wires every gateway that has credentials configured. A
// deployment can run with any subset; the registry resolves what exists.
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

// buildVault prepares token capture when an encryption secret is configured.
// Without one the vault is disabled and checkout still works.
func buildVault(cfg *config.Config, dbClient *db.Client, logg *logger.Logger) *tokens.Vault {
	if cfg.Vault.EncryptionSecret == "" {
		logg.Warn(context.Background(), "vault encryption secret not set, token capture disabled")
		return nil
	}
	cipher, err := tokens.NewCipher(cfg.Vault.EncryptionSecret)
	if err != nil {
		logg.Error(context.Background(), "vault cipher rejected, token capture disabled", err)
		return nil
	}
	vault, err := tokens.NewVault(tokens.NewRepository(dbClient.DB()), cipher, logg)
	if err != nil {
		logg.Error(context.Background(), "vault init failed, token capture disabled", err)
		return nil
	}
	return vault
}

func observeStaleSessions(ctx context.Context, reconciler *payments.Reconciler, poll config.PollConfig, logg *logger.Logger) {
	interval := poll.StaleInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := reconciler.ObserveStaleSessions(ctx, poll.StaleAfter); err != nil {
				logg.Error(ctx, "failed to observe stale sessions", err)
			}
		}
	}
}
