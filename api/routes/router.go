package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noorcart/noorcart-backend/api/controllers"
	"github.com/noorcart/noorcart-backend/api/middleware"
	"github.com/noorcart/noorcart-backend/internal/checkout"
	"github.com/noorcart/noorcart-backend/internal/orders"
	"github.com/noorcart/noorcart-backend/internal/payments"
	"github.com/noorcart/noorcart-backend/internal/tokens"
	"github.com/noorcart/noorcart-backend/pkg/config"
	"github.com/noorcart/noorcart-backend/pkg/db"
	"github.com/noorcart/noorcart-backend/pkg/logger"
	"github.com/noorcart/noorcart-backend/pkg/redis"
)

// Deps carries everything the HTTP surface needs. Optional entries (vault,
// metrics registry) may be nil.
type Deps struct {
	Config          *config.Config
	Logger          *logger.Logger
	DB              db.Pinger
	Redis           *redis.Client
	CheckoutService checkout.Service
	Reconciler      *payments.Reconciler
	OrdersRepo      orders.Repository
	Vault           *tokens.Vault
	MetricsRegistry prometheus.Gatherer
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	var redisPinger redis.Pinger
	if deps.Redis != nil {
		redisPinger = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, redisPinger))
	})

	if deps.MetricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.MetricsRegistry, promhttp.HandlerOpts{}))
	}

	// Gateway-facing endpoints authenticate by payload signature, not bearer
	// token: the browser redirect and the webhook arrive without credentials.
	r.Get("/api/v1/payments/{gateway}/return", controllers.PaymentReturn(deps.Reconciler, logg))
	r.Post("/api/v1/webhooks/payments/{gateway}", controllers.PaymentWebhook(deps.Reconciler, logg))

	var idempotencyStore redis.IdempotencyStore
	if deps.Redis != nil {
		idempotencyStore = deps.Redis
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Post("/checkout", controllers.Checkout(deps.CheckoutService, deps.Reconciler, deps.Vault, logg))

		r.Route("/payments/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", controllers.GetPaymentSession(deps.CheckoutService, logg))
			r.Post("/status", controllers.PaymentPoll(deps.Reconciler, deps.CheckoutService, logg))
			r.Post("/cancel", controllers.CancelPaymentSession(deps.CheckoutService, logg))
			r.Post("/retry", controllers.RetryPaymentSession(deps.CheckoutService, deps.Reconciler, logg))
			r.Post("/events", controllers.RecordSessionEvent(deps.CheckoutService, logg))
			r.Get("/events", controllers.ListSessionEvents(deps.CheckoutService, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.ListOrders(deps.OrdersRepo, logg))
			r.Get("/{orderID}", controllers.GetOrder(deps.OrdersRepo, logg))
		})

		if deps.Vault != nil {
			r.Route("/payment-tokens", func(r chi.Router) {
				r.Get("/", controllers.ListPaymentTokens(deps.Vault, logg))
				r.Delete("/{tokenID}", controllers.DeletePaymentToken(deps.Vault, logg))
			})
		}
	})

	return r
}
