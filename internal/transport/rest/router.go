package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/frahmantamala/payment-orchestration/internal/payment"
	"github.com/frahmantamala/payment-orchestration/internal/payment/retry"
	"github.com/frahmantamala/payment-orchestration/internal/transport/middleware"
	"github.com/frahmantamala/payment-orchestration/internal/transport/swagger"
	"github.com/frahmantamala/payment-orchestration/pkg/metrics"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, redisClient *goredis.Client, paymentHandler *payment.Handler, webhookHandler *payment.WebhookHandler, retryHandler *retry.Handler, metricsPath string, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db, redisClient)

	// Apply global middleware
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	router.Handle(metricsPath, metrics.Handler())

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		// Health check routes
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// Gateway notification endpoint; signature-authenticated, never
		// behind operator auth.
		if webhookHandler != nil {
			r.Post("/webhooks/{gateway}", webhookHandler.HandleGatewayWebhook)
		}

		if paymentHandler != nil {
			r.Get("/orders/{orderID}/payments", paymentHandler.ListOrderPayments)
			r.Route("/payments", func(pr chi.Router) {
				pr.Post("/", paymentHandler.ProcessPayment)
				pr.Get("/methods", paymentHandler.GetPaymentMethods)
				if retryHandler != nil {
					pr.Get("/retry-stats", retryHandler.GetRetryStats)
				}
				pr.Get("/{transactionID}", paymentHandler.GetPayment)
				pr.Post("/{transactionID}/cancel", paymentHandler.CancelPayment)
				pr.Post("/{transactionID}/refund", paymentHandler.RefundPayment)
				pr.Post("/{transactionID}/retry", paymentHandler.RetryPayment)
			})
		}
	})
}
