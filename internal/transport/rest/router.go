package rest

import (
	"log/slog"

	"github.com/frahmantamala/service-marketplace/internal/auth"
	"github.com/frahmantamala/service-marketplace/internal/otp"
	"github.com/frahmantamala/service-marketplace/internal/payment"
	"github.com/frahmantamala/service-marketplace/internal/request"
	"github.com/frahmantamala/service-marketplace/internal/transport"
	"github.com/frahmantamala/service-marketplace/internal/transport/middleware"
	"github.com/frahmantamala/service-marketplace/internal/transport/swagger"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

// Handlers are the HTTP surfaces mounted under /api/v1. Nil handlers are
// skipped.
type Handlers struct {
	Requests *request.Handler
	Payments *payment.Handler
	OTP      *otp.Handler
}

type RouterConfig struct {
	Tokens         auth.TokenValidator
	Health         map[string]Pinger
	RateLimiter    *middleware.RateLimiter
	AllowedOrigins string
	OpenAPISpec    []byte
	OpenAPIDoc     *openapi3.T
}

func RegisterAllRoutes(router *chi.Mux, handlers Handlers, cfg RouterConfig, logger *slog.Logger) {
	healthHandler := NewHealthHandler(cfg.Health)
	base := transport.NewBaseHandler(logger)

	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	if cfg.OpenAPISpec != nil {
		router.Get("/openapi.yml", swagger.SpecHandler(cfg.OpenAPISpec))
	}
	if cfg.OpenAPIDoc != nil {
		router.Get("/openapi.json", swagger.JSONHandler(cfg.OpenAPIDoc))
	}
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// Unauthenticated endpoints reachable by anyone are rate limited per
		// client address.
		r.Group(func(pub chi.Router) {
			if cfg.RateLimiter != nil {
				pub.Use(cfg.RateLimiter.Middleware(base))
			}

			if handlers.Payments != nil {
				pub.Post("/payments/webhook", handlers.Payments.HandleWebhook)
			}
			if handlers.OTP != nil {
				pub.Post("/auth/otp", handlers.OTP.Issue)
				pub.Post("/auth/otp/verify", handlers.OTP.Verify)
			}
		})

		r.Group(func(pr chi.Router) {
			pr.Use(middleware.Authenticate(cfg.Tokens, logger))

			if handlers.Requests != nil {
				pr.Route("/requests", func(rr chi.Router) {
					rr.Post("/", handlers.Requests.CreateRequest)
					rr.Get("/", handlers.Requests.ListRequests)
					rr.Get("/{id}", handlers.Requests.GetRequest)
					rr.Delete("/{id}", handlers.Requests.DeleteRequest)
					rr.Patch("/{id}/accept", handlers.Requests.AcceptRequest)
					rr.Patch("/{id}/reject", handlers.Requests.RejectRequest)
					rr.Patch("/{id}/cancel", handlers.Requests.CancelRequest)
					rr.Put("/{id}/price", handlers.Requests.SetPrice)
					rr.Post("/{id}/review", handlers.Requests.ReviewRequest)
				})
			}

			if handlers.Payments != nil {
				pr.Post("/payments/intent", handlers.Payments.CreateIntent)
				pr.Post("/payments/confirm", handlers.Payments.ConfirmPayment)
				pr.Get("/payments/ledger/{intentId}", handlers.Payments.GetLedgerEntry)
			}
		})
	})
}
