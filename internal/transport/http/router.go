package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterDeps are the collaborators behind the public endpoints.
type RouterDeps struct {
	Verifier    EventVerifier
	Events      EventHandler
	Checkout    SessionStarter
	Health      Pinger
	Metrics     http.Handler
	Limiter     *ClientRateLimiter
	CORSOrigins []string
	Logger      *slog.Logger
}

// NewRouter wires every route and the shared middleware stack.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(func(next http.Handler) http.Handler { return RequestLogger(next, deps.Logger) })
	r.Use(middleware.Recoverer)
	r.Use(Instrument)

	r.NotFound(NotFoundHandler())
	r.MethodNotAllowed(MethodNotAllowedHandler())

	r.Get("/health", HealthHandler(deps.Health))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Post("/webhooks/stripe", HandleStripeWebhook(deps.Verifier, deps.Events, deps.Logger))

	r.Group(func(r chi.Router) {
		r.Use(CORS(deps.CORSOrigins))
		if deps.Limiter != nil {
			r.Use(deps.Limiter.Middleware)
		}
		r.Post("/checkout", HandleCreateCheckout(deps.Checkout))
		r.Options("/checkout", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	return r
}
