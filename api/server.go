/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontends
  5. Metrics:    Prometheus counters per route pattern

ROUTE GROUPS:
  /api/pools/*          Pool lifecycle, periods and accounting
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness probe

SECURITY NOTE:
  No authentication middleware. Member ids in request bodies are trusted.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. An empty
// corsOrigins allows any origin.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	if h.Metrics != nil {
		r.Use(h.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/pools", func(r chi.Router) {
			r.Get("/", h.ListPools)
			r.Post("/", h.CreatePool)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetPool)
				r.Delete("/", h.DeletePool)

				r.Post("/members", h.JoinPool)
				r.Post("/activate", h.ActivatePool)
				r.Post("/disband", h.DisbandPool)

				r.Post("/periods/{index}/contributions", h.RecordContribution)
				r.Post("/periods/{index}/payout", h.MarkPaidOut)
				r.Get("/next", h.NextPeriod)
				r.Get("/overdue", h.Overdue)

				r.Get("/positions", h.Positions)
				r.Get("/summary", h.Summary)
			})
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
