/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the till frontend

ROUTE GROUPS:
  /api/deficits/*       Records, payments, settlement workflow, payroll
  /api/payroll/*        Payroll capacity report
  /api/export           CSV / XLSX export
  /api/admin/*          Escalation and settings
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. Destructive settlement actions are gated
  by the manager PIN inside the engine, not by the router.

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
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured. An empty
// allowedOrigins falls back to the local development origins.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Deficit routes
		r.Route("/deficits", func(r chi.Router) {
			r.Get("/", h.ListDeficits)
			r.Post("/", h.CreateDeficit)
			r.Get("/{id}", h.GetDeficit)
			r.Patch("/{id}", h.UpdateDeficit)
			r.Delete("/{id}", h.DeleteDeficit)
			r.Post("/{id}/payments", h.ApplyPayment)
			r.Post("/{id}/payroll", h.SettleViaPayroll)

			// Settlement workflow
			r.Route("/{id}/settlement", func(r chi.Router) {
				r.Post("/print", h.Print)
				r.Post("/vendor-signed", h.ConfirmVendorSigned)
				r.Post("/manager-signed", h.ConfirmManagerSigned)
				r.Post("/archive", h.ConfirmArchive)
				r.Post("/cancel", h.CancelSettlement)
			})
		})

		r.Get("/payroll/capacity", h.PayrollCapacity)
		r.Get("/export", h.Export)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/escalate", h.TriggerEscalation)
			r.Get("/escalation", h.GetEscalationStatus)
			r.Get("/settings", h.GetSettings)
			r.Put("/settings", h.UpdateSettings)
		})
	})

	return r
}
