package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"factory-control-core/internal/auth"
	"factory-control-core/internal/metrics"
)

// SetupRouter wires the REST surface: public auth/health/metrics, an
// authenticated API, and the websocket push endpoint.
func SetupRouter(h *APIHandler, authMgr *auth.Manager, m *metrics.Metrics) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/auth/login", h.HandleLogin)
	r.Get("/health", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMgr.JWTMiddleware)

		r.Get("/machines", h.HandleMachines)
		r.Get("/machines/{id}/state", func(w http.ResponseWriter, req *http.Request) {
			h.HandleMachineState(w, req, chi.URLParam(req, "id"))
		})
		r.Get("/machines/{id}/telemetry", func(w http.ResponseWriter, req *http.Request) {
			h.HandleMachineTelemetry(w, req, chi.URLParam(req, "id"))
		})
		r.Get("/machines/{id}/conditions", func(w http.ResponseWriter, req *http.Request) {
			h.HandleMachineConditions(w, req, chi.URLParam(req, "id"))
		})
		r.Post("/machines/{id}/commands", func(w http.ResponseWriter, req *http.Request) {
			h.HandleCommand(w, req, chi.URLParam(req, "id"))
		})
	})

	return r
}
