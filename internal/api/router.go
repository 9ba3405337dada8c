package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)

		r.Route("/machines", func(r chi.Router) {
			r.Get("/", s.handleListMachines)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetMachine)
				r.Post("/restart", s.handleRestartMachine)
				r.Get("/cycles", s.handleListCycles)
				r.Get("/oee", s.handleOEE)
			})
		})

		r.Get("/counters", s.handleListCounters)

		r.Route("/estimates", func(r chi.Router) {
			r.Get("/", s.handleListEstimates)
			r.Get("/{id}", s.handleGetEstimate)
		})

		r.Get("/uplink", s.handleUplinkStatus)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns 200 when every enabled component is healthy and
// 503 otherwise, with the per-component report in both cases.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.provider.Health(r.Context())
	if health.Version == "" {
		health.Version = s.version
	}

	status := http.StatusOK
	if health.Status != HealthOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}
