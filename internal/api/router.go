package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/resources", func(r chi.Router) {
			r.Get("/", s.handleListResources)
			r.Post("/", s.handleCreateResource)
			r.Get("/{name}", s.handleGetResource)
		})

		r.Route("/catalogue", func(r chi.Router) {
			r.Get("/", s.handleListCatalogue)
			r.Post("/{name}", s.handleGetCatalogued)
		})

		r.Post("/collections/{dcid}/{event}", s.handleNotify)

		r.Route("/results", func(r chi.Router) {
			r.Get("/", s.handleReadResults)
			r.Post("/trigger", s.handleTriggerResults)
			r.Get("/latest", s.handleLatestResults)
		})

		r.Get("/journal", s.handleListJournal)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status. The bus check is reported
// but never fails the endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if s.bus != nil {
		if err := s.bus.HealthCheck(r.Context()); err != nil {
			resp["bus"] = err.Error()
		} else {
			resp["bus"] = "connected"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
