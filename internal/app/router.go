// Package app wires configuration, middleware, routes, and background loops
// into runnable server and worker processes.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Patrickjoshanedez/capstone-docs/internal/adapter/httpserver"
	"github.com/Patrickjoshanedez/capstone-docs/internal/adapter/observability"
	"github.com/Patrickjoshanedez/capstone-docs/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty input means all origins.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server, ready http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/v1", func(api chi.Router) {
		api.Use(httpserver.RequireIdentity)

		// Mutating endpoints are rate limited per IP.
		api.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
			wr.Post("/submissions", srv.UploadHandler())
			wr.Post("/title-check", srv.TitleCheckHandler())
			wr.Post("/submissions/{id}/annotations", srv.AnnotateHandler())
			wr.Delete("/submissions/{id}/annotations/{annotationID}", srv.RemoveAnnotationHandler())

			// Faculty-only lifecycle actions.
			wr.Group(func(fr chi.Router) {
				fr.Use(httpserver.RequireElevated)
				fr.Post("/submissions/{id}/review", srv.ReviewHandler())
				fr.Post("/submissions/{id}/lock", srv.LockHandler())
				fr.Post("/submissions/{id}/unlock", srv.UnlockHandler())
				fr.Post("/submissions/{id}/recheck", srv.RecheckHandler())
			})
		})

		api.Get("/submissions/{id}", srv.GetSubmissionHandler())
		api.Get("/submissions/{id}/result", srv.ResultHandler())
		api.Get("/submissions/{id}/history", srv.HistoryHandler())
		api.Get("/projects/{projectID}/slots/{slot}/latest", srv.LatestHandler())

		api.With(httpserver.RequireElevated).Get("/submissions", srv.WorklistHandler())
	})

	// Health and metrics
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })
	r.Get("/readyz", ready)

	return httpserver.SecurityHeaders(r)
}
