package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Cypherspark/bulk-sms/api"
	"github.com/Cypherspark/bulk-sms/internal/core"
	"github.com/Cypherspark/bulk-sms/internal/metrics"
	"github.com/Cypherspark/bulk-sms/internal/provider"
)

const readyTimeout = time.Second

const redocPage = `<!doctype html>
<html>
  <head>
    <title>Bulk SMS API</title>
    <meta charset="utf-8"/>
    <script src="https://cdn.redoc.ly/redoc/latest/bundles/redoc.standalone.js"></script>
  </head>
  <body><redoc spec-url="/openapi.yaml"></redoc></body>
</html>`

// mountOps registers liveness, readiness, metrics and API docs.
func (s *Server) mountOps(r chi.Router) {
	metrics.MustRegister()
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", s.ready)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		http.ServeFileFS(w, r, api.FS, "openapi.yaml")
	})
	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(redocPage))
	})
}

// ready fails only on the store. A gateway without credentials is reported
// but does not take the instance out of rotation: plain sends fail with a
// configuration error until it is fixed, everything else keeps working.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok", "store": "ok", "gateway": "ok"}
	status := http.StatusOK

	if p, ok := s.Store.(core.Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			body["status"], body["store"] = "unavailable", err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if c, ok := s.Gateway.(provider.Checker); ok {
		if err := c.Check(); err != nil {
			body["gateway"] = err.Error()
		}
	}
	writeJSON(w, status, body)
}
