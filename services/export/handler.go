package export

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solpulse/solpulse/infrastructure/logging"
)

// Router builds the read-only HTTP surface: the strategy artifact, a health
// probe and the Prometheus metrics.
func Router(generator *Generator, log *logging.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/export/strategy.toml", func(w http.ResponseWriter, req *http.Request) {
		rendered, err := generator.Generate(req.Context())
		if err != nil {
			log.WithError(err).Error("strategy generation failed")
			http.Error(w, "generation failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/toml; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=60")
		_, _ = w.Write([]byte(rendered))
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
