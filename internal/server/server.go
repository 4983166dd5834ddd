package server

import (
	"context"
	"net/http"
	"time"

	"aegis-community/internal/analytics"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Reporter builds the audit report served under /stats.
type Reporter interface {
	Report(ctx context.Context, guildID string, since time.Time) (analytics.Report, error)
}

type Options struct {
	Reporter Reporter
	Logger   *zap.Logger
	// StatsWindow is how far back /stats looks when no since parameter is given.
	StatsWindow time.Duration
	// StatsRateLimit caps /stats requests per minute per client IP.
	StatsRateLimit int
}

// NewRouter serves /health, /metrics and /stats/{guildID}.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.StatsWindow <= 0 {
		opts.StatsWindow = 24 * time.Hour
	}
	if opts.StatsRateLimit <= 0 {
		opts.StatsRateLimit = 60
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/stats", func(r chi.Router) {
		r.Use(httprate.LimitByIP(opts.StatsRateLimit, time.Minute))
		r.Get("/{guildID}", statsHandler(opts))
	})
	return r
}

func statsHandler(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if opts.Reporter == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "stats unavailable"})
			return
		}
		guildID := chi.URLParam(r, "guildID")
		since := time.Now().Add(-opts.StatsWindow)
		if raw := r.URL.Query().Get("since"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
				return
			}
			since = parsed
		}

		report, err := opts.Reporter.Report(r.Context(), guildID, since)
		if err != nil {
			opts.Logger.Error("stats report failed", zap.String("guild_id", guildID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "report failed"})
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
