package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/arkilian/dissolve/internal/logging"
	"github.com/arkilian/dissolve/internal/observability"
	"github.com/arkilian/dissolve/internal/service"
)

// RouterConfig holds the dependencies of the HTTP API.
type RouterConfig struct {
	Service      *service.Service
	Metrics      *observability.Metrics
	Logger       *slog.Logger
	MaxBodyBytes int64

	// Middleware runs before the default chain, outermost first.
	Middleware []func(http.Handler) http.Handler
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatsResponse is returned by GET /v1/stats.
type StatsResponse struct {
	Keys     []observability.KeyStats `json:"keys"`
	Reducers []observability.KeyStats `json:"reducers"`
}

const defaultStatsLimit = 10

// NewRouter builds the HTTP handler.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.Middleware {
		r.Use(mw)
	}
	r.Use(RequestIDMiddleware, CorrelationIDMiddleware, RecoveryMiddleware(logger), LoggingMiddleware(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(ContentTypeMiddleware)
		r.Method(http.MethodPost, "/dissolve", NewDissolveHandler(cfg.Service, cfg.MaxBodyBytes, logger))
		r.Get("/stats", statsHandler(cfg.Service))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, ErrorResponse{Error: "not found", RequestID: GetRequestID(r.Context())})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed", RequestID: GetRequestID(r.Context())})
	})
	return r
}

// statsHandler reports the most used grouping keys and reducers. The
// optional "limit" query parameter caps each list.
func statsHandler(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usage := svc.Usage()
		if usage == nil {
			writeError(w, http.StatusNotFound, ErrorResponse{
				Error:     "usage statistics are disabled",
				RequestID: GetRequestID(r.Context()),
			})
			return
		}
		limit := defaultStatsLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, ErrorResponse{
					Error:     "limit must be a positive integer",
					RequestID: GetRequestID(r.Context()),
				})
				return
			}
			limit = n
		}
		writeJSON(w, http.StatusOK, StatsResponse{
			Keys:     usage.TopKeys(limit),
			Reducers: usage.TopReducers(limit),
		})
	}
}
