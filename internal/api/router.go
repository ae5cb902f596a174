package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// BacklogReporter exposes the outbox backlog for the health check.
type BacklogReporter interface {
	Backlog(ctx context.Context) (pending, deadLetter int64, err error)
}

type RouterOptions struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
	// Outbox is optional; without it /health only reports liveness.
	Outbox BacklogReporter
}

const (
	pendingWarnThreshold     = 1000
	deadLetterErrorThreshold = 100
)

func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:*", "https://localhost:*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.health(opts.Outbox))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/search", h.Search)
		r.Get("/search/barcode", h.SearchByBarcode)

		r.Get("/products/details", h.ProductDetails)
		r.Post("/products", h.TrackProduct)
		r.Get("/products/{productID}/analysis", h.ProductAnalysis)

		r.Post("/alerts", h.CreateAlert)
		r.Post("/analysis", h.Analyze)
	})

	return r
}

func (h *Handlers) health(outbox BacklogReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := map[string]any{"status": "ok"}
		if outbox == nil {
			h.respondJSON(w, http.StatusOK, health)
			return
		}

		pending, deadLetter, err := outbox.Backlog(r.Context())
		if err != nil {
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}

		health["outbox"] = map[string]int64{
			"pending":     pending,
			"dead_letter": deadLetter,
		}

		status := http.StatusOK
		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetter > deadLetterErrorThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
		h.respondJSON(w, status, health)
	}
}
