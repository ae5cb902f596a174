package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/maltedev/price-aggregator/internal/analysis"
	"github.com/maltedev/price-aggregator/internal/database"
	"github.com/maltedev/price-aggregator/internal/models"
	"github.com/maltedev/price-aggregator/internal/scraper"
)

const (
	DefaultMaxResults = 10
	maxResultsLimit   = 50
)

// Aggregator is the search surface the handlers expose.
type Aggregator interface {
	SearchAll(ctx context.Context, query string, maxResultsPerSite int, opts models.SearchOptions) ([]models.SearchResult, error)
	SearchSite(ctx context.Context, siteKey, query string, maxResults int, opts models.SearchOptions) ([]models.SearchResult, error)
	SearchByBarcode(ctx context.Context, barcode string, maxResults int, opts models.SearchOptions) ([]models.SearchResult, error)
	GetProductDetails(ctx context.Context, rawURL string, sourceHint models.Source) (*models.SearchResult, error)
}

type ProductStore interface {
	Create(ctx context.Context, p *models.TrackedProduct) error
	Get(ctx context.Context, id string) (*models.TrackedProduct, error)
}

type HistoryStore interface {
	ListByProduct(ctx context.Context, productID string) ([]models.PriceObservation, error)
}

type AlertStore interface {
	Create(ctx context.Context, a *models.PriceAlert) error
}

// Stores groups the persistence collaborators. Without them the tracking
// endpoints answer 503 and search keeps working.
type Stores struct {
	Products ProductStore
	History  HistoryStore
	Alerts   AlertStore
}

func (s Stores) configured() bool {
	return s.Products != nil && s.History != nil && s.Alerts != nil
}

type Handlers struct {
	aggregator Aggregator
	stores     Stores
	maxResults int
	logger     *slog.Logger
}

func NewHandlers(aggregator Aggregator, stores Stores, defaultMaxResults int, logger *slog.Logger) *Handlers {
	if defaultMaxResults <= 0 {
		defaultMaxResults = DefaultMaxResults
	}
	return &Handlers{
		aggregator: aggregator,
		stores:     stores,
		maxResults: defaultMaxResults,
		logger:     logger.With("component", "api"),
	}
}

// Search handles GET /api/v1/search?q=&site=&max_results=&include_shipping=
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		h.respondError(w, http.StatusBadRequest, "q is required")
		return
	}

	maxResults, opts, err := h.searchParams(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var results []models.SearchResult
	if site := r.URL.Query().Get("site"); site != "" {
		results, err = h.aggregator.SearchSite(r.Context(), site, query, maxResults, opts)
	} else {
		results, err = h.aggregator.SearchAll(r.Context(), query, maxResults, opts)
	}
	if err != nil {
		h.logger.Error("search failed", "query", query, "request_id", middleware.GetReqID(r.Context()), "error", err)
		h.respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	h.respondJSON(w, http.StatusOK, models.NewAggregatedSearchResponse(query, results))
}

// SearchByBarcode handles GET /api/v1/search/barcode?code=
func (h *Handlers) SearchByBarcode(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		h.respondError(w, http.StatusBadRequest, "code is required")
		return
	}

	maxResults, opts, err := h.searchParams(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.aggregator.SearchByBarcode(r.Context(), code, maxResults, opts)
	if err != nil {
		h.logger.Error("barcode search failed", "code", code, "request_id", middleware.GetReqID(r.Context()), "error", err)
		h.respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	h.respondJSON(w, http.StatusOK, models.NewAggregatedSearchResponse(code, results))
}

// ProductDetails handles GET /api/v1/products/details?url=&source=
func (h *Handlers) ProductDetails(w http.ResponseWriter, r *http.Request) {
	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rawURL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	var hint models.Source
	if s := r.URL.Query().Get("source"); s != "" {
		parsed, err := models.ParseSource(s)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		hint = parsed
	}

	result, err := h.aggregator.GetProductDetails(r.Context(), rawURL, hint)
	if err != nil {
		h.respondScrapingError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

type AnalyzeRequest struct {
	Observations []models.PriceObservation `json:"observations"`
	UseTotal     bool                      `json:"use_total"`
}

// Analyze handles POST /api/v1/analysis with an inline history.
func (h *Handlers) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.respondAnalysis(w, req.Observations, req.UseTotal)
}

type TrackProductRequest struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	Source string `json:"source"`
}

// TrackProduct handles POST /api/v1/products. Missing name or source are
// filled in from the product page.
func (h *Handlers) TrackProduct(w http.ResponseWriter, r *http.Request) {
	if !h.stores.configured() {
		h.respondError(w, http.StatusServiceUnavailable, "tracking is not configured")
		return
	}

	var req TrackProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	product := &models.TrackedProduct{URL: req.URL, Name: req.Name}
	if req.Source != "" {
		source, err := models.ParseSource(req.Source)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		product.Source = source
	}

	if product.Name == "" || product.Source == "" {
		details, err := h.aggregator.GetProductDetails(r.Context(), req.URL, product.Source)
		if err != nil {
			h.respondScrapingError(w, err)
			return
		}
		if product.Name == "" {
			product.Name = details.Name
		}
		product.Source = details.Source
	}

	if errs := product.Validate(); len(errs) > 0 {
		h.respondError(w, http.StatusBadRequest, strings.Join(errs, "; "))
		return
	}

	if err := h.stores.Products.Create(r.Context(), product); err != nil {
		h.logger.Error("failed to track product", "url", req.URL, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to track product")
		return
	}

	h.respondJSON(w, http.StatusCreated, product)
}

// ProductAnalysis handles GET /api/v1/products/{productID}/analysis?use_total=
func (h *Handlers) ProductAnalysis(w http.ResponseWriter, r *http.Request) {
	if !h.stores.configured() {
		h.respondError(w, http.StatusServiceUnavailable, "tracking is not configured")
		return
	}

	productID := chi.URLParam(r, "productID")
	if _, err := h.stores.Products.Get(r.Context(), productID); err != nil {
		h.respondStoreError(w, "product", err)
		return
	}

	useTotal, err := boolParam(r, "use_total", false)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	history, err := h.stores.History.ListByProduct(r.Context(), productID)
	if err != nil {
		h.logger.Error("failed to load price history", "product_id", productID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load price history")
		return
	}

	h.respondAnalysis(w, history, useTotal)
}

type CreateAlertRequest struct {
	ProductID   string  `json:"product_id"`
	TargetPrice float64 `json:"target_price"`
}

// CreateAlert handles POST /api/v1/alerts.
func (h *Handlers) CreateAlert(w http.ResponseWriter, r *http.Request) {
	if !h.stores.configured() {
		h.respondError(w, http.StatusServiceUnavailable, "tracking is not configured")
		return
	}

	var req CreateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TargetPrice <= 0 {
		h.respondError(w, http.StatusBadRequest, "target_price must be positive")
		return
	}

	if _, err := h.stores.Products.Get(r.Context(), req.ProductID); err != nil {
		h.respondStoreError(w, "product", err)
		return
	}

	alert := &models.PriceAlert{ProductID: req.ProductID, TargetPrice: req.TargetPrice}
	if err := h.stores.Alerts.Create(r.Context(), alert); err != nil {
		h.logger.Error("failed to create alert", "product_id", req.ProductID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create alert")
		return
	}

	h.respondJSON(w, http.StatusCreated, alert)
}

func (h *Handlers) respondAnalysis(w http.ResponseWriter, history []models.PriceObservation, useTotal bool) {
	result, err := analysis.Analyze(history, analysis.AnalyzeOptions{UseTotal: useTotal})
	if errors.Is(err, analysis.ErrNoPriceHistory) {
		h.respondError(w, http.StatusUnprocessableEntity, "no price history")
		return
	}
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "analysis failed")
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) searchParams(r *http.Request) (int, models.SearchOptions, error) {
	opts := models.DefaultSearchOptions()

	maxResults := h.maxResults
	if v := r.URL.Query().Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, opts, errors.New("max_results must be a positive integer")
		}
		maxResults = min(n, maxResultsLimit)
	}

	include, err := boolParam(r, "include_shipping", opts.IncludeShipping)
	if err != nil {
		return 0, opts, err
	}
	opts.IncludeShipping = include

	return maxResults, opts, nil
}

func boolParam(r *http.Request, name string, fallback bool) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New(name + " must be a boolean")
	}
	return b, nil
}

// respondScrapingError maps the failure kinds of a product lookup onto
// status codes: an unknown marketplace is the caller's fault, anything the
// marketplace did wrong is a bad gateway.
func (h *Handlers) respondScrapingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scraper.ErrUnsupportedSource):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		// Fetch failures wrap the context error, so this must come first.
		h.logger.Warn("product lookup timed out", "error", err)
		h.respondError(w, http.StatusGatewayTimeout, "product lookup timed out")
	case errors.Is(err, scraper.ErrNetwork), errors.Is(err, scraper.ErrParse):
		h.logger.Warn("product lookup failed", "kind", scraper.KindOf(err), "error", err)
		h.respondError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("product lookup failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "product lookup failed")
	}
}

func (h *Handlers) respondStoreError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, database.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, what+" not found")
		return
	}
	h.logger.Error("store lookup failed", "what", what, "error", err)
	h.respondError(w, http.StatusInternalServerError, "failed to load "+what)
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
