// Package jobs runs the periodic price refresh of tracked products.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/price-aggregator/internal/models"
	"github.com/maltedev/price-aggregator/internal/parser"
)

var (
	// ErrPriceUnknown means the product page was read but carried no price.
	ErrPriceUnknown = errors.New("price unknown")
	// ErrAlertEvaluation means the observation was stored but at least one
	// alert could not be evaluated or fired.
	ErrAlertEvaluation = errors.New("alert evaluation failed")
)

type DetailsFetcher interface {
	GetProductDetails(ctx context.Context, rawURL string, sourceHint models.Source) (*models.SearchResult, error)
}

type ProductLister interface {
	List(ctx context.Context) ([]*models.TrackedProduct, error)
}

type ObservationAppender interface {
	Append(ctx context.Context, o *models.PriceObservation) error
}

type AlertLister interface {
	ListActiveByProduct(ctx context.Context, productID string) ([]*models.PriceAlert, error)
}

type AlertTrigger interface {
	TriggerAlert(ctx context.Context, alert *models.PriceAlert, product *models.TrackedProduct, obs *models.PriceObservation) (bool, error)
}

type RefreshSummary struct {
	Total     int `json:"total" yaml:"total"`
	Updated   int `json:"updated" yaml:"updated"`
	Skipped   int `json:"skipped" yaml:"skipped"`
	Errors    int `json:"errors" yaml:"errors"`
	Triggered int `json:"alerts_triggered" yaml:"alerts_triggered"`

	// AlertErrors counts updated products whose alerts failed.
	AlertErrors int `json:"alert_errors" yaml:"alert_errors"`
}

type Options struct {
	Interval time.Duration
	// Pause is the gap between two products of one pass.
	Pause time.Duration
}

type Refresher struct {
	details      DetailsFetcher
	products     ProductLister
	observations ObservationAppender
	alerts       AlertLister
	trigger      AlertTrigger
	opts         Options
	logger       *slog.Logger
	now          func() time.Time
}

func NewRefresher(details DetailsFetcher, products ProductLister, observations ObservationAppender, alerts AlertLister, trigger AlertTrigger, opts Options, logger *slog.Logger) *Refresher {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Pause < 0 {
		opts.Pause = 0
	}
	return &Refresher{
		details:      details,
		products:     products,
		observations: observations,
		alerts:       alerts,
		trigger:      trigger,
		opts:         opts,
		logger:       logger.With("component", "refresher"),
		now:          time.Now,
	}
}

// Start runs a refresh pass immediately and then every interval until ctx
// is cancelled.
func (r *Refresher) Start(ctx context.Context) {
	r.logger.Info("refresh worker started", "interval", r.opts.Interval)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	r.runPass(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("refresh worker stopping")
			return
		case <-ticker.C:
			r.runPass(ctx)
		}
	}
}

func (r *Refresher) runPass(ctx context.Context) {
	summary, err := r.RefreshAll(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("refresh pass failed", "error", err)
		return
	}
	r.logger.Info("refresh pass finished",
		"total", summary.Total,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"alerts_triggered", summary.Triggered,
		"alert_errors", summary.AlertErrors)
}

// RefreshAll records a fresh observation for every tracked product. A
// failing product is counted and logged; only listing the products or a
// cancelled context ends the pass early.
func (r *Refresher) RefreshAll(ctx context.Context) (RefreshSummary, error) {
	var summary RefreshSummary

	products, err := r.products.List(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list tracked products: %w", err)
	}
	summary.Total = len(products)

	for i, product := range products {
		if i > 0 && r.opts.Pause > 0 {
			if err := sleep(ctx, r.opts.Pause); err != nil {
				return summary, err
			}
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		triggered, err := r.RefreshProduct(ctx, product)
		switch {
		case errors.Is(err, ErrPriceUnknown):
			summary.Skipped++
			r.logger.Info("skipping product without price", "product_id", product.ID, "url", product.URL)
		case errors.Is(err, ErrAlertEvaluation):
			summary.Updated++
			summary.AlertErrors++
			r.logger.Error("failed to evaluate alerts",
				"product_id", product.ID,
				"error", err)
		case err != nil:
			summary.Errors++
			r.logger.Error("failed to refresh product",
				"product_id", product.ID,
				"source", product.Source,
				"error", err)
		default:
			summary.Updated++
		}
		summary.Triggered += triggered
	}

	return summary, nil
}

// RefreshProduct fetches the product page, appends an observation and fires
// the alerts the new total price satisfies. It returns how many fired.
func (r *Refresher) RefreshProduct(ctx context.Context, product *models.TrackedProduct) (int, error) {
	details, err := r.details.GetProductDetails(ctx, product.URL, product.Source)
	if err != nil {
		return 0, fmt.Errorf("failed to get product details: %w", err)
	}
	if details.Price == nil {
		return 0, ErrPriceUnknown
	}

	obs := models.NewPriceObservation(product.ID, *details.Price, parser.ShippingFee(details.Shipping), r.now())
	if err := r.observations.Append(ctx, obs); err != nil {
		return 0, fmt.Errorf("failed to append observation: %w", err)
	}

	triggered, err := r.evaluateAlerts(ctx, product, obs)
	if err != nil {
		return triggered, fmt.Errorf("%w: %w", ErrAlertEvaluation, err)
	}
	return triggered, nil
}

func (r *Refresher) evaluateAlerts(ctx context.Context, product *models.TrackedProduct, obs *models.PriceObservation) (int, error) {
	alerts, err := r.alerts.ListActiveByProduct(ctx, product.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list alerts: %w", err)
	}

	var errs []error
	triggered := 0
	for _, alert := range alerts {
		if !alert.IsTriggeredBy(obs) {
			continue
		}
		fired, err := r.trigger.TriggerAlert(ctx, alert, product, obs)
		if err != nil {
			errs = append(errs, fmt.Errorf("alert %s: %w", alert.ID, err))
			continue
		}
		if fired {
			triggered++
		}
	}
	return triggered, errors.Join(errs...)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
