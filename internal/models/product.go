package models

import (
	"time"
)

// TrackedProduct is a listing a user asked to watch; the refresh job resolves
// its price periodically.
type TrackedProduct struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// PriceObservation is one append-only price history entry.
type PriceObservation struct {
	ID          int64     `json:"id,omitempty"`
	ProductID   string    `json:"product_id"`
	Price       float64   `json:"price"`
	ShippingFee *float64  `json:"shipping_fee,omitempty"`
	TotalPrice  float64   `json:"total_price"`
	ObservedAt  time.Time `json:"timestamp"`
}

// PriceAlert fires once when the latest total price drops to TargetPrice or below.
type PriceAlert struct {
	ID          string     `json:"id"`
	ProductID   string     `json:"product_id"`
	TargetPrice float64    `json:"target_price"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty"`
}

func NewPriceObservation(productID string, price float64, shippingFee *float64, observedAt time.Time) *PriceObservation {
	total := price
	if shippingFee != nil {
		total += *shippingFee
	}
	return &PriceObservation{
		ProductID:   productID,
		Price:       price,
		ShippingFee: shippingFee,
		TotalPrice:  total,
		ObservedAt:  observedAt,
	}
}

func (a *PriceAlert) IsTriggeredBy(o *PriceObservation) bool {
	return a.IsActive && o != nil && o.TotalPrice <= a.TargetPrice
}

func (p *TrackedProduct) Validate() []string {
	var errors []string

	if p.Name == "" {
		errors = append(errors, "name is required")
	}

	if p.URL == "" {
		errors = append(errors, "url is required")
	}

	if !p.Source.IsValid() {
		errors = append(errors, "source is invalid")
	}

	return errors
}
