package database

import (
	"context"
	"fmt"
	"time"

	"github.com/maltedev/price-aggregator/internal/models"
)

// ObservationRepository is the append-only price history.
type ObservationRepository struct {
	db *DB
}

func NewObservationRepository(db *DB) *ObservationRepository {
	return &ObservationRepository{db: db}
}

func (r *ObservationRepository) Append(ctx context.Context, o *models.PriceObservation) error {
	if o.ObservedAt.IsZero() {
		o.ObservedAt = time.Now()
	}

	query := `
		INSERT INTO price_observation (product_id, price, shipping_fee, total_price, observed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err := r.db.pool.QueryRow(ctx, query,
		o.ProductID, o.Price, o.ShippingFee, o.TotalPrice, o.ObservedAt,
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("failed to append price observation: %w", err)
	}
	return nil
}

// ListByProduct returns the history of one product, oldest first.
func (r *ObservationRepository) ListByProduct(ctx context.Context, productID string) ([]models.PriceObservation, error) {
	query := `
		SELECT id, price, shipping_fee, total_price, observed_at
		FROM price_observation
		WHERE product_id = $1
		ORDER BY observed_at ASC, id ASC`

	rows, err := r.db.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list price observations: %w", err)
	}
	defer rows.Close()

	var history []models.PriceObservation
	for rows.Next() {
		var o models.PriceObservation
		if err := rows.Scan(&o.ID, &o.Price, &o.ShippingFee, &o.TotalPrice, &o.ObservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan price observation: %w", err)
		}
		o.ProductID = productID
		history = append(history, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return history, nil
}
