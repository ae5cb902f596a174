package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/price-aggregator/internal/models"
)

type AlertRepository struct {
	db *DB
}

func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{db: db}
}

func (r *AlertRepository) Create(ctx context.Context, a *models.PriceAlert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.IsActive = true
	a.TriggeredAt = nil

	query := `
		INSERT INTO price_alert (id, product_id, target_price, is_active, created_at)
		VALUES ($1, $2, $3, TRUE, $4)`

	if _, err := r.db.pool.Exec(ctx, query, a.ID, a.ProductID, a.TargetPrice, a.CreatedAt); err != nil {
		return fmt.Errorf("failed to create price alert: %w", err)
	}
	return nil
}

func (r *AlertRepository) ListActiveByProduct(ctx context.Context, productID string) ([]*models.PriceAlert, error) {
	query := `
		SELECT id, product_id, target_price, is_active, created_at, triggered_at
		FROM price_alert
		WHERE product_id = $1 AND is_active
		ORDER BY created_at ASC`

	rows, err := r.db.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.PriceAlert
	for rows.Next() {
		var a models.PriceAlert
		var id, prodID uuid.UUID
		if err := rows.Scan(&id, &prodID, &a.TargetPrice, &a.IsActive, &a.CreatedAt, &a.TriggeredAt); err != nil {
			return nil, fmt.Errorf("failed to scan price alert: %w", err)
		}
		a.ID = id.String()
		a.ProductID = prodID.String()
		alerts = append(alerts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return alerts, nil
}

// DeactivateWithTx marks an alert as triggered. It reports false when the
// alert was already inactive, so a concurrent refresh cannot fire it twice.
func (r *AlertRepository) DeactivateWithTx(ctx context.Context, tx pgx.Tx, id string, triggeredAt time.Time) (bool, error) {
	query := `
		UPDATE price_alert
		SET is_active = FALSE, triggered_at = $1
		WHERE id = $2 AND is_active`

	result, err := tx.Exec(ctx, query, triggeredAt, id)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate price alert: %w", err)
	}
	return result.RowsAffected() == 1, nil
}
