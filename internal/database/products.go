package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/price-aggregator/internal/models"
)

type ProductRepository struct {
	db *DB
}

func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Create stores a tracked product. Registering a URL twice returns the
// existing row instead of failing.
func (r *ProductRepository) Create(ctx context.Context, p *models.TrackedProduct) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO tracked_product (id, name, url, source, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (url) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, created_at`

	err := r.db.pool.QueryRow(ctx, query, p.ID, p.Name, p.URL, string(p.Source), p.CreatedAt).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tracked product: %w", err)
	}
	return nil
}

func (r *ProductRepository) Get(ctx context.Context, id string) (*models.TrackedProduct, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("tracked product %s: %w", id, ErrNotFound)
	}

	query := `
		SELECT id, name, url, source, created_at
		FROM tracked_product
		WHERE id = $1`

	p, err := scanProduct(r.db.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("tracked product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tracked product: %w", err)
	}
	return p, nil
}

func (r *ProductRepository) List(ctx context.Context) ([]*models.TrackedProduct, error) {
	query := `
		SELECT id, name, url, source, created_at
		FROM tracked_product
		ORDER BY created_at ASC`

	rows, err := r.db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked products: %w", err)
	}
	defer rows.Close()

	var products []*models.TrackedProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracked product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return products, nil
}

func scanProduct(row pgx.Row) (*models.TrackedProduct, error) {
	var (
		p      models.TrackedProduct
		id     uuid.UUID
		source string
	)
	if err := row.Scan(&id, &p.Name, &p.URL, &source, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.ID = id.String()
	p.Source = models.Source(source)
	return &p, nil
}
