package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/price-aggregator/internal/database"
	"github.com/maltedev/price-aggregator/internal/models"
)

type EventType string

const (
	// EventTypePriceAlertTriggered is published once per alert, when a
	// refreshed total price reaches its target.
	EventTypePriceAlertTriggered EventType = "PRICE_ALERT_TRIGGERED"

	aggregateTypeAlert = "price_alert"
)

// PriceAlertTriggeredPayload carries everything the notifier needs to build
// its message without reading the database.
type PriceAlertTriggeredPayload struct {
	EventID     string        `json:"event_id"`
	EventType   string        `json:"event_type"`
	Timestamp   time.Time     `json:"timestamp"`
	AlertID     string        `json:"alert_id"`
	ProductID   string        `json:"product_id"`
	ProductName string        `json:"product_name"`
	ProductURL  string        `json:"product_url"`
	Source      models.Source `json:"source"`
	SourceName  string        `json:"source_name"`
	TargetPrice float64       `json:"target_price"`
	Price       float64       `json:"price"`
	ShippingFee *float64      `json:"shipping_fee,omitempty"`
	TotalPrice  float64       `json:"total_price"`
	ObservedAt  time.Time     `json:"observed_at"`
}

type TxRunner interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

type AlertDeactivator interface {
	DeactivateWithTx(ctx context.Context, tx pgx.Tx, id string, triggeredAt time.Time) (bool, error)
}

// Publisher writes domain events through the transactional outbox.
type Publisher struct {
	db     TxRunner
	outbox OutboxWriter
	alerts AlertDeactivator
	logger *slog.Logger
	now    func() time.Time
}

func NewPublisher(db TxRunner, outbox OutboxWriter, alerts AlertDeactivator, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:     db,
		outbox: outbox,
		alerts: alerts,
		logger: logger.With("component", "event_publisher"),
		now:    time.Now,
	}
}

// NewDatabasePublisher wires the publisher to the Postgres repositories.
func NewDatabasePublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return NewPublisher(db, database.NewOutboxRepository(db), database.NewAlertRepository(db), logger)
}

// TriggerAlert deactivates the alert and records PRICE_ALERT_TRIGGERED in
// one transaction. It returns false without writing an event when the alert
// had already fired.
func (p *Publisher) TriggerAlert(ctx context.Context, alert *models.PriceAlert, product *models.TrackedProduct, obs *models.PriceObservation) (bool, error) {
	triggeredAt := p.now()
	payload := &PriceAlertTriggeredPayload{
		EventID:     uuid.NewString(),
		EventType:   string(EventTypePriceAlertTriggered),
		Timestamp:   triggeredAt,
		AlertID:     alert.ID,
		ProductID:   product.ID,
		ProductName: product.Name,
		ProductURL:  product.URL,
		Source:      product.Source,
		SourceName:  product.Source.DisplayName(),
		TargetPrice: alert.TargetPrice,
		Price:       obs.Price,
		ShippingFee: obs.ShippingFee,
		TotalPrice:  obs.TotalPrice,
		ObservedAt:  obs.ObservedAt,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		AggregateType: aggregateTypeAlert,
		AggregateID:   alert.ID,
		EventType:     string(EventTypePriceAlertTriggered),
		Payload:       data,
		TargetStream:  database.DefaultTargetStream,
	}

	var fired bool
	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		ok, err := p.alerts.DeactivateWithTx(ctx, tx, alert.ID, triggeredAt)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := p.outbox.InsertWithTx(ctx, tx, outboxEvent); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		fired = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to publish event: %w", err)
	}

	if !fired {
		p.logger.Debug("alert already triggered", "alert_id", alert.ID)
		return false, nil
	}

	alert.IsActive = false
	alert.TriggeredAt = &triggeredAt

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"alert_id", alert.ID,
		"product_id", product.ID,
		"total_price", obs.TotalPrice,
		"target_price", alert.TargetPrice,
		"outbox_id", outboxEvent.ID,
	)

	return true, nil
}
