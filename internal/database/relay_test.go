package database

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if mockArgs.Get(0) != nil {
		cmd.SetErr(mockArgs.Error(0))
	} else {
		cmd.SetVal("1234567890-0")
	}
	return cmd
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	args := m.Called(ctx, id, err)
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func alertEvent(aggregateID string) *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "price_alert",
		AggregateID:   aggregateID,
		EventType:     "PRICE_ALERT_TRIGGERED",
		Payload:       json.RawMessage(`{"alert_id":"` + aggregateID + `","total_price":980}`),
		TargetStream:  DefaultTargetStream,
		CreatedAt:     time.Now(),
	}
}

func TestRelay_ProcessBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes and marks every event", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, mockRedis, testLogger(), RelayConfig{BatchSize: 10})

		events := []*OutboxEvent{alertEvent("a1"), alertEvent("a2")}
		mockOutbox.On("GetPending", ctx, 10).Return(events, nil)

		for _, event := range events {
			mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
				return args.Stream == DefaultTargetStream &&
					args.Values.(map[string]any)["event_type"] == event.EventType &&
					args.Values.(map[string]any)["aggregate_id"] == event.AggregateID
			})).Return(nil)
			mockOutbox.On("MarkProcessed", ctx, event.ID).Return(nil)
		}

		published, err := relay.ProcessBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, published)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("schedules retry on publish failure", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, mockRedis, testLogger(), RelayConfig{BatchSize: 10})

		event := alertEvent("a1")
		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockRedis.On("XAdd", ctx, mock.Anything).Return(errors.New("redis connection failed"))
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.MatchedBy(func(err error) bool {
			return err.Error() == "failed to publish to redis: redis connection failed"
		})).Return(nil)

		published, err := relay.ProcessBatch(ctx)
		assert.NoError(t, err)
		assert.Zero(t, published)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("empty batch does not touch redis", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, mockRedis, testLogger(), RelayConfig{BatchSize: 10})

		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{}, nil)

		published, err := relay.ProcessBatch(ctx)
		require.NoError(t, err)
		assert.Zero(t, published)
		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	})

	t.Run("one failure does not stop the batch", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, mockRedis, testLogger(), RelayConfig{BatchSize: 10})

		events := []*OutboxEvent{alertEvent("a1"), alertEvent("a2")}
		mockOutbox.On("GetPending", ctx, 10).Return(events, nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return args.Values.(map[string]any)["aggregate_id"] == "a1"
		})).Return(errors.New("redis error"))
		mockOutbox.On("MarkFailed", ctx, events[0].ID, mock.Anything).Return(nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return args.Values.(map[string]any)["aggregate_id"] == "a2"
		})).Return(nil)
		mockOutbox.On("MarkProcessed", ctx, events[1].ID).Return(nil)

		published, err := relay.ProcessBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, published)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("outbox read failure is returned", func(t *testing.T) {
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, new(MockRedisClient), testLogger(), RelayConfig{BatchSize: 10})

		mockOutbox.On("GetPending", ctx, 10).Return(nil, errors.New("connection reset"))

		_, err := relay.ProcessBatch(ctx)
		assert.ErrorContains(t, err, "failed to get pending events")
	})

	t.Run("malformed payload is marked failed", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, mockRedis, testLogger(), RelayConfig{BatchSize: 10})

		event := alertEvent("a1")
		event.Payload = json.RawMessage(`not json`)
		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.Anything).Return(nil)

		published, err := relay.ProcessBatch(ctx)
		require.NoError(t, err)
		assert.Zero(t, published)
		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	})
}

func TestRelay_Envelope(t *testing.T) {
	ctx := context.Background()
	mockRedis := new(MockRedisClient)
	relay := NewRelay(new(MockOutboxRepository), mockRedis, testLogger(), RelayConfig{})

	event := alertEvent("a1")
	event.TargetStream = ""

	mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		if args.Stream != DefaultTargetStream {
			return false
		}
		val, ok := args.Values.(map[string]any)["data"].(string)
		if !ok {
			return false
		}

		var data map[string]any
		if err := json.Unmarshal([]byte(val), &data); err != nil {
			return false
		}
		metadata, ok := data["metadata"].(map[string]any)
		if !ok {
			return false
		}
		payload, ok := data["payload"].(map[string]any)
		if !ok {
			return false
		}

		return data["type"] == "PRICE_ALERT_TRIGGERED" &&
			data["aggregate_type"] == "price_alert" &&
			data["aggregate_id"] == "a1" &&
			data["timestamp"] != nil &&
			payload["total_price"] == 980.0 &&
			metadata["source"] == "price-aggregator"
	})).Return(nil)

	require.NoError(t, relay.publish(ctx, event))
	mockRedis.AssertExpectations(t)
}

func TestRelay_Start(t *testing.T) {
	mockOutbox := new(MockOutboxRepository)
	relay := NewRelay(mockOutbox, new(MockRedisClient), testLogger(), RelayConfig{
		PollInterval: 20 * time.Millisecond,
		BatchSize:    10,
	})

	mockOutbox.On("GetPending", mock.Anything, 10).Return([]*OutboxEvent{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- relay.Start(ctx)
	}()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on context cancellation")
	}
	mockOutbox.AssertCalled(t, "GetPending", mock.Anything, 10)
}

func TestNextRetryTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(2*time.Second), nextRetryTime(now, 1))
	assert.Equal(t, now.Add(16*time.Second), nextRetryTime(now, 4))
	assert.Equal(t, now.Add(5*time.Minute), nextRetryTime(now, 12))
	assert.Equal(t, now.Add(5*time.Minute), nextRetryTime(now, 64))
}

func TestOutboxEventValidate(t *testing.T) {
	tests := []struct {
		name  string
		event OutboxEvent
	}{
		{name: "missing aggregate type", event: OutboxEvent{EventType: "X", Payload: json.RawMessage(`{}`)}},
		{name: "missing event type", event: OutboxEvent{AggregateType: "price_alert", Payload: json.RawMessage(`{}`)}},
		{name: "missing payload", event: OutboxEvent{AggregateType: "price_alert", EventType: "X"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.validate()
			assert.ErrorIs(t, err, errInvalidOutboxEvent)
		})
	}

	valid := alertEvent("a1")
	assert.NoError(t, valid.validate())
}
