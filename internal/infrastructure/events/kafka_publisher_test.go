package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/catalog-api/internal/domain/entity"
	"github.com/jhoicas/catalog-api/internal/infrastructure/events"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_UnMensajePorVariante(t *testing.T) {
	w := &fakeWriter{}
	p := events.NewKafkaPublisherWithWriter(w)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	err := p.PublishStockReserved(context.Background(), entity.StockEvent{
		ID:         "r-1",
		OccurredAt: at,
		Deltas: []entity.StockDelta{
			{VariantID: "A", Reserved: 2, Remaining: 8},
			{VariantID: "B", Reserved: 1, Remaining: 0},
		},
		TotalAmount: 1500,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)

	assert.Equal(t, "A", string(w.msgs[0].Key))
	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &payload))
	assert.Equal(t, "StockReserved", payload["type"])
	assert.Equal(t, "r-1", payload["reservation_id"])
	assert.EqualValues(t, 8, payload["remaining"])
	assert.EqualValues(t, 1500, payload["reservation_amount"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_PropagaError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker caído")}
	p := events.NewKafkaPublisherWithWriter(w)

	err := p.PublishStockReserved(context.Background(), entity.StockEvent{
		ID:     "r-2",
		Deltas: []entity.StockDelta{{VariantID: "A", Reserved: 1}},
	})
	assert.ErrorContains(t, err, "broker caído")
}

func TestKafkaPublisher_SinDeltasNoEscribe(t *testing.T) {
	w := &fakeWriter{}
	p := events.NewKafkaPublisherWithWriter(w)
	require.NoError(t, p.PublishStockReserved(context.Background(), entity.StockEvent{ID: "r-3"}))
	assert.Empty(t, w.msgs)
}
