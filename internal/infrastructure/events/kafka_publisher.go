package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jhoicas/catalog-api/internal/application/reservation"
	"github.com/jhoicas/catalog-api/internal/domain/entity"
)

var _ reservation.EventPublisher = (*KafkaPublisher)(nil)

// MessageWriter subconjunto de *kafka.Writer usado por el publicador.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publica StockReserved en un tópico Kafka. Un mensaje por variante
// con la variante como key, para que los consumidores vean los descuentos de una variante en orden.
type KafkaPublisher struct {
	w       MessageWriter
	timeout time.Duration
}

// NewKafkaPublisher construye el publicador con un kafka.Writer balanceado por hash de key.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return NewKafkaPublisherWithWriter(w)
}

// NewKafkaPublisherWithWriter permite inyectar el writer (tests).
func NewKafkaPublisherWithWriter(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w, timeout: 2 * time.Second}
}

// stockReservedMessage payload JSON del evento.
type stockReservedMessage struct {
	Type          string    `json:"type"`
	ReservationID string    `json:"reservation_id"`
	VariantID     string    `json:"product_variant_id"`
	Reserved      int64     `json:"reserved"`
	Remaining     int64     `json:"remaining"`
	TotalAmount   int64     `json:"reservation_amount"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// PublishStockReserved escribe un mensaje por variante afectada.
func (p *KafkaPublisher) PublishStockReserved(ctx context.Context, ev entity.StockEvent) error {
	msgs := make([]kafka.Message, 0, len(ev.Deltas))
	for _, d := range ev.Deltas {
		payload, err := json.Marshal(stockReservedMessage{
			Type:          "StockReserved",
			ReservationID: ev.ID,
			VariantID:     d.VariantID,
			Reserved:      d.Reserved,
			Remaining:     d.Remaining,
			TotalAmount:   ev.TotalAmount,
			OccurredAt:    ev.OccurredAt,
		})
		if err != nil {
			return fmt.Errorf("marshal stock event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(d.VariantID),
			Value: payload,
			Time:  ev.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event-type", Value: []byte("StockReserved")},
				{Key: "reservation-id", Value: []byte(ev.ID)},
			},
		})
	}
	if len(msgs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close cierra el writer y vacía los mensajes pendientes.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// NoopPublisher descarta los eventos (Kafka no configurado).
type NoopPublisher struct{}

func (NoopPublisher) PublishStockReserved(context.Context, entity.StockEvent) error { return nil }

func (NoopPublisher) Close() error { return nil }
