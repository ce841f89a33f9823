package reservation

import (
	"context"
	"time"

	"github.com/jhoicas/catalog-api/internal/domain/entity"
	"github.com/jhoicas/catalog-api/internal/domain/repository"
)

// TxRunner ejecuta una función dentro de una transacción, pasando el repositorio de variantes atado a esa tx.
// Si fn devuelve error o el contexto se cancela antes del commit, no se aplica ningún cambio.
type TxRunner interface {
	Run(ctx context.Context, fn func(variants repository.VariantRepository) error) error
}

// EventPublisher publica eventos de stock después del commit.
type EventPublisher interface {
	PublishStockReserved(ctx context.Context, ev entity.StockEvent) error
}

// Metrics registra el resultado de cada reserva.
type Metrics interface {
	ObserveReservation(outcome string, attempts int, elapsed time.Duration)
}

// Sleeper espera entre reintentos; devuelve el error del contexto si este termina antes.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type noopPublisher struct{}

func (noopPublisher) PublishStockReserved(context.Context, entity.StockEvent) error { return nil }

type noopMetrics struct{}

func (noopMetrics) ObserveReservation(string, int, time.Duration) {}
