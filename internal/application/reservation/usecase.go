package reservation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jhoicas/catalog-api/internal/application/dto"
	"github.com/jhoicas/catalog-api/internal/domain"
	"github.com/jhoicas/catalog-api/internal/domain/entity"
	"github.com/jhoicas/catalog-api/internal/domain/inventory"
	"github.com/jhoicas/catalog-api/internal/domain/repository"
	"github.com/jhoicas/catalog-api/pkg/logger"
)

// Resultados registrados en métricas.
const (
	OutcomeSuccess           = "success"
	OutcomeReplayed          = "replayed"
	OutcomeInvalid           = "invalid"
	OutcomeNotFound          = "variant_not_found"
	OutcomeInsufficientStock = "insufficient_stock"
	OutcomeConflict          = "conflict"
	OutcomeTimeout           = "timeout"
	OutcomeCanceled          = "canceled"
	OutcomeInProgress        = "idempotency_in_progress"
	OutcomeMismatch          = "idempotency_mismatch"
	OutcomeUnavailable       = "unavailable"
)

// Options límites del motor de reservas.
type Options struct {
	Timeout      time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

// UseCase motor de reservas: verifica disponibilidad, calcula el total y descuenta stock
// de todas las variantes en una sola transacción, o no toca nada.
type UseCase struct {
	tx      TxRunner
	idem    repository.IdempotencyRepository
	events  EventPublisher
	metrics Metrics
	sleeper Sleeper
	log     *logger.Logger
	tracer  trace.Tracer
	opts    Options
}

// NewUseCase construye el motor. idem, events y metrics son opcionales (nil = deshabilitado).
func NewUseCase(
	tx TxRunner,
	idem repository.IdempotencyRepository,
	events EventPublisher,
	metrics Metrics,
	log *logger.Logger,
	opts Options,
) *UseCase {
	if events == nil {
		events = noopPublisher{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &UseCase{
		tx:      tx,
		idem:    idem,
		events:  events,
		metrics: metrics,
		sleeper: timerSleeper{},
		log:     log.Named("reservation"),
		tracer:  otel.Tracer("github.com/jhoicas/catalog-api/reservation"),
		opts:    opts,
	}
}

// WithSleeper reemplaza la espera entre reintentos (tests).
func (uc *UseCase) WithSleeper(s Sleeper) *UseCase {
	uc.sleeper = s
	return uc
}

// Reserve ejecuta la reserva completa. Errores de negocio: *domain.InvalidRequestError,
// *domain.VariantNotFoundError, *domain.InsufficientStockError. Transitorios: domain.ErrConflict,
// domain.ErrTimeout, domain.ErrUnavailable, domain.ErrIdempotencyInProgress.
func (uc *UseCase) Reserve(ctx context.Context, in dto.ReserveRequest) (*dto.ReservationResponse, error) {
	start := time.Now()
	ctx, span := uc.tracer.Start(ctx, "reservation.Reserve")
	defer span.End()

	lines, err := in.ToLines()
	if err == nil {
		err = inventory.ValidateLines(lines)
	}
	if err != nil {
		return nil, uc.fail(span, err, 0, start)
	}
	span.SetAttributes(attribute.Int("reservation.lines", len(lines)))

	key := in.IdempotencyKey
	if uc.idem == nil {
		key = ""
	}
	fingerprint := ""
	if key != "" {
		fingerprint = Fingerprint(lines)
		prev, err := uc.idem.Begin(ctx, key, fingerprint)
		if err != nil {
			if !errors.Is(err, domain.ErrIdempotencyInProgress) && !errors.Is(err, domain.ErrIdempotencyMismatch) {
				err = fmt.Errorf("%w: idempotencia: %w", domain.ErrUnavailable, err)
			}
			return nil, uc.fail(span, err, 0, start)
		}
		if prev != nil {
			uc.metrics.ObserveReservation(OutcomeReplayed, 0, time.Since(start))
			span.SetAttributes(attribute.Bool("reservation.replayed", true))
			uc.log.Info().Str("idempotency_key", key).Msg("reserva repetida: se devuelve el resultado previo")
			return dto.NewReservationResponse(prev, true), nil
		}
	}

	res, deltas, attempts, err := uc.reserveWithRetry(ctx, lines)
	// Las operaciones posteriores al commit no dependen de la cancelación del llamador.
	after := context.WithoutCancel(ctx)
	if err != nil {
		if key != "" {
			if rerr := uc.idem.Release(after, key); rerr != nil {
				uc.log.Warn().Err(rerr).Str("idempotency_key", key).Msg("no se pudo liberar la llave de idempotencia")
			}
		}
		return nil, uc.fail(span, err, attempts, start)
	}

	if key != "" {
		uc.completeIdempotency(after, key, fingerprint, res)
	}

	ev := entity.StockEvent{
		ID:          uuid.New().String(),
		OccurredAt:  time.Now().UTC(),
		Deltas:      deltas,
		TotalAmount: res.TotalAmount,
	}
	if perr := uc.events.PublishStockReserved(after, ev); perr != nil {
		uc.log.Warn().Err(perr).Str("reservation_id", ev.ID).Msg("no se pudo publicar el evento de stock")
	}

	elapsed := time.Since(start)
	uc.metrics.ObserveReservation(OutcomeSuccess, attempts, elapsed)
	span.SetAttributes(
		attribute.String("reservation.id", ev.ID),
		attribute.Int("reservation.attempts", attempts),
		attribute.Int64("reservation.amount", res.TotalAmount),
	)
	uc.log.Info().
		Str("reservation_id", ev.ID).
		Int("lines", len(res.Lines)).
		Int64("amount", res.TotalAmount).
		Int("attempts", attempts).
		Dur("elapsed", elapsed).
		Msg("reserva confirmada")

	return dto.NewReservationResponse(res, false), nil
}

// completeIdempotency guarda el resultado con un reintento. Si ambos fallan, el marcador en curso
// expira con su TTL corto y un reintento del llamador vuelve a reservar.
func (uc *UseCase) completeIdempotency(ctx context.Context, key, fingerprint string, res *entity.ReservationResult) {
	err := uc.idem.Complete(ctx, key, fingerprint, res)
	if err == nil {
		return
	}
	uc.log.Warn().Err(err).Str("idempotency_key", key).Msg("guardar resultado de idempotencia falló, reintentando")
	if err = uc.idem.Complete(ctx, key, fingerprint, res); err != nil {
		uc.log.Error().Err(err).Str("idempotency_key", key).Msg("no se pudo guardar el resultado de idempotencia")
	}
}

// reserveWithRetry acota toda la operación con Timeout y reintenta solo ante ErrConflict.
func (uc *UseCase) reserveWithRetry(ctx context.Context, lines []entity.ReservationLine) (*entity.ReservationResult, []entity.StockDelta, int, error) {
	demand, err := inventory.AggregateDemand(lines)
	if err != nil {
		return nil, nil, 0, err
	}

	tctx, cancel := context.WithTimeout(ctx, uc.opts.Timeout)
	defer cancel()

	backoff := uc.opts.RetryBackoff
	for attempt := 1; ; attempt++ {
		res, deltas, err := uc.attempt(tctx, lines, demand)
		if err == nil {
			return res, deltas, attempt, nil
		}
		err = classify(ctx, tctx, err)
		if !errors.Is(err, domain.ErrConflict) || attempt >= uc.opts.MaxAttempts {
			return nil, nil, attempt, err
		}
		uc.log.Debug().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("conflicto de concurrencia, reintentando")
		if serr := uc.sleeper.Sleep(tctx, backoff); serr != nil {
			return nil, nil, attempt, classify(ctx, tctx, serr)
		}
		backoff *= 2
	}
}

// attempt una transacción completa: bloquear, verificar, descontar y valorizar.
func (uc *UseCase) attempt(ctx context.Context, lines []entity.ReservationLine, demand []inventory.Demand) (*entity.ReservationResult, []entity.StockDelta, error) {
	var (
		res    *entity.ReservationResult
		deltas []entity.StockDelta
	)
	err := uc.tx.Run(ctx, func(variants repository.VariantRepository) error {
		locked, err := variants.GetManyForUpdate(ctx, inventory.IDs(demand))
		if err != nil {
			return err
		}
		if err := inventory.CheckAvailability(demand, locked); err != nil {
			return err
		}
		priced, err := inventory.PriceLines(lines, locked)
		if err != nil {
			return err
		}
		amounts := make([]entity.ReservationLine, 0, len(demand))
		for _, d := range demand {
			amounts = append(amounts, entity.ReservationLine{VariantID: d.VariantID, Quantity: d.Quantity})
		}
		if err := variants.DecrementMany(ctx, amounts); err != nil {
			return err
		}
		res = priced
		deltas = inventory.Deltas(demand, locked)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res, deltas, nil
}

// classify traduce errores de contexto y de infraestructura a la taxonomía del dominio.
// parent es el contexto del llamador; bounded el acotado por Timeout.
func classify(parent, bounded context.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrVariantNotFound),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrUnavailable):
		return err
	case errors.Is(parent.Err(), context.Canceled):
		return context.Canceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(bounded.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
}

func (uc *UseCase) fail(span trace.Span, err error, attempts int, start time.Time) error {
	outcome := Outcome(err)
	uc.metrics.ObserveReservation(outcome, attempts, time.Since(start))
	span.SetAttributes(attribute.String("reservation.outcome", outcome))
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)

	ev := uc.log.Info()
	if outcome == OutcomeUnavailable || outcome == OutcomeTimeout {
		ev = uc.log.Error()
	}
	ev.Err(err).Str("outcome", outcome).Int("attempts", attempts).Msg("reserva rechazada")
	return err
}

// Outcome etiqueta de métrica para un error de reserva.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, domain.ErrInvalidInput):
		return OutcomeInvalid
	case errors.Is(err, domain.ErrVariantNotFound):
		return OutcomeNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return OutcomeInsufficientStock
	case errors.Is(err, domain.ErrConflict):
		return OutcomeConflict
	case errors.Is(err, domain.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	case errors.Is(err, domain.ErrIdempotencyInProgress):
		return OutcomeInProgress
	case errors.Is(err, domain.ErrIdempotencyMismatch):
		return OutcomeMismatch
	default:
		return OutcomeUnavailable
	}
}

// Fingerprint huella de la petición (líneas en orden) para detectar reutilización de llaves.
func Fingerprint(lines []entity.ReservationLine) string {
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l.VariantID))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(l.Quantity, 10)))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
