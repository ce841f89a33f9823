package reservation_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jhoicas/catalog-api/internal/application/dto"
	"github.com/jhoicas/catalog-api/internal/application/reservation"
	"github.com/jhoicas/catalog-api/internal/domain"
	"github.com/jhoicas/catalog-api/internal/domain/entity"
	"github.com/jhoicas/catalog-api/internal/domain/repository"
	"github.com/jhoicas/catalog-api/internal/infrastructure/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Fakes ───────────────────────────────────────────────────────────────────

type fakePublisher struct {
	mu     sync.Mutex
	events []entity.StockEvent
	err    error
}

func (p *fakePublisher) PublishStockReserved(_ context.Context, ev entity.StockEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

type fakeMetrics struct {
	mu       sync.Mutex
	outcomes []string
	attempts []int
}

func (m *fakeMetrics) ObserveReservation(outcome string, attempts int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
	m.attempts = append(m.attempts, attempts)
}

type recordingSleeper struct{ waits []time.Duration }

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

// flakyRunner devuelve ErrConflict en los primeros `fails` intentos y luego delega.
type flakyRunner struct {
	inner reservation.TxRunner
	fails int
	calls int
}

func (r *flakyRunner) Run(ctx context.Context, fn func(repository.VariantRepository) error) error {
	r.calls++
	if r.calls <= r.fails {
		return domain.ErrConflict
	}
	return r.inner.Run(ctx, fn)
}

type errRunner struct{ err error }

func (r errRunner) Run(context.Context, func(repository.VariantRepository) error) error { return r.err }

func seeded(vs ...*entity.Variant) *memory.VariantStore {
	s := memory.NewVariantStore()
	s.Seed(vs...)
	return s
}

func req(t *testing.T, raw string) dto.ReserveRequest {
	t.Helper()
	var r dto.ReserveRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	return r
}

func stock(t *testing.T, s *memory.VariantStore, id string) int64 {
	t.Helper()
	v, err := s.Repository().GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, v)
	return v.Stock
}

func opts() reservation.Options {
	return reservation.Options{Timeout: 2 * time.Second, MaxAttempts: 3, RetryBackoff: 10 * time.Millisecond}
}

// ─── Escenarios ──────────────────────────────────────────────────────────────

func TestReserve_Exito(t *testing.T) {
	store := seeded(&entity.Variant{ID: "A", Price: 500, Stock: 10})
	pub := &fakePublisher{}
	met := &fakeMetrics{}
	uc := reservation.NewUseCase(store, nil, pub, met, nil, opts())

	out, err := uc.Reserve(context.Background(), req(t, `[{"variantId":"A","quantity":2}]`))
	require.NoError(t, err)

	assert.True(t, out.Status)
	require.Len(t, out.Data.VariantDetails, 1)
	assert.Equal(t, "A", out.Data.VariantDetails[0].ProductVariantID)
	assert.EqualValues(t, 2, out.Data.VariantDetails[0].Quantity)
	assert.EqualValues(t, 1000, out.Data.VariantDetails[0].Price)
	assert.EqualValues(t, 1000, out.Data.Amount)
	assert.EqualValues(t, 8, stock(t, store, "A"))

	require.Len(t, pub.events, 1)
	assert.Equal(t, []entity.StockDelta{{VariantID: "A", Reserved: 2, Remaining: 8}}, pub.events[0].Deltas)
	assert.Equal(t, []string{reservation.OutcomeSuccess}, met.outcomes)
}

func TestReserve_StockInsuficiente(t *testing.T) {
	store := seeded(&entity.Variant{ID: "A", Price: 500, Stock: 1})
	pub := &fakePublisher{}
	uc := reservation.NewUseCase(store, nil, pub, nil, nil, opts())

	_, err := uc.Reserve(context.Background(), req(t, `[{"variantId":"A","quantity":2}]`))

	var ise *domain.InsufficientStockError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, "A", ise.VariantID)
	assert.EqualValues(t, 2, ise.Requested)
	assert.EqualValues(t, 1, ise.Available)
	assert.EqualValues(t, 1, stock(t, store, "A"))
	assert.Empty(t, pub.events)
}

func TestReserve_VarianteInexistenteNoAplicaOtrasLineas(t *testing.T) {
	store := seeded(&entity.Variant{ID: "A", Price: 500, Stock: 10})
	uc := reservation.NewUseCase(store, nil, nil, nil, nil, opts())

	_, err := uc.Reserve(context.Background(), req(t, `[{"variantId":"A","quantity":1},{"variantId":"Z","quantity":1}]`))

	var nf *domain.VariantNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "Z", nf.VariantID)
	assert.EqualValues(t, 10, stock(t, store, "A"))
}

func TestReserve_EntradaInvalida(t *testing.T) {
	uc := reservation.NewUseCase(errRunner{err: errors.New("no debe llamarse")}, nil, nil, nil, nil, opts())

	_, err := uc.Reserve(context.Background(), req(t, `[]`))
	var ire *domain.InvalidRequestError
	require.True(t, errors.As(err, &ire))
	assert.Equal(t, -1, ire.Index)

	_, err = uc.Reserve(context.Background(), req(t, `[{"variantId":"A","quantity":1},{"variantId":"B","quantity":0}]`))
	require.True(t, errors.As(err, &ire))
	assert.Equal(t, 1, ire.Index)
}

// ─── Propiedades ─────────────────────────────────────────────────────────────

func TestReserve_Atomicidad(t *testing.T) {
	store := seeded(
		&entity.Variant{ID: "A", Price: 100, Stock: 10},
		&entity.Variant{ID: "B", Price: 200, Stock: 2},
		&entity.Variant{ID: "C", Price: 300, Stock: 5},
	)
	uc := reservation.NewUseCase(store, nil, nil, nil, nil, opts())

	// A y C alcanzan; B no. Nada debe descontarse.
	_, err := uc.Reserve(context.Background(), req(t, `[{"variantId":"A","quantity":3},{"variantId":"B","quantity":3},{"variantId":"C","quantity":1}]`))
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.EqualValues(t, 10, stock(t, store, "A"))
	assert.EqualValues(t, 2, stock(t, store, "B"))
	assert.EqualValues(t, 5, stock(t, store, "C"))
}

func TestReserve_AgregaDuplicados(t *testing.T) {
	store := seeded(&entity.Variant{ID: "A", Price: 100, Stock: 5})
	uc := reservation.NewUseCase(store, nil, nil, nil, nil, opts())

	_, err := uc.Reserve(context.Background(), req(t, `[{"variantId":"A","quantity":3},{"variantId":"A","quantity":3}]`))
	var ise *domain.InsufficientStockError
	require.True(t, errors.As(err, &ise))
	assert.EqualValues(t, 6, ise.Requested)
	assert.EqualValues(t, 5, stock(t, store, "A"))
}

func TestReserve_OrdenYTotal(t *testing.T) {
	store := seeded(
		&entity.Variant{ID: "A", Price: 100, Stock: 10},
		&entity.Variant{ID: "B", Price: 250, Stock: 10},
	)
	uc := reservation.NewUseCase(store, nil, nil, nil, nil, opts())

	out, err := uc.Reserve(context.Background(), req(t, `{"items":[{"variantId":"B","quantity":1},{"variantId":"A","quantity":2},{"variantId":"B","quantity":3}]}`))
	require.NoError(t, err)

	ids := make([]string, 0, len(out.Data.VariantDetails))
	var sum int64
	for _, d := range out.Data.VariantDetails {
		ids = append(ids, d.ProductVariantID)
		sum += d.Price
	}
	assert.Equal(t, []string{"B", "A", "B"}, ids)
	assert.EqualValues(t, 250+200+750, out.Data.Amount)
	assert.Equal(t, sum, out.Data.Amount)
	assert.EqualValues(t, 8, stock(t, store, "A"))
	assert.EqualValues(t, 6, stock(t, store, "B"))
}

func TestReserve_Concurrencia(t *testing.T) {
	store := seeded(&entity.Variant{ID: "A", Price: 100, Stock: 10})
	uc := reservation.NewUseCase(store, nil, nil, nil, nil, opts())

	const n = 16
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := uc.Reserve(context.Background(), dto.ReserveRequest{
				Items: []dto.ReserveItemRequest{{VariantID: "A", Quantity: "6"}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrInsufficientStock):
				insufficient++
			default:
				t.Errorf("error inesperado: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, insufficient)
	assert.EqualValues(t, 4, stock(t, store, "A"))
}

func TestReserve_BloqueosCruzadosNoSeBloquean(t *testing.T) {
	store := seeded(
		&entity.Variant{ID: "A", Price: 1, Stock: 1000},
		&entity.Variant{ID: "B", Price: 1, Stock: 1000},
	)
	uc := reservation.NewUseCase(store, nil, nil, nil, nil, opts())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := uc.Reserve(context.Background(), req(t, `[{"variantId":"A","quantity":1},{"variantId":"B","quantity":1}]`))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := uc.Reserve(context.Background(), req(t, `[{"variantId":"B","quantity":1},{"variantId":"A","quantity":1}]`))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 900, stock(t, store, "A"))
	assert.EqualValues(t, 900, stock(t, store, "B"))
}

// ─── Reintentos y errores transitorios ───────────────────────────────────────

func TestReserve_ReintentaConflicto(t *testing.T) {
	store := seeded(&entity.Variant{ID: "A", Price: 100, Stock: 10})
	runner := &flakyRunner{inner: store, fails: 2}
	sleeper := &recordingSleeper{}
	met := &fakeMetrics{}
	uc := reservation.NewUseCase(runner, nil, nil, met, nil, opts()).WithSleeper(sleeper)

	_, err := uc.Reserve(context.Background(), req(t, `[{"variantId":"A","quantity":1}]`))
	require.NoError(t, err)

	assert.Equal(t, 3, runner.calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, sleeper.waits)
	assert.Equal(t, []int{3}, met.attempts)
	assert.EqualValues(t, 9, stock(t, store, "A"))
}

func TestReserve_ConflictoPersistente(t *testing.T) {
	store := seeded(&entity.Variant{ID: "A", Price: 100, Stock: 10})
	runner := &flakyRunner{inner: store, fails: 10}
	uc := reservation.NewUseCase(runner, nil, nil, nil, nil, opts()).WithSleeper(&recordingSleeper{})

	_, err := uc.Reserve(context.Background(), req(t, `[{"variantId":"A","quantity":1}]`))
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 3, runner.calls)
	assert.EqualValues(t, 10, stock(t, store, "A"))
}

func TestReserve_FalloDeAlmacen(t *testing.T) {
	cause := errors.New("connection reset")
	uc := reservation.NewUseCase(errRunner{err: cause}, nil, nil, nil, nil, opts())

	_, err := uc.Reserve(context.Background(), req(t, `[{"variantId":"A","quantity":1}]`))
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestReserve_Timeout(t *testing.T) {
	store := seeded(&entity.Variant{ID: "A", Price: 100, Stock: 10})
	holding := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = store.Run(context.Background(), func(r repository.VariantRepository) error {
			_, err := r.GetManyForUpdate(context.Background(), []string{"A"})
			close(holding)
			<-done
			return err
		})
	}()
	<-holding
	defer close(done)

	uc := reservation.NewUseCase(store, nil, nil, nil, nil, reservation.Options{Timeout: 30 * time.Millisecond, MaxAttempts: 1})
	_, err := uc.Reserve(context.Background(), req(t, `[{"variantId":"A","quantity":1}]`))
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestReserve_CancelacionDelLlamador(t *testing.T) {
	store := seeded(&entity.Variant{ID: "A", Price: 100, Stock: 10})
	uc := reservation.NewUseCase(store, nil, nil, nil, nil, opts())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := uc.Reserve(ctx, req(t, `[{"variantId":"A","quantity":1}]`))
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 10, stock(t, store, "A"))
}

// ─── Idempotencia ────────────────────────────────────────────────────────────

func TestReserve_IdempotenciaRepiteResultado(t *testing.T) {
	store := seeded(&entity.Variant{ID: "A", Price: 100, Stock: 10})
	idem := memory.NewIdempotencyStore(time.Hour, time.Minute)
	pub := &fakePublisher{}
	uc := reservation.NewUseCase(store, idem, pub, nil, nil, opts())

	r := req(t, `[{"variantId":"A","quantity":2}]`)
	r.IdempotencyKey = "order-1"

	first, err := uc.Reserve(context.Background(), r)
	require.NoError(t, err)
	second, err := uc.Reserve(context.Background(), r)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Data, second.Data)
	assert.EqualValues(t, 8, stock(t, store, "A"), "el reintento no descuenta dos veces")
	assert.Len(t, pub.events, 1)

	other := req(t, `[{"variantId":"A","quantity":3}]`)
	other.IdempotencyKey = "order-1"
	_, err = uc.Reserve(context.Background(), other)
	assert.ErrorIs(t, err, domain.ErrIdempotencyMismatch)
}

func TestReserve_IdempotenciaLiberaTrasFallo(t *testing.T) {
	store := seeded(&entity.Variant{ID: "A", Price: 100, Stock: 1})
	idem := memory.NewIdempotencyStore(time.Hour, time.Minute)
	uc := reservation.NewUseCase(store, idem, nil, nil, nil, opts())

	r := req(t, `[{"variantId":"A","quantity":2}]`)
	r.IdempotencyKey = "order-2"

	_, err := uc.Reserve(context.Background(), r)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	// La llave quedó libre: el mismo pedido vuelve a evaluarse.
	_, err = uc.Reserve(context.Background(), r)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
}

// flakyIdempotency falla las primeras `fails` llamadas a Complete y luego delega.
type flakyIdempotency struct {
	*memory.IdempotencyStore
	fails     int
	completes int
}

func (f *flakyIdempotency) Complete(ctx context.Context, key, fingerprint string, res *entity.ReservationResult) error {
	f.completes++
	if f.completes <= f.fails {
		return errors.New("redis: connection reset")
	}
	return f.IdempotencyStore.Complete(ctx, key, fingerprint, res)
}

func TestReserve_IdempotenciaReintentaComplete(t *testing.T) {
	store := seeded(&entity.Variant{ID: "A", Price: 100, Stock: 10})
	idem := &flakyIdempotency{IdempotencyStore: memory.NewIdempotencyStore(time.Hour, time.Minute), fails: 1}
	uc := reservation.NewUseCase(store, idem, nil, nil, nil, opts())

	r := req(t, `[{"variantId":"A","quantity":2}]`)
	r.IdempotencyKey = "order-3"

	first, err := uc.Reserve(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 2, idem.completes)

	second, err := uc.Reserve(context.Background(), r)
	require.NoError(t, err, "el resultado quedó guardado tras el reintento")
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Data, second.Data)
	assert.EqualValues(t, 8, stock(t, store, "A"))
}

func TestReserve_IdempotenciaCompleteFallaDosVeces(t *testing.T) {
	store := seeded(&entity.Variant{ID: "A", Price: 100, Stock: 10})
	idem := &flakyIdempotency{IdempotencyStore: memory.NewIdempotencyStore(time.Hour, time.Minute), fails: 2}
	uc := reservation.NewUseCase(store, idem, nil, nil, nil, opts())

	r := req(t, `[{"variantId":"A","quantity":2}]`)
	r.IdempotencyKey = "order-4"

	res, err := uc.Reserve(context.Background(), r)
	require.NoError(t, err, "la reserva confirmada no se revierte por la idempotencia")
	assert.False(t, res.Replayed)
	assert.Equal(t, 2, idem.completes)

	// La llave sigue en curso hasta que expire su TTL corto.
	_, err = uc.Reserve(context.Background(), r)
	assert.ErrorIs(t, err, domain.ErrIdempotencyInProgress)
	assert.EqualValues(t, 8, stock(t, store, "A"))
}

func TestReserve_PublicacionFallidaNoAfectaResultado(t *testing.T) {
	store := seeded(&entity.Variant{ID: "A", Price: 100, Stock: 10})
	pub := &fakePublisher{err: errors.New("broker caído")}
	uc := reservation.NewUseCase(store, nil, pub, nil, nil, opts())

	_, err := uc.Reserve(context.Background(), req(t, `[{"variantId":"A","quantity":1}]`))
	require.NoError(t, err)
	assert.EqualValues(t, 9, stock(t, store, "A"))
}

func TestFingerprint(t *testing.T) {
	a := reservation.Fingerprint([]entity.ReservationLine{{VariantID: "A", Quantity: 1}, {VariantID: "B", Quantity: 2}})
	b := reservation.Fingerprint([]entity.ReservationLine{{VariantID: "B", Quantity: 2}, {VariantID: "A", Quantity: 1}})
	c := reservation.Fingerprint([]entity.ReservationLine{{VariantID: "A", Quantity: 1}, {VariantID: "B", Quantity: 2}})
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
}
