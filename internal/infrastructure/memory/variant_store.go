package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jhoicas/catalog-api/internal/domain"
	"github.com/jhoicas/catalog-api/internal/domain/entity"
	"github.com/jhoicas/catalog-api/internal/domain/repository"
)

// VariantStore almacén de variantes en memoria con bloqueo por fila.
// Las transacciones toman los bloqueos en el orden pedido, escriben sobre una copia
// y publican los cambios al confirmar; un fallo o cancelación descarta la copia.
type VariantStore struct {
	mu    sync.RWMutex
	rows  map[string]*entity.Variant
	locks map[string]chan struct{}
}

// NewVariantStore construye un almacén vacío.
func NewVariantStore() *VariantStore {
	return &VariantStore{
		rows:  make(map[string]*entity.Variant),
		locks: make(map[string]chan struct{}),
	}
}

// Seed carga variantes sin validar (tests, desarrollo).
func (s *VariantStore) Seed(vs ...*entity.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vs {
		s.rows[v.ID] = v.Clone()
	}
}

// Ping siempre responde; existe para el health check.
func (s *VariantStore) Ping(context.Context) error { return nil }

// Repository devuelve el repositorio fuera de transacción.
func (s *VariantStore) Repository() repository.VariantRepository {
	return &variantRepo{store: s}
}

// Run ejecuta fn en una transacción. Los cambios se aplican solo si fn termina sin error
// y el contexto sigue vigente.
func (s *VariantStore) Run(ctx context.Context, fn func(variants repository.VariantRepository) error) error {
	tx := &memTx{store: s, held: make(map[string]chan struct{}), staged: make(map[string]*entity.Variant)}
	defer tx.release()

	if err := fn(&variantRepo{store: s, tx: tx}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *VariantStore) rowLock(id string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[id] = l
	}
	return l
}

func (s *VariantStore) get(id string) (*entity.Variant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.rows[id]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

type memTx struct {
	store  *VariantStore
	held   map[string]chan struct{}
	order  []string
	staged map[string]*entity.Variant
}

// lock toma el bloqueo de la fila o espera hasta que el contexto termine.
func (tx *memTx) lock(ctx context.Context, id string) error {
	if _, ok := tx.held[id]; ok {
		return nil
	}
	l := tx.store.rowLock(id)
	select {
	case l <- struct{}{}:
		tx.held[id] = l
		tx.order = append(tx.order, id)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// read devuelve la fila vista por la transacción (cambios propios incluidos).
func (tx *memTx) read(id string) (*entity.Variant, bool) {
	if v, ok := tx.staged[id]; ok {
		return v.Clone(), true
	}
	return tx.store.get(id)
}

func (tx *memTx) commit() {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for id, v := range tx.staged {
		tx.store.rows[id] = v
	}
}

func (tx *memTx) release() {
	for i := len(tx.order) - 1; i >= 0; i-- {
		<-tx.held[tx.order[i]]
	}
	tx.held = nil
	tx.order = nil
}

var _ repository.VariantRepository = (*variantRepo)(nil)

// variantRepo implementación de VariantRepository; con tx nil cada operación es su propia transacción.
type variantRepo struct {
	store *VariantStore
	tx    *memTx
}

func (r *variantRepo) inTx(ctx context.Context, fn func(tx *memTx) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	return r.store.Run(ctx, func(v repository.VariantRepository) error {
		return fn(v.(*variantRepo).tx)
	})
}

func (r *variantRepo) Create(ctx context.Context, v *entity.Variant) error {
	return r.inTx(ctx, func(tx *memTx) error {
		if err := tx.lock(ctx, v.ID); err != nil {
			return err
		}
		if _, ok := tx.read(v.ID); ok {
			return domain.ErrDuplicate
		}
		tx.staged[v.ID] = v.Clone()
		return nil
	})
}

func (r *variantRepo) GetByID(ctx context.Context, id string) (*entity.Variant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var v *entity.Variant
	var ok bool
	if r.tx != nil {
		v, ok = r.tx.read(id)
	} else {
		v, ok = r.store.get(id)
	}
	if !ok {
		return nil, nil
	}
	return v, nil
}

// Patch modifica la fila bajo su bloqueo, leyendo el valor vigente dentro de la misma transacción.
func (r *variantRepo) Patch(ctx context.Context, id string, p repository.VariantPatch) (*entity.Variant, error) {
	if (p.Price != nil && *p.Price < 0) || (p.Stock != nil && *p.Stock < 0) {
		return nil, domain.ErrInvalidInput
	}
	var out *entity.Variant
	err := r.inTx(ctx, func(tx *memTx) error {
		if err := tx.lock(ctx, id); err != nil {
			return err
		}
		next, ok := tx.read(id)
		if !ok {
			return nil
		}
		if p.Price != nil {
			next.Price = *p.Price
		}
		if p.Stock != nil {
			next.Stock = *p.Stock
		}
		next.UpdatedAt = p.UpdatedAt
		tx.staged[id] = next
		out = next.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *variantRepo) ListByProduct(ctx context.Context, productID string, limit, offset int) ([]*entity.Variant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	out := make([]*entity.Variant, 0)
	for _, v := range r.store.rows {
		if v.ProductID == productID {
			out = append(out, v.Clone())
		}
	}
	r.store.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if offset >= len(out) {
		return []*entity.Variant{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

// GetManyForUpdate bloquea las filas existentes en el orden de ids.
func (r *variantRepo) GetManyForUpdate(ctx context.Context, ids []string) (map[string]*entity.Variant, error) {
	out := make(map[string]*entity.Variant, len(ids))
	err := r.inTx(ctx, func(tx *memTx) error {
		for _, id := range ids {
			if _, ok := tx.read(id); !ok {
				continue
			}
			if err := tx.lock(ctx, id); err != nil {
				return err
			}
			if v, ok := tx.read(id); ok {
				out[id] = v
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DecrementMany descuenta stock; una fila inexistente o sin stock suficiente es ErrConflict.
func (r *variantRepo) DecrementMany(ctx context.Context, amounts []entity.ReservationLine) error {
	return r.inTx(ctx, func(tx *memTx) error {
		for _, a := range amounts {
			if err := tx.lock(ctx, a.VariantID); err != nil {
				return err
			}
			v, ok := tx.read(a.VariantID)
			if !ok || v.Stock < a.Quantity {
				return domain.ErrConflict
			}
			v.Stock -= a.Quantity
			v.UpdatedAt = time.Now()
			tx.staged[a.VariantID] = v
		}
		return nil
	})
}
