package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jhoicas/catalog-api/internal/domain"
	"github.com/jhoicas/catalog-api/internal/domain/entity"
	"github.com/jhoicas/catalog-api/internal/domain/repository"
)

var _ repository.IdempotencyRepository = (*IdempotencyStore)(nil)

type idemEntry struct {
	record    repository.IdempotencyRecord
	expiresAt time.Time
}

// IdempotencyStore llaves de idempotencia en memoria con expiración.
type IdempotencyStore struct {
	mu       sync.Mutex
	ttl      time.Duration // resultados confirmados
	inFlight time.Duration // marcador "processing"
	now      func() time.Time
	keys     map[string]idemEntry
}

// NewIdempotencyStore construye el almacén; ttl <= 0 usa 24h, inFlight <= 0 usa 30s.
func NewIdempotencyStore(ttl, inFlight time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if inFlight <= 0 {
		inFlight = 30 * time.Second
	}
	return &IdempotencyStore{ttl: ttl, inFlight: inFlight, now: time.Now, keys: make(map[string]idemEntry)}
}

func (s *IdempotencyStore) Begin(ctx context.Context, key, fingerprint string) (*entity.ReservationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.keys[key]
	if ok && now.After(e.expiresAt) {
		delete(s.keys, key)
		ok = false
	}
	if !ok {
		s.keys[key] = idemEntry{
			record:    repository.IdempotencyRecord{Status: repository.IdempotencyProcessing, Fingerprint: fingerprint},
			expiresAt: now.Add(s.inFlight),
		}
		return nil, nil
	}
	if e.record.Fingerprint != fingerprint {
		return nil, domain.ErrIdempotencyMismatch
	}
	if e.record.Status == repository.IdempotencySucceeded {
		return copyResult(e.record.Result), nil
	}
	return nil, domain.ErrIdempotencyInProgress
}

func (s *IdempotencyStore) Complete(ctx context.Context, key, fingerprint string, res *entity.ReservationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = idemEntry{
		record: repository.IdempotencyRecord{
			Status:      repository.IdempotencySucceeded,
			Fingerprint: fingerprint,
			Result:      copyResult(res),
		},
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.keys[key]; ok && e.record.Status == repository.IdempotencyProcessing {
		delete(s.keys, key)
	}
	return nil
}

func copyResult(res *entity.ReservationResult) *entity.ReservationResult {
	if res == nil {
		return nil
	}
	c := *res
	c.Lines = append([]entity.PricedLine(nil), res.Lines...)
	return &c
}
