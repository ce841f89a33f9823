package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jhoicas/catalog-api/internal/domain"
	"github.com/jhoicas/catalog-api/internal/domain/entity"
	"github.com/jhoicas/catalog-api/internal/domain/repository"
	"github.com/jhoicas/catalog-api/pkg/config"
)

const keyPrefix = "idempotency:reservation:"

var _ repository.IdempotencyRepository = (*IdempotencyStore)(nil)

// releaseScript borra la llave solo si sigue en processing (no pisa resultados confirmados).
var releaseScript = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return 0 end
local ok, state = pcall(cjson.decode, v)
if ok and state.status == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// IdempotencyStore llaves de idempotencia en Redis (SET NX + TTL), compartidas entre instancias.
type IdempotencyStore struct {
	client   *goredis.Client
	ttl      time.Duration // resultados confirmados
	inFlight time.Duration // marcador "processing"; corto para que una caída no bloquee la llave
}

// NewClient crea el cliente Redis y verifica la conexión.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewIdempotencyStore construye el almacén; ttl <= 0 usa 24h, inFlight <= 0 usa 30s.
func NewIdempotencyStore(client *goredis.Client, ttl, inFlight time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if inFlight <= 0 {
		inFlight = 30 * time.Second
	}
	return &IdempotencyStore{client: client, ttl: ttl, inFlight: inFlight}
}

func (s *IdempotencyStore) key(k string) string {
	return keyPrefix + k
}

func (s *IdempotencyStore) Begin(ctx context.Context, key, fingerprint string) (*entity.ReservationResult, error) {
	k := s.key(key)
	processing, err := json.Marshal(repository.IdempotencyRecord{
		Status:      repository.IdempotencyProcessing,
		Fingerprint: fingerprint,
	})
	if err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := s.client.Get(ctx, k).Bytes()
		if errors.Is(err, goredis.Nil) {
			_, err := s.client.SetArgs(ctx, k, processing, goredis.SetArgs{Mode: "NX", TTL: s.inFlight}).Result()
			if errors.Is(err, goredis.Nil) {
				// Otra instancia tomó la llave entre GET y SET; releer.
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("redis set: %w", err)
			}
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("redis get: %w", err)
		}

		var rec repository.IdempotencyRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("redis unmarshal: %w", err)
		}
		return decide(rec, fingerprint)
	}
}

func (s *IdempotencyStore) Complete(ctx context.Context, key, fingerprint string, res *entity.ReservationResult) error {
	raw, err := json.Marshal(repository.IdempotencyRecord{
		Status:      repository.IdempotencySucceeded,
		Fingerprint: fingerprint,
		Result:      res,
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), raw, s.ttl).Err()
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, s.client, []string{s.key(key)}, repository.IdempotencyProcessing).Err()
}

// decide resuelve una llave existente: mismo pedido confirmado -> resultado previo.
func decide(rec repository.IdempotencyRecord, fingerprint string) (*entity.ReservationResult, error) {
	if rec.Fingerprint != fingerprint {
		return nil, domain.ErrIdempotencyMismatch
	}
	if rec.Status == repository.IdempotencySucceeded && rec.Result != nil {
		return rec.Result, nil
	}
	return nil, domain.ErrIdempotencyInProgress
}
