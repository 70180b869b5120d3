package directory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rishith2903/medreserve/libs/redisx"
	"github.com/rishith2903/medreserve/services/booking-service/internal/model"
)

// ErrCacheMiss is returned by CacheStore.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// CacheStore is a byte-oriented key/value store with expiry.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Cache memoizes schedule lookups. Store failures are logged and fall through to the next provider.
// Patient lookups are not cached.
type Cache struct {
	next   Provider
	store  CacheStore
	ttl    time.Duration
	logger *slog.Logger
}

func NewCache(next Provider, store CacheStore, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{next: next, store: store, ttl: ttl, logger: logger}
}

func scheduleKey(doctorID string) string {
	return "medreserve:directory:schedule:" + doctorID
}

func (c *Cache) Schedule(ctx context.Context, doctorID string) (model.DoctorSchedule, error) {
	key := scheduleKey(doctorID)
	raw, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		schedule, decodeErr := decodeSchedule(raw)
		if decodeErr == nil {
			return schedule, nil
		}
		c.logger.Warn("dropping undecodable cached schedule", "doctor_id", doctorID, "err", decodeErr)
		_ = c.store.Del(ctx, key)
	case !errors.Is(err, ErrCacheMiss):
		c.logger.Warn("schedule cache read failed", "doctor_id", doctorID, "err", err)
	}

	schedule, err := c.next.Schedule(ctx, doctorID)
	if err != nil {
		return model.DoctorSchedule{}, err
	}
	if raw, err := encodeSchedule(schedule); err == nil {
		if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
			c.logger.Warn("schedule cache write failed", "doctor_id", doctorID, "err", err)
		}
	}
	return schedule, nil
}

func (c *Cache) PatientExists(ctx context.Context, patientID string) (bool, error) {
	return c.next.PatientExists(ctx, patientID)
}

// Invalidate drops the cached schedule of doctorID.
func (c *Cache) Invalidate(ctx context.Context, doctorID string) error {
	return c.store.Del(ctx, scheduleKey(doctorID))
}

// RedisStore adapts a go-redis client to CacheStore.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if redisx.IsMiss(err) {
		return nil, ErrCacheMiss
	}
	return raw, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	return s.rdb.Del(ctx, keys...).Err()
}
