package main

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rishith2903/medreserve/libs/config"
	"github.com/rishith2903/medreserve/libs/db"
	"github.com/rishith2903/medreserve/libs/grpcx"
	"github.com/rishith2903/medreserve/services/booking-service/internal/directory"
)

// newDirectory picks the schedule source (remote gRPC directory or the local tables)
// and fronts it with the redis cache when one is configured. cache is nil without redis.
func newDirectory(logger *slog.Logger, pool *db.Pool, rdb *redis.Client) (provider directory.Provider, cache *directory.Cache, closeFn func(), err error) {
	closeFn = func() {}

	provider = directory.NewPostgres(pool)
	if addr := config.String("DOCTOR_DIRECTORY_GRPC_ADDR", ""); addr != "" {
		conn, err := grpcx.Dial(addr, grpcx.DialOptions{CallTimeout: 2 * time.Second})
		if err != nil {
			return nil, nil, closeFn, err
		}
		closeFn = func() { _ = conn.Close() }
		provider = directory.NewGRPC(conn)
		logger.Info("using remote doctor directory", "addr", addr)
	}

	if rdb == nil {
		return provider, nil, closeFn, nil
	}
	ttl, err := config.Duration("DIRECTORY_CACHE_TTL_SECONDS", 300, time.Second)
	if err != nil {
		return nil, nil, closeFn, err
	}
	cache = directory.NewCache(provider, directory.NewRedisStore(rdb), ttl, logger)
	return cache, cache, closeFn, nil
}
