package broker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the shared handle to the backing store: a single *redis.Client
// plus the resolved key schema. Every broker component (Producer,
// Dispatcher, Executor, Reclaimer, Promoter, Broadcast) holds a
// reference to the same Store rather than opening its own connection.
type Store struct {
	rdb  *redis.Client
	keys keySpace
}

// NewStore dials the backing store described by cfg. The connection is
// not verified until first use; call Ping to verify eagerly.
func NewStore(cfg ConnectionConfig) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Store{
		rdb:  rdb,
		keys: newKeySpace(cfg.prefixOrDefault()),
	}
}

// NewStoreFromClient wraps an already-configured *redis.Client, letting
// callers (tests, or processes sharing a pool) supply their own.
func NewStoreFromClient(rdb *redis.Client, prefix string) *Store {
	return &Store{rdb: rdb, keys: newKeySpace(prefix)}
}

// Ping verifies connectivity, surfacing a transport error on failure.
func (s *Store) Ping(ctx context.Context) error {
	return wrapTransport("ping", s.rdb.Ping(ctx).Err())
}

// Close releases the underlying connection. Safe to call once on
// every exit path, including after a grace-period timeout.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Client exposes the underlying *redis.Client for callers that need
// direct access (metrics collectors, inspection tooling).
func (s *Store) Client() *redis.Client {
	return s.rdb
}

// nowMillis is a small seam so tests can't accidentally depend on wall
// clock granularity assumptions; it is still real wall time.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
