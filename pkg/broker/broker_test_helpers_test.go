package broker

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestStore builds a broker.Store over a fresh miniredis instance
// per test.
func setupTestStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := NewStoreFromClient(rdb, "backstage")
	return s, store
}
