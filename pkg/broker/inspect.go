package broker

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// StreamDepths reports the backlog on every dispatched stream plus the
// delayed set, keyed by stream name.
type StreamDepths struct {
	Streams   map[string]int64
	Scheduled int64
}

// Inspector provides read-only visibility into queue backlog, with no
// bearing on delivery correctness.
type Inspector struct {
	store *Store
	cfg   DispatcherConfig
}

// NewInspector builds an Inspector over the same streams a dispatcher
// configured with cfg would watch.
func NewInspector(store *Store, cfg DispatcherConfig) *Inspector {
	return &Inspector{store: store, cfg: cfg.withDefaults()}
}

// Depths returns the current length of every priority and custom
// queue stream, plus the number of entries still waiting in the
// delayed set.
func (i *Inspector) Depths(ctx context.Context) (StreamDepths, error) {
	streams := resolveStreamOrder(i.store.keys, i.cfg.CustomQueues)

	depths := StreamDepths{Streams: make(map[string]int64, len(streams))}
	for _, stream := range streams {
		n, err := i.store.rdb.XLen(ctx, stream).Result()
		if err != nil {
			return StreamDepths{}, wrapTransport("depths", err)
		}
		depths.Streams[stream] = n
	}

	scheduled, err := i.store.rdb.ZCard(ctx, i.store.keys.scheduled()).Result()
	if err != nil {
		return StreamDepths{}, wrapTransport("depths", err)
	}
	depths.Scheduled = scheduled

	return depths, nil
}

// Peek returns up to count of the oldest entries on streamKey, whether
// or not they have been delivered or acknowledged, without claiming or
// acknowledging them.
func (i *Inspector) Peek(ctx context.Context, streamKey string, count int64) ([]redis.XMessage, error) {
	result, err := i.store.rdb.XRangeN(ctx, streamKey, "-", "+", count).Result()
	if err != nil {
		return nil, wrapTransport("peek", err)
	}
	return result, nil
}

// PendingCount sums the number of entries delivered to consumerGroup
// and not yet acknowledged, across every dispatched stream. Unlike
// stream length, this shrinks as messages are acknowledged. Entries not
// yet delivered to any consumer of the group are not counted.
func (i *Inspector) PendingCount(ctx context.Context, consumerGroup string) (int64, error) {
	streams := resolveStreamOrder(i.store.keys, i.cfg.CustomQueues)

	var total int64
	for _, stream := range streams {
		summary, err := i.store.rdb.XPending(ctx, stream, consumerGroup).Result()
		if err != nil {
			return 0, wrapTransport("pending count", err)
		}
		total += summary.Count
	}
	return total, nil
}
