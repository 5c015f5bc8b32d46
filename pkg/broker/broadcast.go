package broker

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vyr-e/backstage/pkg/logger"
)

// Broadcast delivers a single produced message to every worker, each
// through its own per-worker consumer group on the shared broadcast
// stream, so every worker process sees every broadcast exactly once
// regardless of how many workers are running.
type Broadcast struct {
	store      *Store
	producer   *Producer
	dispatcher *Dispatcher
	workerID   string
	group      string
	cfg        BroadcastConfig
	streamKey  string

	mu        sync.Mutex
	firstSeen map[string]time.Time
}

// NewBroadcast builds a Broadcast fan-out for workerID, reusing the
// Dispatcher's concurrency budget for message hand-off.
func NewBroadcast(store *Store, producer *Producer, dispatcher *Dispatcher, workerID string, cfg BroadcastConfig) *Broadcast {
	cfg = cfg.withDefaults()
	return &Broadcast{
		store:      store,
		producer:   producer,
		dispatcher: dispatcher,
		workerID:   workerID,
		group:      broadcastGroupName(workerID),
		cfg:        cfg,
		streamKey:  store.keys.broadcast(),
		firstSeen:  make(map[string]time.Time),
	}
}

// Initialize creates this worker's consumer group starting at offset
// 0, tolerating "already exists". Because the group starts at 0, a newly
// created group also receives the entries already on the broadcast
// stream.
func (b *Broadcast) Initialize(ctx context.Context) error {
	err := b.store.rdb.XGroupCreateMkStream(ctx, b.streamKey, b.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return wrapTransport("broadcast initialize", err)
	}
	return nil
}

// Send appends a task to the broadcast stream.
func (b *Broadcast) Send(ctx context.Context, taskName, payload string) (string, error) {
	return b.producer.Broadcast(ctx, taskName, payload)
}

// Run blocks, reading and dispatching new broadcast entries through
// the shared Dispatcher's concurrency budget, until ctx is done.
func (b *Broadcast) Run(ctx context.Context) {
	for ctx.Err() == nil {
		result, err := b.store.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: b.workerID,
			Streams:  []string{b.streamKey, ">"},
			Count:    1,
			Block:    b.cfg.BlockTimeout,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Log.Error().Err(err).Msg("broadcast read error, backing off")
			time.Sleep(minReadErrorBackoff)
			continue
		}
		for _, stream := range result {
			for _, msg := range stream.Messages {
				b.dispatcher.Submit(ctx, b.streamKey, b.group, msg)
			}
		}
	}
}

// Cleanup enumerates every consumer group on the broadcast stream and
// destroys any group other than this worker's own whose consumers are
// all gone or idle past consumerIdleThreshold. A group younger than
// cfg.MinGroupAge (as observed by this process) is never reaped, to
// avoid racing a worker that created its group but has not yet
// attached a consumer.
func (b *Broadcast) Cleanup(ctx context.Context) error {
	groups, err := b.store.rdb.XInfoGroups(ctx, b.streamKey).Result()
	if err != nil {
		return wrapTransport("broadcast cleanup: list groups", err)
	}

	now := time.Now()
	seen := make(map[string]bool, len(groups))

	for _, g := range groups {
		seen[g.Name] = true
		if g.Name == b.group {
			continue
		}

		age := b.observe(g.Name, now)
		if age < b.cfg.MinGroupAge {
			continue
		}

		stale, err := b.isStale(ctx, g.Name)
		if err != nil {
			logger.Log.Error().Err(err).Str("group", g.Name).Msg("broadcast cleanup: failed to inspect consumers")
			continue
		}
		if !stale {
			continue
		}

		if err := b.store.rdb.XGroupDestroy(ctx, b.streamKey, g.Name).Err(); err != nil {
			logger.Log.Error().Err(err).Str("group", g.Name).Msg("broadcast cleanup: failed to destroy stale group")
			continue
		}
		logger.Log.Info().Str("group", g.Name).Msg("destroyed stale broadcast consumer group")
	}

	b.forgetMissing(seen)
	return nil
}

func (b *Broadcast) isStale(ctx context.Context, group string) (bool, error) {
	consumers, err := b.store.rdb.XInfoConsumers(ctx, b.streamKey, group).Result()
	if err != nil {
		return false, wrapTransport("broadcast cleanup: list consumers", err)
	}
	if len(consumers) == 0 {
		return true, nil
	}
	for _, c := range consumers {
		if time.Duration(c.Idle) < b.cfg.ConsumerIdleThreshold {
			return false, nil
		}
	}
	return true, nil
}

func (b *Broadcast) observe(group string, now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.firstSeen[group]
	if !ok {
		b.firstSeen[group] = now
		return 0
	}
	return now.Sub(t)
}

func (b *Broadcast) forgetMissing(seen map[string]bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name := range b.firstSeen {
		if !seen[name] {
			delete(b.firstSeen, name)
		}
	}
}
