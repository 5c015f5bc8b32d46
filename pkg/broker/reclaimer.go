package broker

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vyr-e/backstage/pkg/logger"
	"github.com/vyr-e/backstage/pkg/tasks"
)

// reclaimBatchSize bounds how many pending entries the reclaimer
// inspects per stream per tick.
const reclaimBatchSize = 10

// Reclaimer periodically re-owns pending entries whose idle age
// exceeds a threshold, routing them back to the executor or to a
// dead-letter stream based on the claim's delivery count. Claimed
// messages are handed to the Dispatcher's own concurrency budget
// rather than executed directly, so reclaimed and freshly-read work
// share one in-flight limit.
type Reclaimer struct {
	store      *Store
	dispatcher *Dispatcher
	cfg        DispatcherConfig
	streams    []string
	metrics    *Metrics
}

// NewReclaimer builds a Reclaimer over the same streams the dispatcher
// watches.
func NewReclaimer(store *Store, dispatcher *Dispatcher, cfg DispatcherConfig) *Reclaimer {
	cfg = cfg.withDefaults()
	return &Reclaimer{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
		streams:    resolveStreamOrder(store.keys, cfg.CustomQueues),
	}
}

// WithMetrics attaches Metrics and returns the Reclaimer for chaining.
func (r *Reclaimer) WithMetrics(m *Metrics) *Reclaimer {
	r.metrics = m
	return r
}

// Run blocks, reclaiming on cfg.ReclaimerInterval, until ctx is done.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReclaimerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reclaimer) tick(ctx context.Context) {
	for _, stream := range r.streams {
		if err := r.reclaimStream(ctx, stream); err != nil {
			logger.Log.Error().Err(err).Str("stream", stream).Msg("reclaim pass failed")
		}
	}
}

func (r *Reclaimer) reclaimStream(ctx context.Context, stream string) error {
	pending, err := r.store.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  r.cfg.ConsumerGroup,
		Idle:   r.cfg.IdleTimeout,
		Start:  "-",
		End:    "+",
		Count:  reclaimBatchSize,
	}).Result()
	if err != nil {
		return wrapTransport("xpending", err)
	}

	for _, entry := range pending {
		r.reclaimEntry(ctx, stream, entry)
	}
	return nil
}

func (r *Reclaimer) reclaimEntry(ctx context.Context, stream string, entry redis.XPendingExt) {
	claimed, err := r.store.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    r.cfg.ConsumerGroup,
		Consumer: r.cfg.WorkerID,
		MinIdle:  r.cfg.IdleTimeout,
		Messages: []string{entry.ID},
	}).Result()
	if err != nil {
		// Another reclaimer likely won the race; nothing to do.
		return
	}
	if len(claimed) == 0 {
		return
	}
	msg := claimed[0]

	// The pending entry's own retry count, incremented by the claim we
	// just issued, is the delivery count compared against maxDeliveries.
	deliveryCount := entry.RetryCount + 1

	if deliveryCount > r.cfg.MaxDeliveries {
		if err := r.deadLetter(ctx, stream, msg, deliveryCount); err != nil {
			logger.Log.Error().Err(err).Str("id", msg.ID).Msg("failed to dead-letter message")
		}
		return
	}

	if r.metrics != nil {
		r.metrics.Reclaimed.WithLabelValues(priorityLabel(stream)).Inc()
	}
	r.dispatcher.Submit(ctx, stream, r.cfg.ConsumerGroup, msg)
}

func (r *Reclaimer) deadLetter(ctx context.Context, stream string, msg redis.XMessage, deliveryCount int64) error {
	t, err := tasks.FromWireValues(msg.Values)
	if err != nil {
		return err
	}

	payload := t.Payload
	if payload == "" {
		payload = tasks.NullPayload
	}

	fields := []interface{}{
		"taskName", t.TaskName,
		"payload", payload,
		"enqueuedAt", strconv.FormatInt(t.EnqueuedAt, 10),
		"originalId", msg.ID,
		"deliveryCount", strconv.FormatInt(deliveryCount, 10),
		"deadLetteredAt", strconv.FormatInt(nowMillis(), 10),
	}

	deadLetterKey := r.store.keys.deadLetter(tasks.Priority(priorityLabel(stream)))

	pipe := r.store.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{Stream: deadLetterKey, Values: fields})
	pipe.XAck(ctx, stream, r.cfg.ConsumerGroup, msg.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapTransport("dead-letter", err)
	}

	if r.metrics != nil {
		r.metrics.DeadLettered.WithLabelValues(priorityLabel(stream)).Inc()
	}
	return nil
}

// priorityLabel extracts the trailing path segment of a stream key
// (the priority tier or custom queue name) for metric labels and
// dead-letter routing.
func priorityLabel(streamKey string) string {
	for i := len(streamKey) - 1; i >= 0; i-- {
		if streamKey[i] == ':' {
			return streamKey[i+1:]
		}
	}
	return streamKey
}
