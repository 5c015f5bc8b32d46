package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vyr-e/backstage/pkg/logger"
	"github.com/vyr-e/backstage/pkg/tasks"
)

// Producer enqueues tasks onto priority streams, named queues, the
// delayed set, or the broadcast stream.
type Producer struct {
	store *Store
}

// NewProducer builds a Producer over an already-dialed Store.
func NewProducer(store *Store) *Producer {
	return &Producer{store: store}
}

// EnqueueResult is returned by Enqueue. A Skipped result carries no
// ID, marking a deduplicated enqueue: expected behavior, not an error.
type EnqueueResult struct {
	ID      string
	Skipped bool
}

// Enqueue adds a task to its resolved target, applying deduplication
// and delay routing as described by opts.
func (p *Producer) Enqueue(ctx context.Context, taskName, payload string, opts tasks.EnqueueOptions) (EnqueueResult, error) {
	if opts.Dedupe != nil {
		acquired, err := p.acquireDedupe(ctx, *opts.Dedupe)
		if err != nil {
			return EnqueueResult{}, err
		}
		if !acquired {
			return EnqueueResult{Skipped: true}, nil
		}
	}

	streamKey := p.resolveTarget(opts)

	t := &tasks.Task{
		TaskName:   taskName,
		Payload:    payload,
		EnqueuedAt: nowMillis(),
		Attempts:   opts.Attempts,
		Backoff:    opts.Backoff,
		Timeout:    opts.Timeout,
	}

	// A non-zero delay always routes through the delayed set, even when
	// negative: that is how a caller constructs an already-due entry,
	// which the promoter then picks up on its very next tick.
	if opts.Delay != 0 {
		return p.enqueueDelayed(ctx, t, streamKey, opts, opts.Delay)
	}
	return p.enqueueStream(ctx, t, streamKey)
}

// Broadcast appends a task to the broadcast stream. Never deduplicated,
// never delayed: every worker's broadcast consumer group must see it.
func (p *Producer) Broadcast(ctx context.Context, taskName, payload string) (string, error) {
	t := &tasks.Task{
		TaskName:   taskName,
		Payload:    payload,
		EnqueuedAt: nowMillis(),
	}
	fields, err := t.WireFields()
	if err != nil {
		return "", wrapSerialization("broadcast", err)
	}

	id, err := p.store.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.store.keys.broadcast(),
		Values: fields,
	}).Result()
	if err != nil {
		return "", wrapTransport("broadcast", err)
	}
	return id, nil
}

func (p *Producer) resolveTarget(opts tasks.EnqueueOptions) string {
	if opts.Queue != "" {
		return p.store.keys.queueStream(opts.Queue)
	}
	priority := opts.Priority
	if priority == "" {
		priority = tasks.PriorityDefault
	}
	return p.store.keys.priorityStream(priority)
}

func (p *Producer) acquireDedupe(ctx context.Context, d tasks.DedupeOptions) (bool, error) {
	ttl := d.TTL
	if ttl <= 0 {
		ttl = tasks.DefaultDedupeTTL
	}
	ok, err := p.store.rdb.SetNX(ctx, p.store.keys.dedupe(d.Key), "1", ttl).Result()
	if err != nil {
		return false, wrapTransport("dedupe", err)
	}
	return ok, nil
}

func (p *Producer) enqueueStream(ctx context.Context, t *tasks.Task, streamKey string) (EnqueueResult, error) {
	fields, err := t.WireFields()
	if err != nil {
		return EnqueueResult{}, wrapSerialization("enqueue", err)
	}

	id, err := p.store.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: fields,
	}).Result()
	if err != nil {
		return EnqueueResult{}, wrapTransport("enqueue", err)
	}
	return EnqueueResult{ID: id}, nil
}

func (p *Producer) enqueueDelayed(ctx context.Context, t *tasks.Task, streamKey string, opts tasks.EnqueueOptions, delay time.Duration) (EnqueueResult, error) {
	executeAt := time.Now().Add(delay)

	backoffEnc, err := t.Backoff.Encode()
	if err != nil {
		return EnqueueResult{}, wrapSerialization("enqueue delayed", err)
	}

	record := &tasks.ScheduledRecord{
		TaskName:   t.TaskName,
		Payload:    t.Payload,
		EnqueuedAt: t.EnqueuedAt,
		StreamKey:  streamKey,
		Priority:   string(opts.Priority),
		Attempts:   t.Attempts,
		Backoff:    backoffEnc,
	}
	if t.Timeout > 0 {
		record.Timeout = t.Timeout.Milliseconds()
	}

	member, err := record.Encode()
	if err != nil {
		return EnqueueResult{}, wrapSerialization("enqueue delayed", err)
	}

	err = p.store.rdb.ZAdd(ctx, p.store.keys.scheduled(), redis.Z{
		Score:  float64(executeAt.UnixMilli()),
		Member: member,
	}).Err()
	if err != nil {
		return EnqueueResult{}, wrapTransport("enqueue delayed", err)
	}

	return EnqueueResult{ID: fmt.Sprintf("scheduled:%d", executeAt.UnixMilli())}, nil
}

// chain enqueues a workflow continuation. It is the same as Enqueue at
// default priority unless delay is positive, matching the executor's
// contract for tasks.Continuation.
func (p *Producer) chain(ctx context.Context, c *tasks.Continuation) error {
	opts := tasks.EnqueueOptions{Priority: tasks.PriorityDefault}
	if c.Delay > 0 {
		opts.Delay = c.Delay
	}
	res, err := p.Enqueue(ctx, c.Next, c.Payload, opts)
	if err != nil {
		return err
	}
	logger.Log.Debug().Str("next", c.Next).Str("id", res.ID).Msg("chained continuation enqueued")
	return nil
}
