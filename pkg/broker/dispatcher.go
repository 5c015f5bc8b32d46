package broker

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vyr-e/backstage/pkg/logger"
)

// minReadErrorBackoff is the floor on the sleep after a transient read
// error, so a flapping connection doesn't spin the dispatch loop.
const minReadErrorBackoff = time.Second

// Dispatcher pulls ready messages from every priority stream under the
// shared consumer group, in strict priority order, bounded by a
// prefetch cap and a concurrency cap. A single XReadGroup call spans
// all watched streams per iteration; the server returns up to the
// read count from each listed stream that has entries, in list order,
// and they are submitted in that order, so urgent entries are handed
// to the executor ahead of default and low ones from the same read.
type Dispatcher struct {
	store    *Store
	executor *Executor
	cfg      DispatcherConfig
	streams  []string
	metrics  *Metrics

	sem       chan struct{}
	slotFreed chan struct{}
	inFlight  int64
	running   atomic.Bool
	wg        sync.WaitGroup
}

// NewDispatcher builds a Dispatcher over store and executor. cfg is
// defaulted via DispatcherConfig.withDefaults semantics before use.
func NewDispatcher(store *Store, executor *Executor, cfg DispatcherConfig) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		store:     store,
		executor:  executor,
		cfg:       cfg,
		streams:   resolveStreamOrder(store.keys, cfg.CustomQueues),
		sem:       make(chan struct{}, cfg.Concurrency),
		slotFreed: make(chan struct{}, 1),
	}
	return d
}

// WithMetrics attaches Metrics and returns the Dispatcher for chaining.
func (d *Dispatcher) WithMetrics(m *Metrics) *Dispatcher {
	d.metrics = m
	return d
}

func resolveStreamOrder(keys keySpace, custom []CustomQueue) []string {
	streams := make([]string, 0, len(priorityOrder)+len(custom))
	for _, p := range priorityOrder {
		streams = append(streams, keys.priorityStream(p))
	}
	sorted := append([]CustomQueue(nil), custom...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	for _, q := range sorted {
		streams = append(streams, keys.queueStream(q.Name))
	}
	return streams
}

// EnsureGroups creates the shared consumer group on every dispatched
// stream, tolerating "group already exists".
func (d *Dispatcher) EnsureGroups(ctx context.Context) error {
	for _, stream := range d.streams {
		err := d.store.rdb.XGroupCreateMkStream(ctx, stream, d.cfg.ConsumerGroup, "0").Err()
		if err != nil && !isBusyGroup(err) {
			return wrapTransport("ensure consumer group", err)
		}
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// Run blocks, dispatching messages until ctx is cancelled or Stop is
// called. Cancellation is treated as a clean stop, not an error.
func (d *Dispatcher) Run(ctx context.Context) {
	d.running.Store(true)
	for d.running.Load() {
		if ctx.Err() != nil {
			return
		}
		d.tick(ctx)
	}
}

// Stop flips the running flag; the loop exits after its current
// blocking read returns.
func (d *Dispatcher) Stop() {
	d.running.Store(false)
}

// AwaitDrain waits up to gracePeriod for all in-flight handlers to
// finish. Remaining tasks are left in the PEL for other workers.
func (d *Dispatcher) AwaitDrain(gracePeriod time.Duration) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(gracePeriod):
		logger.Log.Warn().Msg("grace period elapsed with tasks still in flight; leaving them pending")
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	available := int64(cap(d.sem)) - int64(len(d.sem))
	if available <= 0 {
		select {
		case <-ctx.Done():
		case <-d.slotFreed:
		case <-time.After(100 * time.Millisecond):
		}
		return
	}

	count := d.cfg.Prefetch
	if available < count {
		count = available
	}

	args := &redis.XReadGroupArgs{
		Group:    d.cfg.ConsumerGroup,
		Consumer: d.cfg.WorkerID,
		Streams:  readArgsStreams(d.streams),
		Count:    count,
		Block:    d.cfg.BlockTimeout,
	}

	result, err := d.store.rdb.XReadGroup(ctx, args).Result()
	if err == redis.Nil {
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Log.Error().Err(err).Msg("dispatcher read error, backing off")
		time.Sleep(minReadErrorBackoff)
		return
	}

	for _, stream := range result {
		for _, msg := range stream.Messages {
			d.Submit(ctx, stream.Stream, d.cfg.ConsumerGroup, msg)
		}
	}
}

func readArgsStreams(streams []string) []string {
	args := make([]string, 0, len(streams)*2)
	args = append(args, streams...)
	for range streams {
		args = append(args, ">")
	}
	return args
}

// Submit hands one message to the executor under the dispatcher's
// concurrency budget, without awaiting completion. Used by the read
// loop for freshly delivered messages, by the Reclaimer for claimed
// ones, and by the Broadcast fan-out for its own group, so the
// in-flight cap is enforced from a single source of truth regardless
// of how a message was obtained or which consumer group it is
// acknowledged against.
func (d *Dispatcher) Submit(ctx context.Context, streamKey, consumerGroup string, msg redis.XMessage) {
	d.sem <- struct{}{}
	atomic.AddInt64(&d.inFlight, 1)
	if d.metrics != nil {
		d.metrics.InFlight.Inc()
	}
	d.wg.Add(1)
	go func() {
		defer func() {
			atomic.AddInt64(&d.inFlight, -1)
			if d.metrics != nil {
				d.metrics.InFlight.Dec()
			}
			<-d.sem
			select {
			case d.slotFreed <- struct{}{}:
			default:
			}
			d.wg.Done()
		}()
		d.executor.Execute(ctx, streamKey, consumerGroup, msg)
	}()
}

// InFlight returns the current number of handler invocations running.
func (d *Dispatcher) InFlight() int64 {
	return atomic.LoadInt64(&d.inFlight)
}
