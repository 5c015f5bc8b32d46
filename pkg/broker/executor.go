package broker

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vyr-e/backstage/pkg/logger"
	"github.com/vyr-e/backstage/pkg/tasks"
)

// Executor invokes the registered handler for each delivered message
// and interprets its outcome: terminal success (ack),
// success-with-continuation (chain then ack), or failure (leave
// pending for the reclaimer).
type Executor struct {
	store    *Store
	producer *Producer

	mu       sync.RWMutex
	handlers map[string]tasks.Handler

	metrics *Metrics // nil is valid: metrics are optional instrumentation
}

// NewExecutor builds an Executor sharing store and producer with the
// rest of the worker's subsystems.
func NewExecutor(store *Store, producer *Producer) *Executor {
	return &Executor{
		store:    store,
		producer: producer,
		handlers: make(map[string]tasks.Handler),
	}
}

// WithMetrics attaches a Metrics instance the executor will record
// outcomes to. Returns the Executor for chaining at construction time.
func (e *Executor) WithMetrics(m *Metrics) *Executor {
	e.metrics = m
	return e
}

// Register associates a handler with a task name. Registering the same
// name twice replaces the previous handler.
func (e *Executor) Register(taskName string, h tasks.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[taskName] = h
}

func (e *Executor) lookup(taskName string) (tasks.Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[taskName]
	return h, ok
}

// Execute decodes, invokes, and resolves one delivered message from
// streamKey. It never returns an error to the caller: every outcome
// (including decode failures) is handled internally, since the
// dispatcher dispatches messages without awaiting their resolution.
func (e *Executor) Execute(ctx context.Context, streamKey, consumerGroup string, msg redis.XMessage) {
	start := time.Now()

	t, err := tasks.FromWireValues(msg.Values)
	if err != nil {
		logger.Log.Error().Err(err).Str("stream", streamKey).Str("id", msg.ID).
			Msg("malformed task record, leaving pending for reclaimer")
		return
	}

	if e.metrics != nil && t.EnqueuedAt > 0 {
		e.metrics.QueueLatency.WithLabelValues(t.TaskName).Observe(time.Since(time.UnixMilli(t.EnqueuedAt)).Seconds())
	}

	handler, ok := e.lookup(t.TaskName)
	if !ok {
		logger.Log.Warn().Str("taskName", t.TaskName).Str("id", msg.ID).
			Msg("no handler registered, discarding message")
		if err := e.ack(ctx, streamKey, consumerGroup, msg.ID); err != nil {
			logger.Log.Error().Err(err).Str("id", msg.ID).Msg("failed to acknowledge unknown task")
		}
		if e.metrics != nil {
			e.metrics.observeOutcome(t.TaskName, outcomeUnknown, time.Since(start))
		}
		return
	}

	handlerCtx := ctx
	var cancel context.CancelFunc
	if t.Timeout > 0 {
		handlerCtx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	result, err := handler(handlerCtx, t)
	if err != nil {
		logger.Log.Error().Err(err).Str("taskName", t.TaskName).Str("id", msg.ID).
			Msg("handler failed, leaving pending for reclaimer")
		if e.metrics != nil {
			e.metrics.observeOutcome(t.TaskName, outcomeFailure, time.Since(start))
		}
		return
	}

	if result.Continuation != nil {
		if err := e.producer.chain(ctx, result.Continuation); err != nil {
			logger.Log.Error().Err(err).Str("taskName", t.TaskName).Str("next", result.Continuation.Next).
				Msg("failed to enqueue chained continuation, leaving current message pending")
			return
		}
	}

	if err := e.ack(ctx, streamKey, consumerGroup, msg.ID); err != nil {
		logger.Log.Error().Err(err).Str("id", msg.ID).Msg("failed to acknowledge completed task")
		return
	}
	if e.metrics != nil {
		e.metrics.observeOutcome(t.TaskName, outcomeSuccess, time.Since(start))
	}
}

func (e *Executor) ack(ctx context.Context, streamKey, consumerGroup, messageID string) error {
	return wrapTransport("ack", e.store.rdb.XAck(ctx, streamKey, consumerGroup, messageID).Err())
}
