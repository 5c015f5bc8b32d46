package broker

import (
	"context"
	"sync"
	"time"

	"github.com/vyr-e/backstage/pkg/logger"
	"github.com/vyr-e/backstage/pkg/tasks"
)

// metricsCollectionInterval is how often the worker refreshes the
// QueueDepth gauge from the backing store.
const metricsCollectionInterval = 15 * time.Second

// Worker composes the five long-running subsystems (Dispatcher,
// Reclaimer, Promoter, Broadcast, plus the Executor they all share)
// into a single process lifecycle: initialize groups, run every loop
// concurrently, and on Stop drain in-flight handlers for up to the
// configured grace period before returning.
type Worker struct {
	store      *Store
	producer   *Producer
	executor   *Executor
	dispatcher *Dispatcher
	reclaimer  *Reclaimer
	promoter   *Promoter
	broadcast  *Broadcast
	inspector  *Inspector
	metrics    *Metrics
	cfg        Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker wires every subsystem from a single Config and Metrics.
// Pass nil metrics to skip metrics entirely.
func NewWorker(store *Store, cfg Config, metrics *Metrics) *Worker {
	cfg = cfg.withDefaults()

	producer := NewProducer(store)
	executor := NewExecutor(store, producer)
	dispatcher := NewDispatcher(store, executor, cfg.Dispatcher)
	reclaimer := NewReclaimer(store, dispatcher, cfg.Dispatcher)
	promoter := NewPromoter(store, cfg.Connection.prefixOrDefault())
	broadcast := NewBroadcast(store, producer, dispatcher, cfg.Dispatcher.WorkerID, cfg.Broadcast)
	inspector := NewInspector(store, cfg.Dispatcher)

	w := &Worker{
		store:      store,
		producer:   producer,
		executor:   executor,
		dispatcher: dispatcher,
		reclaimer:  reclaimer,
		promoter:   promoter,
		broadcast:  broadcast,
		inspector:  inspector,
		cfg:        cfg,
	}

	if metrics != nil {
		w.metrics = metrics
		executor.WithMetrics(metrics)
		dispatcher.WithMetrics(metrics)
		reclaimer.WithMetrics(metrics)
		promoter.WithMetrics(metrics)
	}

	return w
}

// Register associates a handler with a task name, delegating to the
// underlying Executor.
func (w *Worker) Register(taskName string, h tasks.Handler) {
	w.executor.Register(taskName, h)
}

// Producer exposes the worker's Producer for callers that enqueue
// tasks from the same process (e.g. a periodic schedule or an
// embedded API).
func (w *Worker) Producer() *Producer {
	return w.producer
}

// Start initializes consumer groups and the broadcast group, then
// launches every subsystem loop in its own goroutine. Start returns
// once initialization succeeds; the loops continue running until Stop
// is called or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	if err := w.dispatcher.EnsureGroups(runCtx); err != nil {
		cancel()
		return err
	}
	if err := w.broadcast.Initialize(runCtx); err != nil {
		cancel()
		return err
	}

	w.spawn(func() { w.dispatcher.Run(runCtx) })
	w.spawn(func() { w.reclaimer.Run(runCtx) })
	w.spawn(func() { w.promoter.Run(runCtx) })
	w.spawn(func() { w.broadcast.Run(runCtx) })
	w.spawn(func() { w.runBroadcastCleanup(runCtx) })
	if w.metrics != nil {
		w.spawn(func() { w.runMetricsCollection(runCtx) })
	}

	logger.Log.Info().Str("workerId", w.cfg.Dispatcher.WorkerID).Msg("worker started")
	return nil
}

func (w *Worker) spawn(fn func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

func (w *Worker) runBroadcastCleanup(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Dispatcher.ReclaimerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.broadcast.Cleanup(ctx); err != nil {
				logger.Log.Error().Err(err).Msg("broadcast cleanup failed")
			}
		}
	}
}

func (w *Worker) runMetricsCollection(ctx context.Context) {
	ticker := time.NewTicker(metricsCollectionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depths, err := w.inspector.Depths(ctx)
			if err != nil {
				logger.Log.Error().Err(err).Msg("failed to collect queue depths")
				continue
			}
			for stream, n := range depths.Streams {
				w.metrics.QueueDepth.WithLabelValues(stream).Set(float64(n))
			}
		}
	}
}

// Stop stops the dispatcher's read loop, waits up to the configured
// grace period for in-flight handlers to finish, then cancels the
// remaining loops (reclaimer, promoter, broadcast) and waits for them to
// return. Those loops keep running during the grace period. Any handler
// still running past the grace period is left pending for another
// worker's reclaimer.
func (w *Worker) Stop() {
	if w.cancel == nil {
		return
	}
	logger.Log.Info().Msg("worker stopping, draining in-flight handlers")
	w.dispatcher.Stop()
	w.dispatcher.AwaitDrain(w.cfg.Dispatcher.GracePeriod)
	w.cancel()
	w.wg.Wait()
	logger.Log.Info().Msg("worker stopped")
}
