// Package main implements the backstage worker process.
//
// The worker dispatches tasks from the priority streams, reclaims
// entries abandoned by crashed workers, promotes due delayed tasks,
// and fans broadcast tasks out to every running worker, all against a
// shared Redis-compatible backing store.
//
// Features:
//   - Concurrent handler execution bounded by a configurable semaphore
//   - Prometheus metrics exposed on :8080/metrics
//   - Automatic reclaim-and-redeliver with dead-letter routing
//   - Delayed-task promotion and broadcast fan-out
//   - Graceful shutdown draining in-flight handlers
//
// Usage:
//
//	go run cmd/worker/main.go
//
// The worker connects to Redis at localhost:6379 and exposes metrics at
// localhost:8080.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vyr-e/backstage/pkg/broker"
	"github.com/vyr-e/backstage/pkg/logger"
	"github.com/vyr-e/backstage/pkg/tasks"
)

func main() {
	cfg := broker.DefaultConfig()
	store := broker.NewStore(cfg.Connection)
	defer store.Close()

	registry := prometheus.NewRegistry()
	metrics := broker.NewMetrics(registry)

	worker := broker.NewWorker(store, cfg, metrics)
	registerExampleHandlers(worker)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		logger.Log.Info().Msg("metrics server listening on :8080")
		if err := http.ListenAndServe(":8080", mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := worker.Start(ctx); err != nil {
		logger.Log.Fatal().Err(err).Msg("worker failed to start")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-sigChan

	logger.Log.Info().Msg("shutdown signal received")
	worker.Stop()
}

// registerExampleHandlers wires a handful of demonstration task types
// so the worker is runnable out of the box. Real deployments register
// their own handlers in place of these.
func registerExampleHandlers(w *broker.Worker) {
	w.Register("example:log", func(ctx context.Context, t *tasks.Task) (tasks.Result, error) {
		logger.Log.Info().Str("payload", t.Payload).Msg("example:log task executed")
		return tasks.Done(), nil
	})

	w.Register("example:chain-start", func(ctx context.Context, t *tasks.Task) (tasks.Result, error) {
		logger.Log.Info().Str("payload", t.Payload).Msg("example:chain-start task executed")
		return tasks.Chain("example:chain-finish", t.Payload), nil
	})

	w.Register("example:chain-finish", func(ctx context.Context, t *tasks.Task) (tasks.Result, error) {
		logger.Log.Info().Str("payload", t.Payload).Msg("example:chain-finish task executed")
		return tasks.Done(), nil
	})
}
