// Package main provides a load-generation tool for backstage: it
// enqueues a configurable number of tasks across a pool of concurrent
// producers and reports throughput and drain time.
//
// Usage:
//
//	go run cmd/producer/main.go -tasks 100000
package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyr-e/backstage/pkg/broker"
	"github.com/vyr-e/backstage/pkg/tasks"
)

func main() {
	numTasks := flag.Int("tasks", 100000, "Number of tasks to enqueue")
	numProducers := flag.Int("producers", 10, "Number of concurrent enqueuers")
	priority := flag.String("priority", string(tasks.PriorityDefault), "Priority tier to enqueue on")
	flag.Parse()

	cfg := broker.DefaultConfig()
	store := broker.NewStore(cfg.Connection)
	defer store.Close()

	producer := broker.NewProducer(store)
	inspector := broker.NewInspector(store, cfg.Dispatcher)
	ctx := context.Background()

	fmt.Printf("backstage producer benchmark\n")
	fmt.Printf("=============================\n")
	fmt.Printf("Tasks to enqueue: %d\n", *numTasks)
	fmt.Printf("Concurrent producers: %d\n\n", *numProducers)

	fmt.Printf("Starting enqueue phase...\n")
	startEnqueue := time.Now()

	var wg sync.WaitGroup
	var enqueued atomic.Int64
	tasksPerProducer := *numTasks / *numProducers
	remainder := *numTasks % *numProducers

	for i := 0; i < *numProducers; i++ {
		wg.Add(1)
		count := tasksPerProducer
		if i < remainder {
			count++
		}
		go func(producerID, count int) {
			defer wg.Done()
			for j := 0; j < count; j++ {
				payload := fmt.Sprintf(`{"producer":%d,"task":%d}`, producerID, j)
				opts := tasks.EnqueueOptions{Priority: tasks.Priority(*priority)}
				if _, err := producer.Enqueue(ctx, "benchmark:noop", payload, opts); err != nil {
					fmt.Printf("error enqueuing: %v\n", err)
					return
				}
				enqueued.Add(1)
			}
		}(i, count)
	}

	wg.Wait()
	enqueueTime := time.Since(startEnqueue)

	fmt.Printf("enqueued %d tasks in %s\n", enqueued.Load(), enqueueTime)
	fmt.Printf("  throughput: %.2f tasks/sec\n\n", float64(enqueued.Load())/enqueueTime.Seconds())

	fmt.Printf("waiting for workers to drain the backlog...\n")
	startDrain := time.Now()

	for {
		remaining, err := inspector.PendingCount(ctx, cfg.Dispatcher.ConsumerGroup)
		if err != nil {
			fmt.Printf("error reading pending count: %v\n", err)
			return
		}
		if remaining == 0 {
			break
		}

		time.Sleep(2 * time.Second)
		fmt.Printf("  remaining: %d tasks\n", remaining)
	}

	drainTime := time.Since(startDrain)
	fmt.Printf("\ndrained in %s\n", drainTime)

	total := enqueueTime + drainTime
	fmt.Printf("total time: %s\n", total)
	fmt.Printf("overall throughput: %.2f tasks/sec\n", float64(*numTasks)/total.Seconds())
}
