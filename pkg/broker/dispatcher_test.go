package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vyr-e/backstage/pkg/tasks"
)

func TestDispatcherEnsureGroupsIsIdempotent(t *testing.T) {
	_, store := setupTestStore(t)
	producer := NewProducer(store)
	executor := NewExecutor(store, producer)
	dispatcher := NewDispatcher(store, executor, DispatcherConfig{ConsumerGroup: testGroup})

	ctx := context.Background()
	if err := dispatcher.EnsureGroups(ctx); err != nil {
		t.Fatalf("first EnsureGroups failed: %v", err)
	}
	if err := dispatcher.EnsureGroups(ctx); err != nil {
		t.Fatalf("second EnsureGroups should tolerate BUSYGROUP, got: %v", err)
	}
}

func TestDispatcherTickDeliversAndAcks(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	producer := NewProducer(store)
	if _, err := producer.Enqueue(ctx, "email:send", "payload", tasks.EnqueueOptions{}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	executor := NewExecutor(store, producer)
	var wg sync.WaitGroup
	wg.Add(1)
	executor.Register("email:send", func(ctx context.Context, tk *tasks.Task) (tasks.Result, error) {
		defer wg.Done()
		return tasks.Done(), nil
	})

	dispatcher := NewDispatcher(store, executor, DispatcherConfig{ConsumerGroup: testGroup, Concurrency: 4, Prefetch: 4, BlockTimeout: 50 * time.Millisecond})
	if err := dispatcher.EnsureGroups(ctx); err != nil {
		t.Fatalf("EnsureGroups failed: %v", err)
	}

	dispatcher.tick(ctx)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked within 1s")
	}

	pending, err := store.Client().XPending(ctx, "backstage:default", testGroup).Result()
	if err != nil {
		t.Fatalf("XPending failed: %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("pending count = %d, want 0 (dispatched task should be acked)", pending.Count)
	}
}

func TestDispatcherSubmitRespectsConcurrencyCap(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	producer := NewProducer(store)
	executor := NewExecutor(store, producer)

	release := make(chan struct{})
	var entered int32
	var maxObserved int32
	executor.Register("slow:task", func(ctx context.Context, tk *tasks.Task) (tasks.Result, error) {
		n := atomic.AddInt32(&entered, 1)
		for {
			cur := atomic.LoadInt32(&maxObserved)
			if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&entered, -1)
		return tasks.Done(), nil
	})

	dispatcher := NewDispatcher(store, executor, DispatcherConfig{ConsumerGroup: testGroup, Concurrency: 2})
	if err := dispatcher.EnsureGroups(ctx); err != nil {
		t.Fatalf("EnsureGroups failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := producer.Enqueue(ctx, "slow:task", "payload", tasks.EnqueueOptions{}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	messages, err := store.Client().XReadGroup(ctx, &redis.XReadGroupArgs{
		Group: testGroup, Consumer: "c1", Streams: []string{"backstage:default", ">"}, Count: 5,
	}).Result()
	if err != nil {
		t.Fatalf("XReadGroup failed: %v", err)
	}

	go func() {
		for _, stream := range messages {
			for _, msg := range stream.Messages {
				dispatcher.Submit(ctx, "backstage:default", testGroup, msg)
			}
		}
	}()

	deadline := time.After(time.Second)
	for atomic.LoadInt32(&entered) < 2 {
		select {
		case <-deadline:
			t.Fatal("expected 2 handlers in flight before the concurrency cap blocked the rest")
		case <-time.After(time.Millisecond):
		}
	}

	if got := atomic.LoadInt32(&maxObserved); got > 2 {
		t.Errorf("observed %d concurrent handlers, want at most 2", got)
	}

	close(release)
	dispatcher.AwaitDrain(time.Second)
}
