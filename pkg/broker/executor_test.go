package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vyr-e/backstage/pkg/tasks"
)

const testGroup = "test-workers"

func enqueueAndClaim(t *testing.T, store *Store, streamKey, taskName, payload string) redis.XMessage {
	t.Helper()
	ctx := context.Background()

	producer := NewProducer(store)
	if _, err := producer.Enqueue(ctx, taskName, payload, tasks.EnqueueOptions{}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if err := store.Client().XGroupCreateMkStream(ctx, streamKey, testGroup, "0").Err(); err != nil {
		t.Fatalf("create group failed: %v", err)
	}

	result, err := store.Client().XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    testGroup,
		Consumer: "test-consumer",
		Streams:  []string{streamKey, ">"},
		Count:    1,
	}).Result()
	if err != nil {
		t.Fatalf("XReadGroup failed: %v", err)
	}
	return result[0].Messages[0]
}

func TestExecutorSuccessAcksMessage(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()
	streamKey := "backstage:default"
	msg := enqueueAndClaim(t, store, streamKey, "email:send", "payload")

	executor := NewExecutor(store, NewProducer(store))
	var invoked int32
	executor.Register("email:send", func(ctx context.Context, tk *tasks.Task) (tasks.Result, error) {
		atomic.AddInt32(&invoked, 1)
		return tasks.Done(), nil
	})

	executor.Execute(ctx, streamKey, testGroup, msg)

	if atomic.LoadInt32(&invoked) != 1 {
		t.Fatalf("handler invoked %d times, want 1", invoked)
	}

	pending, err := store.Client().XPending(ctx, streamKey, testGroup).Result()
	if err != nil {
		t.Fatalf("XPending failed: %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("pending count = %d, want 0 after ack", pending.Count)
	}
}

func TestExecutorFailureLeavesMessagePending(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()
	streamKey := "backstage:default"
	msg := enqueueAndClaim(t, store, streamKey, "email:send", "payload")

	executor := NewExecutor(store, NewProducer(store))
	executor.Register("email:send", func(ctx context.Context, tk *tasks.Task) (tasks.Result, error) {
		return tasks.Result{}, errors.New("smtp unavailable")
	})

	executor.Execute(ctx, streamKey, testGroup, msg)

	pending, err := store.Client().XPending(ctx, streamKey, testGroup).Result()
	if err != nil {
		t.Fatalf("XPending failed: %v", err)
	}
	if pending.Count != 1 {
		t.Errorf("pending count = %d, want 1 (failed handler must not ack)", pending.Count)
	}
}

func TestExecutorUnknownTaskIsAckedAndDiscarded(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()
	streamKey := "backstage:default"
	msg := enqueueAndClaim(t, store, streamKey, "no-such-handler", "payload")

	executor := NewExecutor(store, NewProducer(store))
	executor.Execute(ctx, streamKey, testGroup, msg)

	pending, err := store.Client().XPending(ctx, streamKey, testGroup).Result()
	if err != nil {
		t.Fatalf("XPending failed: %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("pending count = %d, want 0 (unknown task should be acked and discarded)", pending.Count)
	}
}

func TestExecutorContinuationChainsAndAcks(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()
	streamKey := "backstage:default"
	msg := enqueueAndClaim(t, store, streamKey, "workflow:start", "payload")

	executor := NewExecutor(store, NewProducer(store))
	executor.Register("workflow:start", func(ctx context.Context, tk *tasks.Task) (tasks.Result, error) {
		return tasks.Chain("workflow:finish", "next-payload"), nil
	})

	executor.Execute(ctx, streamKey, testGroup, msg)

	pending, err := store.Client().XPending(ctx, streamKey, testGroup).Result()
	if err != nil {
		t.Fatalf("XPending failed: %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("pending count = %d, want 0 after chain+ack", pending.Count)
	}

	length, _ := store.Client().XLen(ctx, streamKey).Result()
	if length != 2 {
		t.Errorf("stream length = %d, want 2 (original + chained continuation)", length)
	}
}

func TestExecutorHandlerTimeout(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()
	streamKey := "backstage:default"

	producer := NewProducer(store)
	if _, err := producer.Enqueue(ctx, "slow:task", "payload", tasks.EnqueueOptions{Timeout: 10 * time.Millisecond}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := store.Client().XGroupCreateMkStream(ctx, streamKey, testGroup, "0").Err(); err != nil {
		t.Fatalf("create group failed: %v", err)
	}
	result, err := store.Client().XReadGroup(ctx, &redis.XReadGroupArgs{
		Group: testGroup, Consumer: "c1", Streams: []string{streamKey, ">"}, Count: 1,
	}).Result()
	if err != nil {
		t.Fatalf("XReadGroup failed: %v", err)
	}
	msg := result[0].Messages[0]

	executor := NewExecutor(store, producer)
	var sawDeadline bool
	executor.Register("slow:task", func(ctx context.Context, tk *tasks.Task) (tasks.Result, error) {
		<-ctx.Done()
		sawDeadline = ctx.Err() == context.DeadlineExceeded
		return tasks.Result{}, ctx.Err()
	})

	executor.Execute(ctx, streamKey, testGroup, msg)

	if !sawDeadline {
		t.Error("handler context should have been cancelled by the task timeout")
	}
}
