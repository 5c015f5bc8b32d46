package broker

import (
	"context"
	"testing"
	"time"

	"github.com/vyr-e/backstage/pkg/tasks"
)

func TestPeriodicProducerEnqueuesOnSchedule(t *testing.T) {
	_, store := setupTestStore(t)
	producer := NewProducer(store)
	pp := NewPeriodicProducer(producer)

	if err := pp.Schedule("every-second", "@every 1s", "heartbeat", tasks.NullPayload, tasks.EnqueueOptions{}); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	pp.Start()
	defer pp.Stop()

	time.Sleep(1200 * time.Millisecond)

	length, err := store.Client().XLen(context.Background(), "backstage:default").Result()
	if err != nil {
		t.Fatalf("XLen failed: %v", err)
	}
	if length < 1 {
		t.Errorf("backstage:default length = %d, want at least 1 after the schedule fired", length)
	}
}

func TestPeriodicProducerUnscheduleStopsFutureRuns(t *testing.T) {
	_, store := setupTestStore(t)
	producer := NewProducer(store)
	pp := NewPeriodicProducer(producer)

	if err := pp.Schedule("every-second", "@every 1s", "heartbeat", tasks.NullPayload, tasks.EnqueueOptions{}); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	pp.Unschedule("every-second")

	pp.Start()
	defer pp.Stop()

	time.Sleep(1200 * time.Millisecond)

	length, err := store.Client().XLen(context.Background(), "backstage:default").Result()
	if err != nil {
		t.Fatalf("XLen failed: %v", err)
	}
	if length != 0 {
		t.Errorf("backstage:default length = %d, want 0 after Unschedule", length)
	}
}

func TestPeriodicProducerRescheduleReplacesEntry(t *testing.T) {
	producer := NewProducer((*Store)(nil))
	pp := NewPeriodicProducer(producer)

	if err := pp.Schedule("job", "@every 1s", "a", tasks.NullPayload, tasks.EnqueueOptions{}); err != nil {
		t.Fatalf("first Schedule failed: %v", err)
	}
	firstID := pp.entries["job"]

	if err := pp.Schedule("job", "@every 2s", "b", tasks.NullPayload, tasks.EnqueueOptions{}); err != nil {
		t.Fatalf("second Schedule failed: %v", err)
	}
	secondID := pp.entries["job"]

	if firstID == secondID {
		t.Error("re-scheduling the same name should replace the cron entry, not keep the old one")
	}
	if len(pp.entries) != 1 {
		t.Errorf("entries = %d, want 1 (the old entry should have been removed)", len(pp.entries))
	}
}
