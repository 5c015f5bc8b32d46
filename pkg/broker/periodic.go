package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/vyr-e/backstage/pkg/logger"
	"github.com/vyr-e/backstage/pkg/tasks"
)

// PeriodicProducer enqueues a task on a cron schedule by asking the
// cron library for the next due time and, when reached, calling the
// ordinary Producer.Enqueue path.
type PeriodicProducer struct {
	producer *Producer
	cron     *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewPeriodicProducer builds a PeriodicProducer. Call Start to begin
// running scheduled entries and Stop to drain it on shutdown.
func NewPeriodicProducer(producer *Producer) *PeriodicProducer {
	return &PeriodicProducer{
		producer: producer,
		cron:     cron.New(cron.WithSeconds()),
		entries:  make(map[string]cron.EntryID),
	}
}

// Schedule registers taskName to be enqueued with payload and opts
// every time cronExpr fires. name identifies the entry for later
// Unschedule calls; registering the same name twice replaces the
// earlier entry.
func (p *PeriodicProducer) Schedule(name, cronExpr, taskName, payload string, opts tasks.EnqueueOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, exists := p.entries[name]; exists {
		p.cron.Remove(id)
		delete(p.entries, name)
	}

	id, err := p.cron.AddFunc(cronExpr, func() {
		ctx := context.Background()
		if _, err := p.producer.Enqueue(ctx, taskName, payload, opts); err != nil {
			logger.Log.Error().Err(err).Str("entry", name).Str("taskName", taskName).
				Msg("periodic enqueue failed")
		}
	})
	if err != nil {
		return fmt.Errorf("broker: schedule %q: %w", name, err)
	}

	p.entries[name] = id
	return nil
}

// Unschedule removes a previously scheduled entry. A no-op if name is
// not registered.
func (p *PeriodicProducer) Unschedule(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, exists := p.entries[name]; exists {
		p.cron.Remove(id)
		delete(p.entries, name)
	}
}

// Start begins running scheduled entries in the background.
func (p *PeriodicProducer) Start() {
	p.cron.Start()
}

// Stop cancels the scheduler's timer and waits for any running entry
// to complete.
func (p *PeriodicProducer) Stop() {
	<-p.cron.Stop().Done()
}
