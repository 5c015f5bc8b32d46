// Package broker implements the backstage delivery engine: the
// stream-based priority dispatcher, the pending-entry reclaimer, the
// delayed-task promoter, the deduplication guard, the broadcast
// fan-out, and the workflow-chain continuation mechanism, all sharing
// a Redis-compatible backing store as their only state.
package broker

import (
	"fmt"
	"os"
	"time"
)

// Defaults mirror the spec's configuration envelope (section 6).
const (
	DefaultPrefix                = "backstage"
	DefaultConsumerGroup         = "backstage-workers"
	DefaultBlockTimeout          = 5 * time.Second
	DefaultReclaimerInterval     = 30 * time.Second
	DefaultIdleTimeout           = 60 * time.Second
	DefaultMaxDeliveries         = 5
	DefaultGracePeriod           = 30 * time.Second
	DefaultPrefetch              = 10
	DefaultConcurrency           = 50
	DefaultConsumerIdleThreshold = time.Hour
	DefaultPromoterInterval      = time.Second
)

// ConnectionConfig describes how to reach the backing store.
type ConnectionConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// Prefix namespaces every key this package creates. Defaults to
	// DefaultPrefix.
	Prefix string
}

// Addr returns the host:port form go-redis expects.
func (c ConnectionConfig) Addr() string {
	if c.Host == "" && c.Port == 0 {
		return "127.0.0.1:6379"
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c ConnectionConfig) prefixOrDefault() string {
	if c.Prefix == "" {
		return DefaultPrefix
	}
	return c.Prefix
}

// CustomQueue names a named queue stream and its dispatch priority
// relative to other custom queues. Lower Priority values are consumed
// first, but every custom queue is still consumed strictly after the
// three built-in tiers (urgent, default, low).
type CustomQueue struct {
	Name     string
	Priority int
}

// DispatcherConfig controls a worker's stream dispatch loop and
// reclaimer. The promoter's cadence is not set here (see
// DefaultPromoterInterval and Promoter.WithInterval).
type DispatcherConfig struct {
	ConsumerGroup     string
	WorkerID          string
	BlockTimeout      time.Duration
	ReclaimerInterval time.Duration
	IdleTimeout       time.Duration
	MaxDeliveries     int64
	GracePeriod       time.Duration
	Prefetch          int64
	Concurrency       int64
	CustomQueues      []CustomQueue
}

func (d DispatcherConfig) withDefaults() DispatcherConfig {
	if d.ConsumerGroup == "" {
		d.ConsumerGroup = DefaultConsumerGroup
	}
	if d.WorkerID == "" {
		d.WorkerID = defaultWorkerID()
	}
	if d.BlockTimeout <= 0 {
		d.BlockTimeout = DefaultBlockTimeout
	}
	if d.ReclaimerInterval <= 0 {
		d.ReclaimerInterval = DefaultReclaimerInterval
	}
	if d.IdleTimeout <= 0 {
		d.IdleTimeout = DefaultIdleTimeout
	}
	if d.MaxDeliveries <= 0 {
		d.MaxDeliveries = DefaultMaxDeliveries
	}
	if d.GracePeriod <= 0 {
		d.GracePeriod = DefaultGracePeriod
	}
	if d.Prefetch <= 0 {
		d.Prefetch = DefaultPrefetch
	}
	if d.Concurrency <= 0 {
		d.Concurrency = DefaultConcurrency
	}
	return d
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// BroadcastConfig controls a worker's broadcast consumer group and
// stale-group reaper.
type BroadcastConfig struct {
	ConsumerIdleThreshold time.Duration
	BlockTimeout          time.Duration
	// MinGroupAge gates the stale-group reaper so it never destroys a
	// group younger than this, avoiding the race where a group has
	// been created but not yet attached a consumer.
	MinGroupAge time.Duration
}

func (b BroadcastConfig) withDefaults() BroadcastConfig {
	if b.ConsumerIdleThreshold <= 0 {
		b.ConsumerIdleThreshold = DefaultConsumerIdleThreshold
	}
	if b.BlockTimeout <= 0 {
		b.BlockTimeout = DefaultBlockTimeout
	}
	if b.MinGroupAge <= 0 {
		b.MinGroupAge = DefaultReclaimerInterval
	}
	return b
}

// Config is the configuration envelope recognized by both worker and
// producer.
type Config struct {
	Connection ConnectionConfig
	Dispatcher DispatcherConfig
	Broadcast  BroadcastConfig
}

// DefaultConfig returns a Config with every field set to the spec's
// documented default.
func DefaultConfig() Config {
	return Config{
		Connection: ConnectionConfig{Host: "127.0.0.1", Port: 6379, Prefix: DefaultPrefix},
		Dispatcher: DispatcherConfig{}.withDefaults(),
		Broadcast:  BroadcastConfig{}.withDefaults(),
	}
}

// withDefaults returns a copy of cfg with every unset field filled in.
func (c Config) withDefaults() Config {
	if c.Connection.Prefix == "" {
		c.Connection.Prefix = DefaultPrefix
	}
	c.Dispatcher = c.Dispatcher.withDefaults()
	c.Broadcast = c.Broadcast.withDefaults()
	return c
}
