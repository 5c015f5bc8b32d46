package tasks

import "time"

// DefaultDedupeTTL is used when EnqueueOptions.Dedupe.TTL is zero.
const DefaultDedupeTTL = time.Hour

// DedupeOptions gates an enqueue behind the atomic creation of a guard
// key. A matching key that has not yet expired causes the enqueue to be
// skipped.
type DedupeOptions struct {
	Key string
	TTL time.Duration
}

// EnqueueOptions controls how Producer.Enqueue routes and annotates a
// task. The zero value routes to PriorityDefault with no delay, no
// dedupe, and no retry metadata.
type EnqueueOptions struct {
	// Priority selects one of the three built-in tiers. Ignored if
	// Queue is set. Defaults to PriorityDefault.
	Priority Priority

	// Queue, if non-empty, overrides Priority and routes to a named
	// custom queue stream instead of a priority tier.
	Queue string

	// Delay, if non-zero, routes the task through the delayed set
	// instead of directly onto its target stream. A negative delay
	// produces an entry that is already due.
	Delay time.Duration

	// Dedupe, if non-nil, gates the enqueue on a TTL-bound guard key.
	Dedupe *DedupeOptions

	// Attempts, Backoff, Timeout carry optional retry metadata through
	// to the wire record. The broker core does not interpret Attempts or
	// Backoff itself; the Executor applies Timeout as a deadline on the
	// handler's context.
	Attempts int
	Backoff  *BackoffPolicy
	Timeout  time.Duration
}
