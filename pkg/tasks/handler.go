package tasks

import (
	"context"
	"time"
)

// Handler is the contract a worker registers per task name. It
// receives the decoded Task and returns a Result plus an error.
//
// Per the broker's design: the error value is only ever inspected as a
// boolean success signal — its contents are never interpreted by the
// broker, only logged. A non-nil error is a handler failure: the
// message is left unacknowledged for the reclaimer. A nil error with a
// nil Result.Continuation is a terminal success: the message is
// acknowledged. A nil error with a non-nil Result.Continuation chains
// to another task: the continuation is enqueued via the Producer path
// and the current message is acknowledged.
type Handler func(ctx context.Context, t *Task) (Result, error)

// Result is a handler's outcome on success. The zero value means
// "terminal success, no continuation".
type Result struct {
	Continuation *Continuation
}

// Continuation describes the next task in a workflow chain.
type Continuation struct {
	// Next is the task name to enqueue.
	Next string
	// Delay, if positive, routes the continuation through the delayed
	// set; otherwise it is enqueued immediately at default priority.
	Delay time.Duration
	// Payload is the opaque payload for the next task. An empty value
	// is encoded as NullPayload.
	Payload string
}

// Chain builds a terminal-free Result continuing to next with the
// given payload and no delay.
func Chain(next, payload string) Result {
	return Result{Continuation: &Continuation{Next: next, Payload: payload}}
}

// ChainDelayed builds a Result continuing to next after delay.
func ChainDelayed(next, payload string, delay time.Duration) Result {
	return Result{Continuation: &Continuation{Next: next, Payload: payload, Delay: delay}}
}

// Done is the terminal-success Result: acknowledge, no continuation.
func Done() Result {
	return Result{}
}
