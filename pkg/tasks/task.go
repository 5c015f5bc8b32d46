// Package tasks defines the wire-level task record shared by producers
// and workers, and the handler contract workers register against it.
//
// A Task Record is carried as an ordered field map on every stream
// message: taskName, payload, enqueuedAt are always present and always
// first, in that order, so that heterogeneous implementations reading
// the same stream agree on field position. payload is an opaque
// string; an empty payload is encoded as the four-character string
// "null".
package tasks

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Priority is one of the three built-in tiers. A custom named queue is
// represented separately by EnqueueOptions.Queue and is never a Priority
// value.
type Priority string

const (
	PriorityUrgent  Priority = "urgent"
	PriorityDefault Priority = "default"
	PriorityLow     Priority = "low"
)

// NullPayload is the wire representation of an empty/absent payload.
const NullPayload = "null"

// Task is the decoded form of a Task Record.
type Task struct {
	TaskName   string
	Payload    string
	EnqueuedAt int64 // milliseconds since epoch
	Attempts   int   // 0 means "not set" on the wire
	Backoff    *BackoffPolicy
	Timeout    time.Duration // 0 means "not set" on the wire
}

// BackoffType selects the retry delay growth curve.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// BackoffPolicy is serialized into the wire "backoff" field as JSON.
type BackoffPolicy struct {
	Type     BackoffType   `json:"type"`
	Delay    time.Duration `json:"delay"`
	MaxDelay time.Duration `json:"maxDelay"`
}

// Encode renders the policy as its wire string form.
func (b *BackoffPolicy) Encode() (string, error) {
	if b == nil {
		return "", nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("tasks: encode backoff: %w", err)
	}
	return string(data), nil
}

// DecodeBackoff parses a wire "backoff" field value. An empty string
// yields a nil policy.
func DecodeBackoff(raw string) (*BackoffPolicy, error) {
	if raw == "" {
		return nil, nil
	}
	var b BackoffPolicy
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("tasks: decode backoff: %w", err)
	}
	return &b, nil
}

// NextDelay computes the delay before the (1-indexed) retryCount-th
// retry. For BackoffFixed it always returns Delay; for
// BackoffExponential it returns Delay*2^(retryCount-1), capped at
// MaxDelay when MaxDelay > 0.
func (b *BackoffPolicy) NextDelay(retryCount int) time.Duration {
	if b == nil || retryCount < 1 {
		return 0
	}
	d := b.Delay
	if b.Type == BackoffExponential {
		d = b.Delay * time.Duration(1<<uint(retryCount-1))
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}

// WireFields renders the task as the ordered flat key/value slice
// XAdd expects, preserving the taskName, payload, enqueuedAt,
// [attempts], [backoff], [timeout] field order the spec requires for
// cross-implementation compatibility.
func (t *Task) WireFields() ([]interface{}, error) {
	payload := t.Payload
	if payload == "" {
		payload = NullPayload
	}
	fields := []interface{}{
		"taskName", t.TaskName,
		"payload", payload,
		"enqueuedAt", strconv.FormatInt(t.EnqueuedAt, 10),
	}
	if t.Attempts > 0 {
		fields = append(fields, "attempts", strconv.Itoa(t.Attempts))
	}
	if t.Backoff != nil {
		enc, err := t.Backoff.Encode()
		if err != nil {
			return nil, err
		}
		fields = append(fields, "backoff", enc)
	}
	if t.Timeout > 0 {
		fields = append(fields, "timeout", strconv.FormatInt(t.Timeout.Milliseconds(), 10))
	}
	return fields, nil
}

// FromWireValues decodes a stream message's field map (as returned by
// go-redis, whose XMessage.Values values are always strings for data
// written by WireFields) back into a Task.
func FromWireValues(values map[string]interface{}) (*Task, error) {
	t := &Task{}

	taskName, _ := values["taskName"].(string)
	if taskName == "" {
		return nil, fmt.Errorf("tasks: missing taskName field")
	}
	t.TaskName = taskName

	payload, _ := values["payload"].(string)
	t.Payload = payload

	if raw, ok := values["enqueuedAt"].(string); ok {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("tasks: invalid enqueuedAt field: %w", err)
		}
		t.EnqueuedAt = ms
	}

	if raw, ok := values["attempts"].(string); ok && raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("tasks: invalid attempts field: %w", err)
		}
		t.Attempts = n
	}

	if raw, ok := values["backoff"].(string); ok && raw != "" {
		b, err := DecodeBackoff(raw)
		if err != nil {
			return nil, err
		}
		t.Backoff = b
	}

	if raw, ok := values["timeout"].(string); ok && raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("tasks: invalid timeout field: %w", err)
		}
		t.Timeout = time.Duration(ms) * time.Millisecond
	}

	return t, nil
}
