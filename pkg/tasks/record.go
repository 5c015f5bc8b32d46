package tasks

import (
	"encoding/json"
	"fmt"
	"time"
)

// ScheduledRecord is the JSON object stored as a member of the delayed
// sorted set. It carries the full task record plus enough routing
// information (StreamKey, falling back to Priority) to reconstruct a
// valid stream message when it comes due.
type ScheduledRecord struct {
	TaskName   string `json:"taskName"`
	Payload    string `json:"payload"`
	EnqueuedAt int64  `json:"enqueuedAt"`
	StreamKey  string `json:"streamKey"`
	Priority   string `json:"priority,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	Backoff    string `json:"backoff,omitempty"`
	Timeout    int64  `json:"timeout,omitempty"` // milliseconds, 0 means unset
}

// Encode serializes the record to its JSON wire form.
func (r *ScheduledRecord) Encode() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("tasks: encode scheduled record: %w", err)
	}
	return string(data), nil
}

// DecodeScheduledRecord parses a delayed-set member. A decode failure
// is the caller's cue to defensively leave the member in place rather
// than lose it.
func DecodeScheduledRecord(raw string) (*ScheduledRecord, error) {
	var r ScheduledRecord
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("tasks: decode scheduled record: %w", err)
	}
	return &r, nil
}

// Task reconstructs the canonical Task carried by this record.
func (r *ScheduledRecord) Task() *Task {
	t := &Task{
		TaskName:   r.TaskName,
		Payload:    r.Payload,
		EnqueuedAt: r.EnqueuedAt,
		Attempts:   r.Attempts,
	}
	if r.Timeout > 0 {
		t.Timeout = time.Duration(r.Timeout) * time.Millisecond
	}
	if r.Backoff != "" {
		if b, err := DecodeBackoff(r.Backoff); err == nil {
			t.Backoff = b
		}
	}
	return t
}
