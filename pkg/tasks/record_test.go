package tasks

import "testing"

func TestScheduledRecordEncodeDecode(t *testing.T) {
	record := &ScheduledRecord{
		TaskName:   "email:send",
		Payload:    `{"to":"a@b.com"}`,
		EnqueuedAt: 1700000000000,
		StreamKey:  "backstage:default",
		Priority:   "default",
		Attempts:   1,
		Timeout:    5000,
	}

	encoded, err := record.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := DecodeScheduledRecord(encoded)
	if err != nil {
		t.Fatalf("DecodeScheduledRecord failed: %v", err)
	}

	if decoded.TaskName != record.TaskName || decoded.StreamKey != record.StreamKey {
		t.Errorf("decoded = %+v, want %+v", decoded, record)
	}
}

func TestDecodeScheduledRecordMalformed(t *testing.T) {
	if _, err := DecodeScheduledRecord("not json"); err == nil {
		t.Fatal("expected error decoding malformed record")
	}
}

func TestScheduledRecordTaskReconstruction(t *testing.T) {
	record := &ScheduledRecord{
		TaskName:   "email:send",
		Payload:    "payload",
		EnqueuedAt: 42,
		Attempts:   3,
		Timeout:    2000,
	}

	task := record.Task()
	if task.TaskName != record.TaskName {
		t.Errorf("TaskName = %q, want %q", task.TaskName, record.TaskName)
	}
	if task.Attempts != record.Attempts {
		t.Errorf("Attempts = %d, want %d", task.Attempts, record.Attempts)
	}
	if task.Timeout.Milliseconds() != record.Timeout {
		t.Errorf("Timeout = %v, want %dms", task.Timeout, record.Timeout)
	}
}

func TestScheduledRecordTaskReconstructionNoTimeout(t *testing.T) {
	record := &ScheduledRecord{TaskName: "noop", EnqueuedAt: 1}
	task := record.Task()
	if task.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0", task.Timeout)
	}
}
