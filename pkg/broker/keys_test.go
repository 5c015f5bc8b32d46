package broker

import (
	"testing"

	"github.com/vyr-e/backstage/pkg/tasks"
)

func TestKeySpaceFormatting(t *testing.T) {
	k := newKeySpace("backstage")

	if got := k.priorityStream(tasks.PriorityUrgent); got != "backstage:urgent" {
		t.Errorf("priorityStream = %q, want backstage:urgent", got)
	}
	if got := k.queueStream("reports"); got != "backstage:reports" {
		t.Errorf("queueStream = %q, want backstage:reports", got)
	}
	if got := k.scheduled(); got != "backstage:scheduled" {
		t.Errorf("scheduled = %q, want backstage:scheduled", got)
	}
	if got := k.deadLetter(tasks.PriorityLow); got != "backstage:low:dead-letter" {
		t.Errorf("deadLetter = %q, want backstage:low:dead-letter", got)
	}
	if got := k.broadcast(); got != "backstage:broadcast" {
		t.Errorf("broadcast = %q, want backstage:broadcast", got)
	}
	if got := k.dedupe("abc"); got != "backstage:dedupe:abc" {
		t.Errorf("dedupe = %q, want backstage:dedupe:abc", got)
	}
}

func TestNewKeySpaceDefaultsPrefix(t *testing.T) {
	k := newKeySpace("")
	if got := k.scheduled(); got != DefaultPrefix+":scheduled" {
		t.Errorf("scheduled = %q, want %s:scheduled", got, DefaultPrefix)
	}
}

func TestBroadcastGroupName(t *testing.T) {
	if got := broadcastGroupName("worker-1"); got != "broadcast-worker-1" {
		t.Errorf("broadcastGroupName = %q, want broadcast-worker-1", got)
	}
}

func TestResolveStreamOrder(t *testing.T) {
	keys := newKeySpace("backstage")
	custom := []CustomQueue{{Name: "reports", Priority: 2}, {Name: "imports", Priority: 1}}

	streams := resolveStreamOrder(keys, custom)
	want := []string{
		"backstage:urgent",
		"backstage:default",
		"backstage:low",
		"backstage:imports",
		"backstage:reports",
	}

	if len(streams) != len(want) {
		t.Fatalf("got %d streams, want %d: %v", len(streams), len(want), streams)
	}
	for i, s := range want {
		if streams[i] != s {
			t.Errorf("streams[%d] = %q, want %q", i, streams[i], s)
		}
	}
}
