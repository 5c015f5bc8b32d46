package broker

import (
	"fmt"

	"github.com/vyr-e/backstage/pkg/tasks"
)

// keySpace resolves the §6 key schema against a configured prefix.
type keySpace struct {
	prefix string
}

func newKeySpace(prefix string) keySpace {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return keySpace{prefix: prefix}
}

func (k keySpace) priorityStream(p tasks.Priority) string {
	return fmt.Sprintf("%s:%s", k.prefix, p)
}

func (k keySpace) queueStream(queue string) string {
	return fmt.Sprintf("%s:%s", k.prefix, queue)
}

func (k keySpace) scheduled() string {
	return fmt.Sprintf("%s:scheduled", k.prefix)
}

func (k keySpace) deadLetter(p tasks.Priority) string {
	return fmt.Sprintf("%s:%s:dead-letter", k.prefix, p)
}

func (k keySpace) broadcast() string {
	return fmt.Sprintf("%s:broadcast", k.prefix)
}

func (k keySpace) dedupe(key string) string {
	return fmt.Sprintf("%s:dedupe:%s", k.prefix, key)
}

// priorityOrder is the strict evaluation order across built-in tiers.
var priorityOrder = []tasks.Priority{tasks.PriorityUrgent, tasks.PriorityDefault, tasks.PriorityLow}

func broadcastGroupName(workerID string) string {
	return fmt.Sprintf("broadcast-%s", workerID)
}
