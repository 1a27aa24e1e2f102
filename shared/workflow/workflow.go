// Package workflow holds the lifecycle of a failed-write record.
package workflow

import "strings"

const (
	StatusPending   = "pending"
	StatusResolved  = "resolved"
	StatusAbandoned = "abandoned"
)

const (
	EventRecorded  = "failed_write_recorded"
	EventRetried   = "failed_write_retried"
	EventResolved  = "failed_write_resolved"
	EventAbandoned = "failed_write_abandoned"
)

// pending may loop on itself while retries remain; resolved and abandoned are terminal.
var transitions = map[string]map[string]string{
	StatusPending: {
		StatusPending:   EventRetried,
		StatusResolved:  EventResolved,
		StatusAbandoned: EventAbandoned,
	},
}

func Normalize(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

func CanTransition(from string, to string) bool {
	_, ok := transitions[Normalize(from)][Normalize(to)]
	return ok
}

func EventFor(from string, to string) string {
	return transitions[Normalize(from)][Normalize(to)]
}

// BeforeAttempt decides whether a pending record is attempted at all: at the
// retry ceiling it is abandoned without running the operation.
func BeforeAttempt(retryCount int, maxRetries int) string {
	if retryCount >= maxRetries {
		return StatusAbandoned
	}
	return StatusPending
}

func AfterAttempt(succeeded bool) string {
	if succeeded {
		return StatusResolved
	}
	return StatusPending
}

func IsTerminal(status string) bool {
	s := Normalize(status)
	return s == StatusResolved || s == StatusAbandoned
}
