package model

import (
	"encoding/json"
	"time"
)

// TaskKind identifies which handler processes a queued task.
type TaskKind string

const (
	// TaskCreateProviderCall asks the voice provider to place a call that
	// already exists locally in initiated state.
	TaskCreateProviderCall TaskKind = "call.provider_create"

	// TaskMeetingFollowUp sends the booking confirmation after a meeting
	// has been finalized.
	TaskMeetingFollowUp TaskKind = "meeting.follow_up"
)

// Task is one durable unit of deferred work. Delivery is at-least-once, so
// every handler must be idempotent.
type Task struct {
	ID         string          `json:"id"`
	Kind       TaskKind        `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	NextRunAt  time.Time       `json:"next_run_at"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
