// Package taskmanager implements C9: a bounded-queue worker pool executing
// long-running operations dispatched by type (cmd/server registers
// crawl-docs, analyze-code and debug-issue), with per-task state persisted to a sidecar before
// subscribers are notified so restart-time state matches what was last seen.
package taskmanager

import (
	"context"
	"time"
)

// State is one of §4.9's task lifecycle states.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCanceled
}

// Task is the unit of work tracked by the Manager.
type Task struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Input      map[string]interface{} `json:"input"`
	State      State                  `json:"state"`
	Attempts   int                    `json:"attempts"`
	Result     interface{}            `json:"result,omitempty"`
	ErrorKind  string                 `json:"error_kind,omitempty"`
	Error      string                 `json:"error,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Handler executes one task of a given type. ctx is canceled on Cancel()
// against a running task, so handlers must respect it cooperatively.
// A RetryableError return re-enqueues the task (subject to the type's retry
// limit); any other error terminates it as failed.
type Handler func(ctx context.Context, input map[string]interface{}) (interface{}, error)
