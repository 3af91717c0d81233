package types

import (
	"encoding/json"
	"time"
)

// TaskStatus is the eight-state task lifecycle of §4.4.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "OPEN"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskBlocked    TaskStatus = "BLOCKED"
	TaskBackground TaskStatus = "BACKGROUND"
	TaskComplete   TaskStatus = "COMPLETE"
	TaskError      TaskStatus = "ERROR"
	TaskCancelled  TaskStatus = "CANCELLED"
	TaskDead       TaskStatus = "DEAD"
)

// Terminal reports whether status is one of the three final states.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskComplete, TaskCancelled, TaskDead:
		return true
	default:
		return false
	}
}

// TaskRecord is a durable unit of work dispatched by the scheduler.
type TaskRecord struct {
	ID          string
	TenantID    string
	ParentID    string // empty for a root task
	Type        string // names the registered lifecycle callback
	Status      TaskStatus
	Priority    int
	Input       json.RawMessage
	Output      json.RawMessage
	Retryable   bool
	RetryCount  int
	MaxRetries  int
	Executor    string // node id holding the claim, empty unless IN_PROGRESS
	CreatedAt   time.Time
	ClaimedAt   *time.Time
	CompletedAt *time.Time
	ExpiresAt   *time.Time // required for BACKGROUND
}

// TaskDependency is a task→task edge recorded when a task transitions
// to BLOCKED: Parent waits for Subtask to reach COMPLETE.
type TaskDependency struct {
	ParentID   string
	SubtaskID  string
	ResolvedAt *time.Time
}

// ResourceDependency is a task-type→resource edge, declared statically
// on the task type and inserted atomically with the task row at
// submit time. MaxConcurrency of 0 means unbounded.
type ResourceDependency struct {
	TaskType       string
	ResourceName   string
	MaxConcurrency int
}

// TaskErrorDetail is the serialized form stored in an ERROR/DEAD
// task's Output column.
type TaskErrorDetail struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// OutcomeKind discriminates the four Outcome variants a lifecycle
// callback can return.
type OutcomeKind string

const (
	OutcomeComplete    OutcomeKind = "complete"
	OutcomeBlocked     OutcomeKind = "blocked"
	OutcomeBackground  OutcomeKind = "background"
	OutcomeFailed      OutcomeKind = "failed"
)

// Outcome is the tagged result of a task lifecycle callback
// (onStart/onResume/onError). Exactly one payload is populated,
// selected by Kind.
type Outcome struct {
	Kind OutcomeKind

	// OutcomeComplete
	Output json.RawMessage

	// OutcomeBlocked
	SubtaskIDs []string

	// OutcomeBackground
	BackgroundReason  string
	BackgroundTimeout time.Duration

	// OutcomeFailed
	Err *TaskErrorDetail
}

// Complete builds a Complete(output) outcome.
func Complete(output json.RawMessage) Outcome {
	return Outcome{Kind: OutcomeComplete, Output: output}
}

// Blocked builds a Blocked(subtaskIds) outcome.
func Blocked(subtaskIDs ...string) Outcome {
	return Outcome{Kind: OutcomeBlocked, SubtaskIDs: subtaskIDs}
}

// Background builds a Background(reason, timeout) outcome.
func Background(reason string, timeout time.Duration) Outcome {
	return Outcome{Kind: OutcomeBackground, BackgroundReason: reason, BackgroundTimeout: timeout}
}

// Failed builds a Failed(error) outcome.
func Failed(message string, retryable bool) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: &TaskErrorDetail{Message: message, Retryable: retryable}}
}
