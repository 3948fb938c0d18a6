package model

import "time"

// Invocation status constants.
const (
	StatusPending     = "pending"
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning:     true,
		StatusFailed:      true,
		StatusInterrupted: true,
	},
	StatusRunning: {
		StatusCompleted:   true,
		StatusFailed:      true,
		StatusInterrupted: true,
	},
	StatusInterrupted: {
		StatusRunning: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether status is a final outcome that is never resumed.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Invocation is one end-to-end execution of a handler, spanning every attempt
// made under the same ID.
type Invocation struct {
	ID             string     `json:"id"`
	Service        string     `json:"service"`
	Handler        string     `json:"handler"`
	ObjectKey      string     `json:"object_key,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	Status         string     `json:"status"`
	Input          []byte     `json:"-"`
	Output         []byte     `json:"-"`
	Error          string     `json:"error,omitempty"`
	Attempts       int        `json:"attempts"`
	DurationMS     *int       `json:"duration_ms,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// JournalEntry is the recorded result of a named durable action.
type JournalEntry struct {
	InvocationID string    `json:"invocation_id"`
	Seq          int       `json:"seq"`
	Name         string    `json:"name"`
	Value        []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
