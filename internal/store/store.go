package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/doss/internal/model"
)

var (
	// ErrInvalidTransition is returned when an invocation status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDuplicateEntry is returned when a journal entry name is recorded twice
	// for the same invocation.
	ErrDuplicateEntry = errors.New("journal entry already recorded")
)

// InvocationStats holds aggregate invocation statistics.
type InvocationStats struct {
	Total          int            `json:"total"`
	CountByStatus  map[string]int `json:"count_by_status"`
	CountByService map[string]int `json:"count_by_service"`
	AvgDurationMS  float64        `json:"avg_duration_ms"`
}

// StateStore persists keyed object state. Entries are scoped by service name
// and object key; stateKey addresses one entry within that scope.
type StateStore interface {
	GetState(ctx context.Context, service, objectKey, stateKey string) ([]byte, bool, error)
	SetState(ctx context.Context, service, objectKey, stateKey string, value []byte) error
	ClearState(ctx context.Context, service, objectKey, stateKey string) error
	ClearAllState(ctx context.Context, service, objectKey string) error
	Close() error
}

// Store defines the persistence operations for invocations and their journals.
type Store interface {
	CreateInvocation(ctx context.Context, inv *model.Invocation) error
	GetInvocation(ctx context.Context, id string) (*model.Invocation, error)
	FindInvocation(ctx context.Context, service, handler, objectKey, idempotencyKey string) (*model.Invocation, error)
	MarkRunning(ctx context.Context, id string) (*model.Invocation, error)
	FinishInvocation(ctx context.Context, inv *model.Invocation) error
	InterruptUnfinished(ctx context.Context) (int64, error)
	GetInvocationStats(ctx context.Context) (*InvocationStats, error)
	PruneInvocations(ctx context.Context, finishedBefore time.Time) (int64, error)

	GetJournalEntry(ctx context.Context, invocationID, name string) (*model.JournalEntry, error)
	AppendJournalEntry(ctx context.Context, invocationID, name string, value []byte) error
	ListJournal(ctx context.Context, invocationID string) ([]model.JournalEntry, error)

	Ping(ctx context.Context) error
	Close() error
}
