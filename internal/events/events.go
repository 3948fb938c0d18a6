// Package events publishes invocation lifecycle events to external consumers.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	TypeCompleted   = "completed"
	TypeFailed      = "failed"
	TypeInterrupted = "interrupted"
)

// InvocationEvent reports the outcome of an invocation attempt.
type InvocationEvent struct {
	Type         string    `json:"type"`
	InvocationID string    `json:"invocation_id"`
	Service      string    `json:"service"`
	Handler      string    `json:"handler"`
	ObjectKey    string    `json:"object_key,omitempty"`
	Attempt      int       `json:"attempt"`
	DurationMS   int       `json:"duration_ms"`
	Error        string    `json:"error,omitempty"`
	Time         time.Time `json:"time"`
}

// Publisher delivers invocation events.
type Publisher interface {
	Publish(ctx context.Context, ev InvocationEvent) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, InvocationEvent) error { return nil }

func (Nop) Close() error { return nil }
