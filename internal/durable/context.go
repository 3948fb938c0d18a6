package durable

import (
	"context"
	"time"
)

// Context is handed to every handler invocation. It carries the invocation's
// cancellation and deadline, and exposes the durable primitives.
type Context interface {
	context.Context

	// InvocationID identifies the invocation across retries and resumes.
	InvocationID() string

	// Run executes fn at most once per name within the invocation. When a
	// result for name is already recorded, it is returned without calling fn.
	Run(name string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error)

	// Sleep suspends the invocation for d. The wake-up time is recorded, so a
	// replayed invocation only waits for whatever is left of d.
	Sleep(d time.Duration) error
}

// ObjectSharedContext is the context of a shared (read-only) object handler.
// Shared handlers on the same key may run concurrently with each other.
type ObjectSharedContext interface {
	Context

	// Key returns the object identity the invocation is routed to.
	Key() string

	// Get reads a single state entry. The bool reports whether it exists.
	Get(stateKey string) ([]byte, bool, error)
}

// ObjectContext is the context of an exclusive object handler. No other handler
// runs on the same key while an exclusive handler is active.
type ObjectContext interface {
	ObjectSharedContext

	Set(stateKey string, value []byte) error
	Clear(stateKey string) error
	ClearAll() error
}
