package durable

import (
	"context"
	"encoding/json"
	"fmt"
)

// Run is the typed form of Context.Run. The result is recorded as JSON.
func Run[T any](ctx Context, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	data, err := ctx.Run(name, func(runCtx context.Context) ([]byte, error) {
		v, err := fn(runCtx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, fmt.Errorf("decode recorded result %q: %w", name, err)
	}
	return out, nil
}

// Get reads and decodes a state entry.
func Get[T any](ctx ObjectSharedContext, stateKey string) (T, bool, error) {
	var out T
	data, ok, err := ctx.Get(stateKey)
	if err != nil || !ok {
		return out, ok, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, true, fmt.Errorf("decode state %q: %w", stateKey, err)
	}
	return out, true, nil
}

// Set encodes v as JSON and writes it as a state entry.
func Set[T any](ctx ObjectContext, stateKey string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode state %q: %w", stateKey, err)
	}
	return ctx.Set(stateKey, data)
}
