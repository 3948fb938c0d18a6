package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/seantiz/doss/internal/durable"
	"github.com/seantiz/doss/internal/model"
	"github.com/seantiz/doss/internal/store"
)

// sleepPrefix names journal entries written by Sleep. Handlers choose their own
// action names, so the prefix keeps the two apart.
const sleepPrefix = "sys:sleep-"

var (
	_ durable.Context             = (*invocationContext)(nil)
	_ durable.ObjectSharedContext = (*sharedContext)(nil)
	_ durable.ObjectContext       = (*objectContext)(nil)
)

// invocationContext implements durable.Context for one attempt of an invocation.
type invocationContext struct {
	context.Context

	engine *Engine
	inv    *model.Invocation
	sleeps int
}

func (c *invocationContext) InvocationID() string { return c.inv.ID }

func (c *invocationContext) Run(name string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if err := c.Err(); err != nil {
		return nil, err
	}

	if v, ok, err := c.recorded(name); err != nil || ok {
		return v, err
	}

	v, err := fn(c.Context)
	if err != nil {
		return nil, err
	}
	if err := c.record(name, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *invocationContext) Sleep(d time.Duration) error {
	if err := c.Err(); err != nil {
		return err
	}

	c.sleeps++
	name := sleepPrefix + strconv.Itoa(c.sleeps)

	v, ok, err := c.recorded(name)
	if err != nil {
		return err
	}
	var wake time.Time
	if ok {
		ms, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		wake = time.UnixMilli(ms)
	} else {
		wake = time.Now().Add(d)
		if err := c.record(name, []byte(strconv.FormatInt(wake.UnixMilli(), 10))); err != nil {
			return err
		}
	}

	remaining := time.Until(wake)
	if remaining <= 0 {
		return nil
	}
	t := time.NewTimer(remaining)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-c.Done():
		return c.Err()
	}
}

// recorded looks name up in the journal.
func (c *invocationContext) recorded(name string) ([]byte, bool, error) {
	e, err := c.engine.store.GetJournalEntry(c, c.inv.ID, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read journal entry %q: %w", name, err)
	}
	c.progress(name, ProgressReplayed)
	return e.Value, true, nil
}

// record appends a completed action. Work that already finished is recorded
// even if the invocation was cancelled meanwhile.
func (c *invocationContext) record(name string, v []byte) error {
	if err := c.engine.store.AppendJournalEntry(context.WithoutCancel(c), c.inv.ID, name, v); err != nil {
		return fmt.Errorf("record journal entry %q: %w", name, err)
	}
	c.progress(name, ProgressExecuted)
	return nil
}

func (c *invocationContext) progress(name, kind string) {
	journalActionsTotal.WithLabelValues(kind).Inc()
	c.engine.broker.Publish(c.inv.ID, ProgressEvent{Name: name, Kind: kind, Time: time.Now().UTC()})
}

// sharedContext adds read access to the object's state.
type sharedContext struct {
	*invocationContext
}

func (c *sharedContext) Key() string { return c.inv.ObjectKey }

func (c *sharedContext) Get(stateKey string) ([]byte, bool, error) {
	if err := c.Err(); err != nil {
		return nil, false, err
	}
	return c.engine.state.GetState(c, c.inv.Service, c.inv.ObjectKey, stateKey)
}

// objectContext adds write access; only handed to exclusive handlers.
type objectContext struct {
	*sharedContext
}

func (c *objectContext) Set(stateKey string, value []byte) error {
	if err := c.Err(); err != nil {
		return err
	}
	return c.engine.state.SetState(c, c.inv.Service, c.inv.ObjectKey, stateKey, value)
}

func (c *objectContext) Clear(stateKey string) error {
	if err := c.Err(); err != nil {
		return err
	}
	return c.engine.state.ClearState(c, c.inv.Service, c.inv.ObjectKey, stateKey)
}

func (c *objectContext) ClearAll() error {
	if err := c.Err(); err != nil {
		return err
	}
	return c.engine.state.ClearAllState(c, c.inv.Service, c.inv.ObjectKey)
}

// newHandlerContext builds the context type matching the handler's mode.
func newHandlerContext(ctx context.Context, e *Engine, inv *model.Invocation, mode durable.Mode) durable.Context {
	base := &invocationContext{Context: ctx, engine: e, inv: inv}
	switch mode {
	case durable.ModeShared:
		return &sharedContext{invocationContext: base}
	case durable.ModeExclusive:
		return &objectContext{sharedContext: &sharedContext{invocationContext: base}}
	default:
		return base
	}
}
