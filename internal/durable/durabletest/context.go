// Package durabletest provides an in-memory durable.ObjectContext for
// exercising handlers without a running engine.
package durabletest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/seantiz/doss/internal/durable"
)

var _ durable.ObjectContext = (*Context)(nil)

// Context keeps state and journal entries in maps. Pre-seeding the journal with
// Record simulates an invocation that is being replayed.
type Context struct {
	context.Context

	id  string
	key string

	mu       sync.Mutex
	state    map[string][]byte
	journal  map[string][]byte
	executed []string
	replayed []string
	sleeps   int
}

// NewContext returns a context for the given object key backed by a
// background context.
func NewContext(key string) *Context {
	return NewContextWith(context.Background(), key)
}

// NewContextWith is NewContext with an explicit parent context.
func NewContextWith(parent context.Context, key string) *Context {
	return &Context{
		Context: parent,
		id:      "test-invocation",
		key:     key,
		state:   make(map[string][]byte),
		journal: make(map[string][]byte),
	}
}

func (c *Context) InvocationID() string { return c.id }

func (c *Context) Key() string { return c.key }

// Run returns the recorded value for name or executes fn and records it.
func (c *Context) Run(name string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if err := c.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if v, ok := c.journal[name]; ok {
		c.replayed = append(c.replayed, name)
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err := fn(c.Context)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.journal[name]; ok {
		return nil, fmt.Errorf("journal entry %q recorded twice", name)
	}
	c.journal[name] = v
	c.executed = append(c.executed, name)
	return v, nil
}

// Sleep waits for d or until the context is done.
func (c *Context) Sleep(d time.Duration) error {
	c.mu.Lock()
	c.sleeps++
	c.mu.Unlock()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-c.Done():
		return c.Err()
	}
}

func (c *Context) Get(stateKey string) ([]byte, bool, error) {
	if err := c.Err(); err != nil {
		return nil, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.state[stateKey]
	return v, ok, nil
}

func (c *Context) Set(stateKey string, value []byte) error {
	if err := c.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[stateKey] = append([]byte(nil), value...)
	return nil
}

func (c *Context) Clear(stateKey string) error {
	if err := c.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state, stateKey)
	return nil
}

func (c *Context) ClearAll() error {
	if err := c.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = make(map[string][]byte)
	return nil
}

// Record pre-seeds a journal entry as if an earlier attempt had produced it.
func (c *Context) Record(name string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.journal[name] = value
}

// Journal returns a copy of the recorded entry for name.
func (c *Context) Journal(name string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.journal[name]
	return append([]byte(nil), v...), ok
}

// Executed lists the action names whose functions actually ran, in order.
func (c *Context) Executed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.executed...)
}

// Replayed lists the action names served from the journal, in order.
func (c *Context) Replayed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.replayed...)
}

// StateLen reports the number of stored state entries.
func (c *Context) StateLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.state)
}
