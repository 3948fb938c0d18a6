package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/seantiz/doss/internal/durable"
	"github.com/seantiz/doss/internal/events"
	"github.com/seantiz/doss/internal/model"
	"github.com/seantiz/doss/internal/store"
)

// DefaultTimeout bounds a single invocation attempt when none is configured.
const DefaultTimeout = 5 * time.Minute

var (
	// ErrInvocationInFlight is returned when an attempt of the same invocation
	// is already executing.
	ErrInvocationInFlight = errors.New("invocation already in flight")
	// ErrInvocationTimeout marks an attempt cut off by the engine's timeout.
	ErrInvocationTimeout = errors.New("invocation timed out")
	// ErrIdempotencyKeyReused is returned when an idempotency key is repeated
	// with a different request body.
	ErrIdempotencyKeyReused = errors.New("idempotency key reused with a different request")
	// ErrHandlerPanic marks a handler that panicked. The invocation fails.
	ErrHandlerPanic = errors.New("handler panicked")
)

// Request addresses a handler and carries its raw JSON input.
type Request struct {
	Service string
	Handler string
	// Key is the object identity; required for objects, empty for services.
	Key string
	// IdempotencyKey deduplicates requests: a repeat returns the recorded
	// outcome or resumes the unfinished invocation.
	IdempotencyKey string
	Input          []byte
}

// Options tunes an Engine. Zero values take defaults.
type Options struct {
	Timeout   time.Duration
	Publisher events.Publisher
}

// Engine executes handler invocations.
type Engine struct {
	store     store.Store
	state     store.StateStore
	registry  *Registry
	publisher events.Publisher
	logger    *slog.Logger
	broker    *ProgressBroker
	locks     *keyLocks
	timeout   time.Duration
	wg        sync.WaitGroup

	// base parents background attempts; Shutdown cancels it.
	base context.Context
	stop context.CancelFunc

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewEngine creates a new execution engine. Invocations and journals go to s,
// object state to state.
func NewEngine(s store.Store, state store.StateStore, reg *Registry, logger *slog.Logger, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	base, stop := context.WithCancel(context.Background())
	return &Engine{
		store:     s,
		state:     state,
		registry:  reg,
		publisher: opts.Publisher,
		logger:    logger,
		broker:    NewProgressBroker(),
		locks:     newKeyLocks(),
		timeout:   opts.Timeout,
		inflight:  make(map[string]struct{}),
		base:      base,
		stop:      stop,
	}
}

// Broker returns the engine's progress broker for SSE subscription.
func (e *Engine) Broker() *ProgressBroker {
	return e.broker
}

// Registry returns the engine's service registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// InFlight returns the number of invocation attempts executing in this
// process.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

// Invoke runs the request to completion and returns the invocation record.
// The returned error is the handler's failure, if any.
func (e *Engine) Invoke(ctx context.Context, req Request) (*model.Invocation, error) {
	inv, h, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if model.Terminal(inv.Status) {
		return inv, recordedError(inv)
	}
	if !e.claim(inv.ID) {
		return inv, ErrInvocationInFlight
	}
	return e.execute(ctx, inv, h)
}

// Send records the invocation and executes it in a goroutine. The record is
// stored with status "pending" before returning. Requests that repeat a
// finished idempotency key return the finished record without executing.
func (e *Engine) Send(ctx context.Context, req Request) (*model.Invocation, error) {
	inv, h, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if model.Terminal(inv.Status) {
		return inv, nil
	}
	if !e.claim(inv.ID) {
		return inv, ErrInvocationInFlight
	}

	invCopy := *inv
	e.wg.Go(func() {
		e.execute(e.base, &invCopy, h)
	})
	return inv, nil
}

// Resume re-runs an unfinished invocation over its journal. Finished
// invocations are returned as recorded.
func (e *Engine) Resume(ctx context.Context, id string) (*model.Invocation, error) {
	inv, err := e.store.GetInvocation(ctx, id)
	if err != nil {
		return nil, err
	}
	if model.Terminal(inv.Status) {
		return inv, recordedError(inv)
	}

	_, h, err := e.registry.Resolve(inv.Service, inv.Handler)
	if err != nil {
		return nil, err
	}
	if !e.claim(inv.ID) {
		return inv, ErrInvocationInFlight
	}
	return e.execute(ctx, inv, h)
}

// Recover marks invocations left unfinished by a previous process as
// interrupted so they can be resumed. Call it before serving requests.
func (e *Engine) Recover(ctx context.Context) error {
	n, err := e.store.InterruptUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("recover invocations: %w", err)
	}
	if n > 0 {
		e.logger.Warn("marked unfinished invocations as interrupted", "count", n)
	}
	return nil
}

// Wait blocks until all in-flight background invocations complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown cancels background invocations and waits for them to record
// their outcome, or for ctx to end. Cancelled attempts are left interrupted
// and can be resumed by the next process.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stop()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// prepare resolves the target and returns the invocation to run: the one
// recorded under the idempotency key, or a newly created one.
func (e *Engine) prepare(ctx context.Context, req Request) (*model.Invocation, durable.Handler, error) {
	def, h, err := e.registry.Resolve(req.Service, req.Handler)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case def.Type == durable.ServiceTypeObject && req.Key == "":
		return nil, nil, durable.ValidationErrorf("object %s requires a key", def.Name)
	case def.Type == durable.ServiceTypeService && req.Key != "":
		return nil, nil, durable.ValidationErrorf("service %s does not take a key", def.Name)
	}

	if req.IdempotencyKey != "" {
		existing, err := e.store.FindInvocation(ctx, req.Service, req.Handler, req.Key, req.IdempotencyKey)
		if err == nil {
			if !sameInput(existing.Input, req.Input) {
				return nil, nil, fmt.Errorf("%w: key %q", ErrIdempotencyKeyReused, req.IdempotencyKey)
			}
			return existing, h, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, nil, err
		}
	}

	inv := &model.Invocation{
		ID:             model.NewID(),
		Service:        req.Service,
		Handler:        req.Handler,
		ObjectKey:      req.Key,
		IdempotencyKey: req.IdempotencyKey,
		Status:         model.StatusPending,
		Input:          req.Input,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.CreateInvocation(ctx, inv); err != nil {
		// A concurrent request with the same idempotency key won the insert.
		if req.IdempotencyKey != "" {
			if existing, ferr := e.store.FindInvocation(ctx, req.Service, req.Handler, req.Key, req.IdempotencyKey); ferr == nil {
				if !sameInput(existing.Input, req.Input) {
					return nil, nil, fmt.Errorf("%w: key %q", ErrIdempotencyKeyReused, req.IdempotencyKey)
				}
				return existing, h, nil
			}
		}
		return nil, nil, fmt.Errorf("create invocation: %w", err)
	}
	return inv, h, nil
}

// sameInput compares request bodies, ignoring insignificant whitespace in
// JSON.
func sameInput(a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

func (e *Engine) claim(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.inflight[id]; ok {
		return false
	}
	e.inflight[id] = struct{}{}
	return true
}

func (e *Engine) unclaim(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, id)
}

// execute runs one attempt of a claimed invocation:
// pending|interrupted → running → completed|failed|interrupted.
func (e *Engine) execute(ctx context.Context, inv *model.Invocation, h durable.Handler) (*model.Invocation, error) {
	defer e.unclaim(inv.ID)

	running, err := e.store.MarkRunning(ctx, inv.ID)
	if err != nil {
		return inv, fmt.Errorf("start invocation: %w", err)
	}
	inv = running

	e.broker.Open(inv.ID)
	defer e.broker.Close(inv.ID)

	activeInvocations.Inc()
	defer activeInvocations.Dec()

	start := time.Now()
	logger := e.logger.With("invocation_id", inv.ID, "service", inv.Service, "handler", inv.Handler)
	logger.Debug("invocation attempt started", "attempt", inv.Attempts, "key", inv.ObjectKey)

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	output, callErr := e.call(runCtx, inv, h)
	if callErr != nil && errors.Is(callErr, context.DeadlineExceeded) && ctx.Err() == nil {
		callErr = fmt.Errorf("%w after %s: %w", ErrInvocationTimeout, e.timeout, callErr)
	}

	return e.finish(logger, inv, start, output, callErr)
}

// call acquires the object key in the handler's mode and runs the handler.
// A panic in the handler is returned as a terminal error after the key is
// released.
func (e *Engine) call(ctx context.Context, inv *model.Invocation, h durable.Handler) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("handler panicked",
				"invocation_id", inv.ID, "service", inv.Service, "handler", inv.Handler,
				"panic", r, "stack", string(debug.Stack()))
			out, err = nil, durable.NewTerminalError(fmt.Errorf("%w: %v", ErrHandlerPanic, r))
		}
	}()

	mode := h.Mode()
	if mode != durable.ModeService {
		release, err := e.locks.acquire(ctx, inv.Service+"\x00"+inv.ObjectKey, mode == durable.ModeExclusive)
		if err != nil {
			return nil, fmt.Errorf("acquire object %s/%s: %w", inv.Service, inv.ObjectKey, err)
		}
		defer release()
	}
	return h.Call(newHandlerContext(ctx, e, inv, mode), inv.Input)
}

// finish records the attempt's outcome. Terminal errors fail the invocation;
// any other error leaves it interrupted and resumable.
func (e *Engine) finish(logger *slog.Logger, inv *model.Invocation, start time.Time, output []byte, callErr error) (*model.Invocation, error) {
	durationMS := int(time.Since(start).Milliseconds())
	inv.DurationMS = &durationMS
	inv.Output = output
	inv.Error = ""

	switch {
	case callErr == nil:
		inv.Status = model.StatusCompleted
	case durable.IsTerminal(callErr):
		inv.Status = model.StatusFailed
		inv.Error = callErr.Error()
	default:
		inv.Status = model.StatusInterrupted
		inv.Error = callErr.Error()
	}
	if model.Terminal(inv.Status) {
		now := time.Now().UTC()
		inv.FinishedAt = &now
	}

	if err := e.store.FinishInvocation(context.Background(), inv); err != nil {
		logger.Error("failed to record invocation outcome", "status", inv.Status, "error", err)
	}

	invocationsTotal.WithLabelValues(inv.Service, inv.Handler, inv.Status).Inc()
	invocationDuration.WithLabelValues(inv.Service, inv.Handler).Observe(time.Since(start).Seconds())

	switch inv.Status {
	case model.StatusCompleted:
		logger.Info("invocation completed", "attempt", inv.Attempts, "duration_ms", durationMS)
	case model.StatusFailed:
		logger.Info("invocation failed", "attempt", inv.Attempts, "error", callErr)
	default:
		logger.Warn("invocation interrupted", "attempt", inv.Attempts, "error", callErr)
	}

	ev := events.InvocationEvent{
		Type:         inv.Status,
		InvocationID: inv.ID,
		Service:      inv.Service,
		Handler:      inv.Handler,
		ObjectKey:    inv.ObjectKey,
		Attempt:      inv.Attempts,
		DurationMS:   durationMS,
		Error:        inv.Error,
		Time:         time.Now().UTC(),
	}
	if err := e.publisher.Publish(context.Background(), ev); err != nil {
		logger.Error("failed to publish invocation event", "error", err)
	}

	return inv, callErr
}

// recordedError rebuilds the error of a finished invocation.
func recordedError(inv *model.Invocation) error {
	if inv.Status == model.StatusFailed {
		return durable.RestoreTerminal(inv.Error)
	}
	return nil
}
