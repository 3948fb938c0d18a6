// Package benchmark implements BenchmarkPipeline, a stateless service that runs
// a chain of sequential durable steps with simulated latency and payloads.
package benchmark

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/seantiz/doss/internal/durable"
)

// ServiceName is the name BenchmarkPipeline is registered under.
const ServiceName = "BenchmarkPipeline"

// HandlerRun is the pipeline's only handler.
const HandlerRun = "run"

// SentinelResult is the step result when no payload is requested.
const SentinelResult = "done"

const filler = "x"

// RunResult echoes the resolved configuration and the measured duration.
type RunResult struct {
	Steps            int   `json:"steps"`
	PayloadSizeBytes int   `json:"payloadSizeBytes"`
	StepLatencyMs    int   `json:"stepLatencyMs"`
	TotalElapsedMs   int64 `json:"totalElapsedMs"`
}

// Definition returns the BenchmarkPipeline service definition.
func Definition() durable.ServiceDefinition {
	return durable.ServiceDefinition{
		Name: ServiceName,
		Type: durable.ServiceTypeService,
		Handlers: map[string]durable.Handler{
			HandlerRun: durable.NewServiceHandler(Run),
		},
	}
}

// StepName is the journal label of step i.
func StepName(i int) string {
	return "step-" + strconv.Itoa(i)
}

// Run executes the configured number of steps one after another. Steps already
// recorded by an earlier attempt are replayed from the journal.
func Run(ctx durable.Context, req RunRequest) (RunResult, error) {
	cfg, err := req.Resolve()
	if err != nil {
		return RunResult{}, durable.ValidationErrorf("%v", err)
	}

	start := time.Now()
	for i := 0; i < cfg.Steps; i++ {
		if _, err := durable.Run(ctx, StepName(i), func(stepCtx context.Context) (string, error) {
			return executeStep(stepCtx, cfg)
		}); err != nil {
			return RunResult{}, err
		}
	}

	return RunResult{
		Steps:            cfg.Steps,
		PayloadSizeBytes: cfg.PayloadSizeBytes,
		StepLatencyMs:    cfg.StepLatencyMs,
		TotalElapsedMs:   time.Since(start).Milliseconds(),
	}, nil
}

func executeStep(ctx context.Context, cfg Config) (string, error) {
	if cfg.StepLatencyMs > 0 {
		t := time.NewTimer(time.Duration(cfg.StepLatencyMs) * time.Millisecond)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return Payload(cfg.PayloadSizeBytes), nil
}

// Payload returns the step result for the given size.
func Payload(size int) string {
	if size <= 0 {
		return SentinelResult
	}
	return strings.Repeat(filler, size)
}
