package benchmark

import "fmt"

// Defaults applied to omitted request fields.
const (
	DefaultSteps            = 5
	DefaultPayloadSizeBytes = 1024
	DefaultStepLatencyMs    = 100
)

// Upper bounds. A step result is held in memory and journaled whole, and
// latencies beyond MaxStepLatencyMs would overflow time.Duration arithmetic
// long before they were useful.
const (
	MaxPayloadSizeBytes = 10 << 20 // 10 MiB
	MaxStepLatencyMs    = 24 * 60 * 60 * 1000
)

// RunRequest is the body of run. Nil fields take their defaults.
type RunRequest struct {
	Steps            *int `json:"steps,omitempty"`
	PayloadSizeBytes *int `json:"payloadSizeBytes,omitempty"`
	StepLatencyMs    *int `json:"stepLatencyMs,omitempty"`
}

// Config is a fully resolved, validated run configuration.
type Config struct {
	Steps            int
	PayloadSizeBytes int
	StepLatencyMs    int
}

// Validate rejects out-of-range fields.
func (r *RunRequest) Validate() error {
	_, err := r.Resolve()
	return err
}

// Resolve fills defaults and validates the result.
func (r *RunRequest) Resolve() (Config, error) {
	cfg := Config{
		Steps:            DefaultSteps,
		PayloadSizeBytes: DefaultPayloadSizeBytes,
		StepLatencyMs:    DefaultStepLatencyMs,
	}
	if r.Steps != nil {
		cfg.Steps = *r.Steps
	}
	if r.PayloadSizeBytes != nil {
		cfg.PayloadSizeBytes = *r.PayloadSizeBytes
	}
	if r.StepLatencyMs != nil {
		cfg.StepLatencyMs = *r.StepLatencyMs
	}

	if cfg.Steps < 1 {
		return Config{}, fmt.Errorf("steps must be >= 1, got %d", cfg.Steps)
	}
	if cfg.PayloadSizeBytes < 0 || cfg.PayloadSizeBytes > MaxPayloadSizeBytes {
		return Config{}, fmt.Errorf("payloadSizeBytes must be in [0, %d], got %d", MaxPayloadSizeBytes, cfg.PayloadSizeBytes)
	}
	if cfg.StepLatencyMs < 0 || cfg.StepLatencyMs > MaxStepLatencyMs {
		return Config{}, fmt.Errorf("stepLatencyMs must be in [0, %d], got %d", MaxStepLatencyMs, cfg.StepLatencyMs)
	}
	return cfg, nil
}
