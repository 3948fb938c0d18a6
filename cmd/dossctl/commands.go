package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/seantiz/doss/internal/client"
	"github.com/seantiz/doss/internal/services/benchmark"
)

// Globals is bound into every command's Run.
type Globals struct {
	Client *client.Client
	Out    io.Writer
}

func (g *Globals) print(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(g.Out, string(b))
	return err
}

// SlotArgs addresses one result slot.
type SlotArgs struct {
	Key     string `arg:"" help:"Object key of the data store."`
	StackID string `arg:"" name:"stack-id" help:"Stack identifier."`
	StepID  int    `arg:"" name:"step-id" help:"Step index."`
}

// GetCmd implements the 'get' command.
type GetCmd struct {
	SlotArgs `embed:""`
}

func (c *GetCmd) Run(g *Globals) error {
	v, err := g.Client.GetState(context.Background(), c.Key, c.StackID, c.StepID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(g.Out, string(v))
	return err
}

// SetCmd implements the 'set' command.
type SetCmd struct {
	SlotArgs `embed:""`

	Value string `arg:"" help:"JSON value to store."`
}

func (c *SetCmd) Run(g *Globals) error {
	if !json.Valid([]byte(c.Value)) {
		return fmt.Errorf("value is not valid JSON: %s", c.Value)
	}
	return g.Client.SetState(context.Background(), c.Key, c.StackID, c.StepID, json.RawMessage(c.Value))
}

// CleanupCmd implements the 'cleanup' command.
type CleanupCmd struct {
	Key string `arg:"" help:"Object key of the data store."`
}

func (c *CleanupCmd) Run(g *Globals) error {
	return g.Client.Cleanup(context.Background(), c.Key)
}

// BenchCmd implements the 'bench' command. Unset flags take the service
// defaults.
type BenchCmd struct {
	Steps          *int   `short:"n" help:"Number of steps."`
	PayloadSize    *int   `name:"payload-size" help:"Bytes per step result."`
	LatencyMs      *int   `name:"latency-ms" help:"Simulated latency per step in milliseconds."`
	IdempotencyKey string `short:"k" name:"idempotency-key" help:"Deduplicate the run under this key."`
	Async          bool   `help:"Return the invocation record without waiting."`
}

func (c *BenchCmd) Run(g *Globals) error {
	req := benchmark.RunRequest{
		Steps:            c.Steps,
		PayloadSizeBytes: c.PayloadSize,
		StepLatencyMs:    c.LatencyMs,
	}
	opt := client.WithIdempotencyKey(c.IdempotencyKey)

	if c.Async {
		inv, err := g.Client.SendBenchmark(context.Background(), req, opt)
		if err != nil {
			return err
		}
		return g.print(inv)
	}

	res, id, err := g.Client.RunBenchmark(context.Background(), req, opt)
	if err != nil {
		return err
	}
	return g.print(struct {
		InvocationID string `json:"invocation_id"`
		*benchmark.RunResult
	}{id, res})
}

// InvocationCmd implements the 'invocation' command.
type InvocationCmd struct {
	ID string `arg:"" help:"Invocation ID."`
}

func (c *InvocationCmd) Run(g *Globals) error {
	inv, err := g.Client.GetInvocation(context.Background(), c.ID)
	if err != nil {
		return err
	}
	return g.print(inv)
}

// ResumeCmd implements the 'resume' command.
type ResumeCmd struct {
	ID string `arg:"" help:"Invocation ID."`
}

func (c *ResumeCmd) Run(g *Globals) error {
	inv, err := g.Client.Resume(context.Background(), c.ID)
	if err != nil {
		return err
	}
	return g.print(inv)
}

// JournalCmd implements the 'journal' command.
type JournalCmd struct {
	ID string `arg:"" help:"Invocation ID."`
}

func (c *JournalCmd) Run(g *Globals) error {
	entries, err := g.Client.Journal(context.Background(), c.ID)
	if err != nil {
		return err
	}
	return g.print(entries)
}
