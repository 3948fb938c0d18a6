// Package retention removes finished invocations and their journals once they
// are older than the configured retention.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var prunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "doss_pruned_invocations_total",
	Help: "Total number of finished invocations removed by retention.",
})

func init() {
	prometheus.MustRegister(prunedTotal)
}

// Store is the subset of the invocation store the pruner needs.
type Store interface {
	PruneInvocations(ctx context.Context, finishedBefore time.Time) (int64, error)
}

// Pruner periodically deletes invocations that finished more than the
// retention ago.
type Pruner struct {
	scheduler gocron.Scheduler
	store     Store
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewPruner schedules a prune every interval. The first prune runs as soon as
// Start is called.
func NewPruner(s Store, retention, interval time.Duration, logger *slog.Logger) (*Pruner, error) {
	if retention <= 0 {
		return nil, errors.New("retention must be positive")
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	p := &Pruner{
		scheduler: sched,
		store:     s,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(p.run),
		gocron.WithName("prune-invocations"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("failed to create prune job: %w", err)
	}
	return p, nil
}

// Start begins the schedule.
func (p *Pruner) Start() {
	p.logger.Info("starting invocation pruner", "retention", p.retention.String())
	p.scheduler.Start()
}

// Stop shuts down the scheduler, waiting for a running prune to finish.
func (p *Pruner) Stop() error {
	return p.scheduler.Shutdown()
}

// PruneOnce deletes invocations finished before now minus the retention and
// returns how many were removed.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PruneInvocations(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	prunedTotal.Add(float64(n))
	return n, nil
}

func (p *Pruner) run() {
	n, err := p.PruneOnce(context.Background())
	if err != nil {
		p.logger.Error("prune invocations", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("pruned finished invocations", "count", n)
	}
}
