package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/rickgao/bitfinex-sync/internal/metrics"
)

// Job is one periodic sync task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Config holds poller configuration.
type Config struct {
	// Timeout bounds a single run. Zero means the job's interval.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{}
}

// Poller schedules jobs.
type Poller struct {
	cfg     Config
	jobs    []Job
	metrics *metrics.Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

// New creates a new Poller. Jobs with no Run func or a non-positive interval are skipped.
func New(cfg Config, jobs []Job, m *metrics.Metrics, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "poller"),
	}
	for _, job := range jobs {
		if job.Run == nil || job.Interval <= 0 {
			p.logger.Warn("skipping invalid job", "job", job.Name, "interval", job.Interval)
			continue
		}
		p.jobs = append(p.jobs, job)
	}
	return p
}

// Jobs returns the scheduled jobs.
func (p *Poller) Jobs() []Job {
	return p.jobs
}

// Start begins one loop per job.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	for _, job := range p.jobs {
		p.wg.Go(func() { p.loop(job) })
	}

	p.logger.Info("poller started", "jobs", len(p.jobs))
	return nil
}

// Stop cancels running jobs and waits for their loops to exit.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop runs job immediately and then on every tick. Ticks that fire while a
// run is in progress are dropped by the ticker.
func (p *Poller) loop(job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	p.RunOnce(p.ctx, job)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(p.ctx, job)
		}
	}
}

// RunOnce executes a single run of job and records the outcome.
func (p *Poller) RunOnce(ctx context.Context, job Job) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	timeout := p.cfg.Timeout
	if timeout <= 0 {
		timeout = job.Interval
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := job.Run(runCtx)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		p.metrics.ObserveJob(job.Name, "ok", elapsed)
		p.logger.Debug("job complete", "job", job.Name, "duration", elapsed)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		p.metrics.ObserveJob(job.Name, "canceled", elapsed)
	default:
		p.metrics.ObserveJob(job.Name, "error", elapsed)
		p.logger.Warn("job failed", "job", job.Name, "duration", elapsed, "error", err)
	}
	return err
}
