package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/plumehq/plume-jobs/internal/config"
)

// Cadence drives the monitor's sweeps on fixed intervals, for deployments
// without an external scheduler hitting the sweep endpoints. Sweeps stay
// idempotent, so running a cadence alongside scheduled sweeps is safe.
type Cadence struct {
	monitor *Monitor
	cfg     config.WorkerConfig
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewCadence builds a cadence over the monitor using the worker sweep
// intervals. Panics if the monitor is nil.
func NewCadence(monitor *Monitor, cfg config.WorkerConfig, logger *slog.Logger) *Cadence {
	if monitor == nil {
		panic("monitor cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cadence{
		monitor: monitor,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "sweep_cadence")),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches one goroutine per sweep with a configured interval.
// Sweeps with a non-positive interval are skipped. Calling Start twice is
// an error.
func (c *Cadence) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("sweep cadence already started")
	}
	c.started = true

	sweeps := []struct {
		name     string
		interval time.Duration
		run      func(context.Context) (int, error)
	}{
		{sweepRetry, c.cfg.RetrySweepInterval, c.monitor.RetrySweep},
		{sweepExpiry, c.cfg.ExpirySweepInterval, c.monitor.ExpirySweep},
		{sweepStuck, c.cfg.StuckSweepInterval, c.monitor.StuckSweep},
		{sweepRetention, c.cfg.RetentionSweepInterval, c.monitor.RetentionSweep},
	}
	for _, s := range sweeps {
		if s.interval <= 0 {
			continue
		}
		c.logger.Info("starting sweep loop",
			slog.String("sweep", s.name),
			slog.String("interval", s.interval.String()))
		c.wg.Add(1)
		go c.loop(s.name, s.interval, s.run)
	}
	return nil
}

// Stop halts the loops and waits for any in-flight pass to finish.
func (c *Cadence) Stop() {
	c.cancel()
	c.wg.Wait()
	c.logger.Info("sweep cadence stopped")
}

// loop runs one sweep on its interval until Stop. The monitor logs and
// counts processed jobs itself; the loop only reports pass failures.
func (c *Cadence) loop(name string, interval time.Duration, run func(context.Context) (int, error)) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if _, err := run(c.ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				c.logger.Error("sweep pass failed",
					slog.String("sweep", name),
					slog.String("error", err.Error()))
			}
		}
	}
}
