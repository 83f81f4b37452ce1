// Package poll implements the fallback driver that re-queries the row
// source on a fixed cadence, independent of change feed health.
package poll

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TickFunc performs one bounded fetch-and-reconcile pass.
type TickFunc func(ctx context.Context) error

// Driver runs a TickFunc on a fixed interval. Ticks never overlap: if a
// fetch from the previous tick is still running, the tick is skipped,
// not queued. Tick errors are logged and the next tick simply retries.
type Driver struct {
	name     string
	interval time.Duration
	tick     TickFunc
	suppress func() bool
	logger   *zap.Logger
	cancel   context.CancelFunc
	inFlight atomic.Bool
}

// NewDriver creates a poll driver. name labels log lines.
func NewDriver(name string, interval time.Duration, tick TickFunc, logger *zap.Logger) *Driver {
	return &Driver{
		name:     name,
		interval: interval,
		tick:     tick,
		logger:   logger,
	}
}

// Suppress installs a predicate that silences ticks while it returns true
// (e.g. while a search/filter mode is active).
func (d *Driver) Suppress(f func() bool) {
	d.suppress = f
}

// Start begins ticking until Stop or context cancellation.
func (d *Driver) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	go d.loop(ctx)
}

// Stop stops the driver.
func (d *Driver) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Driver) loop(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.runTick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Driver) runTick(ctx context.Context) {
	if d.suppress != nil && d.suppress() {
		return
	}
	if !d.inFlight.CompareAndSwap(false, true) {
		// Previous fetch still running; skip, don't queue.
		return
	}
	go func() {
		defer d.inFlight.Store(false)
		if err := d.tick(ctx); err != nil {
			if d.logger != nil {
				d.logger.Warn("poll tick failed", zap.String("poller", d.name), zap.Error(err))
			}
		}
	}()
}
