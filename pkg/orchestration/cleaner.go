package orchestration

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rhuss/stepwise/pkg/debug"
	"github.com/rhuss/stepwise/pkg/storage"
)

// Cleaner periodically evicts expired sessions from backends that cannot
// expire entries on their own. Backends with native TTL do not implement
// storage.Sweeper and leave the Cleaner idle.
type Cleaner struct {
	provider storage.Provider
	interval time.Duration
	logger   *slog.Logger
	observer Observer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCleaner creates a Cleaner that sweeps provider every interval.
func NewCleaner(provider storage.Provider, interval time.Duration, opts Options) *Cleaner {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Cleaner{
		provider: provider,
		interval: interval,
		logger:   opts.Logger,
		observer: opts.Observer,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the sweep loop. It returns false, and starts nothing, when
// the provider has no sweep support or the interval is not positive.
func (c *Cleaner) Start() bool {
	if _, ok := c.provider.(storage.Sweeper); !ok {
		c.logger.Info("session cleanup not needed, storage expires entries natively")
		return false
	}
	if c.interval <= 0 {
		c.logger.Warn("session cleanup disabled, interval must be positive", "interval", c.interval)
		return false
	}

	c.wg.Add(1)
	go c.run()
	c.logger.Info("session cleanup started", "interval", c.interval)
	return true
}

// Stop ends the sweep loop and waits for an in-flight sweep to finish.
func (c *Cleaner) Stop() {
	c.cancel()
	c.wg.Wait()
}

// SweepOnce runs a single sweep and returns the number of evicted entries.
func (c *Cleaner) SweepOnce(ctx context.Context) (int, error) {
	sweeper, ok := c.provider.(storage.Sweeper)
	if !ok {
		return 0, nil
	}
	n, err := sweeper.Sweep(ctx)
	if err != nil {
		c.logger.Warn("session sweep failed", "error", err)
		return 0, err
	}
	if n > 0 {
		c.observer.SessionsSwept(n)
		debug.Log(debug.Storage, "expired sessions swept", "count", n)
	}
	return n, nil
}

func (c *Cleaner) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_, _ = c.SweepOnce(c.ctx)
		}
	}
}
