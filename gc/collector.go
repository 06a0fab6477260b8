package gc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/cache"
)

// CollectorConfig configures a Collector.
type CollectorConfig struct {
	// Manager is the cache manager to sweep. Required.
	Manager *cache.Manager

	// Interval is the time between sweeps.
	// It is used only when Ticker is nil.
	Interval time.Duration

	// Ticker, if set, paces the sweeps instead of Interval.
	Ticker ticker.Ticker

	// Clock decides which blocks have expired.
	// Defaults to clock.NewDefaultClock().
	Clock clock.Clock

	// Keep, if set, protects blocks from collection.
	Keep Keep

	// Latest lists correlation ids whose latest versions are protected.
	// They are resolved afresh before every sweep.
	Latest []uuid.UUID

	// Logger defaults to logrus.New().
	Logger *logrus.Logger

	// Swept, if set, is called after every sweep
	// with the number of blocks dropped and any error.
	Swept func(int, error)
}

// Collector sweeps expired blocks from a cache manager periodically.
type Collector struct {
	m      *cache.Manager
	ticker ticker.Ticker
	clock  clock.Clock
	keep   Keep
	latest []uuid.UUID
	log    *logrus.Logger
	swept  func(int, error)
}

// NewCollector produces a new Collector.
func NewCollector(conf CollectorConfig) (*Collector, error) {
	if conf.Manager == nil {
		return nil, errors.New("no manager configured")
	}
	c := &Collector{
		m:      conf.Manager,
		ticker: conf.Ticker,
		clock:  conf.Clock,
		keep:   conf.Keep,
		latest: conf.Latest,
		log:    conf.Logger,
		swept:  conf.Swept,
	}
	if c.ticker == nil {
		if conf.Interval <= 0 {
			return nil, errors.Errorf("bad sweep interval %s", conf.Interval)
		}
		c.ticker = ticker.New(conf.Interval)
	}
	if c.clock == nil {
		c.clock = clock.NewDefaultClock()
	}
	if c.log == nil {
		c.log = logrus.New()
	}
	return c, nil
}

// Run sweeps on every tick until ctx is canceled,
// then stops the ticker and returns ctx.Err().
// A failed sweep is logged and does not stop the Collector.
func (c *Collector) Run(ctx context.Context) error {
	c.ticker.Resume()
	defer c.ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-c.ticker.Ticks():
			now := c.clock.Now()
			n, err := c.sweep(ctx, now)
			if err != nil {
				c.log.WithError(err).WithField("through", now).Error("sweeping expired blocks")
			}
			if c.swept != nil {
				c.swept(n, err)
			}
		}
	}
}

func (c *Collector) sweep(ctx context.Context, now time.Time) (int, error) {
	if len(c.latest) == 0 {
		return Run(ctx, c.m, now, c.keep)
	}
	k := NewMapKeep()
	if err := ProtectLatest(ctx, k, c.m, c.latest...); err != nil {
		return 0, err
	}
	if c.keep == nil {
		return Run(ctx, c.m, now, k)
	}
	return Run(ctx, c.m, now, union{k, c.keep})
}

// union protects what any of its members protects.
// Add goes to the first member.
type union []Keep

func (u union) Add(ctx context.Context, h brightchain.Hash) (bool, error) {
	return u[0].Add(ctx, h)
}

func (u union) Contains(ctx context.Context, h brightchain.Hash) (bool, error) {
	for _, k := range u {
		ok, err := k.Contains(ctx, h)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}
