package service

import (
	"context"
	"sync"
	"time"

	"chanrelay/internal/database"

	"github.com/sirupsen/logrus"
)

// Compactor periodically prunes forwarded ids older than the retention
// window. Each channel's maximum id is always retained, so the dedup floor
// survives compaction.
type Compactor struct {
	store         database.Store
	interval      time.Duration
	retentionDays int
	logger        *logrus.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewCompactor(store database.Store, interval time.Duration, retentionDays int, logger *logrus.Logger) *Compactor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Compactor{
		store:         store,
		interval:      interval,
		retentionDays: retentionDays,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start runs an immediate compaction and then repeats on the interval until
// Stop is called or the context is cancelled.
func (c *Compactor) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		c.runOnce(ctx)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.runOnce(ctx)
			}
		}
	}()
	c.logger.WithFields(logrus.Fields{
		"interval":      c.interval.String(),
		"retentionDays": c.retentionDays,
	}).Info("Watermark compactor started")
}

// Stop halts the compaction loop and waits for any in-flight run.
func (c *Compactor) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Compactor) runOnce(ctx context.Context) {
	start := time.Now()
	if err := c.store.CompactWatermarks(ctx, c.retentionDays); err != nil {
		c.logger.WithError(err).Error("Watermark compaction failed")
		return
	}
	c.logger.WithField("duration", time.Since(start).String()).Debug("Watermark compaction complete")
}
