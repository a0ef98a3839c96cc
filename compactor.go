package auth

import (
	"context"
	"time"
)

// DefaultCompactInterval is how often the compactor sweeps the ledger
const DefaultCompactInterval = time.Hour

// Compactor periodically removes ledger entries for tokens that have
// expired on their own.
type Compactor struct {
	ledger   CompactableLedger
	interval time.Duration
	now      func() time.Time
	logger   Logger
}

// NewCompactor returns a compactor for ledger
func NewCompactor(ledger CompactableLedger, interval time.Duration, logger Logger) *Compactor {
	if interval <= 0 {
		interval = DefaultCompactInterval
	}
	if logger == nil {
		logger = defLogger{name: "auth.ledger"}
	}
	return &Compactor{
		ledger:   ledger,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled, compacting on every tick
func (c *Compactor) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep runs one compaction and returns the number of removed entries
func (c *Compactor) Sweep(ctx context.Context) int64 {
	n, err := c.ledger.Compact(ctx, c.now())
	if err != nil {
		c.logger.Warn("ledger compaction failed", "error", err)
		return 0
	}
	if n > 0 {
		c.logger.Debug("ledger compacted", "removed", n)
	}
	return n
}
