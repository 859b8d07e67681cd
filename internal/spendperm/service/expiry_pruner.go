package service

import (
	"context"
	"log"
	"time"

	"github.com/BrandonDHaskell/spendperm/server/internal/clock"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/store"
)

// ExpiryPruner periodically deletes cycle usage and consumed request
// hashes of permissions that ended more than a retention period ago. Once a
// permission is past its end no request can use it, so that state is dead
// weight. Permission states and audit events are never pruned.
//
// A retention of 0 disables pruning entirely.
type ExpiryPruner struct {
	ledger    store.Ledger
	retention time.Duration
	interval  time.Duration
	clock     clock.Clock
	logger    *log.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// PrunerConfig holds the parameters for NewExpiryPruner.
type PrunerConfig struct {
	// RetentionDays is how long after a permission's end its usage is kept.
	// 0 means keep everything (pruner will not start).
	RetentionDays int

	// IntervalHours is how often the pruner runs.  Defaults to 6.
	IntervalHours int
}

// NewExpiryPruner creates a pruner but does not start it.
func NewExpiryPruner(l store.Ledger, cfg PrunerConfig, clk clock.Clock, logger *log.Logger) *ExpiryPruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if clk == nil {
		clk = clock.Real()
	}

	return &ExpiryPruner{
		ledger:    l,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		clock:     clk,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start runs an immediate prune, then repeats on the configured interval
// until ctx is cancelled or Stop is called.
func (p *ExpiryPruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		p.logger.Printf("expiry pruner disabled (retention=0)")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)

	go p.loop(ctx)

	p.logger.Printf("expiry pruner started (retention=%dd, interval=%dh)",
		int(p.retention.Hours()/24), int(p.interval.Hours()))
}

// Stop signals the pruner to exit and waits for it to finish.
func (p *ExpiryPruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

// PruneOnce deletes everything that expired before now minus retention.
func (p *ExpiryPruner) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := p.clock.Now().Add(-p.retention).Unix()
	if cutoff <= 0 {
		return 0, nil
	}
	return p.ledger.PruneExpired(ctx, uint64(cutoff))
}

func (p *ExpiryPruner) loop(ctx context.Context) {
	defer close(p.done)

	p.prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *ExpiryPruner) prune(ctx context.Context) {
	deleted, err := p.PruneOnce(ctx)
	if err != nil {
		p.logger.Printf("expiry prune error: %v", err)
		return
	}
	if deleted > 0 {
		p.logger.Printf("expiry prune: deleted %d rows of permissions ended before %s",
			deleted, p.clock.Now().Add(-p.retention).Format(time.RFC3339))
	}
}
