package robovac

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is how often a device is polled when the config
// does not say otherwise.
const DefaultPollInterval = 30 * time.Second

// Poller refreshes one vacuum on a fixed interval. Polling is fully
// decoupled from command sequences: a cycle that finds the session held
// by a sequence is skipped, not queued.
type Poller struct {
	vacuum    *Vacuum
	interval  time.Duration
	logger    *zap.Logger
	onRefresh func(*Vacuum)
}

func NewPoller(vacuum *Vacuum, interval time.Duration, logger *zap.Logger, onRefresh func(*Vacuum)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		vacuum:    vacuum,
		interval:  interval,
		logger:    logger.With(zap.String("device_id", vacuum.DeviceID())),
		onRefresh: onRefresh,
	}
}

// Run polls until the context is cancelled. An immediate first poll
// seeds the snapshot before the ticker takes over.
func (p *Poller) Run(ctx context.Context) {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	polled, err := p.vacuum.TryPoll(ctx)
	if err != nil {
		p.logger.Warn("poll failed", zap.Error(err))
		return
	}
	if !polled {
		p.logger.Debug("poll skipped, command sequence in progress")
		return
	}
	if p.onRefresh != nil {
		p.onRefresh(p.vacuum)
	}
}
