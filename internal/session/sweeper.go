package session

import (
	"context"
	"time"

	"github.com/flowchat/creditgate/internal/settings"
	log "github.com/sirupsen/logrus"
)

// Sweeper periodically expires stale open slots. Correctness does not depend
// on it running: finalize checks expiry lazily. The sweep bounds memory
// growth and makes expiries observable without waiting for a finalize call.
type Sweeper struct {
	registry *Registry
	interval time.Duration
}

// NewSweeper constructs a Sweeper for the registry.
func NewSweeper(registry *Registry) *Sweeper {
	if registry == nil {
		return nil
	}
	return &Sweeper{registry: registry}
}

// Start launches the sweep loop in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go s.run(ctx)
	log.Infof("session sweeper started (interval=%s)", s.resolveInterval())
}

func (s *Sweeper) run(ctx context.Context) {
	for {
		interval := s.resolveInterval()
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		if expired := s.registry.Sweep(ctx); expired > 0 {
			log.Infof("session sweep expired %d stale slots", expired)
		}
	}
}

// resolveInterval reads the sweep interval from settings with a fallback.
func (s *Sweeper) resolveInterval() time.Duration {
	seconds := settings.DBConfigInt(settings.SweepIntervalSecondsKey, settings.DefaultSweepIntervalSeconds)
	if seconds <= 0 {
		seconds = settings.DefaultSweepIntervalSeconds
	}
	return time.Duration(seconds) * time.Second
}
