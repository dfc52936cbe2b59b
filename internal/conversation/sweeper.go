package conversation

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SweepStore flips stale active conversations to idle
type SweepStore interface {
	SweepIdle(cutoff time.Time) (int64, error)
}

// Sweeper periodically marks conversations idle after a period without
// activity. Idle conversations still accept messages and AI replies; the
// status only drives portal filtering and lead follow-up.
type Sweeper struct {
	store     SweepStore
	interval  time.Duration
	idleAfter time.Duration
	logger    zerolog.Logger
}

// NewSweeper creates a sweeper. Zero durations take defaults of 1 minute
// between sweeps and 30 minutes of inactivity.
func NewSweeper(store SweepStore, interval, idleAfter time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if idleAfter <= 0 {
		idleAfter = 30 * time.Minute
	}
	return &Sweeper{store: store, interval: interval, idleAfter: idleAfter, logger: logger}
}

// Start runs the sweep loop until the context is cancelled
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := s.store.SweepIdle(time.Now().Add(-s.idleAfter))
			if err != nil {
				s.logger.Error().Err(err).Msg("idle sweep failed")
				continue
			}
			if swept > 0 {
				s.logger.Info().Int64("count", swept).Msg("conversations marked idle")
			}
		}
	}
}
