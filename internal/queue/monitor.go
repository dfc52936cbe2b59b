package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DeadLetterCounter reports the size of the dead-letter store
type DeadLetterCounter interface {
	DeadLetterCount() (int64, error)
}

// Alerter notifies operators about accumulating dead letters
type Alerter interface {
	SendDeadLetterAlert(ctx context.Context, count int64) error
}

// Monitor watches the dead-letter store and alerts operators when jobs
// accumulate. Alerts fire only when the count grows, so a stable backlog
// does not repeat the same email every tick.
type Monitor struct {
	store    DeadLetterCounter
	alerter  Alerter
	interval time.Duration
	logger   zerolog.Logger

	lastAlerted int64
}

// NewMonitor creates a dead-letter monitor. interval <= 0 defaults to 15m.
func NewMonitor(store DeadLetterCounter, alerter Alerter, interval time.Duration, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Monitor{
		store:    store,
		alerter:  alerter,
		interval: interval,
		logger:   logger,
	}
}

// Start runs the monitor until the context is cancelled
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	count, err := m.store.DeadLetterCount()
	if err != nil {
		m.logger.Error().Err(err).Msg("dead letter count failed")
		return
	}
	if count <= m.lastAlerted {
		if count < m.lastAlerted {
			// Operator drained some; re-alert from the new baseline
			m.lastAlerted = count
		}
		return
	}

	if err := m.alerter.SendDeadLetterAlert(ctx, count); err != nil {
		m.logger.Error().Err(err).Int64("count", count).Msg("dead letter alert failed")
		return
	}
	m.logger.Warn().Int64("count", count).Msg("dead letter alert sent")
	m.lastAlerted = count
}
