package trading

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"raptor/internal/store"
)

// MaintenanceConfig tunes the janitor cadence and thresholds.
type MaintenanceConfig struct {
	Interval         time.Duration // default 60s
	StaleExecAge     time.Duration // default 5m
	SentRetention    time.Duration // default 24h
	CandidateMaxAge  time.Duration // default 120s
	FailedTriggerAge time.Duration // default 10m
}

func (c *MaintenanceConfig) clamp() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.StaleExecAge <= 0 {
		c.StaleExecAge = 5 * time.Minute
	}
	if c.SentRetention <= 0 {
		c.SentRetention = 24 * time.Hour
	}
	if c.CandidateMaxAge <= 0 {
		c.CandidateMaxAge = 120 * time.Second
	}
	if c.FailedTriggerAge <= 0 {
		c.FailedTriggerAge = 10 * time.Minute
	}
}

// Maintenance is the periodic janitor: it fails executions stuck between
// submit and confirm, fails out abandoned jobs, re-arms aged FAILED exit
// triggers, prunes delivered outbox rows, expires trade monitor panels and
// stale candidates, and reaps lapsed cooldowns.
type Maintenance struct {
	store *store.Store
	cfg   MaintenanceConfig
}

func NewMaintenance(s *store.Store, cfg MaintenanceConfig) *Maintenance {
	cfg.clamp()
	return &Maintenance{store: s, cfg: cfg}
}

// Run sweeps until ctx is cancelled.
func (m *Maintenance) Run(ctx context.Context) error {
	log.Info().Dur("interval", m.cfg.Interval).Msg("maintenance loop started")
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Maintenance) sweep(ctx context.Context) {
	if n, err := m.store.CleanupStaleExecutions(ctx, int(m.cfg.StaleExecAge.Seconds())); err != nil {
		log.Error().Err(err).Msg("stale execution cleanup failed")
	} else if n > 0 {
		log.Warn().Int64("count", n).Msg("stale executions failed out")
	}

	if n, err := m.store.FailAbandonedJobs(ctx); err != nil {
		log.Error().Err(err).Msg("abandoned job cleanup failed")
	} else if n > 0 {
		log.Warn().Int64("count", n).Msg("abandoned jobs failed out")
	}

	if n, err := m.store.RearmFailedTriggers(ctx, m.cfg.FailedTriggerAge); err != nil {
		log.Error().Err(err).Msg("failed trigger rearm failed")
	} else if n > 0 {
		log.Warn().Int64("count", n).Msg("failed exit triggers re-armed")
	}

	if n, err := m.store.PurgeSentNotifications(ctx, m.cfg.SentRetention); err != nil {
		log.Error().Err(err).Msg("notification purge failed")
	} else if n > 0 {
		log.Debug().Int64("count", n).Msg("sent notifications purged")
	}

	if n, err := m.store.ExpireMonitors(ctx); err != nil {
		log.Error().Err(err).Msg("monitor expiry failed")
	} else if n > 0 {
		log.Debug().Int64("count", n).Msg("trade monitors expired")
	}

	if n, err := m.store.ReapCooldowns(ctx); err != nil {
		log.Error().Err(err).Msg("cooldown reap failed")
	} else if n > 0 {
		log.Debug().Int64("count", n).Msg("cooldowns reaped")
	}

	if n, err := m.store.ExpireCandidates(ctx, m.cfg.CandidateMaxAge); err != nil {
		log.Error().Err(err).Msg("candidate expiry failed")
	} else if n > 0 {
		log.Debug().Int64("count", n).Msg("stale candidates expired")
	}
}
