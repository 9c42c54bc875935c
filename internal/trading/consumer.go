package trading

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"raptor/internal/store"
)

// ConsumerConfig tunes the candidate consumer. Zero values take defaults;
// out-of-range values clamp.
type ConsumerConfig struct {
	Chain           store.Chain
	PollInterval    time.Duration // [1s, 10s], default 2s
	BatchSize       int           // [1, 50], default 10
	MaxCandidateAge time.Duration // [30s, 600s], default 120s
}

func (c *ConsumerConfig) clamp() {
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.PollInterval < time.Second {
		c.PollInterval = time.Second
	}
	if c.PollInterval > 10*time.Second {
		c.PollInterval = 10 * time.Second
	}
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.BatchSize > 50 {
		c.BatchSize = 50
	}
	if c.MaxCandidateAge == 0 {
		c.MaxCandidateAge = 120 * time.Second
	}
	if c.MaxCandidateAge < 30*time.Second {
		c.MaxCandidateAge = 30 * time.Second
	}
	if c.MaxCandidateAge > 600*time.Second {
		c.MaxCandidateAge = 600 * time.Second
	}
}

// Consumer drains new launch candidates into BUY jobs for every auto
// strategy whose filters accept them.
type Consumer struct {
	store *store.Store
	gate  *Gate
	cfg   ConsumerConfig
}

func NewConsumer(s *store.Store, gate *Gate, cfg ConsumerConfig) *Consumer {
	cfg.clamp()
	return &Consumer{store: s, gate: gate, cfg: cfg}
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	log.Info().
		Str("chain", string(c.cfg.Chain)).
		Dur("interval", c.cfg.PollInterval).
		Msg("candidate consumer started")

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.processBatch(ctx); err != nil {
				log.Error().Err(err).Msg("candidate batch failed")
			}
		}
	}
}

func (c *Consumer) processBatch(ctx context.Context) error {
	candidates, err := c.store.PendingCandidates(ctx, c.cfg.Chain, c.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	strategies, err := c.store.EnabledAutoStrategies(ctx, c.cfg.Chain)
	if err != nil {
		return err
	}

	for _, cand := range candidates {
		c.processCandidate(ctx, cand, strategies)
	}
	return nil
}

func (c *Consumer) processCandidate(ctx context.Context, cand *store.LaunchCandidate, strategies []*store.Strategy) {
	if time.Since(cand.FirstSeenAt) > c.cfg.MaxCandidateAge {
		if err := c.store.SetCandidateStatus(ctx, cand.ID, store.CandidateExpired); err != nil {
			log.Warn().Err(err).Int64("candidate", cand.ID).Msg("expire candidate failed")
		}
		return
	}

	queued := 0
	deferred := false
	for _, st := range strategies {
		if !StrategyAccepts(st, cand) {
			continue
		}

		key := EntryIdempotencyKey(st.UserID, st.ID, cand.TokenMint)
		res, err := c.gate.Reserve(ctx, store.BudgetRequest{
			Mode:           store.ModeAuto,
			UserID:         st.UserID,
			StrategyID:     st.ID,
			Chain:          cand.Chain,
			Action:         store.ActionBuy,
			TokenMint:      cand.TokenMint,
			Deployer:       cand.Deployer,
			AmountSol:      st.PerTradeCapSol,
			IdempotencyKey: key,
		}, false)
		if err != nil {
			log.Error().Err(err).Int64("user", st.UserID).Str("mint", cand.TokenMint).Msg("budget gate error")
			continue
		}
		if !res.Allowed {
			// A cooldown can lapse before the candidate ages out, so leave
			// the candidate new and revisit it next poll.
			if res.ReasonCode == store.ReasonCooldown {
				deferred = true
			}
			continue
		}

		payload := store.JobPayload{
			TokenMint:    cand.TokenMint,
			AmountSol:    st.PerTradeCapSol,
			BondingCurve: cand.BondingCurve,
			ExecutionID:  res.ExecutionID,
		}
		candID := cand.ID
		_, err = c.store.EnqueueJob(ctx, &store.TradeJob{
			StrategyID:     st.ID,
			UserID:         st.UserID,
			Chain:          cand.Chain,
			Action:         store.ActionBuy,
			CandidateID:    &candID,
			Priority:       priorityAutoBuy,
			Payload:        mustJSON(payload),
			IdempotencyKey: key,
		})
		if err != nil {
			log.Error().Err(err).Str("mint", cand.TokenMint).Msg("enqueue buy job failed")
			continue
		}
		queued++
		log.Info().
			Int64("user", st.UserID).
			Str("mint", cand.TokenMint).
			Str("symbol", cand.Symbol).
			Float64("sol", st.PerTradeCapSol).
			Msg("queued auto buy")
	}

	switch {
	case queued > 0:
		c.setStatus(ctx, cand.ID, store.CandidateAccepted)
	case deferred:
		// stays 'new'; expiry bounds the revisits
	default:
		c.setStatus(ctx, cand.ID, store.CandidateRejected)
	}
}

func (c *Consumer) setStatus(ctx context.Context, id int64, status store.CandidateStatus) {
	if err := c.store.SetCandidateStatus(ctx, id, status); err != nil {
		log.Warn().Err(err).Int64("candidate", id).Str("status", string(status)).Msg("candidate status update failed")
	}
}

// StrategyAccepts applies one strategy's filters to a candidate. Rejections
// are per-strategy; they never touch the candidate row.
func StrategyAccepts(st *store.Strategy, cand *store.LaunchCandidate) bool {
	if !st.Enabled || !st.AutoExecute {
		return false
	}
	if st.MinScore > 0 && cand.Score < st.MinScore {
		return false
	}
	if len(st.Launchpads) > 0 && !containsString(st.Launchpads, cand.Source) {
		return false
	}
	if containsString(st.DenyList, cand.TokenMint) || containsString(st.DenyList, cand.Deployer) {
		return false
	}
	if len(st.AllowList) > 0 && !containsString(st.AllowList, cand.TokenMint) {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
