package trading

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"raptor/internal/oracle"
	"raptor/internal/store"
	"raptor/internal/websocket"
)

// MonitorConfig tunes the position monitor.
type MonitorConfig struct {
	Chain              store.Chain
	PollInterval       time.Duration // default 3s
	WatchRefreshCycles int           // default 10
}

func (c *MonitorConfig) clamp() {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.WatchRefreshCycles <= 0 {
		c.WatchRefreshCycles = 10
	}
}

// Monitor watches open positions for exit conditions. Prices arrive two
// ways: a fixed-interval poll over the deduplicated mint set, and websocket
// activity hints that force an immediate fresh fetch. The atomic trigger
// claim in the store is the only synchronization with other monitor workers.
type Monitor struct {
	store  *store.Store
	oracle *oracle.Client
	feed   *websocket.ActivityFeed // nil disables hints
	exits  *ExitQueue
	cfg    MonitorConfig

	mu     sync.Mutex
	watch  map[int64]*store.Position
	byMint map[string][]int64
}

func NewMonitor(s *store.Store, o *oracle.Client, feed *websocket.ActivityFeed, exits *ExitQueue, cfg MonitorConfig) *Monitor {
	cfg.clamp()
	return &Monitor{
		store:  s,
		oracle: o,
		feed:   feed,
		exits:  exits,
		cfg:    cfg,
		watch:  make(map[int64]*store.Position),
		byMint: make(map[string][]int64),
	}
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.refreshWatch(ctx); err != nil {
		log.Error().Err(err).Msg("initial watch load failed")
	}
	log.Info().
		Str("chain", string(m.cfg.Chain)).
		Dur("interval", m.cfg.PollInterval).
		Int("watched", m.watchedCount()).
		Msg("position monitor started")

	var hints <-chan string
	if m.feed != nil {
		hints = m.feed.Hints()
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	cycle := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case mint := <-hints:
			m.onHint(ctx, mint)
		case <-ticker.C:
			cycle++
			if cycle%m.cfg.WatchRefreshCycles == 0 {
				if err := m.refreshWatch(ctx); err != nil {
					log.Error().Err(err).Msg("watch refresh failed")
				}
			}
			m.pollOnce(ctx)
		}
	}
}

// refreshWatch reloads monitored positions from the store, picking up new
// ones and releasing positions another worker moved on. Websocket
// subscriptions follow the mint set.
func (m *Monitor) refreshWatch(ctx context.Context) error {
	positions, err := m.store.WatchSet(ctx, m.cfg.Chain)
	if err != nil {
		return err
	}

	fresh := make(map[int64]*store.Position)
	freshMints := make(map[string][]int64)
	for _, p := range positions {
		if p.TriggerState != store.TriggerMonitoring {
			continue
		}
		fresh[p.ID] = p
		freshMints[p.TokenMint] = append(freshMints[p.TokenMint], p.ID)
	}

	m.mu.Lock()
	oldMints := m.byMint
	m.watch = fresh
	m.byMint = freshMints
	m.mu.Unlock()

	if m.feed != nil {
		for mint := range freshMints {
			if _, had := oldMints[mint]; !had {
				if err := m.feed.Watch(mint); err != nil {
					log.Warn().Err(err).Str("mint", mint).Msg("activity watch failed")
				}
			}
		}
		for mint := range oldMints {
			if _, still := freshMints[mint]; !still {
				m.feed.Unwatch(mint)
			}
		}
	}

	metricWatchedPositions.Set(float64(len(fresh)))
	return nil
}

// pollOnce fetches one price per watched mint and reevaluates every position
// holding it.
func (m *Monitor) pollOnce(ctx context.Context) {
	for _, mint := range m.watchedMints() {
		point, err := m.oracle.Price(ctx, mint)
		if err != nil {
			log.Debug().Err(err).Str("mint", mint).Msg("price poll miss")
			continue
		}
		m.evaluateMint(ctx, mint, point.PriceSOL)
	}
}

// onHint handles a websocket activity hint with a forced fresh fetch.
func (m *Monitor) onHint(ctx context.Context, mint string) {
	m.mu.Lock()
	_, watched := m.byMint[mint]
	m.mu.Unlock()
	if !watched {
		return
	}
	point, err := m.oracle.PriceFresh(ctx, mint)
	if err != nil {
		log.Debug().Err(err).Str("mint", mint).Msg("hinted price fetch miss")
		return
	}
	m.evaluateMint(ctx, mint, point.PriceSOL)
}

func (m *Monitor) evaluateMint(ctx context.Context, mint string, price float64) {
	m.mu.Lock()
	ids := append([]int64(nil), m.byMint[mint]...)
	m.mu.Unlock()
	for _, id := range ids {
		m.mu.Lock()
		pos := m.watch[id]
		m.mu.Unlock()
		if pos != nil {
			m.evaluate(ctx, pos, price)
		}
	}
}

// evaluate runs one price update through the trigger rules for one position.
func (m *Monitor) evaluate(ctx context.Context, pos *store.Position, price float64) {
	if price <= 0 {
		return
	}

	peakRose := price > pos.PeakPrice
	pos.CurrentPrice = price
	if peakRose {
		pos.PeakPrice = price
	}
	if err := m.store.UpdatePrice(ctx, pos.ID, price); err != nil {
		log.Warn().Err(err).Int64("position", pos.ID).Msg("price persist failed")
	}
	if peakRose {
		if stop := TrailStopPrice(pos); stop > 0 {
			if err := m.store.UpdateTrailingStop(ctx, pos.ID, stop); err != nil {
				log.Warn().Err(err).Int64("position", pos.ID).Msg("trail persist failed")
			}
		}
	}

	trigger := EvaluateTrigger(pos, price, time.Now())
	if trigger == "" {
		return
	}

	// Backpressure: claiming with a full queue would strand the position in
	// TRIGGERED with nothing to drain it.
	if m.exits.Backpressured() {
		log.Warn().Int64("position", pos.ID).Str("trigger", string(trigger)).
			Msg("exit queue backpressured, deferring trigger claim")
		return
	}

	claimed, state, err := m.store.TriggerExitAtomically(ctx, pos.ID, trigger, price)
	if err != nil {
		log.Error().Err(err).Int64("position", pos.ID).Msg("trigger claim errored")
		return
	}
	m.forget(pos)
	if !claimed {
		// Another worker won; expected contention.
		log.Debug().Int64("position", pos.ID).Str("state", string(state)).Msg("trigger already claimed")
		return
	}
	metricTriggerClaims.WithLabelValues(string(trigger)).Inc()

	sellPercent := SellPercentFor(trigger, pos.MoonBagPercent)
	job := &ExitJob{
		Position:       pos,
		Trigger:        trigger,
		TriggerPrice:   price,
		SellPercent:    sellPercent,
		IdempotencyKey: ExitIdempotencyKey(pos.Chain, pos.TokenMint, pos.ID, trigger, sellPercent),
	}
	if err := m.exits.Push(job); err != nil {
		// Claimed but unqueued: fail the trigger and re-arm so a later pass
		// can claim again.
		log.Error().Err(err).Int64("position", pos.ID).Msg("exit enqueue failed, re-arming")
		if ferr := m.store.MarkTriggerFailed(ctx, pos.ID); ferr == nil {
			if rerr := m.store.ResetTrigger(ctx, pos.ID); rerr != nil {
				log.Error().Err(rerr).Int64("position", pos.ID).Msg("trigger re-arm failed")
			}
		}
		return
	}

	log.Info().
		Int64("position", pos.ID).
		Str("mint", pos.TokenMint).
		Str("trigger", string(trigger)).
		Float64("price", price).
		Float64("sell_pct", sellPercent).
		Msg("exit claimed")
}

// forget drops a position from the in-process watch set after its exit is
// claimed (by us or a peer).
func (m *Monitor) forget(pos *store.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.watch, pos.ID)
	ids := m.byMint[pos.TokenMint]
	for i, id := range ids {
		if id == pos.ID {
			m.byMint[pos.TokenMint] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(m.byMint[pos.TokenMint]) == 0 {
		delete(m.byMint, pos.TokenMint)
		if m.feed != nil {
			m.feed.Unwatch(pos.TokenMint)
		}
	}
	metricWatchedPositions.Set(float64(len(m.watch)))
}

func (m *Monitor) watchedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watch)
}

func (m *Monitor) watchedMints() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	mints := make([]string, 0, len(m.byMint))
	for mint := range m.byMint {
		mints = append(mints, mint)
	}
	return mints
}
