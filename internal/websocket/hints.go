package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ActivityFeed turns log subscriptions on watched mints into activity hints
// for the position monitor. A hint means "something traded this token, check
// its price now" — it never carries a price itself.
//
// Subscriptions are refcounted per mint so overlapping positions on the same
// token share one subscription.
type ActivityFeed struct {
	client *Client

	mu   sync.Mutex
	subs map[string]*mintSub // mint -> subscription

	hints chan string

	// Dedup: drop hints for a mint seen within this window.
	dedupWindow time.Duration
	lastHint    map[string]time.Time
	lastHintMu  sync.Mutex
}

type mintSub struct {
	subID uint64
	refs  int
}

// NewActivityFeed creates the feed. Hints are delivered on Hints(); the
// channel is bounded and drops when the consumer lags, which is safe because
// the poll loop covers anything a dropped hint would have caught.
func NewActivityFeed(client *Client, dedupWindow time.Duration) *ActivityFeed {
	if dedupWindow <= 0 {
		dedupWindow = time.Second
	}
	return &ActivityFeed{
		client:      client,
		subs:        make(map[string]*mintSub),
		hints:       make(chan string, 256),
		dedupWindow: dedupWindow,
		lastHint:    make(map[string]time.Time),
	}
}

// Hints returns the activity hint channel.
func (f *ActivityFeed) Hints() <-chan string {
	return f.hints
}

// Watch subscribes to logs mentioning the mint. Repeated watches on the same
// mint bump a refcount.
func (f *ActivityFeed) Watch(mint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if sub, ok := f.subs[mint]; ok {
		sub.refs++
		return nil
	}

	subID, err := f.client.LogsSubscribe(mint, func(data json.RawMessage) {
		f.emit(mint)
	})
	if err != nil {
		return err
	}
	f.subs[mint] = &mintSub{subID: subID, refs: 1}

	log.Debug().Str("mint", truncateStr(mint, 8)).Uint64("subID", subID).Msg("watching mint activity")
	return nil
}

// Unwatch drops one reference; the subscription is torn down at zero.
func (f *ActivityFeed) Unwatch(mint string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sub, ok := f.subs[mint]
	if !ok {
		return
	}
	sub.refs--
	if sub.refs > 0 {
		return
	}
	delete(f.subs, mint)
	if err := f.client.Unsubscribe("logsUnsubscribe", sub.subID); err != nil {
		log.Warn().Err(err).Str("mint", truncateStr(mint, 8)).Msg("logs unsubscribe failed")
	}
}

// Watched reports the number of live mint subscriptions.
func (f *ActivityFeed) Watched() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *ActivityFeed) emit(mint string) {
	f.lastHintMu.Lock()
	last, seen := f.lastHint[mint]
	now := time.Now()
	if seen && now.Sub(last) < f.dedupWindow {
		f.lastHintMu.Unlock()
		return
	}
	f.lastHint[mint] = now
	f.lastHintMu.Unlock()

	select {
	case f.hints <- mint:
	default:
		// Consumer behind; the poll loop will catch up.
	}
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
