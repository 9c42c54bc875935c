package blockchain

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// CachedBlockhash is one fetched blockhash with its validity metadata. The
// last valid block height bounds confirmation waits downstream.
type CachedBlockhash struct {
	Hash                 string
	LastValidBlockHeight uint64
	FetchedAt            time.Time
}

// BlockhashCache keeps two buffered blockhashes refreshed in the background so
// the trade path never waits on getLatestBlockhash.
type BlockhashCache struct {
	current atomic.Pointer[CachedBlockhash]
	next    atomic.Pointer[CachedBlockhash]

	rpc      *RPCClient
	ttl      time.Duration
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup

	hits   atomic.Int64
	misses atomic.Int64
}

// NewBlockhashCache creates the cache. The refresh interval should sit well
// below the ttl so a fresh buffer is always on deck.
func NewBlockhashCache(rpc *RPCClient, refreshInterval, ttl time.Duration) *BlockhashCache {
	return &BlockhashCache{
		rpc:      rpc,
		interval: refreshInterval,
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}
}

// Start does the initial fetch and launches the prefetch loop. The initial
// fetch must succeed so Get never sees an empty cache.
func (c *BlockhashCache) Start() error {
	if err := c.fetchAndRotate(); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.prefetchLoop()

	log.Info().
		Dur("interval", c.interval).
		Dur("ttl", c.ttl).
		Msg("blockhash cache started")
	return nil
}

// Stop halts the prefetch loop.
func (c *BlockhashCache) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// fresh returns the first buffer still inside the ttl, or nil.
func (c *BlockhashCache) fresh() *CachedBlockhash {
	for _, buf := range []*CachedBlockhash{c.current.Load(), c.next.Load()} {
		if buf != nil && time.Since(buf.FetchedAt) < c.ttl {
			return buf
		}
	}
	return nil
}

// Get returns a valid cached blockhash, falling back to a synchronous fetch
// only when both buffers are stale.
func (c *BlockhashCache) Get() (string, error) {
	hash, _, err := c.GetWithHeight()
	return hash, err
}

// GetWithHeight returns the blockhash and its last valid block height.
func (c *BlockhashCache) GetWithHeight() (string, uint64, error) {
	if buf := c.fresh(); buf != nil {
		c.hits.Add(1)
		return buf.Hash, buf.LastValidBlockHeight, nil
	}

	c.misses.Add(1)
	log.Warn().Msg("blockhash cache miss, forcing sync refresh")
	if err := c.fetchAndRotate(); err != nil {
		return "", 0, err
	}
	buf := c.current.Load()
	return buf.Hash, buf.LastValidBlockHeight, nil
}

// Age returns time since the last successful fetch.
func (c *BlockhashCache) Age() time.Duration {
	buf := c.current.Load()
	if buf == nil {
		return 0
	}
	return time.Since(buf.FetchedAt)
}

// HitRate returns the cache hit percentage.
func (c *BlockhashCache) HitRate() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 100.0
	}
	return float64(hits) / float64(total) * 100
}

func (c *BlockhashCache) prefetchLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.fetchAndRotate(); err != nil {
				log.Warn().Err(err).Msg("blockhash prefetch failed")
			}
		}
	}
}

func (c *BlockhashCache) fetchAndRotate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	result, err := c.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return err
	}

	fresh := &CachedBlockhash{
		Hash:                 result.Value.Blockhash,
		LastValidBlockHeight: result.Value.LastValidBlockHeight,
		FetchedAt:            time.Now(),
	}

	// Rotate next into current, fresh into next. On bootstrap both point at
	// the first fetch.
	prev := c.current.Load()
	c.current.Store(c.next.Load())
	c.next.Store(fresh)
	if prev == nil || c.current.Load() == nil {
		c.current.Store(fresh)
	}

	return nil
}
