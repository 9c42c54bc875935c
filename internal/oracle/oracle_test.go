package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurstThenBlock(t *testing.T) {
	tb := NewTokenBucket(3, 1000)

	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow(), "burst token %d", i)
	}
	// Bucket drained; at 1000/s a token is back within a few ms.
	assert.Eventually(t, tb.Allow, 100*time.Millisecond, time.Millisecond)
}

func TestTokenBucketWaitCancelled(t *testing.T) {
	tb := NewTokenBucket(1, 0.001) // effectively never refills
	require.NoError(t, tb.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestPriceCacheTTLAndLRU(t *testing.T) {
	c := newPriceCache(2, 50*time.Millisecond)

	c.put(PricePoint{Mint: "A", PriceSOL: 1, ObservedAt: time.Now()})
	c.put(PricePoint{Mint: "B", PriceSOL: 2, ObservedAt: time.Now()})

	// Touch A so B is the eviction victim.
	_, ok := c.get("A")
	require.True(t, ok)

	c.put(PricePoint{Mint: "C", PriceSOL: 3, ObservedAt: time.Now()})
	_, ok = c.get("B")
	assert.False(t, ok, "LRU entry should be evicted")
	_, ok = c.get("A")
	assert.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok = c.get("A")
	assert.False(t, ok, "expired entry should miss")
}

func TestClientPriceCachesResponses(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		mint := r.URL.Query().Get("ids")
		fmt.Fprintf(w, `{"data":{"%s":{"price":"0.000045","mcapSol":45,"liquiditySol":12}}}`, mint)
	}))
	defer ts.Close()

	c := NewClient(Options{BaseURL: ts.URL, CacheTTL: time.Minute})
	defer c.Close()

	p1, err := c.Price(context.Background(), "MintX")
	require.NoError(t, err)
	assert.InDelta(t, 0.000045, p1.PriceSOL, 1e-12)
	assert.InDelta(t, 45.0, p1.McapSol, 1e-9)

	_, err = c.Price(context.Background(), "MintX")
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second read should hit the cache")
}

func TestClientPriceErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{}}`)
	}))
	defer ts.Close()

	c := NewClient(Options{BaseURL: ts.URL})
	defer c.Close()

	_, err := c.Price(context.Background(), "Unknown")
	assert.Error(t, err)
}

func TestObserveSeedsCache(t *testing.T) {
	c := NewClient(Options{BaseURL: "http://unreachable.invalid", CacheTTL: time.Minute})
	defer c.Close()

	c.Observe(PricePoint{Mint: "CurveMint", PriceSOL: 0.001})
	p, err := c.Price(context.Background(), "CurveMint")
	require.NoError(t, err)
	assert.InDelta(t, 0.001, p.PriceSOL, 1e-12)
}
