//go:build integration
// +build integration

package cache

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/core/stores/redis"

	"arena-api/pkg/market"
)

type countingProvider struct {
	price  float64
	market string
	calls  atomic.Int64
}

func (p *countingProvider) Price(context.Context, string) (float64, error) {
	p.calls.Add(1)
	return p.price, nil
}

func (p *countingProvider) Prices(context.Context) (map[string]float64, error) {
	return map[string]float64{p.market: p.price}, nil
}

func (p *countingProvider) Candles(_ context.Context, _, _ string, limit int) ([]market.Candle, error) {
	p.calls.Add(1)
	out := make([]market.Candle, limit)
	for i := range out {
		out[i] = market.Candle{OpenTime: int64(i), Close: p.price}
	}
	return out, nil
}

func (p *countingProvider) Orderbook(context.Context, string, int) (*market.Orderbook, error) {
	return &market.Orderbook{Market: p.market}, nil
}

func integrationRedis(t *testing.T) *redis.Redis {
	t.Helper()
	host := os.Getenv("ARENA_REDIS_HOST")
	if host == "" {
		t.Skip("ARENA_REDIS_HOST not set")
	}
	return redis.MustNewRedis(redis.RedisConf{Host: host, Type: "node"})
}

func TestCachedPriceServesSecondReadFromRedis(t *testing.T) {
	client := integrationRedis(t)
	marketName := fmt.Sprintf("ITEST%d", time.Now().UnixNano())
	upstream := &countingProvider{price: 65_000, market: marketName}
	provider := NewCachedProvider(upstream, client, NewTTLSet(10, 60, 300))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	defer client.DelCtx(context.Background(), PriceLatestKey(marketName))

	px, err := provider.Price(ctx, marketName)
	require.NoError(t, err)
	require.Equal(t, 65_000.0, px)

	px, err = provider.Price(ctx, marketName)
	require.NoError(t, err)
	require.Equal(t, 65_000.0, px)
	require.EqualValues(t, 1, upstream.calls.Load(), "second read must come from the cache")
}

func TestCachedCandlesRoundTrip(t *testing.T) {
	client := integrationRedis(t)
	marketName := fmt.Sprintf("ITEST%d", time.Now().UnixNano())
	upstream := &countingProvider{price: 3_200, market: marketName}
	provider := NewCachedProvider(upstream, client, NewTTLSet(10, 60, 300))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	defer client.DelCtx(context.Background(), CandlesKey(marketName, "1h"))

	candles, err := provider.Candles(ctx, marketName, "1h", 5)
	require.NoError(t, err)
	require.Len(t, candles, 5)

	// A shorter window is served from the cached series.
	candles, err = provider.Candles(ctx, marketName, "1h", 3)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	require.EqualValues(t, 1, upstream.calls.Load())
}
