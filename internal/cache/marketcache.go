package cache

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"

	"arena-api/pkg/market"
)

// CachedProvider fronts a market.Provider with Redis. Prices use the short
// TTL, candle series the medium TTL; orderbooks and the full price map pass
// through because depth staleness is worse than an extra upstream call.
// Redis failures degrade to the upstream provider, never to the caller.
type CachedProvider struct {
	upstream market.Provider
	client   *redis.Redis
	ttl      TTLSet
}

// NewCachedProvider wraps upstream with the Redis read-through cache.
func NewCachedProvider(upstream market.Provider, client *redis.Redis, ttl TTLSet) *CachedProvider {
	return &CachedProvider{upstream: upstream, client: client, ttl: ttl}
}

// Price returns the cached mark price or reads through to the venue.
func (p *CachedProvider) Price(ctx context.Context, marketName string) (float64, error) {
	key := PriceLatestKey(marketName)
	if cached, err := p.client.GetCtx(ctx, key); err == nil && cached != "" {
		if px, err := strconv.ParseFloat(cached, 64); err == nil && px > 0 {
			return px, nil
		}
	}

	px, err := p.upstream.Price(ctx, marketName)
	if err != nil {
		return 0, err
	}
	if ttl := PriceTTL(p.ttl); ttl > 0 {
		if err := p.client.SetexCtx(ctx, key, strconv.FormatFloat(px, 'f', -1, 64), int(ttl.Seconds())); err != nil {
			logx.WithContext(ctx).Infof("[cache] price set %s: %v", key, err)
		}
	}
	return px, nil
}

// Prices always reads through; the full map is one upstream call anyway.
func (p *CachedProvider) Prices(ctx context.Context) (map[string]float64, error) {
	return p.upstream.Prices(ctx)
}

// Candles returns the cached series or reads through to the venue. Only
// full-limit responses are cached so a short window never shadows a
// longer request for the same market and interval.
func (p *CachedProvider) Candles(ctx context.Context, marketName, interval string, limit int) ([]market.Candle, error) {
	key := CandlesKey(marketName, interval)
	if cached, err := p.client.GetCtx(ctx, key); err == nil && cached != "" {
		var candles []market.Candle
		if err := json.Unmarshal([]byte(cached), &candles); err == nil && len(candles) >= limit {
			return candles[len(candles)-limit:], nil
		}
	}

	candles, err := p.upstream.Candles(ctx, marketName, interval, limit)
	if err != nil {
		return nil, err
	}
	if ttl := CandlesTTL(p.ttl); ttl > 0 {
		if payload, err := json.Marshal(candles); err == nil {
			if err := p.client.SetexCtx(ctx, key, string(payload), int(ttl.Seconds())); err != nil {
				logx.WithContext(ctx).Infof("[cache] candles set %s: %v", key, err)
			}
		}
	}
	return candles, nil
}

// Orderbook passes through; depth snapshots are only useful fresh.
func (p *CachedProvider) Orderbook(ctx context.Context, marketName string, depth int) (*market.Orderbook, error) {
	return p.upstream.Orderbook(ctx, marketName, depth)
}
