// Package cache holds the Redis key vocabulary and the tick lock. Every
// key lives under one namespace so an operator can scan or flush the
// application's footprint without touching neighbours.
package cache

import (
	"strings"
	"time"
)

// Namespace is the Redis key prefix for the arena application.
const Namespace = "arena"

// TTLSet normalises cache TTLs from config into time.Duration values.
type TTLSet struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// NewTTLSet converts config TTLs (in seconds) into durations.
func NewTTLSet(short, medium, long int) TTLSet {
	return TTLSet{
		Short:  durationOrDefault(short, 10*time.Second),
		Medium: durationOrDefault(medium, time.Minute),
		Long:   durationOrDefault(long, 5*time.Minute),
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// TickLockKey guards one session's tick cycle.
func TickLockKey(sessionID string) string {
	return formatKey("lock", "tick", sessionID)
}

// PriceLatestKey caches the latest mark price per market.
func PriceLatestKey(market string) string {
	return formatKey("price", "latest", market)
}

// CandlesKey caches a candle series per market and interval.
func CandlesKey(market, interval string) string {
	return formatKey("candles", market, interval)
}

// PriceTTL returns the short-lived TTL for price keys.
func PriceTTL(ttl TTLSet) time.Duration {
	return ttl.Short
}

// CandlesTTL returns the TTL for cached candle series.
func CandlesTTL(ttl TTLSet) time.Duration {
	return ttl.Medium
}
