// Package ratelimit provides a keyed token-bucket limiter used to blunt
// brute-force guessing of user codes on the approval endpoint.
package ratelimit

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// KeyedLimiter maintains one token bucket per key (an authenticated identity).
// Buckets for idle keys expire out of the cache.
type KeyedLimiter struct {
	limiters *ttlcache.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// New creates a KeyedLimiter allowing perMinute events per minute with the
// given burst per key.
func New(perMinute, burst int) *KeyedLimiter {
	limiters := ttlcache.New(
		ttlcache.WithTTL[string, *rate.Limiter](10 * time.Minute),
	)
	go limiters.Start()

	return &KeyedLimiter{
		limiters: limiters,
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

// Allow reports whether the event is within the key's budget.
func (l *KeyedLimiter) Allow(key string) bool {
	item, _ := l.limiters.GetOrSet(key, rate.NewLimiter(l.limit, l.burst))

	return item.Value().Allow()
}

// Stop shuts down the cache janitor.
func (l *KeyedLimiter) Stop() {
	l.limiters.Stop()
}
