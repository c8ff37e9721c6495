package ratelimit

import (
	"context"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/invoicepay/internal/config"
	"go.uber.org/zap"
)

// Limiter throttles the endpoints that call out to the payment gateway, keyed by
// route and client address. A nil or disabled Limiter allows everything.
type Limiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) *Limiter {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil
	}
	if client == nil {
		log.Warn("rate limiting enabled but redis is not configured; requests are not limited")
		return nil
	}
	if limitCfg.Rate <= 0 || limitCfg.Burst <= 0 {
		log.Warn("rate limiting disabled: rate and burst must be positive",
			zap.Float64("rate", limitCfg.Rate),
			zap.Int("burst", limitCfg.Burst),
		)
		return nil
	}
	return &Limiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.Rate,
		burst:  limitCfg.Burst,
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow takes one token for route and client. retryAfter is set when denied.
func (l *Limiter) Allow(ctx context.Context, route, client string) (bool, time.Duration, error) {
	if !l.Enabled() {
		return true, 0, nil
	}
	res, err := l.bucket.Allow(ctx, bucketKey(route, client), l.rate, l.burst)
	if err != nil {
		return false, 0, err
	}
	return res.Allowed, res.RetryAfter, nil
}

func bucketKey(route, client string) string {
	route = strings.Trim(strings.TrimSpace(route), "/")
	route = strings.ReplaceAll(route, "/", ":")
	if route == "" {
		route = "unknown"
	}
	client = strings.TrimSpace(client)
	if client == "" {
		client = "anonymous"
	}
	return strings.Join([]string{"invoicepay", "ratelimit", route, client}, ":")
}
