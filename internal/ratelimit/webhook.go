package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/praxis/internal/config"
)

const keyWebhookProvider = "praxis:webhook:%s"

// WebhookLimiter caps inbound deliveries per provider. Providers retry on 429.
type WebhookLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewWebhookLimiter(cfg config.Config, client *redis.Client) *WebhookLimiter {
	if client == nil || cfg.Billing.WebhookRateLimit <= 0 || cfg.Billing.WebhookRateBurst <= 0 {
		return nil
	}
	return &WebhookLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.Billing.WebhookRateLimit,
		burst:  cfg.Billing.WebhookRateBurst,
	}
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow reports whether one more delivery for provider fits the bucket, and
// how long to wait when it does not.
func (l *WebhookLimiter) Allow(ctx context.Context, provider string) (bool, time.Duration, error) {
	if !l.Enabled() {
		return true, 0, nil
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = "unknown"
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyWebhookProvider, provider), l.rate, l.burst)
	if err != nil {
		return false, 0, err
	}
	return res.Allowed, res.RetryAfter, nil
}
