package server

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/praxis/internal/billing/domain"
	"github.com/smallbiznis/praxis/internal/observability/logger"
	"go.uber.org/zap"
)

// Providers send small JSON envelopes; anything larger is not a billing event.
const maxWebhookBodyBytes = 1 << 20

const unknownProvider = "unknown"

func (s *Server) HandleBillingWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, billingdomain.ErrInvalidPayload)
		return
	}

	err = s.webhookSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, billingdomain.ErrEventAlreadyProcessed) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// WebhookRateLimit applies the per-provider token bucket. Redis failures let
// the delivery through so an outage never drops billing events. Unregistered
// provider names share one bucket so arbitrary paths cannot mint Redis keys.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.webhookLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
		if !s.adapters.ProviderExists(provider) {
			provider = unknownProvider
		}
		allowed, retryAfter, err := s.webhookLimiter.Allow(ctx, provider)
		if err != nil {
			logger.FromContext(ctx).Warn("webhook rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			logger.FromContext(ctx).Warn("webhook rate limit exceeded",
				zap.String("provider", provider),
				zap.Duration("retry_after", retryAfter),
			)
			s.obsMetrics.RecordRateLimitDenied(ctx, provider)
			c.Header("Retry-After", retryAfterSeconds(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}

		c.Next()
	}
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
