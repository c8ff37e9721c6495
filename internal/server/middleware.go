package server

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/invoicepay/internal/observability/logger"
	"go.uber.org/zap"
)

var corsAllowedMethods = strings.Join([]string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodOptions,
}, ", ")

// CORS admits the configured frontend origin only, with credentials.
func CORS(frontendURL string) gin.HandlerFunc {
	allowed := strings.TrimRight(strings.TrimSpace(frontendURL), "/")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && origin == allowed {
			c.Header("Access-Control-Allow-Origin", allowed)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", corsAllowedMethods)
			if requested := c.GetHeader("Access-Control-Request-Headers"); requested != "" {
				c.Header("Access-Control-Allow-Headers", requested)
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// SecurityHeaders sets the content security policy. The PG hosts must stay in
// connect-src for the checkout SDK.
func SecurityHeaders(frontendURL string) gin.HandlerFunc {
	connectSrc := []string{
		"'self'",
		"https://sandbox.cashfree.com",
		"https://api.cashfree.com",
	}
	if frontend := strings.TrimSpace(frontendURL); frontend != "" {
		connectSrc = append(connectSrc, frontend)
	}

	policy := strings.Join([]string{
		"default-src 'self'",
		"script-src 'self'",
		"style-src 'self' 'unsafe-inline'",
		"font-src 'self' data:",
		"connect-src " + strings.Join(connectSrc, " "),
		"img-src 'self' data:",
	}, "; ")

	return func(c *gin.Context) {
		c.Header("Content-Security-Policy", policy)
		c.Header("X-Content-Type-Options", "nosniff")
		c.Next()
	}
}

type requestLimiter interface {
	Allow(ctx context.Context, route, client string) (bool, time.Duration, error)
}

// GatewayRateLimit guards routes that spend PG API quota. Limiter errors fail open.
func (s *Server) GatewayRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		route := c.FullPath()
		allowed, retryAfter, err := s.limiter.Allow(ctx, route, c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("rate limit check failed", zap.Error(err), zap.String("route", route))
			c.Next()
			return
		}
		s.obsMetrics.RecordRateLimit(ctx, route, allowed)
		if !allowed {
			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			respondError(c, http.StatusTooManyRequests, gin.H{"error": "Too many requests"}, ErrRateLimited)
			return
		}
		c.Next()
	}
}
