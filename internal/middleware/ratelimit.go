package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-guard/internal/config"
	"github.com/stemsi/exstem-guard/internal/response"
	"github.com/stemsi/exstem-guard/internal/service"
)

// RateLimiter is a fixed-window limiter backed by a shared counter, so every
// API replica sees the same budget.
type RateLimiter struct {
	counter service.FailureCounter
	rate    int
	window  time.Duration
	log     zerolog.Logger
}

// NewRateLimiter creates a RateLimiter (e.g., 30 requests per minute).
func NewRateLimiter(counter service.FailureCounter, rate int, window time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		counter: counter,
		rate:    rate,
		window:  window,
		log:     log.With().Str("component", "ratelimit").Logger(),
	}
}

// Middleware returns a Gin middleware that rate-limits requests by caller.
// Authenticated callers are keyed by user, everyone else by IP. A counter
// failure lets the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rate <= 0 {
			c.Next()
			return
		}

		caller := "ip:" + c.ClientIP()
		if claims := GetClaims(c); claims != nil {
			caller = fmt.Sprintf("%s:%d", claims.TokenType, claims.UserID)
		}
		bucket := time.Now().Truncate(rl.window).Unix()
		key := config.CacheKey.StartRateLimitKey(caller + ":" + strconv.FormatInt(bucket, 10))

		count, err := rl.counter.Incr(c.Request.Context(), key, rl.window)
		if err != nil {
			rl.log.Error().Err(err).Str("caller", caller).Msg("Rate limit counter unavailable")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.rate))
		if remaining := rl.rate - int(count); remaining >= 0 {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		} else {
			c.Header("X-RateLimit-Remaining", "0")
		}

		if int(count) > rl.rate {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
