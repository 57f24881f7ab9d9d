package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"event-portal/internal/lib/logger/sl"

	"github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis  redis.Cmdable
	log    *slog.Logger
	limit  int
	window time.Duration
}

func NewRateLimiter(redisClient redis.Cmdable, log *slog.Logger, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{redis: redisClient, log: log, limit: limit, window: window}
}

// Allow counts one request of identifier in the current fixed window.
func (r *RateLimiter) Allow(ctx context.Context, identifier string) (bool, error) {
	key := fmt.Sprintf("throttle:%s", identifier)

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, r.window).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(r.limit), nil
}

// Throttle limits requests per identity within scope. identify returns the
// caller's identity; an empty identity falls back to the client IP.
func (r *RateLimiter) Throttle(scope string, identify func(c echo.Context) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := ""
			if identify != nil {
				id = identify(c)
			}
			if id == "" {
				id = "ip:" + c.RealIP()
			}

			ok, err := r.Allow(c.Request().Context(), scope+":"+id)
			if err != nil {
				// Redis trouble must not lock users out.
				r.log.Warn("throttle check failed", slog.String("scope", scope), sl.Err(err))
				return next(c)
			}
			if !ok {
				c.Response().Header().Set("Retry-After", fmt.Sprintf("%.0f", r.window.Seconds()))
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "Too many requests. Please try again later.",
				})
			}
			return next(c)
		}
	}
}

// Anti-bot protection
func (r *RateLimiter) AntiBotMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if r.isSuspiciousUserAgent(c.Request().Header.Get("User-Agent")) {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "Access denied",
				})
			}
			return next(c)
		}
	}
}

func (r *RateLimiter) isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	ua = strings.ToLower(ua)
	for _, pattern := range suspicious {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
