package ratelimit

import (
	"context"
	"fmt"
	"time"

	redisClient "voice-bridge/internal/clients/redis"
	"voice-bridge/internal/observability"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const window = time.Minute

// RateLimitResult represents the result of a rate limit check
type RateLimitResult struct {
	Allowed      bool      `json:"allowed"`
	Limit        int       `json:"limit"`
	Remaining    int       `json:"remaining"`
	ResetAt      time.Time `json:"reset_at"`
	RetryAfterMs int       `json:"retry_after_ms,omitempty"`
}

// Service limits how often one client may place outbound calls
type Service struct {
	redis  *redisClient.Client
	limit  int
	prefix string
	now    func() time.Time
	logger *observability.Logger
}

// NewService creates a rate limiter allowing limit requests per minute per key.
// A nil redis client or a limit of zero disables limiting.
func NewService(redis *redisClient.Client, limit int, logger *observability.Logger) *Service {
	return &Service{
		redis:  redis,
		limit:  limit,
		prefix: "rl:calls:",
		now:    time.Now,
		logger: logger,
	}
}

// Enabled reports whether requests are actually limited.
func (s *Service) Enabled() bool {
	return s.limit > 0 && s.redis.IsEnabled()
}

// CheckRateLimit records one request for key and reports whether it is within the limit.
func (s *Service) CheckRateLimit(ctx context.Context, key string) (RateLimitResult, error) {
	if !s.Enabled() {
		return RateLimitResult{Allowed: true, Limit: s.limit, Remaining: s.limit}, nil
	}
	return s.checkRateLimitRedis(ctx, s.prefix+key)
}

// checkRateLimitRedis implements a sliding window with a sorted set of
// request timestamps in milliseconds.
func (s *Service) checkRateLimitRedis(ctx context.Context, key string) (RateLimitResult, error) {
	now := s.now()
	windowStartMs := now.Add(-window).UnixMilli()

	// Remove old entries outside the window
	if err := s.redis.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStartMs)); err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to remove old entries: %w", err)
	}

	count, err := s.redis.ZCard(ctx, key)
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to count requests: %w", err)
	}

	if int(count) >= s.limit {
		result := RateLimitResult{
			Allowed:      false,
			Limit:        s.limit,
			ResetAt:      now.Add(window),
			RetryAfterMs: int(window.Milliseconds()),
		}
		oldest, err := s.redis.ZRangeWithScores(ctx, key, 0, 0)
		if err == nil && len(oldest) > 0 {
			result.ResetAt = time.UnixMilli(int64(oldest[0].Score)).Add(window)
			result.RetryAfterMs = int(max(0, result.ResetAt.Sub(now).Milliseconds()))
		}
		return result, nil
	}

	// Members must be unique even for requests in the same millisecond
	member := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString())
	if err := s.redis.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member}); err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to add request: %w", err)
	}

	if err := s.redis.Expire(ctx, key, 2*window); err != nil {
		s.logger.InfoWithError(ctx, "failed to set expiration on rate limit key", err)
	}

	return RateLimitResult{
		Allowed:   true,
		Limit:     s.limit,
		Remaining: s.limit - int(count) - 1,
		ResetAt:   now.Add(window),
	}, nil
}
