// Package gateway provides edge middleware for the remediation API,
// including Redis-backed rate limiting.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter enforces per-client request budgets backed by Redis. Limits
// fail open: if the Redis check errors the request is allowed through, since
// a degraded limiter must not block remediation of live findings.
type RateLimiter struct {
	redis  *redis.Client
	logger *zap.Logger
	config RateLimitConfig
}

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	DefaultRequestsPerMinute int                       `yaml:"default_requests_per_minute"`
	Tiers                    map[string]TierLimits     `yaml:"tiers"`
	Endpoints                map[string]EndpointLimits `yaml:"endpoints"`
	IncludeHeaders           bool                      `yaml:"include_headers"`
}

// TierLimits defines rate limits per caller role.
type TierLimits struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	RequestsPerHour   int `yaml:"requests_per_hour"`
}

// EndpointLimits defines rate limits for specific endpoints. CostMultiplier
// scales down the effective budget for expensive operations such as batch
// remediation.
type EndpointLimits struct {
	Path              string `yaml:"path"`
	Method            string `yaml:"method"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	CostMultiplier    int    `yaml:"cost_multiplier"`
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
	Tier       string
	Reason     string
}

// NewRateLimiter creates a rate limiter over the given Redis client.
func NewRateLimiter(redisClient *redis.Client, cfg RateLimitConfig, logger *zap.Logger) *RateLimiter {
	if cfg.DefaultRequestsPerMinute == 0 {
		cfg.DefaultRequestsPerMinute = 120
	}
	if cfg.Tiers == nil {
		cfg.Tiers = DefaultTiers()
	}
	if cfg.Endpoints == nil {
		cfg.Endpoints = DefaultEndpointLimits()
	}

	return &RateLimiter{
		redis:  redisClient,
		logger: logger,
		config: cfg,
	}
}

// DefaultTiers returns limits for the built-in caller roles.
func DefaultTiers() map[string]TierLimits {
	return map[string]TierLimits{
		"readonly": {
			RequestsPerMinute: 60,
			RequestsPerHour:   600,
		},
		"operator": {
			RequestsPerMinute: 120,
			RequestsPerHour:   2000,
		},
		"admin": {
			RequestsPerMinute: 600,
			RequestsPerHour:   10000,
		},
	}
}

// DefaultEndpointLimits returns per-endpoint limits for the remediation API.
func DefaultEndpointLimits() map[string]EndpointLimits {
	return map[string]EndpointLimits{
		"POST:/api/v1/remediate": {
			Path:              "/api/v1/remediate",
			Method:            "POST",
			RequestsPerMinute: 30,
			CostMultiplier:    2,
		},
		"POST:/api/v1/remediate/batch": {
			Path:              "/api/v1/remediate/batch",
			Method:            "POST",
			RequestsPerMinute: 6,
			CostMultiplier:    5,
		},
		"POST:/api/v1/plan": {
			Path:              "/api/v1/plan",
			Method:            "POST",
			RequestsPerMinute: 60,
			CostMultiplier:    1,
		},
	}
}

// Check performs a rate limit check for one request.
func (rl *RateLimiter) Check(ctx context.Context, tier, clientID, endpoint, method string) (*RateLimitResult, error) {
	tierLimits := rl.getTierLimits(tier)
	endpointLimits := rl.getEndpointLimits(endpoint, method)
	effective := rl.calculateEffectiveLimit(tierLimits, endpointLimits)

	redisKey := fmt.Sprintf("complyforge:ratelimit:%s:%s:%s:minute", tier, clientID, endpoint)
	now := time.Now()

	script := redis.NewScript(`
		local current = redis.call('INCR', KEYS[1])
		if current == 1 then
			redis.call('PEXPIRE', KEYS[1], ARGV[1])
		end
		return current
	`)

	result, err := script.Run(ctx, rl.redis, []string{redisKey}, 60000).Int()
	if err != nil {
		rl.logger.Warn("rate limit check failed, allowing request", zap.Error(err))
		return &RateLimitResult{Allowed: true, Tier: tier}, nil
	}

	allowed := result <= effective
	remaining := effective - result
	if remaining < 0 {
		remaining = 0
	}

	ttl, _ := rl.redis.TTL(ctx, redisKey).Result()
	resetAt := now.Add(ttl)

	var retryAfter time.Duration
	var reason string
	if !allowed {
		retryAfter = ttl
		reason = "rate limit exceeded"
	}

	return &RateLimitResult{
		Allowed:    allowed,
		Remaining:  remaining,
		Limit:      effective,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
		Tier:       tier,
		Reason:     reason,
	}, nil
}

func (rl *RateLimiter) getTierLimits(tier string) TierLimits {
	if limits, ok := rl.config.Tiers[tier]; ok {
		return limits
	}
	return TierLimits{RequestsPerMinute: rl.config.DefaultRequestsPerMinute}
}

func (rl *RateLimiter) getEndpointLimits(endpoint, method string) *EndpointLimits {
	key := method + ":" + endpoint
	if limits, ok := rl.config.Endpoints[key]; ok {
		return &limits
	}
	return nil
}

// calculateEffectiveLimit resolves the per-minute budget for a request. The
// endpoint limit caps the tier limit; the cost multiplier then divides it.
func (rl *RateLimiter) calculateEffectiveLimit(tier TierLimits, endpoint *EndpointLimits) int {
	effective := tier.RequestsPerMinute
	if effective == 0 {
		effective = rl.config.DefaultRequestsPerMinute
	}
	if endpoint == nil {
		return effective
	}
	if endpoint.RequestsPerMinute > 0 && endpoint.RequestsPerMinute < effective {
		effective = endpoint.RequestsPerMinute
	}
	if endpoint.CostMultiplier > 1 {
		effective /= endpoint.CostMultiplier
		if effective < 1 {
			effective = 1
		}
	}
	return effective
}

// Middleware returns an HTTP middleware enforcing the configured limits.
// getTier and getClientID extract the caller role and identity from the
// request; an empty client ID falls back to the caller's IP.
func (rl *RateLimiter) Middleware(getTier func(r *http.Request) string, getClientID func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tier := getTier(r)
			clientID := getClientID(r)
			if clientID == "" {
				clientID = clientIP(r)
			}

			result, err := rl.Check(ctx, tier, clientID, r.URL.Path, r.Method)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if rl.config.IncludeHeaders {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
			}

			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error":"rate_limit_exceeded","message":"%s","retry_after":%d}`,
					result.Reason, int(result.RetryAfter.Seconds()))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
