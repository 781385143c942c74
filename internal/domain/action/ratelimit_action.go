package action

import (
	"context"

	"github.com/toolgate/gateway/internal/domain/ratelimit"
)

// OrderRateLimit is the pipeline position of RateLimitAction.
const OrderRateLimit = 200

// RateLimitAction enforces a token-bucket limit keyed by tool name.
type RateLimitAction struct {
	Limiter ratelimit.RateLimiter
	Config  ratelimit.RateLimitConfig
}

var _ Action = (*RateLimitAction)(nil)

// Order implements Action.
func (a *RateLimitAction) Order() int { return OrderRateLimit }

// AppliesTo implements Action; rate limiting applies whenever a limiter is wired.
func (a *RateLimitAction) AppliesTo(ictx *InvocationContext) bool { return a.Limiter != nil }

// Invoke implements Action.
func (a *RateLimitAction) Invoke(ctx context.Context, ictx *InvocationContext, next Next) (Result, error) {
	key := ratelimit.FormatKey(ratelimit.KeyTypeUser, ictx.ToolName)
	res, err := a.Limiter.Allow(ctx, key, a.Config)
	if err != nil {
		return Result{}, err
	}
	if !res.Allowed {
		return Result{}, &RateLimitError{ToolName: ictx.ToolName, RetryAfter: res.RetryAfter}
	}
	return next(ctx)
}
