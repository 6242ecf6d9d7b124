package rpc

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter paces outbound RPC calls to the transparency surface so a batch's
// tail-item replay doesn't hammer the endpoint faster than a real browser
// session would (the teacher applies the same golang.org/x/time/rate
// token-bucket shape per API key in api/middleware/ratelimit.go; here it
// paces the session's own outbound calls instead of inbound ones).
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter creates a Limiter allowing rps calls per second with the given
// burst. A non-positive rps disables limiting (Wait always returns
// immediately).
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
