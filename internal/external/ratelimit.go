package external

import (
	"context"

	"golang.org/x/time/rate"

	"leadflow/internal/types"
)

// RateLimitedSender paces calls to an inner provider with a token bucket so
// a burst of due reminders does not trip the provider's own limits. Sends
// block until a token is available or ctx ends.
type RateLimitedSender struct {
	inner   EmailProvider
	limiter *rate.Limiter
}

// NewRateLimitedSender wraps inner with a limiter of perSecond sends and
// the given burst. A burst below one is treated as one.
func NewRateLimitedSender(inner EmailProvider, perSecond float64, burst int) *RateLimitedSender {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedSender{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (r *RateLimitedSender) Send(ctx context.Context, input types.SendInput) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamRateLimited, "send cancelled while waiting for rate limiter", err)
	}
	return r.inner.Send(ctx, input)
}

var _ EmailProvider = (*RateLimitedSender)(nil)
