package main

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitedTransport spaces out calls to an expensive transport.
type RateLimitedTransport struct {
	next    Transport
	limiter *rate.Limiter
}

// NewRateLimitedTransport allows one call per interval, with no burst. A
// non-positive interval disables limiting.
func NewRateLimitedTransport(next Transport, interval time.Duration) *RateLimitedTransport {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &RateLimitedTransport{next: next, limiter: rate.NewLimiter(limit, 1)}
}

func (r *RateLimitedTransport) Name() string { return r.next.Name() }

// Unwrap returns the wrapped transport.
func (r *RateLimitedTransport) Unwrap() Transport { return r.next }

func (r *RateLimitedTransport) Send(ctx context.Context, req *RequestDescription) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, classifyTransportError(ctx, r.next.Name(), err)
	}
	return r.next.Send(ctx, req)
}
