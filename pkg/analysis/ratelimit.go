package analysis

import (
	"context"
	"fmt"

	"session-processor/pkg/models"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Service so calls never exceed the limiter's rate.
// Waiting honours the caller's context.
type RateLimited struct {
	next    Service
	limiter *rate.Limiter
}

func NewRateLimited(next Service, requestsPerSecond float64, burst int) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) Analyze(ctx context.Context, text string) (*models.SessionReport, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", models.ErrAnalysis, err)
	}
	return r.next.Analyze(ctx, text)
}
