package locator

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"golang.org/x/time/rate"
)

// Throttled rate limits calls into another locator. Remote locator services
// bill and throttle per query.
type Throttled struct {
	next    schemas.Locator
	limiter *rate.Limiter
}

var _ schemas.Locator = (*Throttled)(nil)

// NewThrottled wraps next with a token bucket of perSecond queries and the
// given burst. A non-positive rate disables throttling.
func NewThrottled(next schemas.Locator, perSecond float64, burst int) schemas.Locator {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (t *Throttled) FindByIdentifier(ctx context.Context, identifier string) (schemas.ElementHandle, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("locator rate limit: %w", err)
	}
	return t.next.FindByIdentifier(ctx, identifier)
}

func (t *Throttled) FindByPrompt(ctx context.Context, prompt string) (schemas.ElementHandle, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("locator rate limit: %w", err)
	}
	return t.next.FindByPrompt(ctx, prompt)
}
