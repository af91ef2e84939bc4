package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttled spaces calls at least delay apart. The limiter is shared by every
// caller of the returned Completer, so the generator and the judge draw from
// one upstream budget. Live replies use an unthrottled Completer.
func Throttled(c Completer, delay time.Duration) Completer {
	if delay <= 0 {
		return c
	}
	limiter := rate.NewLimiter(rate.Every(delay), 1)
	return CompleterFunc(func(ctx context.Context, req Request) (string, error) {
		if err := limiter.Wait(ctx); err != nil {
			return "", err
		}
		return c.Complete(ctx, req)
	})
}
