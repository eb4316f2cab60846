package llm

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/time/rate"
)

// LimitedBackend paces calls to a backend with a token bucket
type LimitedBackend struct {
	backend Backend
	limiter *rate.Limiter
}

// Limited wraps b so that at most requestsPerSecond conversations start per
// second. A non-positive rate returns b unchanged.
func Limited(b Backend, requestsPerSecond float64, burst int) Backend {
	if requestsPerSecond <= 0 {
		return b
	}
	if burst <= 0 {
		burst = 1
	}
	return &LimitedBackend{
		backend: b,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Name returns the wrapped provider name
func (l *LimitedBackend) Name() string {
	return l.backend.Name()
}

// Converse waits for rate limit clearance, then streams the wrapped reply
func (l *LimitedBackend) Converse(ctx context.Context, turns []Turn) Stream {
	return NewStream(func(emit func(string) bool) error {
		if err := l.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait cancelled: %w", err)
		}
		for fragment, err := range l.backend.Converse(ctx, turns) {
			if err != nil {
				return err
			}
			if !emit(fragment) {
				return nil
			}
		}
		return nil
	})
}

// Close closes the wrapped backend when it holds resources
func (l *LimitedBackend) Close() error {
	if c, ok := l.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
