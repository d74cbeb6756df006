package llm

import (
	"context"
	"time"
)

// tokenBucket is a lightweight token-bucket limiter, grounded on the
// teacher's rpsLimiter: it throttles to at most rps events per second
// with a burst allowance, refilled on a ticker.
type tokenBucket struct {
	tokens chan struct{}
	stopCh chan struct{}
}

// newTokenBucket builds a limiter allowing up to rps events/sec with
// the given burst capacity. rps<=0 disables the limiter (nil receiver
// methods are no-ops).
func newTokenBucket(rps float64, burst int) *tokenBucket {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	b := &tokenBucket{
		tokens: make(chan struct{}, burst),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < burst; i++ {
		b.tokens <- struct{}{}
	}
	period := time.Duration(float64(time.Second) / rps)
	if period <= 0 {
		period = time.Millisecond
	}
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case b.tokens <- struct{}{}:
				default:
				}
			case <-b.stopCh:
				return
			}
		}
	}()
	return b
}

func (b *tokenBucket) Acquire(ctx context.Context) error {
	if b == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stopCh:
		return context.Canceled
	case <-b.tokens:
		return nil
	}
}

func (b *tokenBucket) Stop() {
	if b == nil {
		return
	}
	close(b.stopCh)
}
