package llm

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"docforge/internal/llmclient"
)

// Middleware decorates an llmclient.Client with cross-cutting behavior
// (retry, rate limiting, logging), the way the teacher's internal/llm
// middleware package composes around llmclient.LLMClient.
type Middleware func(llmclient.Client) llmclient.Client

// Chain applies middlewares outer-to-inner: Chain(base, a, b) behaves as
// a(b(base)), so the first middleware listed sees the request first.
func Chain(base llmclient.Client, mws ...Middleware) llmclient.Client {
	c := base
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}

// Retry retries Generate up to maxAttempts with exponential backoff
// (base, doubling, capped at capDelay) plus full jitter. A
// llmclient.PermanentError or context cancellation stops retrying
// immediately (§5).
func Retry(maxAttempts int, baseDelay, capDelay time.Duration) Middleware {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	if capDelay <= 0 {
		capDelay = 30 * time.Second
	}
	return func(next llmclient.Client) llmclient.Client {
		return &retrying{next: next, max: maxAttempts, base: baseDelay, cap: capDelay}
	}
}

type retrying struct {
	next llmclient.Client
	max  int
	base time.Duration
	cap  time.Duration
}

func (r *retrying) Name() string                     { return r.next.Name() }
func (r *retrying) Close() error                     { return r.next.Close() }
func (r *retrying) CountTokens(text string) int       { return r.next.CountTokens(text) }

func (r *retrying) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	var last error
	for i := 0; i < r.max; i++ {
		out, err := r.next.Generate(ctx, prompt, maxTokens)
		if err == nil {
			return out, nil
		}
		if llmclient.IsPermanent(err) {
			return "", err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		last = err
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		if i == r.max-1 {
			break
		}
		delay := r.base * time.Duration(1<<uint(i))
		if delay > r.cap {
			delay = r.cap
		}
		delay = time.Duration(rand.Int63n(int64(delay) + 1)) // full jitter
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "", last
}

// WithLogging logs request size and errors via zap, at debug level for
// success and warn for failure, so a normal run stays quiet.
func WithLogging(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next llmclient.Client) llmclient.Client {
		return &logging{next: next, log: log}
	}
}

type logging struct {
	next llmclient.Client
	log  *zap.Logger
}

func (l *logging) Name() string               { return l.next.Name() }
func (l *logging) Close() error               { return l.next.Close() }
func (l *logging) CountTokens(text string) int { return l.next.CountTokens(text) }

func (l *logging) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	start := time.Now()
	out, err := l.next.Generate(ctx, prompt, maxTokens)
	elapsed := time.Since(start)
	if err != nil {
		l.log.Warn("llm backend call failed",
			zap.String("backend", l.next.Name()),
			zap.Int("prompt_bytes", len(prompt)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return "", err
	}
	l.log.Debug("llm backend call ok",
		zap.String("backend", l.next.Name()),
		zap.Int("prompt_bytes", len(prompt)),
		zap.Int("response_bytes", len(out)),
		zap.Duration("elapsed", elapsed))
	return out, nil
}

// RateLimit throttles a backend to at most rps requests per second with
// the given burst, via a token-bucket identical in shape to the
// teacher's rpsLimiter.
func RateLimit(rps float64, burst int) Middleware {
	return func(next llmclient.Client) llmclient.Client {
		return &rateLimited{next: next, rl: newTokenBucket(rps, burst)}
	}
}

type rateLimited struct {
	next llmclient.Client
	rl   *tokenBucket
}

func (c *rateLimited) Name() string { return c.next.Name() }

// Close stops this middleware's own refill goroutine before closing the
// wrapped backend, so a RateLimit-wrapped client never outlives Gateway.Close.
func (c *rateLimited) Close() error {
	c.rl.Stop()
	return c.next.Close()
}
func (c *rateLimited) CountTokens(text string) int { return c.next.CountTokens(text) }

func (c *rateLimited) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := c.rl.Acquire(ctx); err != nil {
		return "", err
	}
	return c.next.Generate(ctx, prompt, maxTokens)
}
