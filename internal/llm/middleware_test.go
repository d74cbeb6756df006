package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"docforge/internal/llmclient"
)

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	c := &retrying{
		next: &funcClient{generate: func(ctx context.Context, prompt string, maxTokens int) (string, error) {
			attempts++
			if attempts < 3 {
				return "", errors.New("transient")
			}
			return "ok", nil
		}},
		max:  5,
		base: time.Millisecond,
		cap:  10 * time.Millisecond,
	}
	out, err := c.Generate(context.Background(), "p", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" {
		t.Fatalf("got %q", out)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_StopsImmediatelyOnPermanentError(t *testing.T) {
	attempts := 0
	c := &retrying{
		next: &funcClient{generate: func(ctx context.Context, prompt string, maxTokens int) (string, error) {
			attempts++
			return "", llmclient.NewPermanentError(errors.New("bad request"))
		}},
		max:  5,
		base: time.Millisecond,
		cap:  10 * time.Millisecond,
	}
	_, err := c.Generate(context.Background(), "p", 0)
	if !llmclient.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", attempts)
	}
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	c := &retrying{
		next: &funcClient{generate: func(ctx context.Context, prompt string, maxTokens int) (string, error) {
			attempts++
			return "", errors.New("always fails")
		}},
		max:  3,
		base: time.Millisecond,
		cap:  5 * time.Millisecond,
	}
	_, err := c.Generate(context.Background(), "p", 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRateLimit_AllowsBurstCalls(t *testing.T) {
	called := 0
	base := &funcClient{generate: func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		called++
		return "ok", nil
	}}
	mw := RateLimit(1000, 2)
	wrapped := mw(base)

	for i := 0; i < 2; i++ {
		if _, err := wrapped.Generate(context.Background(), "p", 0); err != nil {
			t.Fatalf("unexpected error on call %d: %v", i, err)
		}
	}
	if called != 2 {
		t.Fatalf("expected 2 calls through, got %d", called)
	}
}

func TestRateLimit_CloseStopsBucket(t *testing.T) {
	base := &funcClient{
		generate: func(ctx context.Context, prompt string, maxTokens int) (string, error) { return "ok", nil },
	}
	mw := RateLimit(1, 1)
	wrapped := mw(base)

	if err := wrapped.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rl, ok := wrapped.(*rateLimited)
	if !ok {
		t.Fatal("expected *rateLimited")
	}
	if err := rl.rl.Acquire(context.Background()); err == nil {
		t.Fatal("expected Acquire to fail on a stopped bucket")
	}
}

type funcClient struct {
	generate func(ctx context.Context, prompt string, maxTokens int) (string, error)
}

func (f *funcClient) Name() string               { return "func" }
func (f *funcClient) Close() error               { return nil }
func (f *funcClient) CountTokens(text string) int { return len(text) }
func (f *funcClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f.generate(ctx, prompt, maxTokens)
}
