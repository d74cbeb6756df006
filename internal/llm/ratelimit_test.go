package llm

import (
	"context"
	"testing"
)

func TestTokenBucket_AcquireRespectsContextCancellation(t *testing.T) {
	b := newTokenBucket(0.001, 0) // effectively never refills within the test
	<-b.tokens                    // drain the single pre-filled token

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.Acquire(ctx); err == nil {
		t.Fatal("expected context cancellation error")
	}
	b.Stop()
}

func TestTokenBucket_StopUnblocksPendingAcquire(t *testing.T) {
	b := newTokenBucket(0.001, 0)
	<-b.tokens

	errCh := make(chan error, 1)
	go func() { errCh <- b.Acquire(context.Background()) }()
	b.Stop()

	if err := <-errCh; err == nil {
		t.Fatal("expected Stop to unblock a pending Acquire with an error")
	}
}
