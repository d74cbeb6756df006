package llmclient

import (
	"context"
	"testing"
	"time"
)

func TestSubprocessClient_GenerateReturnsOutputFromStdout(t *testing.T) {
	c := NewSubprocessClient("cat", t.TempDir())
	out, err := c.Generate(context.Background(), "hello from stdin", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello from stdin" {
		t.Fatalf("got %q", out)
	}
}

func TestSubprocessClient_EmptyStdoutIsAnError(t *testing.T) {
	c := NewSubprocessClient("cat > /dev/null", t.TempDir())
	if _, err := c.Generate(context.Background(), "prompt", 0); err != ErrEmptyResponse {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

// TestSubprocessClient_CancellationEscalatesGracefully verifies that
// cancelling ctx against a child that ignores SIGTERM still unblocks
// Generate, via WaitDelay's forced kill, rather than hanging forever.
func TestSubprocessClient_CancellationEscalatesGracefully(t *testing.T) {
	c := NewSubprocessClient(`trap '' TERM; sleep 30`, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := c.Generate(ctx, "prompt", 0)
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(8 * time.Second):
		t.Fatal("Generate did not return after WaitDelay should have force-killed the child")
	}
}
