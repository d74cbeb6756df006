package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docforge/internal/llmclient"
)

type stubClient struct {
	name   string
	calls  int
	err    error
	perm   bool
	output string
}

func (s *stubClient) Name() string                { return s.name }
func (s *stubClient) Close() error                { return nil }
func (s *stubClient) CountTokens(text string) int { return len(text) }
func (s *stubClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	s.calls++
	if s.err != nil {
		if s.perm {
			return "", llmclient.NewPermanentError(s.err)
		}
		return "", s.err
	}
	return s.output, nil
}

func TestGateway_FirstBackendSucceeds(t *testing.T) {
	a := &stubClient{name: "a", output: "hello"}
	b := &stubClient{name: "b", output: "world"}
	gw := New([]llmclient.Client{a, b}, nil, nil)

	out, err := gw.Generate(context.Background(), PurposeLeafDoc, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, 0, b.calls, "backend b should not have been called")
}

func TestGateway_FallsThroughOnFailure(t *testing.T) {
	a := &stubClient{name: "a", err: errors.New("boom")}
	b := &stubClient{name: "b", output: "world"}
	gw := New([]llmclient.Client{a, b}, nil, nil)

	out, err := gw.Generate(context.Background(), PurposeLeafDoc, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "world", out)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestGateway_AllFailReturnsLLMExhausted(t *testing.T) {
	a := &stubClient{name: "a", err: errors.New("boom-a")}
	b := &stubClient{name: "b", err: errors.New("boom-b"), perm: true}
	gw := New([]llmclient.Client{a, b}, nil, nil)

	_, err := gw.Generate(context.Background(), PurposeCluster, "prompt")
	require.Error(t, err)

	var exhausted *LLMExhausted
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Errs, 2)
	assert.Equal(t, "a", exhausted.Errs[0].Backend)
	assert.Equal(t, "b", exhausted.Errs[1].Backend)
}

func TestGateway_RespectsContextCancellation(t *testing.T) {
	a := &stubClient{name: "a", err: errors.New("boom")}
	b := &stubClient{name: "b", output: "world"}
	gw := New([]llmclient.Client{a, b}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gw.Generate(ctx, PurposeLeafDoc, "prompt")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, a.calls, "backend a should not be called once context is already cancelled")
}

func TestGateway_EmptyCascadeIsExhausted(t *testing.T) {
	gw := New(nil, nil, nil)
	_, err := gw.Generate(context.Background(), PurposeOverview, "prompt")

	var exhausted *LLMExhausted
	require.ErrorAs(t, err, &exhausted)
}
