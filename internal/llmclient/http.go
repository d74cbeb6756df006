package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient speaks the OpenAI-compatible chat-completions wire contract
// fixed by spec.md §4.1: a POST with {model, messages, max_tokens,
// temperature:0.0, stream:false} and a Bearer token, generalized from the
// teacher's Groq-specific client into any base_url.
type HTTPClient struct {
	httpc   *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewHTTPClient builds a chat-completions backend pointed at baseURL
// (e.g. "https://api.groq.com/openai/v1/chat/completions").
func NewHTTPClient(baseURL, apiKey, model string) *HTTPClient {
	return &HTTPClient{
		httpc:   &http.Client{Timeout: 300 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
	}
}

func (c *HTTPClient) Name() string { return "http:" + c.model }
func (c *HTTPClient) Close() error { return nil }
func (c *HTTPClient) CountTokens(text string) int { return CountTokens(text) }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate issues one chat-completions request. Per-attempt timeout is
// bounded by the client's http.Client (300s, §4.1); retry/backoff across
// attempts is the Gateway's Retry middleware's job, not this backend's.
func (c *HTTPClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: 0.0,
		Stream:      false,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		wrapped := fmt.Errorf("llmclient: http %s: unexpected status %s: %s", c.model, resp.Status, strings.TrimSpace(string(raw)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", wrapped // retryable
		}
		return "", NewPermanentError(wrapped)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llmclient: decode response: %w", err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return out.Choices[0].Message.Content, nil
}
