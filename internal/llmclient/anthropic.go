package llmclient

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient is a second real-SDK-backed cascade entry (alongside
// Gemini), demonstrating the Gateway's provider abstraction with the
// pack's anthropic-sdk-go dependency rather than a second hand-rolled
// HTTP client.
type AnthropicClient struct {
	cli   anthropic.Client
	model anthropic.Model
}

// NewAnthropicClient constructs an Anthropic Messages-API backend.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	cli := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{cli: cli, model: anthropic.Model(model)}
}

func (c *AnthropicClient) Name() string { return "anthropic:" + string(c.model) }
func (c *AnthropicClient) Close() error { return nil }
func (c *AnthropicClient) CountTokens(text string) int { return CountTokens(text) }

func (c *AnthropicClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	msg, err := c.cli.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("llmclient: anthropic generate: %w", err)
	}
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}
