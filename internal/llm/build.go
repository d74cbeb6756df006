package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"docforge/internal/llmclient"
)

// BuildConfig carries exactly the Gateway-relevant fields out of the
// engine's Config (§6): a primary HTTP/SDK backend, fallback model ids
// tried against the same HTTP endpoint, and an optional subprocess
// command tried first.
type BuildConfig struct {
	AgentCmd       string // optional; empty disables the subprocess backend
	WorkDir        string // subprocess cwd, normally docs_dir
	BaseURL        string
	APIKey         string
	MainModel      string
	FallbackModels []string
	GeminiModel    string // non-empty enables the Gemini SDK backend
	AnthropicModel string // non-empty enables the Anthropic SDK backend

	MaxTokenPerModule     int
	MaxTokenPerLeafModule int

	RPS   float64
	Burst int
}

// Build assembles the cascade in the order §4.1 fixes: subprocess
// first (if configured), then the primary HTTP backend, then the
// Gemini/Anthropic SDK backends (if configured), then each fallback
// model against the same HTTP endpoint, in the order given.
func Build(ctx context.Context, cfg BuildConfig, log *zap.Logger) (*Gateway, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var backends []llmclient.Client

	if cfg.AgentCmd != "" {
		backends = append(backends, decorate(llmclient.NewSubprocessClient(cfg.AgentCmd, cfg.WorkDir), cfg, log))
	}
	if cfg.BaseURL != "" && cfg.MainModel != "" {
		backends = append(backends, decorate(llmclient.NewHTTPClient(cfg.BaseURL, cfg.APIKey, cfg.MainModel), cfg, log))
	}
	if cfg.GeminiModel != "" {
		gc, err := llmclient.NewGeminiClient(ctx, cfg.APIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("llm: build gemini backend: %w", err)
		}
		backends = append(backends, decorate(gc, cfg, log))
	}
	if cfg.AnthropicModel != "" {
		backends = append(backends, decorate(llmclient.NewAnthropicClient(cfg.APIKey, cfg.AnthropicModel), cfg, log))
	}
	for _, model := range cfg.FallbackModels {
		if model == "" || cfg.BaseURL == "" {
			continue
		}
		backends = append(backends, decorate(llmclient.NewHTTPClient(cfg.BaseURL, cfg.APIKey, model), cfg, log))
	}

	tokenCap := map[Purpose]int{
		PurposeCluster:   cfg.MaxTokenPerModule,
		PurposeLeafDoc:   cfg.MaxTokenPerLeafModule,
		PurposeOverview:  cfg.MaxTokenPerModule,
		PurposeTranslate: cfg.MaxTokenPerLeafModule,
	}
	return New(backends, tokenCap, log), nil
}

// decorate wraps one raw backend with the standard middleware stack.
// Retry sits outermost so each retried attempt re-enters logging and
// rate limiting individually, rather than being logged once per
// cascade entry.
func decorate(base llmclient.Client, cfg BuildConfig, log *zap.Logger) llmclient.Client {
	mws := []Middleware{
		Retry(3, 2*time.Second, 30*time.Second),
		WithLogging(log),
	}
	if cfg.RPS > 0 {
		mws = append(mws, RateLimit(cfg.RPS, cfg.Burst))
	}
	return Chain(base, mws...)
}
