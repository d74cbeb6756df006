// Package llm implements the Gateway: the cascading multi-backend LLM
// caller described in spec.md §4.1. A Gateway tries the configured
// backends in order — subprocess, then primary HTTP/SDK client, then
// each fallback model in turn — and only raises LLMExhausted once every
// backend has failed.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"docforge/internal/llmclient"
)

// Purpose selects which token cap a call should use; it carries no
// other behavior difference across backends (§4.1).
type Purpose int

const (
	PurposeCluster Purpose = iota
	PurposeLeafDoc
	PurposeOverview
	PurposeTranslate
)

func (p Purpose) String() string {
	switch p {
	case PurposeCluster:
		return "cluster"
	case PurposeLeafDoc:
		return "leaf_doc"
	case PurposeOverview:
		return "overview"
	case PurposeTranslate:
		return "translate"
	default:
		return "unknown"
	}
}

// BackendError records one cascade entry's failure, preserved in order
// inside LLMExhausted so callers can see exactly why every backend was
// rejected.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string { return fmt.Sprintf("%s: %v", e.Backend, e.Err) }
func (e *BackendError) Unwrap() error { return e.Err }

// LLMExhausted is returned once every configured backend in the
// cascade has failed for a single call (§5's terminal LLMExhausted
// class).
type LLMExhausted struct {
	Purpose Purpose
	Errs    []*BackendError
}

func (e *LLMExhausted) Error() string {
	parts := make([]string, 0, len(e.Errs))
	for _, be := range e.Errs {
		parts = append(parts, be.Error())
	}
	return fmt.Sprintf("llm: exhausted all backends for %s: [%s]", e.Purpose, strings.Join(parts, "; "))
}

// Gateway holds an ordered cascade of backends, each already wrapped
// in whatever middleware (retry, rate-limit, logging) the caller chose.
// Backends are tried strictly in order; a backend returning a
// llmclient.PermanentError still moves on to the next backend, since
// "permanent" is per-backend, not per-call (e.g. one model rejecting
// the prompt for context length does not doom a different model).
type Gateway struct {
	backends []llmclient.Client
	tokenCap map[Purpose]int
	log      *zap.Logger
}

// New builds a Gateway over backends in cascade order. tokenCap maps a
// Purpose to the max_tokens value passed to each backend; a missing
// entry means "no cap" (0).
func New(backends []llmclient.Client, tokenCap map[Purpose]int, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	if tokenCap == nil {
		tokenCap = map[Purpose]int{}
	}
	return &Gateway{backends: backends, tokenCap: tokenCap, log: log}
}

// Generate runs the cascade for one purpose, returning the first
// backend's successful output. If every backend fails, it returns
// *LLMExhausted. Context cancellation aborts the cascade immediately
// rather than trying remaining backends.
func (g *Gateway) Generate(ctx context.Context, purpose Purpose, prompt string) (string, error) {
	if len(g.backends) == 0 {
		return "", &LLMExhausted{Purpose: purpose, Errs: []*BackendError{{Backend: "none", Err: errors.New("no backends configured")}}}
	}
	maxTokens := g.tokenCap[purpose]

	var errs []*BackendError
	for _, b := range g.backends {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		out, err := b.Generate(ctx, prompt, maxTokens)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		g.log.Warn("llm backend failed, trying next in cascade",
			zap.String("backend", b.Name()),
			zap.String("purpose", purpose.String()),
			zap.Error(err))
		errs = append(errs, &BackendError{Backend: b.Name(), Err: err})
	}
	return "", &LLMExhausted{Purpose: purpose, Errs: errs}
}

// CountTokens uses the first configured backend's estimator, which is
// the ⌈chars/4⌉ heuristic for every backend in this module, so the
// choice is arbitrary but consistent.
func (g *Gateway) CountTokens(text string) int {
	if len(g.backends) == 0 {
		return llmclient.CountTokens(text)
	}
	return g.backends[0].CountTokens(text)
}

// Close closes every backend, collecting (not short-circuiting on) errors.
func (g *Gateway) Close() error {
	var firstErr error
	for _, b := range g.backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
