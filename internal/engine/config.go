package engine

import (
	"fmt"

	"docforge/internal/component"
)

// Config is the engine's single external input (§6): everything the
// Clusterer, Gateway, Orchestrator and Scheduler need for one run.
type Config struct {
	DocsDir string
	// RepoDir is the source tree Components/LeafSet were derived from.
	// Components already carry their own SourceCode and FilePath; when
	// set, RepoDir backs the read-only "repo:" view of the agent's
	// str_replace_editor and is where the commit id recorded in
	// metadata.json is read from.
	RepoDir string

	Components component.Map
	LeafSet    component.LeafSet

	MaxTokens             int
	MaxTokenPerModule     int
	MaxTokenPerLeafModule int
	MaxDepth              int
	Concurrency           int

	MainModel      string
	FallbackModels []string
	BaseURL        string
	APIKey         string
	GeminiModel    string
	AnthropicModel string
	AgentCmd       string

	CustomInstructions string
	MaxAgentTurns      int

	RPS   float64
	Burst int
}

// Validate applies the ConfigInvalid checks (§7): missing credentials
// or contradictory options are fatal before the run starts.
func (c Config) Validate() error {
	if c.DocsDir == "" {
		return &ConfigInvalid{Reason: "docs_dir is required"}
	}
	if c.MaxTokenPerModule <= 0 {
		return &ConfigInvalid{Reason: "max_token_per_module must be positive"}
	}
	if c.MaxTokenPerLeafModule <= 0 {
		return &ConfigInvalid{Reason: "max_token_per_leaf_module must be positive"}
	}
	if c.MaxDepth < 0 {
		return &ConfigInvalid{Reason: "max_depth must be non-negative"}
	}
	if c.Concurrency < 0 {
		return &ConfigInvalid{Reason: "concurrency must be non-negative"}
	}
	hasBackend := c.AgentCmd != "" ||
		(c.BaseURL != "" && c.MainModel != "") ||
		c.GeminiModel != "" ||
		c.AnthropicModel != ""
	if !hasBackend {
		return &ConfigInvalid{Reason: "no LLM backend configured: set agent_cmd, base_url+main_model, gemini_model, or anthropic_model"}
	}
	if (c.GeminiModel != "" || c.AnthropicModel != "" || (c.BaseURL != "" && c.MainModel != "")) && c.APIKey == "" {
		return &ConfigInvalid{Reason: "api_key is required for any HTTP or SDK backend"}
	}
	for id := range c.LeafSet {
		if _, ok := c.Components[id]; !ok {
			return &ConfigInvalid{Reason: fmt.Sprintf("leaf set references unknown component id %q", id)}
		}
	}
	return nil
}
