package main

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docforge/internal/engine"
)

// bindFlags declares the subset of engine.Config this command exposes as
// flags and wires each one through viper so the precedence order
// is flags > env (DOCFORGE_*) > config file > these defaults, the same
// layering ShayCichocki-Alphie's internal/config.Load applies.
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.Flags()

	flags.String("config", "", "path to a YAML/JSON/TOML config file (optional)")
	flags.String("docs-dir", "docs", "directory the generated Markdown tree is written to")
	flags.String("repo-dir", "", "source checkout the component manifest was derived from (read-only \"repo:\" view for the agent; commit id in metadata)")
	flags.String("components-file", "", "path to a JSON manifest of {components, leaf_set} (required)")

	flags.Int("max-tokens", 0, "a module whose source exceeds half this many tokens is documented as complex (0 = token test off)")
	flags.Int("max-token-per-module", 12000, "per-call token cap for clustering and overview LLM requests")
	flags.Int("max-token-per-leaf-module", 12000, "token budget a leaf module's source must fit before clustering stops splitting; also the per-call cap for leaf-doc requests")
	flags.Int("max-depth", 6, "maximum clustering depth (0 forces a single leaf module)")
	flags.Int("concurrency", 4, "maximum modules documented concurrently")

	flags.String("main-model", "", "primary model name for the HTTP backend")
	flags.StringSlice("fallback-models", nil, "fallback model names tried in order after main-model")
	flags.String("base-url", "", "OpenAI-compatible chat-completions endpoint")
	flags.String("api-key", "", "API key for base-url, gemini-model, or anthropic-model")
	flags.String("gemini-model", "", "Gemini model name (uses google.golang.org/genai)")
	flags.String("anthropic-model", "", "Anthropic model name (uses the Anthropic SDK)")
	flags.String("agent-cmd", "", "shell command run per module instead of any HTTP/SDK backend")

	flags.String("custom-instructions", "", "text appended verbatim to every system prompt")
	flags.Int("max-agent-turns", 8, "maximum tool-call turns per API-mode agent invocation")

	flags.Float64("rps", 0, "requests per second to the HTTP/SDK backends (0 = unlimited)")
	flags.Int("burst", 1, "token-bucket burst size paired with --rps")

	flags.Bool("tui", false, "render progress as a bubbletea TUI instead of plain log lines")

	_ = v.BindPFlags(flags)
}

// loadConfig resolves viper settings (flags > env > config file >
// defaults) into an engine.Config, following the flag names 1:1.
func loadConfig(v *viper.Viper) (engine.Config, bool, error) {
	_ = godotenv.Load() // local dev convenience; a missing .env is not an error

	v.SetEnvPrefix("DOCFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return engine.Config{}, false, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	}

	cfg := engine.Config{
		DocsDir:               v.GetString("docs-dir"),
		RepoDir:               v.GetString("repo-dir"),
		MaxTokens:             v.GetInt("max-tokens"),
		MaxTokenPerModule:     v.GetInt("max-token-per-module"),
		MaxTokenPerLeafModule: v.GetInt("max-token-per-leaf-module"),
		MaxDepth:              v.GetInt("max-depth"),
		Concurrency:           v.GetInt("concurrency"),
		MainModel:             v.GetString("main-model"),
		FallbackModels:        v.GetStringSlice("fallback-models"),
		BaseURL:               v.GetString("base-url"),
		APIKey:                v.GetString("api-key"),
		GeminiModel:           v.GetString("gemini-model"),
		AnthropicModel:        v.GetString("anthropic-model"),
		AgentCmd:              v.GetString("agent-cmd"),
		CustomInstructions:    v.GetString("custom-instructions"),
		MaxAgentTurns:         v.GetInt("max-agent-turns"),
		RPS:                   v.GetFloat64("rps"),
		Burst:                 v.GetInt("burst"),
	}

	manifestPath := v.GetString("components-file")
	if manifestPath == "" {
		return cfg, v.GetBool("tui"), fmt.Errorf("--components-file is required")
	}
	components, leafSet, err := loadManifest(manifestPath)
	if err != nil {
		return cfg, v.GetBool("tui"), err
	}
	cfg.Components = components
	cfg.LeafSet = leafSet

	return cfg, v.GetBool("tui"), nil
}
