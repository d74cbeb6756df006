// Package orchestrator generates one module's documentation, in either
// of the two modes §4.5 fixes, selected once per run by the presence
// of agent_cmd: Subprocess mode (every leaf module, full source
// inlined, no tools) when agent_cmd is configured, otherwise API mode
// (a tool-calling agent loop for complex leaf modules, a single
// Gateway call for simple ones). It also builds the contextual payload
// for parent/overview modules, inlining each direct child's
// already-generated doc. Grounded on the Python
// cmd_agent_orchestrator.py original and generalized to also support
// the API tool-calling mode the distilled spec adds.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"docforge/internal/agentloop"
	"docforge/internal/component"
	"docforge/internal/llm"
	"docforge/internal/moduletree"
	"docforge/internal/safeio"
	"docforge/internal/tool"
)

// complexityComponentThreshold implements half of is_complex_module's
// test (§4.5.1): a module is complex if it owns more than 10
// components, or its token estimate exceeds half of max_tokens.
const complexityComponentThreshold = 10

// Config configures one Orchestrator instance for a run.
type Config struct {
	Gateway       *llm.Gateway
	Components    component.Map
	DocsFS        *safeio.SafeFS
	RepoFS        *safeio.SafeFS // optional, read-only; rooted at repo_dir, enables str_replace_editor's "repo:" view
	MaxTokens     int            // §4.5.1's max_tokens, the complexity test's threshold; distinct from max_token_per_module
	AgentCmd      string         // non-empty selects subprocess mode for every leaf call, regardless of complexity
	CustomInstrs  string
	MaxAgentTurns int
}

// Orchestrator generates Markdown for one module at a time.
type Orchestrator struct {
	cfg Config
	log *zap.Logger
}

// New builds an Orchestrator.
func New(cfg Config, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, log: log}
}

// isComplex applies §4.5.1's complexity test.
func (o *Orchestrator) isComplex(ids []string) bool {
	if len(ids) > complexityComponentThreshold {
		return true
	}
	if o.cfg.MaxTokens > 0 && o.cfg.Components.TokenSum(ids) > o.cfg.MaxTokens/2 {
		return true
	}
	return false
}

// GenerateLeaf produces Markdown for a leaf module (one with no
// children). Mode is selected once per run by the presence of
// agent_cmd (§4.5): subprocess mode never has tool access, so it
// always takes the single-shot path with every component's full
// source inlined, regardless of complexity. Only API mode consults
// isComplex to decide between the tool-calling agent loop and a
// single Gateway call.
func (o *Orchestrator) GenerateLeaf(ctx context.Context, path []string, m *moduletree.Module) (string, error) {
	name := leafName(path)
	if o.cfg.AgentCmd != "" {
		return o.generateLeafSingleShot(ctx, name, m)
	}
	if o.isComplex(m.ComponentIDs) {
		return o.generateLeafAPIMode(ctx, name, m)
	}
	return o.generateLeafSingleShot(ctx, name, m)
}

func leafName(path []string) string {
	if len(path) == 0 {
		return "module"
	}
	return path[len(path)-1]
}

// generateLeafSingleShot sends one prompt and takes the response
// verbatim (after fence-stripping), the path the Python original's
// process_module always takes.
func (o *Orchestrator) generateLeafSingleShot(ctx context.Context, name string, m *moduletree.Module) (string, error) {
	prompt := buildLeafPrompt(name, m, o.cfg.Components, o.cfg.CustomInstrs, false) + cmdAgentFooter

	raw, err := o.generate(ctx, llm.PurposeLeafDoc, prompt)
	if err != nil {
		return "", fmt.Errorf("orchestrator: generate leaf %q: %w", name, err)
	}
	content := stripCodeFence(raw)
	if len(strings.TrimSpace(content)) < 64 {
		return "", fmt.Errorf("orchestrator: leaf %q response too short (%d bytes after stripping)", name, len(content))
	}
	return content, nil
}

// generateLeafAPIMode runs the tool-calling agent loop for a complex
// module, giving it read_code_components, str_replace_editor and
// generate_sub_module_documentation (backed by subModuleGenerator).
func (o *Orchestrator) generateLeafAPIMode(ctx context.Context, name string, m *moduletree.Module) (string, error) {
	docPath := name + ".md"
	editor := tool.NewStrReplaceEditor(o.cfg.DocsFS)
	if o.cfg.RepoFS != nil {
		editor = tool.NewStrReplaceEditorWithRepoView(o.cfg.DocsFS, o.cfg.RepoFS)
	}
	registry := tool.NewRegistry(
		tool.NewReadCodeComponents(o.cfg.Components),
		editor,
		tool.NewGenerateSubModuleDocumentation(o.subModuleGenerator(name)),
	)

	loop := &agentloop.Loop{
		Generate: func(ctx context.Context, prompt string) (string, error) {
			return o.generate(ctx, llm.PurposeLeafDoc, prompt)
		},
		Tools:    registry,
		MaxTurns: o.cfg.MaxAgentTurns,
	}

	build := func(ctx context.Context, state *agentloop.State) (string, error) {
		sys := buildLeafPrompt(name, m, o.cfg.Components, o.cfg.CustomInstrs, true)
		var sb strings.Builder
		sb.WriteString(sys)
		sb.WriteString("\n\nUse the available tools to inspect source and write the final documentation with str_replace_editor to path \"")
		sb.WriteString(docPath)
		sb.WriteString("\". ")
		if o.cfg.RepoFS != nil {
			sb.WriteString("str_replace_editor's view command also accepts a path prefixed \"repo:\" to read any file in the repository read-only, beyond this module's own components. ")
		}
		sb.WriteString("When the file is complete, respond with {\"action\":\"final\",\"final\":\"<the markdown you wrote>\"}.\n")
		for _, tr := range state.ToolResults {
			fmt.Fprintf(&sb, "\n[tool %s result]\n%s\n", tr.Name, tr.Output)
			if tr.Error != "" {
				fmt.Fprintf(&sb, "[tool %s error] %s\n", tr.Name, tr.Error)
			}
		}
		return sb.String(), nil
	}

	final, _, err := loop.Run(ctx, build)
	if err != nil {
		return "", fmt.Errorf("orchestrator: agent loop for %q: %w", name, err)
	}
	content := stripCodeFence(final)
	if len(strings.TrimSpace(content)) < 64 {
		if b, rerr := o.cfg.DocsFS.ReadFile(docPath); rerr == nil && len(strings.TrimSpace(string(b))) >= 64 {
			return string(b), nil
		}
		return "", fmt.Errorf("orchestrator: leaf %q final response too short", name)
	}
	return content, nil
}

// subModuleGenerator builds the closure behind the
// generate_sub_module_documentation tool: the agent hands it a name,
// description and a subset of the parent's component ids, and it
// recursively documents that subset as its own (synthetic) leaf
// module, writing the result to "<parentName>/<name>.md" in docs_dir so
// a later str_replace_editor view can pick it back up.
func (o *Orchestrator) subModuleGenerator(parentName string) tool.SubModuleGenerator {
	return func(ctx context.Context, name, description string, componentIDs []string) (string, error) {
		sub := &moduletree.Module{
			Name:         name,
			Description:  description,
			ComponentIDs: componentIDs,
		}
		doc, err := o.GenerateLeaf(ctx, []string{parentName, name}, sub)
		if err != nil {
			return "", fmt.Errorf("orchestrator: sub-module %q of %q: %w", name, parentName, err)
		}
		if o.cfg.DocsFS != nil {
			_ = o.cfg.DocsFS.WriteFileAtomic(parentName+"/"+name+".md", []byte(doc), 0o644)
		}
		return doc, nil
	}
}

// GenerateParent produces overview Markdown for a module that has
// children: every direct child's doc is inlined into the prompt
// (§4.3's contextual payload).
func (o *Orchestrator) GenerateParent(ctx context.Context, path []string, m *moduletree.Module, childDocs map[string]string) (string, error) {
	name := leafName(path)
	payload := buildOverviewStructure(m, childDocs)
	var prompt string
	if len(path) == 0 {
		prompt = buildRepoOverviewPrompt(name, payload)
	} else {
		prompt = buildModuleOverviewPrompt(name, payload)
	}
	if o.cfg.CustomInstrs != "" {
		prompt += fmt.Sprintf("\nAdditional instructions: %s\n", o.cfg.CustomInstrs)
	}
	prompt += cmdOverviewFooter

	raw, err := o.generate(ctx, llm.PurposeOverview, prompt)
	if err != nil {
		return "", fmt.Errorf("orchestrator: generate overview %q: %w", name, err)
	}
	content := extractOverview(raw)
	if len(strings.TrimSpace(content)) < 64 {
		return "", fmt.Errorf("orchestrator: overview %q response too short", name)
	}
	return content, nil
}

// generate is the single call-site funneling through the Gateway,
// matching the Python original's single run_agent_cmd call-site. The
// Gateway's own cascade already includes the subprocess backend
// first when AgentCmd is configured (wired in internal/llm.Build), so
// this method never branches on mode itself.
func (o *Orchestrator) generate(ctx context.Context, purpose llm.Purpose, prompt string) (string, error) {
	if o.cfg.Gateway == nil {
		return "", fmt.Errorf("orchestrator: no gateway configured")
	}
	return o.cfg.Gateway.Generate(ctx, purpose, prompt)
}
