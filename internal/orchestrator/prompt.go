package orchestrator

import (
	"fmt"
	"strings"

	"docforge/internal/component"
	"docforge/internal/moduletree"
)

// cmdAgentFooter and cmdOverviewFooter reproduce, verbatim in spirit,
// the Python original's CMD_AGENT_FOOTER/CMD_OVERVIEW_FOOTER output
// contracts: leaf docs come back as raw Markdown (optionally
// fence-wrapped), overview docs come back wrapped in <OVERVIEW> tags.
const cmdAgentFooter = "\n\n---\nOutput ONLY the complete markdown content for the documentation file. " +
	"Do not add any preamble, explanation, or commentary before or after the markdown. " +
	"Do not wrap the output in XML or JSON. Just raw markdown starting from the first heading."

const cmdOverviewFooter = "\n\n---\nReturn ONLY the markdown content wrapped exactly as:\n<OVERVIEW>\n...markdown...\n</OVERVIEW>"

// buildLeafPrompt renders the system+user prompt for one leaf module.
// complex selects the tool-capable system preamble; non-complex
// modules get a plainer, single-shot preamble.
func buildLeafPrompt(name string, m *moduletree.Module, comps component.Map, customInstrs string, isComplex bool) string {
	var sb strings.Builder
	if isComplex {
		fmt.Fprintf(&sb, "You are documenting the module %q. It is large enough that you should use the provided tools to read source before writing.\n", name)
	} else {
		fmt.Fprintf(&sb, "You are documenting the module %q. Write clear, accurate Markdown documentation describing its purpose, public API, and how it fits into the surrounding system.\n", name)
	}
	if customInstrs != "" {
		fmt.Fprintf(&sb, "\nAdditional instructions: %s\n", customInstrs)
	}
	if m.Description != "" {
		fmt.Fprintf(&sb, "\nModule summary: %s\n", m.Description)
	}
	sb.WriteString("\nComponents in this module:\n")
	for _, id := range m.ComponentIDs {
		c := comps[id]
		fmt.Fprintf(&sb, "- %s (%s) at %s:%d-%d\n", id, c.Kind, c.FilePath, c.StartLine, c.EndLine)
		if !isComplex {
			fmt.Fprintf(&sb, "```\n%s\n```\n", c.SourceCode)
		}
	}
	return sb.String()
}

// buildOverviewStructure mirrors _build_overview_structure: for every
// direct child, attach its already-generated doc text (empty string
// if the child somehow has none yet).
func buildOverviewStructure(m *moduletree.Module, childDocs map[string]string) map[string]any {
	children := map[string]any{}
	if m.Children != nil {
		for _, name := range m.Children.Names() {
			child := m.Children.Get(name)
			children[name] = map[string]any{
				"description": child.Description,
				"docs":        childDocs[name],
			}
		}
	}
	return map[string]any{
		"description": m.Description,
		"children":    children,
	}
}

func buildRepoOverviewPrompt(repoName string, structure map[string]any) string {
	return fmt.Sprintf(
		"Write a top-level repository overview for %q, summarizing its purpose and how its modules relate, based on this structure:\n\n%s",
		repoName, formatStructure(structure))
}

func buildModuleOverviewPrompt(moduleName string, structure map[string]any) string {
	return fmt.Sprintf(
		"Write an overview for the module %q, summarizing its sub-modules and how they relate, based on this structure:\n\n%s",
		moduleName, formatStructure(structure))
}

func formatStructure(structure map[string]any) string {
	var sb strings.Builder
	desc, _ := structure["description"].(string)
	if desc != "" {
		fmt.Fprintf(&sb, "Description: %s\n", desc)
	}
	children, _ := structure["children"].(map[string]any)
	for name, raw := range children {
		info, _ := raw.(map[string]any)
		childDesc, _ := info["description"].(string)
		childDocs, _ := info["docs"].(string)
		fmt.Fprintf(&sb, "\n## %s\n%s\n\n%s\n", name, childDesc, childDocs)
	}
	return sb.String()
}

// stripCodeFence removes a leading/trailing ``` fence if present,
// exactly as the Python original's _strip_code_fence.
func stripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	lines := strings.Split(t, "\n")
	if len(lines) < 2 {
		return t
	}
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[1 : len(lines)-1]
	} else {
		lines = lines[1:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// extractOverview tries the <OVERVIEW> tag pair first, falling back to
// fence-stripping — the exact order the Python original's
// _extract_overview uses, resolved from original_source/ for the
// spec's otherwise-ambiguous fallback order.
func extractOverview(text string) string {
	const open, close = "<OVERVIEW>", "</OVERVIEW>"
	if strings.Contains(text, open) && strings.Contains(text, close) {
		after := strings.SplitN(text, open, 2)[1]
		before := strings.SplitN(after, close, 2)[0]
		return strings.TrimSpace(before)
	}
	return stripCodeFence(text)
}
