// Package agentloop runs the API-mode tool-calling loop the
// orchestrator uses for complex leaf modules (§4.5.1): the LLM emits a
// JSON action envelope each turn, either invoking a tool or returning
// final Markdown, until it finalizes or a turn budget is exhausted.
// Adapted from the teacher's internal/llmtool/loop.go, generalized from
// its JSON-input/JSON-output shape to a single Markdown string result
// since the agent loop here always ends in a documentation file, not
// structured JSON.
package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"docforge/internal/tool"
)

var (
	// ErrMaxTurns is returned when the loop exhausts its turn budget
	// without the model emitting a final action.
	ErrMaxTurns = errors.New("agentloop: max turns reached")
	// ErrUnknownAction is returned when a turn's JSON envelope names
	// neither "tool" nor "final".
	ErrUnknownAction = errors.New("agentloop: unknown action")
)

// Generator issues one LLM call for the agent loop's purpose
// (normally llm.Gateway.Generate bound to llm.PurposeLeafDoc).
type Generator func(ctx context.Context, prompt string) (string, error)

// PromptBuilder renders the next turn's prompt from the running
// transcript state.
type PromptBuilder func(ctx context.Context, state *State) (string, error)

// ToolResult records one tool invocation's outcome within a run, kept
// for both the next PromptBuilder call and for callers inspecting the
// run's audit trail afterward.
type ToolResult struct {
	Name   string `json:"name"`
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// State is the loop's running transcript, threaded through every
// PromptBuilder call so prompts can render prior tool results.
type State struct {
	Turn        int
	ToolResults []ToolResult
}

// actionEnvelope mirrors the teacher's ActionEnvelope shape, adapted so
// "final" carries raw Markdown text instead of a further JSON payload.
type actionEnvelope struct {
	Action    string          `json:"action,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	Final     string          `json:"final,omitempty"`
}

func parseAction(raw string) (actionEnvelope, error) {
	var env actionEnvelope
	trimmed := strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		// A model that forgets the envelope and just writes Markdown
		// directly is treated as an immediate final answer, the same
		// fallback the teacher's ParseAction applies for "direct
		// output" models.
		return actionEnvelope{Action: "final", Final: raw}, nil
	}
	if env.Action == "" {
		switch {
		case env.Final != "":
			env.Action = "final"
		case env.ToolName != "":
			env.Action = "tool"
		default:
			env.Action = "final"
			env.Final = raw
		}
	}
	switch env.Action {
	case "final", "tool":
		return env, nil
	default:
		return actionEnvelope{}, ErrUnknownAction
	}
}

// Loop runs the tool-calling agent loop.
type Loop struct {
	Generate Generator
	Tools    *tool.Registry
	MaxTurns int
	Allowed  []string // empty means every registered tool is allowed
}

// Run executes the loop until the model returns a final action or
// MaxTurns is exhausted, returning the final Markdown and the
// transcript state for logging/debugging.
func (l *Loop) Run(ctx context.Context, build PromptBuilder) (string, *State, error) {
	if l == nil || l.Generate == nil {
		return "", nil, fmt.Errorf("agentloop: missing Generate")
	}
	if build == nil {
		return "", nil, fmt.Errorf("agentloop: prompt builder is nil")
	}
	maxTurns := l.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 50
	}
	allowed := make(map[string]struct{}, len(l.Allowed))
	for _, a := range l.Allowed {
		if a = strings.TrimSpace(a); a != "" {
			allowed[a] = struct{}{}
		}
	}

	state := &State{}
	for i := 0; i < maxTurns; i++ {
		state.Turn = i + 1
		if ctx.Err() != nil {
			return "", state, ctx.Err()
		}
		prompt, err := build(ctx, state)
		if err != nil {
			return "", state, err
		}
		raw, err := l.Generate(ctx, prompt)
		if err != nil {
			return "", state, err
		}
		action, err := parseAction(raw)
		if err != nil {
			return "", state, err
		}

		switch action.Action {
		case "final":
			return action.Final, state, nil
		case "tool":
			if action.ToolName == "" {
				return "", state, fmt.Errorf("agentloop: tool_name required")
			}
			if len(allowed) > 0 {
				if _, ok := allowed[action.ToolName]; !ok {
					return "", state, fmt.Errorf("agentloop: tool %q not allowed", action.ToolName)
				}
			}
			// A tool-call error becomes a plain-text tool result fed
			// back into the next turn, not a loop-aborting error —
			// the model gets a chance to recover (§4.5.1).
			out, callErr := l.Tools.Call(ctx, action.ToolName, action.ToolInput)
			tr := ToolResult{Name: action.ToolName, Input: string(action.ToolInput), Output: out}
			if callErr != nil {
				tr.Error = callErr.Error()
			}
			state.ToolResults = append(state.ToolResults, tr)
		}
	}
	return "", state, ErrMaxTurns
}
