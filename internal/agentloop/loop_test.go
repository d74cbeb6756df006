package agentloop

import (
	"context"
	"encoding/json"
	"testing"

	"docforge/internal/tool"
)

type echoTool struct{}

func (echoTool) Spec() tool.Spec { return tool.Spec{Name: "echo"} }
func (echoTool) Call(ctx context.Context, input json.RawMessage) (string, error) {
	return "echoed:" + string(input), nil
}

func TestLoop_ImmediateFinal(t *testing.T) {
	gen := func(ctx context.Context, prompt string) (string, error) {
		return `{"action":"final","final":"# Done"}`, nil
	}
	l := &Loop{Generate: gen, Tools: tool.NewRegistry()}
	out, state, err := l.Run(context.Background(), func(ctx context.Context, s *State) (string, error) { return "p", nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "# Done" {
		t.Fatalf("got %q", out)
	}
	if state.Turn != 1 {
		t.Fatalf("expected 1 turn, got %d", state.Turn)
	}
}

func TestLoop_PlainMarkdownTreatedAsFinal(t *testing.T) {
	gen := func(ctx context.Context, prompt string) (string, error) {
		return "# Just markdown, no envelope", nil
	}
	l := &Loop{Generate: gen, Tools: tool.NewRegistry()}
	out, _, err := l.Run(context.Background(), func(ctx context.Context, s *State) (string, error) { return "p", nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "# Just markdown, no envelope" {
		t.Fatalf("got %q", out)
	}
}

func TestLoop_CallsToolThenFinalizes(t *testing.T) {
	turn := 0
	gen := func(ctx context.Context, prompt string) (string, error) {
		turn++
		if turn == 1 {
			return `{"action":"tool","tool_name":"echo","tool_input":{"x":1}}`, nil
		}
		return `{"action":"final","final":"# Result"}`, nil
	}
	reg := tool.NewRegistry(echoTool{})
	l := &Loop{Generate: gen, Tools: reg}
	out, state, err := l.Run(context.Background(), func(ctx context.Context, s *State) (string, error) { return "p", nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "# Result" {
		t.Fatalf("got %q", out)
	}
	if len(state.ToolResults) != 1 || state.ToolResults[0].Name != "echo" {
		t.Fatalf("expected 1 recorded tool call, got %v", state.ToolResults)
	}
}

func TestLoop_DisallowedToolErrors(t *testing.T) {
	gen := func(ctx context.Context, prompt string) (string, error) {
		return `{"action":"tool","tool_name":"echo","tool_input":{}}`, nil
	}
	reg := tool.NewRegistry(echoTool{})
	l := &Loop{Generate: gen, Tools: reg, Allowed: []string{"other_tool"}}
	_, _, err := l.Run(context.Background(), func(ctx context.Context, s *State) (string, error) { return "p", nil })
	if err == nil {
		t.Fatal("expected an error for disallowed tool")
	}
}

func TestLoop_ExhaustsMaxTurns(t *testing.T) {
	gen := func(ctx context.Context, prompt string) (string, error) {
		return `{"action":"tool","tool_name":"echo","tool_input":{}}`, nil
	}
	reg := tool.NewRegistry(echoTool{})
	l := &Loop{Generate: gen, Tools: reg, MaxTurns: 2}
	_, state, err := l.Run(context.Background(), func(ctx context.Context, s *State) (string, error) { return "p", nil })
	if err != ErrMaxTurns {
		t.Fatalf("expected ErrMaxTurns, got %v", err)
	}
	if state.Turn != 2 {
		t.Fatalf("expected 2 turns, got %d", state.Turn)
	}
}
