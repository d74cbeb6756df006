package orchestrator

import (
	"context"
	"strings"
	"testing"

	"docforge/internal/component"
	"docforge/internal/llm"
	"docforge/internal/llmclient"
	"docforge/internal/moduletree"
	"docforge/internal/safeio"
)

type fakeBackend struct {
	response   string
	err        error
	lastPrompt string
}

func (f *fakeBackend) Name() string               { return "fake" }
func (f *fakeBackend) Close() error                { return nil }
func (f *fakeBackend) CountTokens(text string) int { return len(text) }
func (f *fakeBackend) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	f.lastPrompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func longMarkdown(heading string) string {
	return "# " + heading + "\n\n" + strings.Repeat("This module does useful things. ", 5)
}

func TestGenerateLeaf_SimpleModuleSingleShot(t *testing.T) {
	comps := component.Map{
		"pkg.Foo": {ID: "pkg.Foo", Kind: component.KindFunction, FilePath: "pkg/foo.go", SourceCode: "func Foo() {}"},
	}
	gw := llm.New([]llmclient.Client{&fakeBackend{response: longMarkdown("Foo")}}, nil, nil)
	dir := t.TempDir()
	fs, _ := safeio.NewSafeFS(dir)

	o := New(Config{Gateway: gw, Components: comps, DocsFS: fs, MaxTokens: 10000}, nil)
	m := &moduletree.Module{Name: "foo", ComponentIDs: []string{"pkg.Foo"}}

	out, err := o.GenerateLeaf(context.Background(), []string{"foo"}, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "# Foo") {
		t.Fatalf("got %q", out)
	}
}

func TestGenerateLeaf_StripsCodeFence(t *testing.T) {
	comps := component.Map{"pkg.Foo": {ID: "pkg.Foo"}}
	fenced := "```markdown\n" + longMarkdown("Foo") + "\n```"
	gw := llm.New([]llmclient.Client{&fakeBackend{response: fenced}}, nil, nil)
	dir := t.TempDir()
	fs, _ := safeio.NewSafeFS(dir)

	o := New(Config{Gateway: gw, Components: comps, DocsFS: fs, MaxTokens: 10000}, nil)
	m := &moduletree.Module{Name: "foo", ComponentIDs: []string{"pkg.Foo"}}

	out, err := o.GenerateLeaf(context.Background(), []string{"foo"}, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "```") {
		t.Fatalf("expected fence to be stripped, got %q", out)
	}
}

func TestGenerateLeaf_RejectsTooShortResponse(t *testing.T) {
	comps := component.Map{"pkg.Foo": {ID: "pkg.Foo"}}
	gw := llm.New([]llmclient.Client{&fakeBackend{response: "ok"}}, nil, nil)
	dir := t.TempDir()
	fs, _ := safeio.NewSafeFS(dir)

	o := New(Config{Gateway: gw, Components: comps, DocsFS: fs, MaxTokens: 10000}, nil)
	m := &moduletree.Module{Name: "foo", ComponentIDs: []string{"pkg.Foo"}}

	if _, err := o.GenerateLeaf(context.Background(), []string{"foo"}, m); err == nil {
		t.Fatal("expected an error for a too-short response")
	}
}

func TestGenerateParent_InlinesChildDocsAndExtractsOverviewTag(t *testing.T) {
	wrapped := "<OVERVIEW>\n" + longMarkdown("Parser") + "\n</OVERVIEW>"
	gw := llm.New([]llmclient.Client{&fakeBackend{response: wrapped}}, nil, nil)
	dir := t.TempDir()
	fs, _ := safeio.NewSafeFS(dir)

	children := moduletree.NewTree()
	children.Put(&moduletree.Module{Name: "lexer", Description: "tokenizes input"})
	parent := &moduletree.Module{Name: "parser", Description: "parses programs", Children: children}

	o := New(Config{Gateway: gw, Components: component.Map{}, DocsFS: fs}, nil)
	out, err := o.GenerateParent(context.Background(), []string{"parser"}, parent, map[string]string{"lexer": "# Lexer doc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "# Parser") {
		t.Fatalf("got %q", out)
	}
	if strings.Contains(out, "<OVERVIEW>") {
		t.Fatalf("expected overview tags to be stripped, got %q", out)
	}
}

func TestGenerateLeaf_SubprocessModeInlinesFullSourceEvenWhenComplex(t *testing.T) {
	comps := component.Map{}
	ids := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		id := "pkg.Fn" + string(rune('A'+i))
		comps[id] = component.Component{ID: id, SourceCode: "func Fn" + string(rune('A'+i)) + "() { /* marker-source-body */ }"}
		ids = append(ids, id)
	}
	backend := &fakeBackend{response: longMarkdown("Big")}
	gw := llm.New([]llmclient.Client{backend}, nil, nil)
	dir := t.TempDir()
	fs, _ := safeio.NewSafeFS(dir)

	o := New(Config{Gateway: gw, Components: comps, DocsFS: fs, MaxTokens: 10000, AgentCmd: "some-agent-cmd"}, nil)
	m := &moduletree.Module{Name: "big", ComponentIDs: ids}

	if !o.isComplex(ids) {
		t.Fatal("expected this module to be classified complex")
	}

	out, err := o.GenerateLeaf(context.Background(), []string{"big"}, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "# Big") {
		t.Fatalf("got %q", out)
	}
	if !strings.Contains(backend.lastPrompt, "marker-source-body") {
		t.Fatalf("expected subprocess-mode prompt to inline full component source even for a complex module, got prompt without it:\n%s", backend.lastPrompt)
	}
}

func TestIsComplex_ByComponentCount(t *testing.T) {
	comps := component.Map{}
	ids := make([]string, 0, 11)
	for i := 0; i < 11; i++ {
		id := "pkg.Fn" + string(rune('A'+i))
		comps[id] = component.Component{ID: id}
		ids = append(ids, id)
	}
	o := New(Config{Components: comps, MaxTokens: 1000000}, nil)
	if !o.isComplex(ids) {
		t.Fatal("expected a module with 11 components to be classified complex")
	}
}

// TestIsComplex_ByTokenSumUsesMaxTokensNotMaxTokenPerModule pins the
// complexity test's token threshold to max_tokens (§4.5.1): the same
// 5-component, 600-token-each module is complex under a small
// max_tokens and simple under a large one, at a fixed token sum that
// would give the wrong verdict if the threshold were instead the
// Gateway's (unrelated) per-module token cap.
func TestIsComplex_ByTokenSumUsesMaxTokensNotMaxTokenPerModule(t *testing.T) {
	comps := component.Map{}
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		id := "pkg.Fn" + string(rune('A'+i))
		comps[id] = component.Component{ID: id, TokenEstimate: 600}
		ids = append(ids, id)
	}
	// total = 3000 tokens, 5 components (under the count threshold)

	small := New(Config{Components: comps, MaxTokens: 2000}, nil) // 3000 > 2000/2
	if !small.isComplex(ids) {
		t.Fatal("expected the module to be complex when its token sum exceeds max_tokens/2")
	}

	large := New(Config{Components: comps, MaxTokens: 100000}, nil) // 3000 <= 100000/2
	if large.isComplex(ids) {
		t.Fatal("expected the same module to be simple once max_tokens/2 comfortably exceeds its token sum")
	}
}
