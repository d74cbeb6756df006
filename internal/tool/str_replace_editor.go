package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"docforge/internal/safeio"
)

// repoViewPrefix routes a view command at a path like "repo:pkg/foo.go"
// to the read-only source tree instead of the docs output tree (§4.5.1
// lets the agent view the repo under repo_dir, not just its own docs).
// No other command recognizes the prefix: repoFS is read-only, so
// create/str_replace/insert/undo_edit remain confined to fs.
const repoViewPrefix = "repo:"

// strReplaceEditorTool implements str_replace_editor: the agent loop's
// only write path for leaf-module docs (§4.5.1), confined to the docs
// output tree by safeio.SafeFS so a runaway agent cannot escape it
// (the path-safety invariant §5 names explicitly). view additionally
// accepts a "repo:"-prefixed path read through repoFS, when the caller
// wires one, giving the agent read-only access to source files that
// fall outside its own component set (e.g. a README or build file).
type strReplaceEditorTool struct {
	fs     *safeio.SafeFS
	repoFS *safeio.SafeFS // optional; nil disables "repo:"-prefixed view

	mu   sync.Mutex
	prev map[string][]byte // path -> content immediately before its last mutating edit
}

// NewStrReplaceEditor builds the tool rooted at fs (normally docs_dir).
func NewStrReplaceEditor(fs *safeio.SafeFS) Tool {
	return &strReplaceEditorTool{fs: fs, prev: make(map[string][]byte)}
}

// NewStrReplaceEditorWithRepoView is NewStrReplaceEditor plus a
// read-only view path into repoFS (normally repo_dir) for "repo:"-
// prefixed paths.
func NewStrReplaceEditorWithRepoView(fs, repoFS *safeio.SafeFS) Tool {
	return &strReplaceEditorTool{fs: fs, repoFS: repoFS, prev: make(map[string][]byte)}
}

func (t *strReplaceEditorTool) Spec() Spec {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "enum": []string{"view", "create", "str_replace", "insert", "undo_edit"}},
			"path":    map[string]any{"type": "string"},
			"file_text": map[string]any{"type": "string"},
			"old_str":   map[string]any{"type": "string"},
			"new_str":   map[string]any{"type": "string"},
			"insert_line": map[string]any{"type": "integer"},
		},
		"required": []string{"command", "path"},
	})
	return Spec{
		Name:        "str_replace_editor",
		Description: "View or edit a Markdown doc file under the output tree: view, create, str_replace, insert, undo_edit. view also accepts a \"repo:\"-prefixed path to read a source file from the repository, read-only.",
		InputSchema: schema,
	}
}

type editorInput struct {
	Command    string `json:"command"`
	Path       string `json:"path"`
	FileText   string `json:"file_text"`
	OldStr     string `json:"old_str"`
	NewStr     string `json:"new_str"`
	InsertLine int    `json:"insert_line"`
}

func (t *strReplaceEditorTool) Call(ctx context.Context, input json.RawMessage) (string, error) {
	var in editorInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("str_replace_editor: invalid input: %w", err)
	}
	if in.Path == "" {
		return "", fmt.Errorf("str_replace_editor: path is required")
	}

	switch in.Command {
	case "view":
		if repoPath, ok := strings.CutPrefix(in.Path, repoViewPrefix); ok {
			if t.repoFS == nil {
				return "", fmt.Errorf("str_replace_editor: view: no repo view configured for %q", in.Path)
			}
			b, err := t.repoFS.ReadFile(repoPath)
			if err != nil {
				return "", fmt.Errorf("str_replace_editor: view: %w", err)
			}
			return string(b), nil
		}
		b, err := t.fs.ReadFile(in.Path)
		if err != nil {
			return "", fmt.Errorf("str_replace_editor: view: %w", err)
		}
		return string(b), nil

	case "create":
		t.saveForUndo(in.Path)
		if err := t.fs.WriteFileAtomic(in.Path, []byte(in.FileText), 0o644); err != nil {
			return "", fmt.Errorf("str_replace_editor: create: %w", err)
		}
		return fmt.Sprintf("created %s (%d bytes)", in.Path, len(in.FileText)), nil

	case "str_replace":
		existing, err := t.fs.ReadFile(in.Path)
		if err != nil {
			return "", fmt.Errorf("str_replace_editor: str_replace: %w", err)
		}
		content := string(existing)
		count := strings.Count(content, in.OldStr)
		if count == 0 {
			return "", fmt.Errorf("str_replace_editor: old_str not found in %s", in.Path)
		}
		if count > 1 {
			return "", fmt.Errorf("str_replace_editor: old_str occurs %d times in %s, must be unique", count, in.Path)
		}
		updated := strings.Replace(content, in.OldStr, in.NewStr, 1)
		t.rememberUndo(in.Path, existing)
		if err := t.fs.WriteFileAtomic(in.Path, []byte(updated), 0o644); err != nil {
			return "", fmt.Errorf("str_replace_editor: str_replace write: %w", err)
		}
		return fmt.Sprintf("replaced 1 occurrence in %s", in.Path), nil

	case "insert":
		existing, err := t.fs.ReadFile(in.Path)
		if err != nil {
			return "", fmt.Errorf("str_replace_editor: insert: %w", err)
		}
		lines := strings.Split(string(existing), "\n")
		if in.InsertLine < 0 || in.InsertLine > len(lines) {
			return "", fmt.Errorf("str_replace_editor: insert_line %d out of range [0,%d]", in.InsertLine, len(lines))
		}
		newLines := make([]string, 0, len(lines)+1)
		newLines = append(newLines, lines[:in.InsertLine]...)
		newLines = append(newLines, in.NewStr)
		newLines = append(newLines, lines[in.InsertLine:]...)
		updated := strings.Join(newLines, "\n")
		t.rememberUndo(in.Path, existing)
		if err := t.fs.WriteFileAtomic(in.Path, []byte(updated), 0o644); err != nil {
			return "", fmt.Errorf("str_replace_editor: insert write: %w", err)
		}
		return fmt.Sprintf("inserted text at line %d of %s", in.InsertLine, in.Path), nil

	case "undo_edit":
		t.mu.Lock()
		prev, ok := t.prev[in.Path]
		if ok {
			delete(t.prev, in.Path)
		}
		t.mu.Unlock()
		if !ok {
			return "", fmt.Errorf("str_replace_editor: no tracked edit to undo for %s", in.Path)
		}
		if err := t.fs.WriteFileAtomic(in.Path, prev, 0o644); err != nil {
			return "", fmt.Errorf("str_replace_editor: undo_edit write: %w", err)
		}
		return fmt.Sprintf("reverted %s to its state before the last edit", in.Path), nil

	default:
		return "", fmt.Errorf("str_replace_editor: unknown command %q", in.Command)
	}
}

// saveForUndo records path's content immediately before a "create" call
// overwrites it, falling back to an empty prior state when the path
// didn't exist yet.
func (t *strReplaceEditorTool) saveForUndo(path string) {
	existing, err := t.fs.ReadFile(path)
	if err != nil {
		existing = nil
	}
	t.rememberUndo(path, existing)
}

func (t *strReplaceEditorTool) rememberUndo(path string, content []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prev[path] = append([]byte{}, content...)
}
