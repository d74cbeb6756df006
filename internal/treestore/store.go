// Package treestore durably persists a ModuleTree and its generated
// Markdown artifacts under docs_dir, using write-temp+fsync+rename for
// every write so a crash mid-run never leaves partial state on disk.
package treestore

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"docforge/internal/moduletree"
	"docforge/internal/safeio"

	"go.uber.org/zap"
)

const (
	FirstTreeFilename = "first_module_tree.json"
	TreeFilename      = "module_tree.json"
	MetadataFilename  = "metadata.json"
	OverviewFilename  = "overview.md"
)

// Store is the authoritative on-disk representation of one run's
// ModuleTree plus per-module completion state, rooted at docs_dir.
type Store struct {
	fs  *safeio.SafeFS
	log *zap.Logger
}

// New creates a Store rooted at docsDir, creating the directory if absent.
func New(docsDir string, log *zap.Logger) (*Store, error) {
	fs, err := safeio.NewSafeFS(docsDir)
	if err != nil {
		return nil, fmt.Errorf("treestore: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{fs: fs, log: log}, nil
}

// FS exposes the store's root filesystem for tool wiring (e.g. the
// str_replace_editor tool's write confinement).
func (s *Store) FS() *safeio.SafeFS { return s.fs }

// Exists reports whether module_tree.json is already present — the
// Resume rule's trigger for loading instead of re-clustering (§4.3).
func (s *Store) Exists() bool {
	return s.fs.ExistsNonEmpty(TreeFilename)
}

// OverviewExists reports whether overview.md already exists and is
// non-empty — the original implementation's global fast-path skip that
// short-circuits a fully-done run without even computing a schedule.
func (s *Store) OverviewExists() bool {
	return s.fs.ExistsNonEmpty(OverviewFilename)
}

// Load reads module_tree.json into a Tree.
func (s *Store) Load() (*moduletree.Tree, error) {
	raw, err := s.fs.ReadFile(TreeFilename)
	if err != nil {
		return nil, fmt.Errorf("treestore: load: %w", err)
	}
	t := moduletree.NewTree()
	if err := json.Unmarshal(raw, t); err != nil {
		return nil, fmt.Errorf("treestore: decode %s: %w", TreeFilename, err)
	}
	return t, nil
}

// SaveInitial writes first_module_tree.json (write-once, never mutated
// again) and module_tree.json (the live copy the Scheduler updates).
func (s *Store) SaveInitial(t *moduletree.Tree) error {
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("treestore: encode tree: %w", err)
	}
	if err := s.fs.WriteFileAtomic(FirstTreeFilename, b, 0o644); err != nil {
		return fmt.Errorf("treestore: write %s: %w", FirstTreeFilename, err)
	}
	if err := s.fs.WriteFileAtomic(TreeFilename, b, 0o644); err != nil {
		return fmt.Errorf("treestore: write %s: %w", TreeFilename, err)
	}
	return nil
}

// Save persists the live tree. Called after every module completion so
// a crash can resume exactly where it left off.
func (s *Store) Save(t *moduletree.Tree) error {
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("treestore: encode tree: %w", err)
	}
	if err := s.fs.WriteFileAtomic(TreeFilename, b, 0o644); err != nil {
		return fmt.Errorf("treestore: write %s: %w", TreeFilename, err)
	}
	return nil
}

// WriteMarkdown atomically writes a module's generated document to
// relPath under docs_dir, refusing empty or invalid UTF-8 content.
func (s *Store) WriteMarkdown(relPath string, content []byte) error {
	if len(content) == 0 {
		return fmt.Errorf("treestore: refusing to write empty markdown to %s", relPath)
	}
	if !isValidUTF8(content) {
		return fmt.Errorf("treestore: %s: content is not valid UTF-8", relPath)
	}
	return s.fs.WriteFileAtomic(relPath, content, 0o644)
}

// ReadMarkdown reads a previously written doc by relative path.
func (s *Store) ReadMarkdown(relPath string) ([]byte, error) {
	return s.fs.ReadFile(relPath)
}

// VerifyMarkdown checks I3: the file at relPath exists, is non-empty, and
// is valid UTF-8.
func (s *Store) VerifyMarkdown(relPath string) error {
	b, err := s.fs.ReadFile(relPath)
	if err != nil {
		return fmt.Errorf("treestore: verify %s: %w", relPath, err)
	}
	if len(b) == 0 {
		return fmt.Errorf("treestore: %s is empty", relPath)
	}
	if !isValidUTF8(b) {
		return fmt.Errorf("treestore: %s is not valid UTF-8", relPath)
	}
	return nil
}

// Metadata is the generation-metadata document (metadata.json).
type Metadata struct {
	GeneratedAt    time.Time `json:"generated_at"`
	CommitID       string    `json:"commit_id"`
	MainModel      string    `json:"main_model"`
	FallbackModels []string  `json:"fallback_models"`
	Counts         Counts    `json:"counts"`
	Files          []string  `json:"files"`
	Errors         []string  `json:"errors,omitempty"`
}

// Counts summarizes the run for metadata.json.
type Counts struct {
	Components int `json:"components"`
	LeafNodes  int `json:"leaf_nodes"`
	Modules    int `json:"modules"`
	MaxDepth   int `json:"max_depth"`
}

// WriteMetadata rewrites metadata.json at end of run.
func (s *Store) WriteMetadata(m Metadata) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("treestore: encode metadata: %w", err)
	}
	return s.fs.WriteFileAtomic(MetadataFilename, b, 0o644)
}

// AssignDocPaths walks a freshly clustered tree depth-first and assigns a
// sanitized, collision-resolved doc_path-to-be (the file name each module
// will be written to) without writing anything. Collisions are resolved
// in tree-walk order by appending -2, -3, … (spec.md's explicit choice
// for the sanitize-collision Open Question).
func AssignDocPaths(t *moduletree.Tree) map[*moduletree.Module]string {
	seen := map[string]int{}
	assigned := map[*moduletree.Module]string{}
	_ = t.Walk(func(path []string, m *moduletree.Module) error {
		base := Sanitize(m.Name)
		name := base
		if n, dup := seen[base]; dup {
			n++
			name = fmt.Sprintf("%s-%d", base, n+1)
			seen[base] = n
		} else {
			seen[base] = 0
		}
		assigned[m] = name + ".md"
		return nil
	})
	return assigned
}

func isValidUTF8(b []byte) bool {
	return utf8.Valid(b)
}
