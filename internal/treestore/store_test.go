package treestore

import (
	"testing"

	"docforge/internal/moduletree"
)

func TestStore_SaveInitialThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tree := moduletree.NewTree()
	tree.Put(&moduletree.Module{Name: "root", Description: "the repo", DocStatus: moduletree.StatusAbsent, DocPath: "overview.md"})

	if err := s.SaveInitial(tree); err != nil {
		t.Fatalf("SaveInitial: %v", err)
	}
	if !s.Exists() {
		t.Fatal("expected module_tree.json to exist after SaveInitial")
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	root := loaded.Get("root")
	if root == nil || root.Description != "the repo" || root.DocPath != "overview.md" {
		t.Fatalf("got %+v", root)
	}
}

func TestStore_SaveUpdatesLiveCopyNotFirstTree(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir, nil)

	tree := moduletree.NewTree()
	tree.Put(&moduletree.Module{Name: "a", DocStatus: moduletree.StatusAbsent})
	if err := s.SaveInitial(tree); err != nil {
		t.Fatalf("SaveInitial: %v", err)
	}

	tree.Get("a").DocStatus = moduletree.StatusDone
	if err := s.Save(tree); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Get("a").DocStatus != moduletree.StatusDone {
		t.Fatal("expected Save to persist the updated status to module_tree.json")
	}
}

func TestStore_WriteMarkdownRejectsEmptyContent(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir, nil)
	if err := s.WriteMarkdown("foo.md", nil); err == nil {
		t.Fatal("expected an error writing empty content")
	}
}

func TestStore_VerifyMarkdownCatchesMissingFile(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir, nil)
	if err := s.VerifyMarkdown("missing.md"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestStore_WriteAndReadMarkdownRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir, nil)
	if err := s.WriteMarkdown("foo.md", []byte("# Foo\n\nhello")); err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}
	b, err := s.ReadMarkdown("foo.md")
	if err != nil {
		t.Fatalf("ReadMarkdown: %v", err)
	}
	if string(b) != "# Foo\n\nhello" {
		t.Fatalf("got %q", b)
	}
	if err := s.VerifyMarkdown("foo.md"); err != nil {
		t.Fatalf("VerifyMarkdown: %v", err)
	}
}

func TestAssignDocPaths_ResolvesNameCollisionsDeterministically(t *testing.T) {
	children1 := moduletree.NewTree()
	children1.Put(&moduletree.Module{Name: "Utils"})
	children2 := moduletree.NewTree()
	children2.Put(&moduletree.Module{Name: "utils"})

	root := moduletree.NewTree()
	root.Put(&moduletree.Module{Name: "a", Children: children1})
	root.Put(&moduletree.Module{Name: "b", Children: children2})

	assigned := AssignDocPaths(root)
	paths := map[string]bool{}
	for _, p := range assigned {
		if paths[p] {
			t.Fatalf("expected unique doc paths, got duplicate %q in %v", p, assigned)
		}
		paths[p] = true
	}
}

func TestWriteMetadata_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir, nil)
	if err := s.WriteMetadata(Metadata{
		MainModel: "gpt-x",
		Counts:    Counts{Components: 3, LeafNodes: 2, Modules: 2, MaxDepth: 1},
		Files:     []string{"overview.md"},
	}); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	if !s.fs.ExistsNonEmpty(MetadataFilename) {
		t.Fatal("expected metadata.json to exist")
	}
}
