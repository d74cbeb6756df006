package engine

import (
	"os/exec"
	"testing"
)

func TestCommitID_EmptyRepoDirReturnsEmptyString(t *testing.T) {
	if got := commitID(""); got != "" {
		t.Fatalf("got %q, want empty string for unconfigured repo_dir", got)
	}
}

func TestCommitID_NonGitDirectoryReturnsEmptyString(t *testing.T) {
	if got := commitID(t.TempDir()); got != "" {
		t.Fatalf("got %q, want empty string for a directory with no .git", got)
	}
}

func TestCommitID_ReadsHeadOfARealRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	run("commit", "--allow-empty", "-m", "initial")

	got := commitID(dir)
	if len(got) != 40 {
		t.Fatalf("expected a 40-char SHA-1, got %q", got)
	}
}
