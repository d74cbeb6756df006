package engine

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// commitID returns the short-lived `git rev-parse HEAD` of repoDir, or ""
// if repoDir isn't a git work tree (e.g. a scratch checkout, or no repo_dir
// configured at all) — metadata.json's commit_id is best-effort, grounded
// on the teacher's git-log scanner shelling out to the real `git` binary
// rather than pulling in a full go-git dependency for one read-only call.
func commitID(repoDir string) string {
	if repoDir == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = repoDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
