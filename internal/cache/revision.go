package cache

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-git/go-git/v5"
)

// UnknownRevision is used when the path is not a repository or has no
// commits yet.
const UnknownRevision = "unknown"

// ErrNotGitRepo is returned when no .git directory can be found.
var ErrNotGitRepo = errors.New("not a git repository")

// Revision returns the commit hash HEAD points at.
func Revision(repoPath string) string {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return UnknownRevision
	}
	head, err := repo.Head()
	if err != nil {
		return UnknownRevision
	}
	return head.Hash().String()
}

// gitDir returns the .git directory of the repository containing path.
func gitDir(repoPath string) (string, error) {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotGitRepo, repoPath)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotGitRepo, repoPath)
	}
	return filepath.Join(wt.Filesystem.Root(), ".git"), nil
}
