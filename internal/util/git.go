package util

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// IsGitWorkTree reports whether dir is inside a git work tree.
func IsGitWorkTree(dir string) bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(output)) == "true"
}

// ListGitFiles returns the absolute paths of tracked and untracked,
// non-ignored files under dir.
func ListGitFiles(dir string) ([]string, error) {
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list git files: %w", err)
	}

	var files []string
	for _, file := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if file != "" {
			files = append(files, filepath.Join(dir, file))
		}
	}
	return files, nil
}
